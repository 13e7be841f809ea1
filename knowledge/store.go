package knowledge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"guardnova_back/mirror"
)

const mirrorTable = "knowledge_items"

// ErrNotFound marks lookups for ids that do not exist. Distinct from
// transport or storage failures.
var ErrNotFound = errors.New("knowledge: item not found")

// Store is the system of record for knowledge items. The primary write is
// always synchronous; the optional remote mirror is fed asynchronously and
// its failures never surface.
type Store struct {
	db     *gorm.DB
	mirror *mirror.Client
}

func NewStore(db *gorm.DB, mirrorClient *mirror.Client) *Store {
	return &Store{db: db, mirror: mirrorClient}
}

func (s *Store) AutoMigrate() error {
	if s.db == nil {
		return errors.New("knowledge: database connection is not configured")
	}
	return s.db.AutoMigrate(&Item{})
}

// Create inserts the item, assigning a fresh id. Ids are uuids, so deleted
// ids are never reused.
func (s *Store) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return err
	}
	s.mirror.UpsertAsync(mirrorTable, mirrorRow(*item))
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// Delete removes the row permanently. There is no tombstone: a deleted item
// leaves no trace in either search path.
func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Item{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.mirror.DeleteAsync(mirrorTable, id)
	return nil
}

func (s *Store) List(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&items).Error
	return items, err
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Item{}).Count(&count).Error
	return count, err
}

// UpdateContent replaces the normalized text, advancing updated_at and
// clearing any stored vector so the item is picked up by the next backfill.
func (s *Store) UpdateContent(ctx context.Context, id string, content string, refreshedAt *time.Time) error {
	updates := map[string]interface{}{
		"content":         content,
		"embedding":       nil,
		"embedding_model": nil,
		"updated_at":      time.Now().UTC(),
	}
	if refreshedAt != nil {
		updates["last_refreshed_at"] = refreshedAt.UTC()
	}
	result := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	if item, err := s.Get(ctx, id); err == nil {
		s.mirror.UpsertAsync(mirrorTable, mirrorRow(*item))
	}
	return nil
}

// SetEmbedding attaches a vector and the producing model id in one write, so
// a failed embedding call never leaves a partially written vector behind.
func (s *Store) SetEmbedding(ctx context.Context, id string, vector []float32, model string) error {
	encoded := encodeVector(vector)
	if encoded == nil {
		return errors.New("knowledge: refusing to store empty embedding")
	}
	result := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).Updates(map[string]interface{}{
		"embedding":       encoded,
		"embedding_model": model,
		"updated_at":      time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	if item, err := s.Get(ctx, id); err == nil {
		s.mirror.UpsertAsync(mirrorTable, mirrorRow(*item))
	}
	return nil
}

// ListUnembedded returns items with no usable vector for the given model.
// Vectors from a different model count as unembedded: they are stale and
// must not be compared with fresh ones.
func (s *Store) ListUnembedded(ctx context.Context, model string) ([]Item, error) {
	var items []Item
	err := s.db.WithContext(ctx).
		Where("embedding IS NULL OR embedding_model IS NULL OR embedding_model <> ?", model).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// ListEmbedded returns the candidate pool for the vector ranker: items whose
// stored vector was produced by the active model.
func (s *Store) ListEmbedded(ctx context.Context, model string) ([]Item, error) {
	var items []Item
	err := s.db.WithContext(ctx).
		Where("embedding IS NOT NULL AND embedding_model = ?", model).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	usable := items[:0]
	for _, item := range items {
		if item.Vector() != nil {
			usable = append(usable, item)
		}
	}
	return usable, nil
}

// SampleTitles returns up to limit recent titles, used as query suggestions
// when a retrieval finds nothing.
func (s *Store) SampleTitles(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	var titles []string
	err := s.db.WithContext(ctx).
		Model(&Item{}).
		Order("created_at DESC").
		Limit(limit).
		Pluck("title", &titles).Error
	return titles, err
}

func mirrorRow(item Item) map[string]interface{} {
	row := map[string]interface{}{
		"id":           item.ID,
		"title":        item.Title,
		"content":      item.Content,
		"content_kind": item.ContentKind,
		"tags":         item.Tags,
		"updated_at":   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.SourceReference != nil {
		row["source_reference"] = *item.SourceReference
	}
	if len(item.Embedding) > 0 {
		row["embedding"] = string(item.Embedding)
	}
	if item.EmbeddingModel != nil {
		row["embedding_model"] = *item.EmbeddingModel
	}
	if item.LastRefreshedAt != nil {
		row["last_refreshed_at"] = item.LastRefreshedAt.UTC().Format(time.RFC3339)
	}
	return row
}
