package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"guardnova_back/mirror"
)

var (
	ErrTitleRequired = errors.New("knowledge: title is required")
	ErrEmptyContent  = errors.New("knowledge: content is empty after normalization")
	ErrNotURL        = errors.New("knowledge: item is not a url item")
	ErrFetchFailed   = errors.New("knowledge: fetching the url yielded no content")
	ErrNoEmbedder    = errors.New("knowledge: embedding service is not configured")
)

const embedBackgroundTimeout = 45 * time.Second

// Config collects every backend choice of the engine at construction time.
type Config struct {
	Embedding EmbeddingConfig
	Fetch     FetchConfig
	Threshold float64
}

func ConfigFromEnv() Config {
	return Config{
		Embedding: EmbeddingConfigFromEnv(),
		Fetch:     FetchConfigFromEnv(),
		Threshold: DefaultSimilarityThreshold,
	}
}

// Service is the retrieval engine exposed to collaborators: ingestion,
// hybrid retrieval, url refresh, and embedding backfill.
type Service struct {
	store      *Store
	normalizer *Normalizer
	embedder   Embedder
	queries    *queryCache
	threshold  float64
}

// NewService wires the engine. A nil redis client disables the query cache,
// a missing embedding key disables the semantic path; both are degraded
// modes, not errors.
func NewService(db *gorm.DB, mirrorClient *mirror.Client, redisClient *redis.Client, cfg Config) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}

	embedder, err := NewHTTPEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		log.Printf("knowledge: no embedding API key configured, running lexical-only")
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	service := &Service{
		store:      NewStore(db, mirrorClient),
		normalizer: NewNormalizer(cfg.Fetch),
		embedder:   embedder,
		queries:    newQueryCache(redisClient),
		threshold:  threshold,
	}
	if err := service.store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("knowledge: migrate models: %w", err)
	}
	return service, nil
}

// Store exposes the underlying persistence layer to collaborator modules
// that share it (conversation log, assistant).
func (s *Service) Store() *Store {
	return s.store
}

// AddItemInput carries one ingestion request. Payload is the text body for
// KindText, a path on disk for KindFile, and the address for KindURL.
type AddItemInput struct {
	Kind        string
	Payload     string
	Title       string
	Tags        []string
	Description string
}

// AddItem normalizes and persists one knowledge source. The call returns as
// soon as the primary store write succeeds; embedding generation and mirror
// replication continue in the background and their failures only log.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (*Item, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	var (
		sourceRef   *string
		refreshedAt *time.Time
	)
	switch input.Kind {
	case KindText:
	case KindFile, KindURL:
		payload := strings.TrimSpace(input.Payload)
		if payload == "" {
			return nil, fmt.Errorf("knowledge: %s items require a source reference", input.Kind)
		}
		sourceRef = &payload
	default:
		return nil, fmt.Errorf("knowledge: unsupported content kind %q", input.Kind)
	}

	content, err := s.normalizer.Normalize(ctx, input.Kind, input.Payload, input.Description)
	if err != nil {
		return nil, err
	}
	if input.Kind == KindURL {
		if content != "" {
			now := time.Now().UTC()
			refreshedAt = &now
		} else {
			// Unreachable page: fall back to the description rather than
			// persisting an empty body.
			content = strings.TrimSpace(input.Description)
		}
	}
	if content == "" {
		return nil, ErrEmptyContent
	}

	return s.createItem(ctx, input.Kind, title, content, sourceRef, input.Tags, refreshedAt)
}

// AddFileItem ingests an uploaded document that is already in memory. The
// source reference points at wherever the caller parked the original.
func (s *Service) AddFileItem(ctx context.Context, name string, data []byte, title, description string, tags []string, sourceRef string) (*Item, error) {
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return nil, ErrTitleRequired
	}

	content := s.normalizer.NormalizeFileBytes(name, data, description)
	if content == "" {
		return nil, ErrEmptyContent
	}

	var ref *string
	if trimmed := strings.TrimSpace(sourceRef); trimmed != "" {
		ref = &trimmed
	}
	return s.createItem(ctx, KindFile, trimmedTitle, content, ref, tags, nil)
}

func (s *Service) createItem(ctx context.Context, kind, title, content string, sourceRef *string, tags []string, refreshedAt *time.Time) (*Item, error) {
	item := &Item{
		Title:           title,
		Content:         content,
		ContentKind:     kind,
		SourceReference: sourceRef,
		Tags:            joinTags(tags),
		LastRefreshedAt: refreshedAt,
	}
	if err := s.store.Create(ctx, item); err != nil {
		return nil, err
	}
	s.embedAsync(item.ID)
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*Item, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.store.List(ctx)
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// RefreshURLItem re-fetches a url item. When the fetch yields nothing the
// stored content is left untouched and the refresh reports failure.
func (s *Service) RefreshURLItem(ctx context.Context, id string) error {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.ContentKind != KindURL || item.SourceReference == nil {
		return ErrNotURL
	}

	content := s.normalizer.FetchURL(ctx, *item.SourceReference)
	if content == "" {
		return ErrFetchFailed
	}

	now := time.Now().UTC()
	if err := s.store.UpdateContent(ctx, id, content, &now); err != nil {
		return err
	}
	s.embedAsync(id)
	return nil
}

// BackfillReport aggregates one backfill pass.
type BackfillReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BackfillEmbeddings embeds every item that has no vector for the active
// model, one at a time, continuing past individual failures. Re-running it
// is safe: already-embedded items are not selected again.
func (s *Service) BackfillEmbeddings(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport
	if s.embedder == nil {
		return report, ErrNoEmbedder
	}

	pending, err := s.store.ListUnembedded(ctx, s.embedder.Model())
	if err != nil {
		return report, err
	}

	for _, item := range pending {
		report.Attempted++
		if err := s.embedItem(ctx, item); err != nil {
			report.Failed++
			log.Printf("knowledge: backfill embedding for %s failed: %v", item.ID, err)
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

func (s *Service) embedItem(ctx context.Context, item Item) error {
	if s.embedder == nil {
		return ErrNoEmbedder
	}
	vector, err := embedOne(ctx, s.embedder, item.Title+"\n"+item.Content)
	if err != nil {
		return err
	}
	return s.store.SetEmbedding(ctx, item.ID, vector, s.embedder.Model())
}

// embedAsync computes the vector after the ingestion call has returned.
// Failure leaves the item unembedded for the next backfill pass.
func (s *Service) embedAsync(id string) {
	if s.embedder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), embedBackgroundTimeout)
		defer cancel()

		item, err := s.store.Get(ctx, id)
		if err != nil {
			log.Printf("knowledge: load item %s for embedding failed: %v", id, err)
			return
		}
		if err := s.embedItem(ctx, *item); err != nil {
			log.Printf("knowledge: background embedding for %s failed: %v", id, err)
		}
	}()
}
