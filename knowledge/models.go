package knowledge

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Content kinds accepted by the engine. The kind decides which optional
// columns are populated and how the payload is normalized.
const (
	KindText = "text"
	KindFile = "file"
	KindURL  = "url"
)

// Item is the unit of storage: one normalized knowledge entry with an
// optional embedding vector.
type Item struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	Title           string         `gorm:"size:200;not null" json:"title"`
	Content         string         `gorm:"type:text;not null" json:"content"`
	ContentKind     string         `gorm:"size:16;not null;index" json:"content_kind"`
	SourceReference *string        `gorm:"size:512" json:"source_reference,omitempty"`
	Tags            string         `gorm:"size:512;index" json:"tags"`
	Embedding       datatypes.JSON `gorm:"type:json" json:"embedding,omitempty"`
	EmbeddingModel  *string        `gorm:"size:128" json:"embedding_model,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastRefreshedAt *time.Time     `json:"last_refreshed_at,omitempty"`
}

func (Item) TableName() string {
	return "knowledge_items"
}

// TagList splits the stored comma-delimited tag string.
func (i Item) TagList() []string {
	return splitTags(i.Tags)
}

// Vector decodes the stored embedding. A nil result means the item has not
// been embedded (or the stored payload is unreadable, which ranks the same).
func (i Item) Vector() []float32 {
	if len(i.Embedding) == 0 {
		return nil
	}
	var vector []float32
	if err := json.Unmarshal(i.Embedding, &vector); err != nil {
		return nil
	}
	if len(vector) == 0 {
		return nil
	}
	return vector
}

// EmbeddedWith reports whether the item carries a vector produced by the
// given model. Vectors from other models are treated as absent so that
// incompatible embeddings are never compared.
func (i Item) EmbeddedWith(model string) bool {
	if i.Vector() == nil {
		return false
	}
	if i.EmbeddingModel == nil {
		return false
	}
	return *i.EmbeddingModel == model
}

func encodeVector(vector []float32) datatypes.JSON {
	if len(vector) == 0 {
		return nil
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func joinTags(tags []string) string {
	seen := make(map[string]struct{}, len(tags))
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ",")
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
