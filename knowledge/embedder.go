package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEmbeddingBaseURL = "https://api.openai.com/v1"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingMaxLen  = 8000
)

// Embedder turns text into fixed-length vectors via an external service.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

// EmbeddingConfig is resolved once at construction; the engine never reads
// the environment after startup so backend swaps stay explicit.
type EmbeddingConfig struct {
	APIKey    string
	BaseURL   string
	ModelID   string
	ExpectDim int
	MaxChars  int
	Timeout   time.Duration
}

// EmbeddingConfigFromEnv collects the EMBEDDING_* variables. A missing API
// key is not an error here: the engine runs lexical-only without one.
func EmbeddingConfigFromEnv() EmbeddingConfig {
	cfg := EmbeddingConfig{
		APIKey:   strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")),
		BaseURL:  strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL")),
		ModelID:  strings.TrimSpace(os.Getenv("EMBEDDING_MODEL_ID")),
		MaxChars: defaultEmbeddingMaxLen,
		Timeout:  30 * time.Second,
	}
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_VECTOR_DIM")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.ExpectDim = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_MAX_CHARS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.MaxChars = parsed
		}
	}
	return cfg
}

type httpEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	expectDim  int
	maxChars   int
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewHTTPEmbedder builds the OpenAI-compatible embeddings client. Returns
// (nil, nil) when no API key is configured: callers treat a nil Embedder as
// "semantic path unavailable", not as an error.
func NewHTTPEmbedder(cfg EmbeddingConfig) (Embedder, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultEmbeddingBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("knowledge: invalid embedding base URL %q", baseURL)
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = defaultEmbeddingModel
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultEmbeddingMaxLen
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &httpEmbedder{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		modelID:    modelID,
		expectDim:  cfg.ExpectDim,
		maxChars:   maxChars,
	}, nil
}

func (e *httpEmbedder) Model() string {
	if e == nil {
		return ""
	}
	return e.modelID
}

func (e *httpEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e == nil {
		return nil, errors.New("knowledge: embedder is not configured")
	}

	sanitized := make([]string, 0, len(inputs))
	for _, input := range inputs {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		sanitized = append(sanitized, truncateRunes(trimmed, e.maxChars))
	}
	if len(sanitized) == 0 {
		return nil, nil
	}

	payload := embeddingRequest{Model: e.modelID, Input: sanitized}
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("knowledge: encode embedding payload: %w", err)
	}

	endpoint := e.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("knowledge: embedding API status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("knowledge: decode embedding response: %w", err)
	}
	if len(decoded.Data) != len(sanitized) {
		return nil, fmt.Errorf("knowledge: embedding response count mismatch (expected %d, got %d)", len(sanitized), len(decoded.Data))
	}

	vectors := make([][]float32, len(decoded.Data))
	for i, item := range decoded.Data {
		vector := make([]float32, 0, len(item.Embedding))
		for _, value := range item.Embedding {
			vector = append(vector, float32(value))
		}
		if e.expectDim > 0 && len(vector) != e.expectDim {
			return nil, fmt.Errorf("knowledge: embedding length %d does not match expected %d", len(vector), e.expectDim)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func embedOne(ctx context.Context, embedder Embedder, text string) ([]float32, error) {
	if embedder == nil {
		return nil, errors.New("knowledge: embedder is not configured")
	}
	vectors, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("knowledge: embedding service returned no vector")
	}
	return vectors[0], nil
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
