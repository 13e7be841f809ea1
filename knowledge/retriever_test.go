package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns canned vectors keyed by input text.
type stubEmbedder struct {
	vectors        map[string][]float32
	fallbackVector []float32
	err            error
	calls          int
}

func (s *stubEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, 0, len(inputs))
	for _, input := range inputs {
		if vector, ok := s.vectors[input]; ok {
			out = append(out, vector)
			continue
		}
		out = append(out, s.fallbackVector)
	}
	return out, nil
}

func (s *stubEmbedder) Model() string { return "stub-model" }

func newTestService(t *testing.T, embedder Embedder) *Service {
	t.Helper()
	return &Service{
		store:      newTestStore(t),
		normalizer: NewNormalizer(FetchConfig{}),
		embedder:   embedder,
		queries:    newQueryCache(nil),
		threshold:  DefaultSimilarityThreshold,
	}
}

func seedEmbedded(t *testing.T, svc *Service, title, content string, vector []float32) *Item {
	t.Helper()
	ctx := context.Background()
	item := mustCreate(t, svc.store, &Item{Title: title, Content: content, ContentKind: KindText})
	if vector != nil {
		require.NoError(t, svc.store.SetEmbedding(ctx, item.ID, vector, "stub-model"))
	}
	return item
}

func TestRetrieveVectorPrimary(t *testing.T) {
	embedder := &stubEmbedder{
		vectors:        map[string][]float32{"alarm interference": {1, 0}},
		fallbackVector: []float32{0, 1},
	}
	svc := newTestService(t, embedder)

	strong := seedEmbedded(t, svc, "Door alarm shielding", "Copper mesh blocks interference near the door unit.", []float32{0.9, 0.1})
	seedEmbedded(t, svc, "Garden lighting", "Solar lights for the backyard.", []float32{0, 1})

	result := svc.Retrieve(context.Background(), "alarm interference", 1)
	require.Len(t, result.Items, 1)
	assert.Equal(t, strong.ID, result.Items[0].ID)
	assert.Greater(t, result.Items[0].Relevance, DefaultSimilarityThreshold)
	assert.Empty(t, result.Suggestions)
}

func TestRetrieveHybridFill(t *testing.T) {
	embedder := &stubEmbedder{
		vectors:        map[string][]float32{"door alarm": {1, 0}},
		fallbackVector: []float32{0, 1},
	}
	svc := newTestService(t, embedder)

	vectorHit := seedEmbedded(t, svc, "Shield placement", "Mount the shield over the door alarm.", []float32{1, 0})
	lexicalOnly := seedEmbedded(t, svc, "Door alarm manual", "Full manual for the door alarm.", nil)
	seedEmbedded(t, svc, "Unrelated", "Garden hose storage.", []float32{0, 1})

	result := svc.Retrieve(context.Background(), "door alarm", 3)
	require.Len(t, result.Items, 2)

	// Vector match first, keyword-only fill after, never duplicated.
	assert.Equal(t, vectorHit.ID, result.Items[0].ID)
	assert.Equal(t, lexicalOnly.ID, result.Items[1].ID)
	assert.Equal(t, lexicalFallbackRelevance, result.Items[1].Relevance)
	assert.Equal(t, SignalLexical, result.Items[1].Signal)
	assert.Greater(t, result.Items[0].Relevance, result.Items[1].Relevance)
	assert.Equal(t, SignalBoth, result.Items[0].Signal)
}

func TestRetrieveLexicalFallbackWhenEmbeddingFails(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("service down")}
	svc := newTestService(t, embedder)

	item := seedEmbedded(t, svc, "Window sensor pairing", "Hold the button for five seconds.", []float32{1, 0})

	result := svc.Retrieve(context.Background(), "window sensor", 5)
	require.Len(t, result.Items, 1)
	assert.Equal(t, item.ID, result.Items[0].ID)
	assert.Equal(t, SignalLexical, result.Items[0].Signal)
	assert.Equal(t, lexicalFallbackRelevance, result.Items[0].Relevance)
}

func TestRetrieveWithoutEmbedder(t *testing.T) {
	svc := newTestService(t, nil)
	seedEmbedded(t, svc, "Camera basics", "Mount cameras high.", nil)

	result := svc.Retrieve(context.Background(), "camera", 5)
	require.Len(t, result.Items, 1)
	assert.Equal(t, SignalLexical, result.Items[0].Signal)
}

func TestRetrieveNoMatchesSuggestsTitles(t *testing.T) {
	svc := newTestService(t, nil)
	seedEmbedded(t, svc, "Camera basics", "Mount cameras high.", nil)
	seedEmbedded(t, svc, "Siren volume", "Adjust via the app.", nil)

	result := svc.Retrieve(context.Background(), "zzzzz", 5)
	assert.Empty(t, result.Items)
	assert.Len(t, result.Suggestions, 2)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	svc := newTestService(t, nil)
	seedEmbedded(t, svc, "Camera basics", "Mount cameras high.", nil)

	result := svc.Retrieve(context.Background(), "   ", 5)
	assert.Empty(t, result.Items)
	assert.NotEmpty(t, result.Suggestions)
}

func TestRetrieveEmptyStore(t *testing.T) {
	svc := newTestService(t, nil)
	result := svc.Retrieve(context.Background(), "anything", 5)
	assert.Empty(t, result.Items)
	assert.Empty(t, result.Suggestions)
}

func TestRetrieveSnippetTruncation(t *testing.T) {
	svc := newTestService(t, nil)
	long := strings.Repeat("alarm wiring details ", 30)
	seedEmbedded(t, svc, "Long manual", long, nil)

	result := svc.Retrieve(context.Background(), "wiring", 5)
	require.Len(t, result.Items, 1)
	snippet := result.Items[0].Snippet
	assert.True(t, strings.HasSuffix(snippet, "…"))
	assert.LessOrEqual(t, len([]rune(snippet)), snippetMaxRunes+1)
}
