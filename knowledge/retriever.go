package knowledge

import (
	"context"
	"log"
	"strings"
)

// Relevance tags attached to retrieved items so downstream consumers can
// weight semantic and keyword evidence differently.
const (
	SignalVector  = "vector"
	SignalLexical = "lexical"
	SignalBoth    = "vector+lexical"
)

// lexicalFallbackRelevance sits below the similarity threshold so every
// vector-matched item outranks every keyword-only match.
const lexicalFallbackRelevance = 0.1

const snippetMaxRunes = 200

// RetrievedItem is the retrieval view of a knowledge item.
type RetrievedItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Snippet     string  `json:"content_snippet"`
	ContentKind string  `json:"content_kind"`
	Source      string  `json:"source,omitempty"`
	Relevance   float64 `json:"relevance"`
	Signal      string  `json:"relevance_tag"`
}

// RetrievalResult always carries a (possibly empty) item list. Suggestions
// are populated only when both search paths came up empty, to help the
// caller refine the query.
type RetrievalResult struct {
	Items       []RetrievedItem `json:"items"`
	Suggestions []string        `json:"suggestions,omitempty"`
}

// Retrieve runs the hybrid search: vector ranking over embedded items when a
// query embedding can be obtained, topped up with lexical matches. It
// degrades rather than fails — an unavailable embedding service, an empty
// store, or a storage read fault all produce a lexical-only or empty result,
// never an error to the caller.
func (s *Service) Retrieve(ctx context.Context, query string, limit int) RetrievalResult {
	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return s.emptyResult(ctx)
	}

	primary := s.vectorCandidates(ctx, query, limit)
	if len(primary) >= limit {
		items := make([]RetrievedItem, 0, limit)
		lexicalIDs := s.lexicalIDSet(ctx, query, limit)
		for _, scored := range primary[:limit] {
			items = append(items, s.retrievedItem(scored.Item, scored.Score, vectorSignal(scored.Item.ID, lexicalIDs)))
		}
		return RetrievalResult{Items: items}
	}

	lexical, err := s.store.SearchLexical(ctx, query, 2*limit)
	if err != nil {
		log.Printf("knowledge: lexical search failed: %v", err)
	}

	seen := make(map[string]struct{}, len(primary))
	items := make([]RetrievedItem, 0, limit)
	lexicalIDs := make(map[string]struct{}, len(lexical))
	for _, item := range lexical {
		lexicalIDs[item.ID] = struct{}{}
	}
	for _, scored := range primary {
		seen[scored.Item.ID] = struct{}{}
		items = append(items, s.retrievedItem(scored.Item, scored.Score, vectorSignal(scored.Item.ID, lexicalIDs)))
	}
	for _, item := range lexical {
		if len(items) >= limit {
			break
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, s.retrievedItem(item, lexicalFallbackRelevance, SignalLexical))
	}

	if len(items) == 0 {
		return s.emptyResult(ctx)
	}
	return RetrievalResult{Items: items}
}

// vectorCandidates obtains a query embedding (cache first) and ranks the
// embedded pool. Any failure along the way returns nil, which callers treat
// as "semantic path unavailable".
func (s *Service) vectorCandidates(ctx context.Context, query string, limit int) []ScoredItem {
	if s.embedder == nil {
		return nil
	}
	model := s.embedder.Model()

	vector := s.queries.get(ctx, model, query)
	if vector == nil {
		var err error
		vector, err = embedOne(ctx, s.embedder, query)
		if err != nil {
			log.Printf("knowledge: query embedding unavailable, falling back to lexical search: %v", err)
			return nil
		}
		s.queries.store(ctx, model, query, vector)
	}

	candidates, err := s.store.ListEmbedded(ctx, model)
	if err != nil {
		log.Printf("knowledge: load embedded items failed: %v", err)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}
	return rankByVector(vector, candidates, s.threshold, limit)
}

func (s *Service) lexicalIDSet(ctx context.Context, query string, limit int) map[string]struct{} {
	lexical, err := s.store.SearchLexical(ctx, query, 2*limit)
	if err != nil {
		return nil
	}
	ids := make(map[string]struct{}, len(lexical))
	for _, item := range lexical {
		ids[item.ID] = struct{}{}
	}
	return ids
}

func vectorSignal(id string, lexicalIDs map[string]struct{}) string {
	if _, also := lexicalIDs[id]; also {
		return SignalBoth
	}
	return SignalVector
}

func (s *Service) emptyResult(ctx context.Context) RetrievalResult {
	titles, err := s.store.SampleTitles(ctx, 5)
	if err != nil {
		log.Printf("knowledge: sample titles failed: %v", err)
	}
	return RetrievalResult{Items: []RetrievedItem{}, Suggestions: titles}
}

func (s *Service) retrievedItem(item Item, relevance float64, signal string) RetrievedItem {
	source := ""
	if item.SourceReference != nil {
		source = *item.SourceReference
	}
	return RetrievedItem{
		ID:          item.ID,
		Title:       item.Title,
		Snippet:     snippet(item.Content),
		ContentKind: item.ContentKind,
		Source:      source,
		Relevance:   relevance,
		Signal:      signal,
	}
}

func snippet(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= snippetMaxRunes {
		return string(runes)
	}
	return string(runes[:snippetMaxRunes]) + "…"
}
