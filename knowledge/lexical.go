package knowledge

import (
	"context"
	"strings"
	"unicode"
)

// Fixed stop-word set for query tokenization. Matching is substring based,
// so these would otherwise match almost every item.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "is": {}, "are": {}, "was": {},
	"be": {}, "it": {}, "this": {}, "that": {}, "with": {}, "as": {},
	"by": {}, "from": {}, "how": {}, "what": {}, "do": {}, "does": {},
}

// tokenizeQuery splits on whitespace and punctuation, lowercases, and drops
// stop words. When nothing survives, the raw query is used as a single
// token so a query of pure stop words still matches something.
func tokenizeQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, stop := stopWords[field]; stop {
			continue
		}
		tokens = append(tokens, field)
	}
	if len(tokens) == 0 {
		if raw := strings.ToLower(strings.TrimSpace(query)); raw != "" {
			tokens = append(tokens, raw)
		}
	}
	return tokens
}

// SearchLexical matches any token as a case-insensitive substring of title,
// content, or tags. Items whose title contains the full query string rank
// first; within each group the most recently updated item wins. Lexical
// results are rank-only — no similarity score is attached.
func (s *Store) SearchLexical(ctx context.Context, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	tx := s.db.WithContext(ctx).Model(&Item{})
	var (
		conditions []string
		params     []interface{}
	)
	for _, token := range tokens {
		conditions = append(conditions, "(LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(tags) LIKE ?)")
		pattern := "%" + token + "%"
		params = append(params, pattern, pattern, pattern)
	}

	var matches []Item
	err := tx.Where(strings.Join(conditions, " OR "), params...).
		Order("updated_at DESC").
		Find(&matches).Error
	if err != nil {
		return nil, err
	}

	fullQuery := strings.ToLower(strings.TrimSpace(query))
	ranked := make([]Item, 0, len(matches))
	var rest []Item
	for _, item := range matches {
		if fullQuery != "" && strings.Contains(strings.ToLower(item.Title), fullQuery) {
			ranked = append(ranked, item)
		} else {
			rest = append(rest, item)
		}
	}
	ranked = append(ranked, rest...)

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
