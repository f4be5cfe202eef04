// Package faq ranks storefront FAQ entries against a customer question.
package faq

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/models"
)

// DefaultK is the number of entries handlers attach to an answer.
const DefaultK = 4

// Searcher returns up to k FAQ entries ordered by relevance.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.FAQEntry, error)
}

// Source is the FAQ storage a searcher reads from.
type Source interface {
	ListFAQs(ctx context.Context) ([]models.FAQEntry, error)
	SaveFAQEmbedding(ctx context.Context, id int64, embedding []float64) error
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "is": true, "are": true, "do": true,
	"does": true, "you": true, "your": true, "my": true, "me": true, "to": true, "of": true,
	"for": true, "in": true, "on": true, "can": true, "what": true, "how": true, "it": true,
	"and": true, "or": true, "we": true, "please": true,
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		if !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

// KeywordSearcher ranks entries by token overlap with the question text.
type KeywordSearcher struct {
	source Source
}

func NewKeywordSearcher(source Source) *KeywordSearcher {
	return &KeywordSearcher{source: source}
}

func (s *KeywordSearcher) Search(ctx context.Context, query string, k int) ([]models.FAQEntry, error) {
	entries, err := s.source.ListFAQs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list faqs: %w", err)
	}
	q := tokens(query)
	type scored struct {
		entry models.FAQEntry
		score int
	}
	var ranked []scored
	for _, e := range entries {
		n := 0
		for w := range tokens(e.Question + " " + e.Answer) {
			if q[w] {
				n++
			}
		}
		if n > 0 {
			ranked = append(ranked, scored{e, n})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]models.FAQEntry, 0, k)
	for i := 0; i < len(ranked) && i < k; i++ {
		out = append(out, ranked[i].entry)
	}
	return out, nil
}

// EmbeddingSearcher ranks entries by cosine similarity of embeddings. Entry
// vectors are computed lazily and cached through Source. Embedding failures
// fall back to keyword ranking.
type EmbeddingSearcher struct {
	source   Source
	embedder genai.Embedder
	fallback *KeywordSearcher
}

func NewEmbeddingSearcher(source Source, embedder genai.Embedder) (*EmbeddingSearcher, error) {
	if embedder == nil {
		return nil, genai.ErrNotConfigured
	}
	return &EmbeddingSearcher{source: source, embedder: embedder, fallback: NewKeywordSearcher(source)}, nil
}

func (s *EmbeddingSearcher) Search(ctx context.Context, query string, k int) ([]models.FAQEntry, error) {
	entries, err := s.source.ListFAQs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list faqs: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("EmbeddingSearcher.Search: query embedding failed, using keyword search", "error", err)
		return s.fallback.Search(ctx, query, k)
	}

	type scored struct {
		entry models.FAQEntry
		score float64
	}
	ranked := make([]scored, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			v, err := s.embedder.Embed(ctx, e.Question+"\n"+e.Answer)
			if err != nil {
				slog.Warn("EmbeddingSearcher.Search: faq embedding failed, using keyword search", "faqID", e.ID, "error", err)
				return s.fallback.Search(ctx, query, k)
			}
			e.Embedding = v
			if err := s.source.SaveFAQEmbedding(ctx, e.ID, v); err != nil {
				slog.Warn("EmbeddingSearcher.Search: caching faq embedding failed", "faqID", e.ID, "error", err)
			}
		}
		ranked = append(ranked, scored{e, Cosine(qv, e.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]models.FAQEntry, 0, k)
	for i := 0; i < len(ranked) && i < k; i++ {
		out = append(out, ranked[i].entry)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
