// Package search implements Semantic Search & Synthesis (spec §2.4,
// §4.4): semantic, keyword, and hybrid search over cached content, with
// a four-factor reranker and a result synthesis operation.
//
// Grounded on crates/knowledge/src/search.rs's SemanticSearchEngine —
// rerank_results' four multiplicative boosts (recency, content-type,
// semantic-tag overlap, length penalty), combine_search_results'
// weighted merge, and calculate_recency_boost's one-week half-life floor
// are all carried over arithmetic-for-arithmetic from that source.
// The independent legs of a search (vector k-NN vs. document listing,
// semantic vs. keyword) run concurrently via golang.org/x/sync/errgroup.
package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhema-core/rhema/internal/rherr"
	"github.com/rhema-core/rhema/internal/vector"
)

// ContentKind mirrors the content kinds used across this codebase's
// knowledge model (spec §3.1).
type ContentKind string

const (
	ContentCode          ContentKind = "code"
	ContentDocumentation ContentKind = "documentation"
	ContentDecision      ContentKind = "decision"
	ContentConfiguration ContentKind = "configuration"
	ContentKnowledge     ContentKind = "knowledge"
	ContentPattern       ContentKind = "pattern"
	ContentTodo          ContentKind = "todo"
	ContentInsight       ContentKind = "insight"
)

// Document is one unit of searchable content. A real deployment populates
// this from the cache's CacheEntry records; it is kept decoupled from the
// cache package here to avoid a dependency cycle (cache optionally
// depends on vector, and knowledge ties both to search).
type Document struct {
	Key          string
	Content      string
	Kind         ContentKind
	ScopePath    string
	SemanticTags []string
	CreatedAt    time.Time
	LastModified time.Time
}

// SemanticResult is the enriched result shape spec §4.4 names.
type SemanticResult struct {
	CacheKey       string
	Content        string
	RelevanceScore float64
	SemanticTags   []string
	SourceKind     ContentKind
	ScopePath      string
	CreatedAt      time.Time
	LastModified   time.Time
}

// DocumentStore is the minimal content-lookup surface Engine needs. A
// brute-force implementation is provided in store.go; callers backing
// onto the tiered cache can provide their own.
type DocumentStore interface {
	All(ctx context.Context) ([]Document, error)
}

// Engine executes search and synthesis operations.
type Engine struct {
	store             DocumentStore
	vectorStore       *vector.Store
	similarityThreshold float64
}

// NewEngine constructs an Engine. similarityThreshold filters
// search_semantic results below the configured minimum score.
func NewEngine(store DocumentStore, vectorStore *vector.Store, similarityThreshold float64) *Engine {
	return &Engine{store: store, vectorStore: vectorStore, similarityThreshold: similarityThreshold}
}

// SearchSemantic embeds query, performs k-NN search, and filters by the
// configured similarity threshold. The vector search and the document
// listing needed to resolve hit IDs back to content have no data
// dependency on each other, so they run concurrently.
func (e *Engine) SearchSemantic(ctx context.Context, query string, k int) ([]SemanticResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rherr.InvalidData("query must not be empty", nil).WithCode("InvalidQuery")
	}

	var hits []vector.SearchResult
	var docsByKey map[string]Document

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := e.vectorStore.Embed(gctx, query, "")
		if err != nil {
			return rherr.Backend("vector search failed", err).WithCode("VectorSearchError")
		}
		h, err := e.vectorStore.Search(gctx, vec, k)
		if err != nil {
			return rherr.Backend("vector search failed", err).WithCode("VectorSearchError")
		}
		hits = h
		return nil
	})
	g.Go(func() error {
		docs, err := e.indexDocs(gctx)
		if err != nil {
			return err
		}
		docsByKey = docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]SemanticResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < e.similarityThreshold {
			continue
		}
		key := h.ID
		if idx := strings.LastIndex(key, "::"); idx >= 0 {
			key = key[idx+2:]
		}
		doc, ok := docsByKey[key]
		if !ok {
			continue
		}
		results = append(results, toSemanticResult(doc, h.Score))
	}
	sortResults(results)
	return results, nil
}

// SearchKeyword tokenizes query, scores documents by
// (sum term_count)/content_length, and returns the top k.
func (e *Engine) SearchKeyword(ctx context.Context, query string, k int) ([]SemanticResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rherr.InvalidData("query must not be empty", nil).WithCode("InvalidQuery")
	}

	keywords := extractKeywords(query)
	docs, err := e.store.All(ctx)
	if err != nil {
		return nil, rherr.Backend("document lookup failed", err).WithCode("VectorSearchError")
	}

	results := make([]SemanticResult, 0, len(docs))
	for _, doc := range docs {
		lower := strings.ToLower(doc.Content)
		var score float64
		for _, kw := range keywords {
			score += float64(strings.Count(lower, kw))
		}
		if len(doc.Content) > 0 {
			score /= float64(len(doc.Content))
		}
		if score <= 0 {
			continue
		}
		r := toSemanticResult(doc, score)
		results = append(results, r)
	}
	sortResults(results)
	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// SearchHybrid combines semantic and keyword search per
// combined_score = semantic_weight*sem_score + (1-semantic_weight)*kw_score,
// de-duplicating by key. The semantic and keyword legs are independent
// until the merge step, so they run concurrently.
func (e *Engine) SearchHybrid(ctx context.Context, query string, k int, semanticWeight float64) ([]SemanticResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rherr.InvalidData("query must not be empty", nil).WithCode("InvalidQuery")
	}

	var semantic, keyword []SemanticResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.SearchSemantic(gctx, query, k*2+1)
		if err != nil {
			return err
		}
		semantic = r
		return nil
	})
	g.Go(func() error {
		r, err := e.SearchKeyword(gctx, query, k*2+1)
		if err != nil {
			return err
		}
		keyword = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKey := make(map[string]SemanticResult)
	for _, r := range semantic {
		r.RelevanceScore = semanticWeight * r.RelevanceScore
		byKey[r.CacheKey] = r
	}
	for _, r := range keyword {
		if existing, ok := byKey[r.CacheKey]; ok {
			existing.RelevanceScore += (1 - semanticWeight) * r.RelevanceScore
			byKey[r.CacheKey] = existing
		} else {
			r.RelevanceScore = (1 - semanticWeight) * r.RelevanceScore
			byKey[r.CacheKey] = r
		}
	}

	combined := make([]SemanticResult, 0, len(byKey))
	for _, r := range byKey {
		combined = append(combined, r)
	}
	sortResults(combined)
	if k >= 0 && k < len(combined) {
		combined = combined[:k]
	}
	return combined, nil
}

// Rerank applies the four multiplicative boosts spec §4.4 names:
// recency (1-week half-life, floor 0.1), content-type relevance
// (+20%-+40%), semantic-tag overlap (+0.2/tag, cap 2.0), and a length
// penalty favoring 100-1000 character content.
func (e *Engine) Rerank(results []SemanticResult, query string) []SemanticResult {
	out := make([]SemanticResult, len(results))
	copy(out, results)

	now := time.Now()
	for i := range out {
		score := out[i].RelevanceScore
		score *= recencyBoost(out[i].LastModified, now)
		score *= contentTypeBoost(out[i].SourceKind, query)
		score *= semanticTagBoost(out[i].SemanticTags, query)
		score *= lengthPenalty(len(out[i].Content))
		if score > 1.0 {
			score = 1.0
		}
		out[i].RelevanceScore = score
	}
	sortResults(out)
	return out
}

// SearchWithReranking fetches 2k semantic results, reranks, and returns
// the top k.
func (e *Engine) SearchWithReranking(ctx context.Context, query string, k int) ([]SemanticResult, error) {
	results, err := e.SearchSemantic(ctx, query, 2*k)
	if err != nil {
		return nil, err
	}
	reranked := e.Rerank(results, query)
	if k >= 0 && k < len(reranked) {
		reranked = reranked[:k]
	}
	return reranked, nil
}

func recencyBoost(lastModified, now time.Time) float64 {
	ageHours := now.Sub(lastModified).Hours()
	boost := math.Exp(-ageHours / 168.0) // one week half-life
	if boost < 0.1 {
		return 0.1
	}
	return boost
}

func contentTypeBoost(kind ContentKind, query string) float64 {
	q := strings.ToLower(query)
	switch kind {
	case ContentCode:
		if strings.Contains(q, "code") || strings.Contains(q, "implementation") {
			return 1.2
		}
	case ContentDocumentation:
		if strings.Contains(q, "doc") || strings.Contains(q, "guide") || strings.Contains(q, "how") {
			return 1.3
		}
	case ContentDecision:
		if strings.Contains(q, "decision") || strings.Contains(q, "why") || strings.Contains(q, "rationale") {
			return 1.4
		}
	}
	return 1.0
}

func semanticTagBoost(tags []string, query string) float64 {
	q := strings.ToLower(query)
	boost := 1.0
	for _, tag := range tags {
		if strings.Contains(q, strings.ToLower(tag)) {
			boost += 0.2
		}
	}
	if boost > 2.0 {
		return 2.0
	}
	return boost
}

func lengthPenalty(length int) float64 {
	switch {
	case length < 100:
		return 0.8
	case length > 1000:
		return 0.9
	default:
		return 1.0
	}
}

func extractKeywords(query string) []string {
	words := strings.Fields(query)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 2 {
			out = append(out, strings.ToLower(w))
		}
	}
	return out
}

func toSemanticResult(doc Document, score float64) SemanticResult {
	return SemanticResult{
		CacheKey:       doc.Key,
		Content:        doc.Content,
		RelevanceScore: score,
		SemanticTags:   doc.SemanticTags,
		SourceKind:     doc.Kind,
		ScopePath:      doc.ScopePath,
		CreatedAt:      doc.CreatedAt,
		LastModified:   doc.LastModified,
	}
}

func (e *Engine) indexDocs(ctx context.Context) (map[string]Document, error) {
	docs, err := e.store.All(ctx)
	if err != nil {
		return nil, rherr.Backend("document lookup failed", err).WithCode("VectorSearchError")
	}
	out := make(map[string]Document, len(docs))
	for _, d := range docs {
		out[d.Key] = d
	}
	return out, nil
}

// sortResults orders by score descending; ties broken by newer
// created_at, then lexicographically smaller key (spec §4.4).
func sortResults(results []SemanticResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].CacheKey < results[j].CacheKey
	})
}
