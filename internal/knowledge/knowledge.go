// Package knowledge is the Unified Knowledge Engine (UKE) facade (spec
// §2, §3.1): it ties the temporal decay engine, vector store, tiered
// cache, and semantic search together behind a single content API that
// GASM, RTAC, and the proactive subsystem call into.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rhema-core/rhema/internal/cache"
	"github.com/rhema-core/rhema/internal/rherr"
	"github.com/rhema-core/rhema/internal/search"
	"github.com/rhema-core/rhema/internal/temporal"
	"github.com/rhema-core/rhema/internal/vector"
)

// Content is the canonical knowledge record, spec §3.1.
type Content struct {
	ID          string
	Kind        temporal.ContentKind
	CreatedAt   time.Time
	ModifiedAt  time.Time
	AccessedAt  time.Time
	AccessCount int64
	Bytes       []byte
	Metadata    map[string]string
	ScopePath   string
	SemanticTags []string
}

// Engine is the UKE facade.
type Engine struct {
	cache        *cache.Cache
	vectorStore  *vector.Store
	searchEngine *search.Engine
	docStore     *search.MemoryStore
	temporal     *temporal.Engine

	history map[string][]temporal.ContentAccess
}

// NewEngine wires the four subsystems into a single facade. docStore
// backs keyword search; a real deployment's docStore also reads from the
// cache's disk tier index, but the in-memory store keeps this package
// independent of which tiers are configured.
func NewEngine(c *cache.Cache, vectorStore *vector.Store, similarityThreshold float64) *Engine {
	docStore := search.NewMemoryStore()
	return &Engine{
		cache:        c,
		vectorStore:  vectorStore,
		searchEngine: search.NewEngine(docStore, vectorStore, similarityThreshold),
		docStore:     docStore,
		temporal:     temporal.NewEngine(),
		history:      make(map[string][]temporal.ContentAccess),
	}
}

// Search exposes the underlying search.Engine for direct use by callers
// that need search_keyword/search_hybrid/synthesize beyond what Engine's
// higher-level Remember/Recall pair covers.
func (e *Engine) Search() *search.Engine { return e.searchEngine }

// Remember stores content: writes it into the tiered cache (with semantic
// indexing) and indexes it for keyword search.
func (e *Engine) Remember(ctx context.Context, content Content) error {
	if strings.TrimSpace(content.ID) == "" {
		return rherr.InvalidData("content id must not be empty", nil)
	}
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now()
	}
	if content.ModifiedAt.IsZero() {
		content.ModifiedAt = content.CreatedAt
	}

	meta := cache.EntryMetadata{
		Key:          content.ID,
		ScopePath:    content.ScopePath,
		SemanticTags: content.SemanticTags,
		CreatedAt:    content.CreatedAt,
	}
	if e.cache != nil {
		if err := e.cache.SetWithSemanticIndexing(ctx, content.ID, content.Bytes, meta, string(content.Kind)); err != nil {
			return err
		}
	}

	e.docStore.Put(search.Document{
		Key:          content.ID,
		Content:      string(content.Bytes),
		Kind:         search.ContentKind(content.Kind),
		ScopePath:    content.ScopePath,
		SemanticTags: content.SemanticTags,
		CreatedAt:    content.CreatedAt,
		LastModified: content.ModifiedAt,
	})
	return nil
}

// Recall fetches content by key from the cache, recording an access for
// temporal scoring.
func (e *Engine) Recall(ctx context.Context, key string) (*Content, error) {
	if e.cache == nil {
		return nil, rherr.NotFound("no cache configured", nil).WithKey(key)
	}
	result, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	e.recordAccess(key, temporal.AccessRead)

	c := &Content{
		ID:           result.Entry.Metadata.Key,
		Bytes:        result.Entry.Bytes,
		CreatedAt:    result.Entry.Metadata.CreatedAt,
		AccessedAt:   result.Entry.Metadata.AccessedAt,
		AccessCount:  result.Entry.Metadata.AccessCount,
		ScopePath:    result.Entry.Metadata.ScopePath,
		SemanticTags: result.Entry.Metadata.SemanticTags,
	}
	return c, nil
}

func (e *Engine) recordAccess(key string, accessType temporal.AccessType) {
	e.history[key] = append(e.history[key], temporal.ContentAccess{
		ContentID:  key,
		AccessTime: time.Now(),
		AccessType: accessType,
	})
}

// TemporalRelevance scores content's current relevance from its kind and
// age, per spec §4.1. It passes no access history to the temporal engine.
func (e *Engine) TemporalRelevance(kind temporal.ContentKind, createdAt time.Time, queryTime time.Time) (float64, error) {
	return e.temporal.Relevance(kind, createdAt, queryTime, nil, nil, nil)
}

// SearchWithTemporalReranking runs search_with_reranking and then layers
// a temporal relevance multiplier on top, since rerank's recency boost
// alone does not account for per-content-kind decay shape.
func (e *Engine) SearchWithTemporalReranking(ctx context.Context, query string, k int) ([]search.SemanticResult, error) {
	results, err := e.searchEngine.SearchWithReranking(ctx, query, k)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range results {
		kind := temporal.ContentKind(results[i].SourceKind)
		rel, err := e.temporal.Relevance(kind, results[i].CreatedAt, now, e.history[results[i].CacheKey], nil, nil)
		if err != nil {
			continue
		}
		results[i].RelevanceScore *= rel
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].CacheKey < results[j].CacheKey
	})
	return results, nil
}
