package search

import (
	"context"
	"testing"
	"time"

	"github.com/rhema-core/rhema/internal/vector"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *vector.Store) {
	t.Helper()
	store := NewMemoryStore()
	vcfg := vector.Config{Backend: vector.BackendLocal, CollectionName: "docs", Dimension: 32, DistanceMetric: vector.DistanceCosine}
	vstore := vector.NewStore(vcfg, vector.NewHashEmbedder(32), nil)
	engine := NewEngine(store, vstore, 0.0)
	return engine, store, vstore
}

func seed(ctx context.Context, t *testing.T, store *MemoryStore, vstore *vector.Store, doc Document) {
	t.Helper()
	store.Put(doc)
	vec, err := vstore.Embed(ctx, doc.Content, string(doc.Kind))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := vstore.Upsert(ctx, vector.Record{ID: doc.Key, Vector: vec}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestSearchSemanticEmptyQueryErrors(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.SearchSemantic(context.Background(), "", 5)
	if err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchSemanticFindsRelevantDoc(t *testing.T) {
	engine, store, vstore := newTestEngine(t)
	ctx := context.Background()

	seed(ctx, t, store, vstore, Document{Key: "doc-a", Content: "connection pool retry logic", Kind: ContentCode, CreatedAt: time.Now(), LastModified: time.Now()})
	seed(ctx, t, store, vstore, Document{Key: "doc-b", Content: "quarterly roadmap planning notes", Kind: ContentDocumentation, CreatedAt: time.Now(), LastModified: time.Now()})

	results, err := engine.SearchSemantic(ctx, "connection pool retry logic", 1)
	if err != nil {
		t.Fatalf("SearchSemantic: %v", err)
	}
	if len(results) != 1 || results[0].CacheKey != "doc-a" {
		t.Fatalf("expected doc-a as top match, got %+v", results)
	}
}

func TestSearchKeywordRanksByTermDensity(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	store.Put(Document{Key: "dense", Content: "cache cache cache miss", Kind: ContentCode, CreatedAt: time.Now(), LastModified: time.Now()})
	store.Put(Document{Key: "sparse", Content: "this document barely mentions cache once amid a lot of unrelated filler text that dilutes the term density score", Kind: ContentCode, CreatedAt: time.Now(), LastModified: time.Now()})

	results, err := engine.SearchKeyword(ctx, "cache", 10)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected both docs to match, got %d", len(results))
	}
	if results[0].CacheKey != "dense" {
		t.Fatalf("expected dense document ranked first, got %+v", results)
	}
}

func TestSearchHybridDeduplicatesByKey(t *testing.T) {
	engine, store, vstore := newTestEngine(t)
	ctx := context.Background()

	seed(ctx, t, store, vstore, Document{Key: "both", Content: "database migration rollback procedure", Kind: ContentCode, CreatedAt: time.Now(), LastModified: time.Now()})

	results, err := engine.SearchHybrid(ctx, "database migration rollback procedure", 5, 0.7)
	if err != nil {
		t.Fatalf("SearchHybrid: %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.CacheKey] {
			t.Fatalf("expected de-duplicated results, saw %s twice", r.CacheKey)
		}
		seen[r.CacheKey] = true
	}
}

func TestRerankBoostsContentTypeMatch(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	now := time.Now()
	results := []SemanticResult{
		{CacheKey: "doc", RelevanceScore: 0.5, SourceKind: ContentDocumentation, Content: makeContent(500), LastModified: now},
		{CacheKey: "code", RelevanceScore: 0.5, SourceKind: ContentCode, Content: makeContent(500), LastModified: now},
	}

	reranked := engine.Rerank(results, "give me the implementation code")
	var codeScore, docScore float64
	for _, r := range reranked {
		if r.CacheKey == "code" {
			codeScore = r.RelevanceScore
		}
		if r.CacheKey == "doc" {
			docScore = r.RelevanceScore
		}
	}
	if codeScore <= docScore {
		t.Fatalf("expected code content boosted above doc content for a code-flavored query: code=%f doc=%f", codeScore, docScore)
	}
}

func TestRerankAppliesLengthPenalty(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	now := time.Now()
	results := []SemanticResult{
		{CacheKey: "short", RelevanceScore: 0.5, Content: "hi", LastModified: now},
		{CacheKey: "optimal", RelevanceScore: 0.5, Content: makeContent(500), LastModified: now},
	}
	reranked := engine.Rerank(results, "query")
	byKey := map[string]float64{}
	for _, r := range reranked {
		byKey[r.CacheKey] = r.RelevanceScore
	}
	if byKey["optimal"] <= byKey["short"] {
		t.Fatalf("expected optimal-length content scored higher than very short content")
	}
}

func TestSynthesizeRequiresResults(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Synthesize(context.Background(), "nonexistent topic entirely", "")
	if err == nil {
		t.Fatal("expected InsufficientContext error for empty corpus")
	}
}

func TestSynthesizeProducesArtifact(t *testing.T) {
	engine, store, vstore := newTestEngine(t)
	ctx := context.Background()

	seed(ctx, t, store, vstore, Document{
		Key: "auth-decision", Content: "we decided to use JWT tokens for authentication because of statelessness",
		Kind: ContentDecision, ScopePath: "scope/auth", SemanticTags: []string{"jwt", "auth"},
		CreatedAt: time.Now(), LastModified: time.Now(),
	})

	artifact, err := engine.Synthesize(ctx, "authentication decision rationale", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if artifact.SourceCount == 0 {
		t.Fatal("expected at least one source")
	}
	if artifact.SynthesisID == "" {
		t.Fatal("expected a synthesis id")
	}
}

func makeContent(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
