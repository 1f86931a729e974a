// Package vector implements the Embedding & Vector Store component (spec
// §2.2, §4.2): turning text into dense vectors and serving nearest-neighbor
// search over a pluggable backend.
//
// Grounded on crates/rhema-knowledge/src/types.rs's VectorStoreConfig /
// VectorStoreType / DistanceMetric definitions from the original Rust
// implementation, and on the teacher's memory subsystem for the brute-force
// local index idiom (plain Go maps + slices, no cgo dependency).
package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rhema-core/rhema/internal/rherr"
)

// DistanceMetric selects the similarity function used by search.
type DistanceMetric string

const (
	DistanceCosine    DistanceMetric = "cosine"
	DistanceEuclidean DistanceMetric = "euclidean"
	DistanceManhattan DistanceMetric = "manhattan"
	DistanceDotProduct DistanceMetric = "dot_product"
)

// BackendKind tags which external service (if any) a Store talks to.
type BackendKind string

const (
	BackendLocal    BackendKind = "local"
	BackendQdrant   BackendKind = "qdrant"
	BackendChroma   BackendKind = "chroma"
	BackendPinecone BackendKind = "pinecone"
)

// Capability enumerates the operations an external backend may support.
type Capability string

const (
	CapabilitySearch           Capability = "search"
	CapabilityUpsert           Capability = "upsert"
	CapabilityDelete           Capability = "delete"
	CapabilityCollectionExists Capability = "collection-exists"
	CapabilityCreateCollection Capability = "create-collection"
)

// Config mirrors VectorStoreConfig from the original Rust types module.
type Config struct {
	Backend        BackendKind
	Endpoint       string
	APIKey         string
	CollectionName string
	Dimension      int
	DistanceMetric DistanceMetric
	Failover       bool // fall back to Local on backend error
}

// Record is one stored vector with its opaque payload and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Payload  []byte
	Metadata map[string]string
}

// SearchResult is an ordered hit from Search.
type SearchResult struct {
	ID       string
	Score    float64
	Payload  []byte
	Metadata map[string]string
}

// Backend is the capability set external vector stores must implement.
// The Local backend also satisfies this interface so Store can treat all
// backends uniformly.
type Backend interface {
	Kind() BackendKind
	Capabilities() map[Capability]bool
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dimension int, metric DistanceMetric) error
	Upsert(ctx context.Context, collection string, rec Record) error
	Delete(ctx context.Context, collection string, id string) error
	Search(ctx context.Context, collection string, query []float32, k int, metric DistanceMetric) ([]SearchResult, error)
}

// Embedder turns text into a dense vector of Config.Dimension length.
// Implementations may wrap an external model call; HashEmbedder
// (embedder.go) is a deterministic hash-based stand-in used by tests and
// as a safe default.
type Embedder interface {
	Embed(ctx context.Context, text string, kind string) ([]float32, error)
	Dimension() int
}

// Store ties an Embedder to a Backend, failing over to the Local backend
// on primary errors when Config.Failover is set; otherwise primary errors
// propagate.
type Store struct {
	cfg      Config
	embedder Embedder
	primary  Backend
	local    *LocalBackend

	mu sync.RWMutex
}

// NewStore constructs a Store. primary may be nil, in which case the Local
// backend serves every request directly.
func NewStore(cfg Config, embedder Embedder, primary Backend) *Store {
	return &Store{
		cfg:      cfg,
		embedder: embedder,
		primary:  primary,
		local:    NewLocalBackend(),
	}
}

func (s *Store) active() Backend {
	if s.primary != nil {
		return s.primary
	}
	return s.local
}

// Embed produces a dense vector for text, validating it matches the
// configured dimension.
func (s *Store) Embed(ctx context.Context, text string, kind string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text, kind)
	if err != nil {
		return nil, rherr.Backend("embedding failed", err)
	}
	if len(vec) != s.cfg.Dimension {
		return nil, rherr.InvalidData("embedding dimension does not match configured dimension", nil).
			WithCode("dimension_mismatch")
	}
	return vec, nil
}

// Upsert inserts or replaces a vector record, validating dimension and
// falling back to the Local backend on a primary backend error if
// Config.Failover is set.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Vector) != s.cfg.Dimension {
		return rherr.InvalidData("vector length does not match configured dimension", nil).
			WithCode("dimension_mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backend := s.active()
	if err := s.ensureCollection(ctx, backend); err == nil {
		if err := backend.Upsert(ctx, s.cfg.CollectionName, rec); err == nil {
			return nil
		} else if backend == s.local || !s.cfg.Failover {
			return rherr.Backend("vector upsert failed", err)
		}
	} else if backend == s.local || !s.cfg.Failover {
		return rherr.Backend("vector collection setup failed", err)
	}

	// Primary failed and failover is enabled: retry against Local.
	if err := s.ensureCollection(ctx, s.local); err != nil {
		return rherr.Backend("local failover collection setup failed", err)
	}
	if err := s.local.Upsert(ctx, s.cfg.CollectionName, rec); err != nil {
		return rherr.Backend("local failover upsert failed", err)
	}
	return nil
}

// Search performs nearest-neighbor search against the active backend,
// falling back to Local on primary failure when Config.Failover is set.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if len(query) != s.cfg.Dimension {
		return nil, rherr.InvalidData("query vector length does not match configured dimension", nil).
			WithCode("dimension_mismatch")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	backend := s.active()
	results, err := backend.Search(ctx, s.cfg.CollectionName, query, k, s.cfg.DistanceMetric)
	if err == nil {
		return results, nil
	}
	if backend == s.local || !s.cfg.Failover {
		return nil, rherr.Backend("vector search failed", err)
	}

	results, ferr := s.local.Search(ctx, s.cfg.CollectionName, query, k, s.cfg.DistanceMetric)
	if ferr != nil {
		return nil, rherr.Backend("local failover search failed", ferr)
	}
	return results, nil
}

// Delete removes a record by ID from the active backend.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend := s.active()
	if err := backend.Delete(ctx, s.cfg.CollectionName, id); err != nil {
		if backend == s.local || !s.cfg.Failover {
			return rherr.Backend("vector delete failed", err)
		}
		if err := s.local.Delete(ctx, s.cfg.CollectionName, id); err != nil {
			return rherr.Backend("local failover delete failed", err)
		}
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, backend Backend) error {
	exists, err := backend.CollectionExists(ctx, s.cfg.CollectionName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return backend.CreateCollection(ctx, s.cfg.CollectionName, s.cfg.Dimension, s.cfg.DistanceMetric)
}

// Distance computes similarity according to metric. For Cosine and
// DotProduct, higher is more similar; for Euclidean and Manhattan, the
// returned score is inverted (1/(1+distance)) so "higher is better" holds
// uniformly for ranking.
func Distance(a, b []float32, metric DistanceMetric) float64 {
	switch metric {
	case DistanceEuclidean:
		return 1.0 / (1.0 + euclidean(a, b))
	case DistanceManhattan:
		return 1.0 / (1.0 + manhattan(a, b))
	case DistanceDotProduct:
		return dotProduct(a, b)
	default:
		return cosine(a, b)
	}
}

func cosine(a, b []float32) float64 {
	dot := dotProduct(a, b)
	na := norm(a)
	nb := norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattan(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

// sortResultsDescending orders by score desc, a tie-break on ID keeps
// ordering deterministic.
func sortResultsDescending(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
