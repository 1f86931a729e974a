package vector

import (
	"context"
	"sync"

	"github.com/rhema-core/rhema/internal/rherr"
)

// LocalBackend is the mandatory in-memory fallback backend required by
// spec §4.2. It performs brute-force nearest-neighbor search, adequate at
// the scale a single agent coordination session operates at; callers
// needing approximate search over large corpora are expected to configure
// an external backend instead.
type LocalBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

// NewLocalBackend constructs an empty LocalBackend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{collections: make(map[string]map[string]Record)}
}

func (l *LocalBackend) Kind() BackendKind { return BackendLocal }

func (l *LocalBackend) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapabilitySearch:           true,
		CapabilityUpsert:           true,
		CapabilityDelete:           true,
		CapabilityCollectionExists: true,
		CapabilityCreateCollection: true,
	}
}

func (l *LocalBackend) CollectionExists(_ context.Context, name string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.collections[name]
	return ok, nil
}

func (l *LocalBackend) CreateCollection(_ context.Context, name string, _ int, _ DistanceMetric) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.collections[name]; !ok {
		l.collections[name] = make(map[string]Record)
	}
	return nil
}

func (l *LocalBackend) Upsert(_ context.Context, collection string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.collections[collection]
	if !ok {
		return rherr.NotFound("collection not found", nil).WithKey(collection)
	}
	// Copy the vector/payload so later caller-side mutation cannot
	// corrupt the stored record.
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	payload := make([]byte, len(rec.Payload))
	copy(payload, rec.Payload)
	meta := make(map[string]string, len(rec.Metadata))
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	c[rec.ID] = Record{ID: rec.ID, Vector: vec, Payload: payload, Metadata: meta}
	return nil
}

func (l *LocalBackend) Delete(_ context.Context, collection string, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.collections[collection]
	if !ok {
		return rherr.NotFound("collection not found", nil).WithKey(collection)
	}
	delete(c, id)
	return nil
}

func (l *LocalBackend) Search(_ context.Context, collection string, query []float32, k int, metric DistanceMetric) ([]SearchResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.collections[collection]
	if !ok {
		return nil, rherr.NotFound("collection not found", nil).WithKey(collection)
	}

	results := make([]SearchResult, 0, len(c))
	for _, rec := range c {
		results = append(results, SearchResult{
			ID:       rec.ID,
			Score:    Distance(query, rec.Vector, metric),
			Payload:  rec.Payload,
			Metadata: rec.Metadata,
		})
	}
	sortResultsDescending(results)
	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}
