// Package memtier implements the Memory tier of the Tiered Cache (spec
// §4.3): a size-bounded in-process store with LRU, LFU, SemanticLRU, and
// Adaptive eviction policies.
package memtier

import (
	"container/list"
	"math"
	"sync"

	"github.com/rhema-core/rhema/internal/cache"
)

type entryNode struct {
	key   string
	entry cache.CacheEntry
}

// Tier is an in-process, size-bounded cache.MemoryTier.
type Tier struct {
	mu sync.Mutex

	policy   cache.EvictionPolicy
	weights  cache.AdaptiveWeights
	maxBytes int64
	curBytes int64

	order *list.List // front = most-recently-used
	index map[string]*list.Element

	freq map[string]int64 // access frequency, used by LFU/Adaptive
}

// New constructs an empty Tier enforcing maxBytes with the given policy.
func New(policy cache.EvictionPolicy, weights cache.AdaptiveWeights, maxBytes int64) *Tier {
	return &Tier{
		policy:   policy,
		weights:  weights,
		maxBytes: maxBytes,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		freq:     make(map[string]int64),
	}
}

// Get returns the entry for key, if present, and marks it as recently used.
func (t *Tier) Get(key string) (cache.CacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[key]
	if !ok {
		return cache.CacheEntry{}, false
	}
	t.order.MoveToFront(el)
	t.freq[key]++
	node := el.Value.(*entryNode)
	return node.entry, true
}

// Set inserts or replaces entry, evicting victims per the configured
// policy until the size budget is satisfied. Returns the keys evicted.
func (t *Tier) Set(entry cache.CacheEntry) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := entry.Metadata.Key
	if el, ok := t.index[key]; ok {
		t.curBytes -= el.Value.(*entryNode).entry.Metadata.SizeBytes
		t.order.Remove(el)
		delete(t.index, key)
	}

	node := &entryNode{key: key, entry: entry}
	el := t.order.PushFront(node)
	t.index[key] = el
	t.curBytes += entry.Metadata.SizeBytes
	t.freq[key]++

	return t.evictToFit()
}

// Delete removes key unconditionally.
func (t *Tier) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(key)
}

// Invalidate removes every entry matching predicate, returning the count
// removed.
func (t *Tier) Invalidate(predicate func(cache.EntryMetadata) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var toRemove []string
	for el := t.order.Front(); el != nil; el = el.Next() {
		node := el.Value.(*entryNode)
		if predicate(node.entry.Metadata) {
			toRemove = append(toRemove, node.key)
		}
	}
	for _, key := range toRemove {
		t.removeLocked(key)
	}
	return len(toRemove)
}

func (t *Tier) removeLocked(key string) {
	el, ok := t.index[key]
	if !ok {
		return
	}
	t.curBytes -= el.Value.(*entryNode).entry.Metadata.SizeBytes
	t.order.Remove(el)
	delete(t.index, key)
	delete(t.freq, key)
}

// evictToFit evicts lowest-scoring entries (per policy) until curBytes <=
// maxBytes. Must be called with t.mu held.
func (t *Tier) evictToFit() []string {
	var evicted []string
	for t.maxBytes > 0 && t.curBytes > t.maxBytes && t.order.Len() > 0 {
		victim := t.selectVictimLocked()
		if victim == "" {
			break
		}
		t.removeLocked(victim)
		evicted = append(evicted, victim)
	}
	return evicted
}

// selectVictimLocked picks the key to evict per the configured policy.
// Must be called with t.mu held.
func (t *Tier) selectVictimLocked() string {
	switch t.policy {
	case cache.EvictionLFU:
		return t.minByLocked(func(n *entryNode) float64 { return float64(t.freq[n.key]) })
	case cache.EvictionSemanticLRU:
		return t.minByLocked(func(n *entryNode) float64 {
			recency := recencyScoreLocked(t, n.key)
			return 0.5*recency + 0.5*n.entry.Metadata.RelevanceScore
		})
	case cache.EvictionAdaptive:
		return t.minByLocked(func(n *entryNode) float64 {
			recency := recencyScoreLocked(t, n.key)
			frequency := math.Log(1 + float64(t.freq[n.key]))
			semantic := n.entry.Metadata.RelevanceScore
			w := t.weights
			return w.Recency*recency + w.Frequency*frequency + w.Semantic*semantic
		})
	default: // LRU: back of the list is least-recently-used
		if el := t.order.Back(); el != nil {
			return el.Value.(*entryNode).key
		}
		return ""
	}
}

// recencyScoreLocked returns a [0,1] recency score, 1 for the
// most-recently-used entry and 0 for the least-recent.
func recencyScoreLocked(t *Tier, key string) float64 {
	total := t.order.Len()
	if total <= 1 {
		return 1
	}
	pos := 0
	for el := t.order.Front(); el != nil; el = el.Next() {
		if el.Value.(*entryNode).key == key {
			break
		}
		pos++
	}
	return 1 - float64(pos)/float64(total-1)
}

// minByLocked returns the key with the lowest score(n); ties broken by
// list order (the least-recently-used entry among equal scores is
// evicted, matching LRU tie-break convention). Must be called with t.mu
// held.
func (t *Tier) minByLocked(score func(*entryNode) float64) string {
	var best string
	bestScore := math.Inf(1)
	for el := t.order.Back(); el != nil; el = el.Prev() {
		node := el.Value.(*entryNode)
		s := score(node)
		if s < bestScore {
			bestScore = s
			best = node.key
		}
	}
	return best
}

// Len returns the number of entries currently held.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// SizeBytes returns the current total size of all entries.
func (t *Tier) SizeBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curBytes
}
