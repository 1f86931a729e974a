// Package cache implements the Tiered Cache (spec §2.3, §4.3): a
// Memory/Disk/Network tier hierarchy with pluggable eviction policies,
// checksum-verified reads, and optional synchronous semantic indexing via
// the vector store.
//
// Grounded on crates/rhema-knowledge/src/types.rs's CacheConfig /
// MemoryConfig / DiskConfig / NetworkConfig / EvictionPolicy /
// CompressionAlgorithm definitions, and on the teacher's internal/memory
// package for the SQLite-index-plus-blob-store idiom this codebase's Disk
// tier reuses. Concurrent misses on the same key are deduplicated with
// golang.org/x/sync/singleflight rather than a blocking per-key mutex, so
// callers share one Disk/Network fetch instead of repeating it; size-budget
// and eviction logging uses github.com/dustin/go-humanize for byte counts.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/rhema-core/rhema/internal/rherr"
	"github.com/rhema-core/rhema/internal/vector"
)

// Tier identifies one level of the cache hierarchy.
type Tier string

const (
	TierMemory  Tier = "memory"
	TierDisk    Tier = "disk"
	TierNetwork Tier = "network"
)

// EvictionPolicy selects how the Memory tier chooses a victim when full.
type EvictionPolicy string

const (
	EvictionLRU         EvictionPolicy = "lru"
	EvictionLFU         EvictionPolicy = "lfu"
	EvictionSemanticLRU EvictionPolicy = "semantic_lru"
	EvictionAdaptive    EvictionPolicy = "adaptive"
)

// CompressionAlgorithm selects the Disk tier's compression codec.
type CompressionAlgorithm string

const (
	CompressionZstd CompressionAlgorithm = "zstd"
	CompressionLZ4  CompressionAlgorithm = "lz4"
	CompressionGzip CompressionAlgorithm = "gzip"
	CompressionNone CompressionAlgorithm = "none"
)

// AdaptiveWeights configures the Adaptive eviction score:
// score = w_r*recency + w_f*log(1+frequency) + w_s*semantic_relevance.
// Defaults sum to 1 (0.4/0.3/0.3), per the resolved configuration default
// for this system.
type AdaptiveWeights struct {
	Recency  float64
	Frequency float64
	Semantic  float64
}

// DefaultAdaptiveWeights returns the configured default weighting.
func DefaultAdaptiveWeights() AdaptiveWeights {
	return AdaptiveWeights{Recency: 0.4, Frequency: 0.3, Semantic: 0.3}
}

// EntryMetadata mirrors spec §3.1's EntryMetadata structure.
type EntryMetadata struct {
	Key              string
	CreatedAt        time.Time
	AccessedAt       time.Time
	AccessCount      int64
	SizeBytes        int64
	TTL              *time.Duration
	CompressionRatio *float64
	SemanticTags     []string
	AgentSessionID   string
	ScopePath        string
	Checksum         string
	RelevanceScore   float64 // populated for SemanticLRU/Adaptive scoring
}

// CacheEntry owns the raw bytes plus their metadata.
type CacheEntry struct {
	Bytes    []byte
	Metadata EntryMetadata
}

// CacheResult is returned by Get.
type CacheResult struct {
	Entry       CacheEntry
	HitTier     Tier
	PromotedTo  []Tier
}

// MemoryConfig configures the in-process tier.
type MemoryConfig struct {
	Enabled        bool
	MaxSizeBytes   int64
	EvictionPolicy EvictionPolicy
	Weights        AdaptiveWeights
}

// DiskConfig configures the on-disk tier.
type DiskConfig struct {
	Enabled                bool
	Dir                    string
	MaxSizeBytes           int64
	CompressionEnabled     bool
	CompressionAlgorithm   CompressionAlgorithm
	CompressionThresholdKB int
}

// NetworkConfig configures the optional shared Redis-backed tier.
type NetworkConfig struct {
	Enabled            bool
	RedisURL           string
	ConnectionPoolSize int
}

// Config bundles the three tier configurations.
type Config struct {
	Memory MemoryConfig
	Disk   DiskConfig
	Network NetworkConfig
}

// MemoryTier is the interface the in-process tier satisfies.
type MemoryTier interface {
	Get(key string) (CacheEntry, bool)
	Set(entry CacheEntry) (evicted []string)
	Delete(key string)
	Invalidate(predicate func(EntryMetadata) bool) int
}

// DiskTier is the interface the on-disk tier satisfies.
type DiskTier interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Set(ctx context.Context, entry CacheEntry) error
	Delete(ctx context.Context, key string) error
	Invalidate(ctx context.Context, predicate func(EntryMetadata) bool) (int, error)
	Close() error
}

// NetworkTier is the interface the Redis-backed shared tier satisfies.
type NetworkTier interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Set(ctx context.Context, entry CacheEntry) error
	Delete(ctx context.Context, key string) error
	Invalidate(ctx context.Context, predicate func(EntryMetadata) bool) (int, error)
	Close() error
}

// Metrics tracks the counters spec §4.3/§2.9 name for the cache subsystem.
type Metrics struct {
	mu sync.Mutex

	HitCount          int64
	MissCount         int64
	EvictionCount     int64
	LeakedCorruption  int64
}

func (m *Metrics) recordHit() {
	m.mu.Lock()
	m.HitCount++
	m.mu.Unlock()
}

func (m *Metrics) recordMiss() {
	m.mu.Lock()
	m.MissCount++
	m.mu.Unlock()
}

func (m *Metrics) recordEviction(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.EvictionCount += int64(n)
	m.mu.Unlock()
}

func (m *Metrics) recordCorruption() {
	m.mu.Lock()
	m.LeakedCorruption++
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{HitCount: m.HitCount, MissCount: m.MissCount, EvictionCount: m.EvictionCount, LeakedCorruption: m.LeakedCorruption}
}

// Cache is the tiered cache facade implementing spec §4.3's contract.
type Cache struct {
	cfg     Config
	memory  MemoryTier
	disk    DiskTier
	network NetworkTier

	vectorStore *vector.Store // optional, used by set_with_semantic_indexing

	keyLocks  *keyLockTable
	missGroup singleflight.Group
	metrics   *Metrics
}

// New constructs a Cache from the given tier implementations. disk and
// network may be nil if their tier is disabled; vectorStore may be nil if
// semantic indexing is not configured.
func New(cfg Config, memory MemoryTier, disk DiskTier, network NetworkTier, vectorStore *vector.Store) *Cache {
	return &Cache{
		cfg:         cfg,
		memory:      memory,
		disk:        disk,
		network:     network,
		vectorStore: vectorStore,
		keyLocks:    newKeyLockTable(),
		metrics:     &Metrics{},
	}
}

// Metrics exposes the cache's counters.
func (c *Cache) Metrics() *Metrics { return c.metrics }

// Checksum computes the canonical integrity checksum for a byte slice.
func Checksum(bytes []byte) string {
	sum := sha256.Sum256(bytes)
	return hex.EncodeToString(sum[:])
}

// Get checks tiers in order {Memory, Disk, Network}; on a hit at a lower
// tier it promotes the entry to higher tiers (subject to size caps),
// verifying the checksum on each tier it reads from. A checksum mismatch
// invalidates the entry at that tier, records LeakedCorruption, and the
// search continues to the next tier as though that tier had missed.
//
// A Memory-tier miss falls through to missGroup, which collapses
// concurrent Gets for the same key into a single Disk/Network fetch:
// every caller that arrives while one is already in flight shares its
// result instead of each repeating the same tier cascade.
func (c *Cache) Get(ctx context.Context, key string) (*CacheResult, error) {
	if c.memory != nil && c.cfg.Memory.Enabled {
		if entry, ok := c.memory.Get(key); ok {
			if !c.verify(entry) {
				c.metrics.recordCorruption()
				c.memory.Delete(key)
			} else {
				c.metrics.recordHit()
				c.touchMemory(entry)
				return &CacheResult{Entry: entry, HitTier: TierMemory}, nil
			}
		}
	}

	v, err, _ := c.missGroup.Do(key, func() (interface{}, error) {
		return c.fetchMiss(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	result, _ := v.(*CacheResult)
	return result, nil
}

// fetchMiss runs the Disk/Network cascade for a Memory-tier miss. Called
// only through missGroup, so at most one fetchMiss per key is ever
// in flight.
func (c *Cache) fetchMiss(ctx context.Context, key string) (*CacheResult, error) {
	if c.disk != nil && c.cfg.Disk.Enabled {
		entry, ok, err := c.disk.Get(ctx, key)
		if err != nil {
			return nil, rherr.Backend("disk tier read failed", err).WithKey(key)
		}
		if ok {
			if !c.verify(entry) {
				c.metrics.recordCorruption()
				_ = c.disk.Delete(ctx, key)
			} else {
				c.metrics.recordHit()
				promoted := c.promote(entry, TierMemory)
				return &CacheResult{Entry: entry, HitTier: TierDisk, PromotedTo: promoted}, nil
			}
		}
	}

	if c.network != nil && c.cfg.Network.Enabled {
		entry, ok, err := c.network.Get(ctx, key)
		if err != nil {
			return nil, rherr.Backend("network tier read failed", err).WithKey(key)
		}
		if ok {
			if !c.verify(entry) {
				c.metrics.recordCorruption()
				_ = c.network.Delete(ctx, key)
			} else {
				c.metrics.recordHit()
				promoted := c.promote(entry, TierMemory, TierDisk)
				return &CacheResult{Entry: entry, HitTier: TierNetwork, PromotedTo: promoted}, nil
			}
		}
	}

	c.metrics.recordMiss()
	return nil, nil
}

func (c *Cache) verify(entry CacheEntry) bool {
	if entry.Metadata.Checksum == "" {
		return true
	}
	return entry.Metadata.Checksum == Checksum(entry.Bytes)
}

func (c *Cache) touchMemory(entry CacheEntry) {
	entry.Metadata.AccessedAt = time.Now()
	entry.Metadata.AccessCount++
	c.memory.Set(entry)
}

// promote writes entry into each of the requested higher tiers, skipping
// tiers that are disabled or over their size budget.
func (c *Cache) promote(entry CacheEntry, tiers ...Tier) []Tier {
	var promoted []Tier
	for _, t := range tiers {
		switch t {
		case TierMemory:
			if c.memory == nil || !c.cfg.Memory.Enabled {
				continue
			}
			if entry.Metadata.SizeBytes > c.cfg.Memory.MaxSizeBytes {
				log.Printf("[CACHE] skipping memory-tier promotion of %q: %s exceeds budget %s",
					entry.Metadata.Key, humanize.Bytes(uint64(entry.Metadata.SizeBytes)), humanize.Bytes(uint64(c.cfg.Memory.MaxSizeBytes)))
				continue
			}
			evicted := c.memory.Set(entry)
			if len(evicted) > 0 {
				log.Printf("[CACHE] evicted %d memory-tier entr(ies) to admit %q (%s)",
					len(evicted), entry.Metadata.Key, humanize.Bytes(uint64(entry.Metadata.SizeBytes)))
			}
			c.metrics.recordEviction(len(evicted))
			promoted = append(promoted, TierMemory)
		case TierDisk:
			if c.disk == nil || !c.cfg.Disk.Enabled {
				continue
			}
			if entry.Metadata.SizeBytes > c.cfg.Disk.MaxSizeBytes {
				log.Printf("[CACHE] skipping disk-tier promotion of %q: %s exceeds budget %s",
					entry.Metadata.Key, humanize.Bytes(uint64(entry.Metadata.SizeBytes)), humanize.Bytes(uint64(c.cfg.Disk.MaxSizeBytes)))
				continue
			}
			_ = c.disk.Set(context.Background(), entry)
			promoted = append(promoted, TierDisk)
		}
	}
	return promoted
}

// Set writes bytes to every configured tier, subject to size caps. The
// checksum is computed here so every tier stores a consistent value.
func (c *Cache) Set(ctx context.Context, key string, bytes []byte, metadata EntryMetadata) error {
	unlock := c.keyLocks.lock(key)
	defer unlock()

	metadata.Key = key
	metadata.SizeBytes = int64(len(bytes))
	metadata.Checksum = Checksum(bytes)
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = time.Now()
	}
	metadata.AccessedAt = time.Now()

	entry := CacheEntry{Bytes: bytes, Metadata: metadata}

	if c.memory != nil && c.cfg.Memory.Enabled {
		if metadata.SizeBytes <= c.cfg.Memory.MaxSizeBytes {
			evicted := c.memory.Set(entry)
			if len(evicted) > 0 {
				log.Printf("[CACHE] evicted %d memory-tier entr(ies) to admit %q (%s)",
					len(evicted), key, humanize.Bytes(uint64(metadata.SizeBytes)))
			}
			c.metrics.recordEviction(len(evicted))
		} else {
			log.Printf("[CACHE] skipping memory-tier write of %q: %s exceeds budget %s",
				key, humanize.Bytes(uint64(metadata.SizeBytes)), humanize.Bytes(uint64(c.cfg.Memory.MaxSizeBytes)))
		}
	}
	if c.disk != nil && c.cfg.Disk.Enabled && metadata.SizeBytes <= c.cfg.Disk.MaxSizeBytes {
		if err := c.disk.Set(ctx, entry); err != nil {
			return rherr.Backend("disk tier write failed", err).WithKey(key)
		}
	}
	if c.network != nil && c.cfg.Network.Enabled {
		if err := c.network.Set(ctx, entry); err != nil {
			return rherr.Backend("network tier write failed", err).WithKey(key)
		}
	}
	return nil
}

// SetWithSemanticIndexing writes bytes like Set, and additionally embeds
// and upserts the content into the configured vector store, namespaced by
// metadata.ScopePath when present.
func (c *Cache) SetWithSemanticIndexing(ctx context.Context, key string, bytes []byte, metadata EntryMetadata, contentKind string) error {
	if err := c.Set(ctx, key, bytes, metadata); err != nil {
		return err
	}
	if c.vectorStore == nil {
		return nil
	}

	vec, err := c.vectorStore.Embed(ctx, string(bytes), contentKind)
	if err != nil {
		return rherr.Backend("semantic indexing embed failed", err).WithKey(key)
	}

	id := key
	if metadata.ScopePath != "" {
		id = metadata.ScopePath + "::" + key
	}
	payloadMeta := map[string]string{"key": key, "content_kind": contentKind}
	if metadata.ScopePath != "" {
		payloadMeta["scope_path"] = metadata.ScopePath
	}
	if err := c.vectorStore.Upsert(ctx, vector.Record{ID: id, Vector: vec, Payload: bytes, Metadata: payloadMeta}); err != nil {
		return rherr.Backend("semantic indexing upsert failed", err).WithKey(key)
	}
	return nil
}

// Invalidate removes entries matching predicate across every configured
// tier, returning the total count removed.
func (c *Cache) Invalidate(ctx context.Context, predicate func(EntryMetadata) bool) (int, error) {
	total := 0
	if c.memory != nil && c.cfg.Memory.Enabled {
		total += c.memory.Invalidate(predicate)
	}
	if c.disk != nil && c.cfg.Disk.Enabled {
		n, err := c.disk.Invalidate(ctx, predicate)
		if err != nil {
			return total, rherr.Backend("disk tier invalidate failed", err)
		}
		total += n
	}
	if c.network != nil && c.cfg.Network.Enabled {
		n, err := c.network.Invalidate(ctx, predicate)
		if err != nil {
			return total, rherr.Backend("network tier invalidate failed", err)
		}
		total += n
	}
	return total, nil
}

// Close releases resources held by the disk and network tiers.
func (c *Cache) Close() error {
	var firstErr error
	if c.disk != nil {
		if err := c.disk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.network != nil {
		if err := c.network.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// keyLockTable serializes mutations per key, per spec §4.3's concurrency
// contract: "all mutations are serialized per key; readers never observe
// a half-written entry."
type keyLockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLockTable() *keyLockTable {
	return &keyLockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *keyLockTable) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
