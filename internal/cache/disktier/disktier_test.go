package disktier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhema-core/rhema/internal/cache"
	"github.com/rhema-core/rhema/internal/storage"
)

func newTestTier(t *testing.T, algo cache.CompressionAlgorithm, thresholdKB int) (*Tier, func()) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	tier, err := New(db, filepath.Join(dir, "blobs"), algo, thresholdKB, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tier, func() { db.Close() }
}

func TestSetGetRoundTrip(t *testing.T) {
	tier, cleanup := newTestTier(t, cache.CompressionNone, 1)
	defer cleanup()
	ctx := context.Background()

	bytes := []byte("hello disk tier")
	entry := cache.CacheEntry{
		Bytes: bytes,
		Metadata: cache.EntryMetadata{
			Key:       "k1",
			SizeBytes: int64(len(bytes)),
			Checksum:  cache.Checksum(bytes),
			CreatedAt: time.Now(),
			AccessedAt: time.Now(),
		},
	}
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := tier.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Bytes) != string(bytes) {
		t.Fatalf("expected round-tripped bytes to match, got %q", got.Bytes)
	}
}

func TestCompressionAboveThreshold(t *testing.T) {
	tier, cleanup := newTestTier(t, cache.CompressionZstd, 1)
	defer cleanup()
	ctx := context.Background()

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i % 7)
	}
	entry := cache.CacheEntry{
		Bytes: big,
		Metadata: cache.EntryMetadata{
			Key:        "big",
			SizeBytes:  int64(len(big)),
			Checksum:   cache.Checksum(big),
			CreatedAt:  time.Now(),
			AccessedAt: time.Now(),
		},
	}
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := tier.Get(ctx, "big")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got.Bytes) != len(big) {
		t.Fatalf("expected decompressed length %d, got %d", len(big), len(got.Bytes))
	}
	if got.Metadata.CompressionRatio == nil {
		t.Fatal("expected compression ratio to be recorded")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tier, cleanup := newTestTier(t, cache.CompressionNone, 1)
	defer cleanup()
	ctx := context.Background()

	bytes := []byte("to be deleted")
	entry := cache.CacheEntry{Bytes: bytes, Metadata: cache.EntryMetadata{
		Key: "del", SizeBytes: int64(len(bytes)), Checksum: cache.Checksum(bytes),
		CreatedAt: time.Now(), AccessedAt: time.Now(),
	}}
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tier.Delete(ctx, "del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, ok, err := tier.Get(ctx, "del")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func TestInvalidateByScopePath(t *testing.T) {
	tier, cleanup := newTestTier(t, cache.CompressionNone, 1)
	defer cleanup()
	ctx := context.Background()

	for _, kv := range []struct{ key, scope string }{
		{"a", "scope/one"},
		{"b", "scope/one"},
		{"c", "scope/two"},
	} {
		bytes := []byte("content-" + kv.key)
		entry := cache.CacheEntry{Bytes: bytes, Metadata: cache.EntryMetadata{
			Key: kv.key, SizeBytes: int64(len(bytes)), Checksum: cache.Checksum(bytes),
			ScopePath: kv.scope, CreatedAt: time.Now(), AccessedAt: time.Now(),
		}}
		if err := tier.Set(ctx, entry); err != nil {
			t.Fatalf("Set %s: %v", kv.key, err)
		}
	}

	n, err := tier.Invalidate(ctx, func(m cache.EntryMetadata) bool { return m.ScopePath == "scope/one" })
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries invalidated, got %d", n)
	}

	if _, ok, _ := tier.Get(ctx, "c"); !ok {
		t.Fatal("expected unrelated scope entry to survive invalidation")
	}
}
