package networktier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rhema-core/rhema/internal/cache"
)

func newTestTier(t *testing.T) (*Tier, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	tier, _ := newTestTier(t)
	ctx := context.Background()

	bytes := []byte("shared content")
	entry := cache.CacheEntry{
		Bytes: bytes,
		Metadata: cache.EntryMetadata{
			Key:       "shared-1",
			SizeBytes: int64(len(bytes)),
			Checksum:  cache.Checksum(bytes),
			CreatedAt: time.Now(),
		},
	}
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := tier.Get(ctx, "shared-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Bytes) != string(bytes) {
		t.Fatalf("expected round-tripped bytes, got %q", got.Bytes)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	tier, _ := newTestTier(t)
	_, ok, err := tier.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tier, _ := newTestTier(t)
	ctx := context.Background()

	bytes := []byte("gone soon")
	entry := cache.CacheEntry{Bytes: bytes, Metadata: cache.EntryMetadata{Key: "tmp", SizeBytes: int64(len(bytes))}}
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tier.Delete(ctx, "tmp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := tier.Get(ctx, "tmp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func TestInvalidateByPredicate(t *testing.T) {
	tier, _ := newTestTier(t)
	ctx := context.Background()

	for _, kv := range []struct{ key, session string }{
		{"x1", "sess-a"},
		{"x2", "sess-a"},
		{"x3", "sess-b"},
	} {
		bytes := []byte("body-" + kv.key)
		entry := cache.CacheEntry{Bytes: bytes, Metadata: cache.EntryMetadata{
			Key: kv.key, SizeBytes: int64(len(bytes)), AgentSessionID: kv.session,
		}}
		if err := tier.Set(ctx, entry); err != nil {
			t.Fatalf("Set %s: %v", kv.key, err)
		}
	}

	n, err := tier.Invalidate(ctx, func(m cache.EntryMetadata) bool { return m.AgentSessionID == "sess-a" })
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}

	if _, ok, _ := tier.Get(ctx, "x3"); !ok {
		t.Fatal("expected unrelated session entry to survive")
	}
}
