package vector

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitedEmbedderDelegatesResult(t *testing.T) {
	inner := NewHashEmbedder(8)
	rl := NewRateLimitedEmbedder(inner, 1000, 10)

	vec, err := rl.Embed(context.Background(), "hello world", "code")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != rl.Dimension() {
		t.Fatalf("expected dimension %d, got %d", rl.Dimension(), len(vec))
	}
}

func TestRateLimitedEmbedderBlocksUntilTokenAvailable(t *testing.T) {
	inner := NewHashEmbedder(8)
	rl := NewRateLimitedEmbedder(inner, 2, 1) // burst of 1, 2/sec refill

	ctx := context.Background()
	if _, err := rl.Embed(ctx, "first", "code"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	start := time.Now()
	if _, err := rl.Embed(ctx, "second", "code"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("expected second call to wait for a refilled token, waited only %v", elapsed)
	}
}

func TestRateLimitedEmbedderReturnsErrorOnCancelledContext(t *testing.T) {
	inner := NewHashEmbedder(8)
	rl := NewRateLimitedEmbedder(inner, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	rl.Embed(context.Background(), "first", "code") // exhaust burst
	time.Sleep(2 * time.Millisecond)

	if _, err := rl.Embed(ctx, "second", "code"); err == nil {
		t.Fatal("expected error once context deadline passes before a token refills")
	}
}
