package vector

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/rhema-core/rhema/internal/rherr"
)

// RateLimitedEmbedder wraps an Embedder with a shared token bucket so
// bursts of indexing or search requests don't overrun whatever quota the
// backing embedding service enforces.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner with a limiter allowing
// requestsPerSecond sustained throughput and burst queued requests.
func NewRateLimitedEmbedder(inner Embedder, requestsPerSecond float64, burst int) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Embed waits for a token before delegating to the wrapped Embedder, or
// returns early if ctx is cancelled while waiting.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string, kind string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, rherr.ResourceExhausted("embedding rate limit wait", err)
	}
	return r.inner.Embed(ctx, text, kind)
}

// Dimension delegates to the wrapped Embedder.
func (r *RateLimitedEmbedder) Dimension() int { return r.inner.Dimension() }
