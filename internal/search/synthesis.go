package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/rhema-core/rhema/internal/rherr"
)

// SynthesisArtifact is the product of Synthesize, per spec §4.4.
type SynthesisArtifact struct {
	SynthesisID        string
	Topic              string
	SynthesizedContent string
	SourceKeys         []string
	ConfidenceScore    float64
	Method             string
	SourceCount        int
	CrossScope         bool
	TemporalRangeStart *time.Time
	TemporalRangeEnd   *time.Time
	SemanticClusters   []string
}

// synthesisSampleSize bounds how many top results feed a synthesis.
const synthesisSampleSize = 8

// Synthesize gathers the top results for topic (optionally restricted to
// scopePath) and produces a SynthesisArtifact. Returns InsufficientContext
// if no sources are found.
func (e *Engine) Synthesize(ctx context.Context, topic string, scopePath string) (*SynthesisArtifact, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, rherr.InvalidData("topic must not be empty", nil).WithCode("InvalidQuery")
	}

	results, err := e.SearchWithReranking(ctx, topic, synthesisSampleSize)
	if err != nil {
		return nil, err
	}
	if scopePath != "" {
		filtered := results[:0:0]
		for _, r := range results {
			if r.ScopePath == scopePath {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if len(results) == 0 {
		return nil, rherr.InvalidData("no sources available to synthesize from", nil).WithCode("InsufficientContext")
	}

	sourceKeys := make([]string, 0, len(results))
	scopes := make(map[string]bool)
	var contentParts []string
	var minTime, maxTime time.Time
	tagCounts := make(map[string]int)

	for _, r := range results {
		sourceKeys = append(sourceKeys, r.CacheKey)
		scopes[r.ScopePath] = true
		contentParts = append(contentParts, summarize(r.Content))
		if minTime.IsZero() || r.CreatedAt.Before(minTime) {
			minTime = r.CreatedAt
		}
		if maxTime.IsZero() || r.CreatedAt.After(maxTime) {
			maxTime = r.CreatedAt
		}
		for _, tag := range r.SemanticTags {
			tagCounts[tag]++
		}
	}

	clusters := topClusters(tagCounts, 5)

	confidence := averageScore(results)

	artifact := &SynthesisArtifact{
		SynthesisID:        synthesisID(topic, sourceKeys),
		Topic:              topic,
		SynthesizedContent: strings.Join(contentParts, "\n\n"),
		SourceKeys:         sourceKeys,
		ConfidenceScore:    confidence,
		Method:             "rerank-top-n",
		SourceCount:        len(results),
		CrossScope:         len(scopes) > 1,
		SemanticClusters:   clusters,
	}
	if !minTime.IsZero() {
		artifact.TemporalRangeStart = &minTime
	}
	if !maxTime.IsZero() {
		artifact.TemporalRangeEnd = &maxTime
	}
	return artifact, nil
}

func summarize(content string) string {
	const maxLen = 400
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}

func averageScore(results []SemanticResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.RelevanceScore
	}
	return sum / float64(len(results))
}

func topClusters(counts map[string]int, n int) []string {
	type kv struct {
		tag   string
		count int
	}
	pairs := make([]kv, 0, len(counts))
	for tag, count := range counts {
		pairs = append(pairs, kv{tag, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].tag < pairs[j].tag
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.tag
	}
	return out
}

func synthesisID(topic string, sourceKeys []string) string {
	h := sha256.New()
	h.Write([]byte(topic))
	for _, k := range sourceKeys {
		h.Write([]byte("\x00" + k))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
