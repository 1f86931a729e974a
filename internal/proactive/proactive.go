// Package proactive implements the Proactive & Suggestion Subsystem (spec
// §2.5, §4.5): a debounced file watcher, usage pattern analyzer,
// suggestion engine, and cache warmer.
//
// Grounded on crates/mcp/src/watcher.rs for the debounced file-event and
// allow/deny-pattern filtering idiom, and on the teacher's internal/events
// bus for the bounded-channel backpressure pattern this package's
// suggestion queue reuses.
package proactive

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileEventKind enumerates the file-change events FileWatcher produces.
type FileEventKind string

const (
	FileCreated  FileEventKind = "created"
	FileModified FileEventKind = "modified"
	FileDeleted  FileEventKind = "deleted"
	FileRenamed  FileEventKind = "renamed"
)

// FileEvent is one observed change, enriched with file metadata.
type FileEvent struct {
	Path      string
	Kind      FileEventKind
	SizeBytes int64
	ModTime   time.Time
	OldPath   string // populated for FileRenamed
}

// FileState is the per-file state machine spec §4.5 names.
type FileState string

const (
	StateIgnored  FileState = "ignored"
	StateTracked  FileState = "tracked"
	StateDirty    FileState = "dirty"
	StateIndexing FileState = "indexing"
	StateReady    FileState = "ready"
)

type fileTracking struct {
	state      FileState
	timer      *time.Timer
	backoff    time.Duration
	lastChange time.Time
}

// Watcher implements the debounced FileWatcher subcomponent. It does not
// perform OS-level filesystem notification itself (left to a caller's
// fsnotify-style source via Observe); it owns the allow/deny filtering,
// per-path debounce timers, and the state machine.
type Watcher struct {
	mu        sync.Mutex
	allow     []string
	deny      []string
	debounce  time.Duration
	tracking  map[string]*fileTracking
	onReady   func(path string)
	onEvent   func(FileEvent)
}

// NewWatcher constructs a Watcher. allow/deny are glob patterns matched
// against the file's base name (filepath.Match semantics). onEvent fires
// for every observed raw event; onReady fires once a file's debounce
// timer expires and indexing would begin (callers perform the actual
// embedding/upsert and then call MarkReady or MarkError).
func NewWatcher(allow, deny []string, debounceMS int, onEvent func(FileEvent), onReady func(path string)) *Watcher {
	return &Watcher{
		allow:    allow,
		deny:     deny,
		debounce: time.Duration(debounceMS) * time.Millisecond,
		tracking: make(map[string]*fileTracking),
		onEvent:  onEvent,
		onReady:  onReady,
	}
}

// Observe feeds a raw filesystem event into the watcher. Deny patterns
// take precedence over allow patterns. A matching file transitions
// Tracked→Dirty (or is newly tracked), restarting its debounce timer.
func (w *Watcher) Observe(ev FileEvent) {
	if !w.matches(ev.Path) {
		return
	}
	if w.onEvent != nil {
		w.onEvent(ev)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	track, ok := w.tracking[ev.Path]
	if !ok {
		track = &fileTracking{state: StateTracked}
		w.tracking[ev.Path] = track
	}

	if ev.Kind == FileDeleted {
		if track.timer != nil {
			track.timer.Stop()
		}
		delete(w.tracking, ev.Path)
		return
	}

	track.state = StateDirty
	track.lastChange = time.Now()
	if track.timer != nil {
		track.timer.Stop()
	}
	path := ev.Path
	track.timer = time.AfterFunc(w.debounce+track.backoff, func() { w.fireIndexing(path) })
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.deny {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}
	if len(w.allow) == 0 {
		return true
	}
	for _, pattern := range w.allow {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) fireIndexing(path string) {
	w.mu.Lock()
	track, ok := w.tracking[path]
	if !ok || track.state != StateDirty {
		w.mu.Unlock()
		return
	}
	track.state = StateIndexing
	w.mu.Unlock()

	if w.onReady != nil {
		w.onReady(path)
	}
}

// MarkReady transitions path from Indexing to Ready after a successful
// embedding/upsert.
func (w *Watcher) MarkReady(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if track, ok := w.tracking[path]; ok {
		track.state = StateReady
		track.backoff = 0
	}
}

// MarkError transitions path back to Tracked with exponential backoff
// before the next debounce window is allowed to fire.
func (w *Watcher) MarkError(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	track, ok := w.tracking[path]
	if !ok {
		return
	}
	track.state = StateTracked
	if track.backoff == 0 {
		track.backoff = time.Second
	} else {
		track.backoff *= 2
		if track.backoff > time.Minute {
			track.backoff = time.Minute
		}
	}
}

// State returns the current state for path, or StateIgnored if untracked.
func (w *Watcher) State(path string) FileState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if track, ok := w.tracking[path]; ok {
		return track.state
	}
	return StateIgnored
}

// ---- Usage analysis ----

// AccessRecord is one observed (key, agent, workflow) access.
type AccessRecord struct {
	Key       string
	AgentID   string
	Workflow  string
	Timestamp time.Time
}

// UsageAnalyzer records accesses and derives co-access clusters and
// workflow step-to-requirement mappings.
type UsageAnalyzer struct {
	mu        sync.Mutex
	records   []AccessRecord
	sessionWindow time.Duration
}

// NewUsageAnalyzer constructs an analyzer. sessionWindow bounds how close
// in time two accesses must be to count as co-accessed.
func NewUsageAnalyzer(sessionWindow time.Duration) *UsageAnalyzer {
	if sessionWindow <= 0 {
		sessionWindow = 5 * time.Minute
	}
	return &UsageAnalyzer{sessionWindow: sessionWindow}
}

// Record appends an access observation.
func (a *UsageAnalyzer) Record(rec AccessRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	a.records = append(a.records, rec)
}

// CoAccessClusters groups keys that were accessed by the same agent
// within sessionWindow of one another, returning clusters ordered by
// descending size.
func (a *UsageAnalyzer) CoAccessClusters() [][]string {
	a.mu.Lock()
	byAgent := make(map[string][]AccessRecord)
	for _, r := range a.records {
		byAgent[r.AgentID] = append(byAgent[r.AgentID], r)
	}
	window := a.sessionWindow
	a.mu.Unlock()

	keySet := make(map[string]map[string]bool) // representative key -> cluster members
	for _, recs := range byAgent {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
		var current []string
		var windowStart time.Time
		flush := func() {
			if len(current) < 2 {
				current = nil
				return
			}
			cluster := make(map[string]bool)
			for _, k := range current {
				cluster[k] = true
			}
			keySet[current[0]] = mergeClusters(keySet[current[0]], cluster)
			current = nil
		}
		for _, r := range recs {
			if windowStart.IsZero() || r.Timestamp.Sub(windowStart) <= window {
				if windowStart.IsZero() {
					windowStart = r.Timestamp
				}
				current = append(current, r.Key)
			} else {
				flush()
				windowStart = r.Timestamp
				current = []string{r.Key}
			}
		}
		flush()
	}

	clusters := make([][]string, 0, len(keySet))
	for _, members := range keySet {
		keys := make([]string, 0, len(members))
		for k := range members {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		clusters = append(clusters, keys)
	}
	sort.Slice(clusters, func(i, j int) bool { return len(clusters[i]) > len(clusters[j]) })
	return clusters
}

func mergeClusters(existing map[string]bool, add map[string]bool) map[string]bool {
	if existing == nil {
		return add
	}
	for k := range add {
		existing[k] = true
	}
	return existing
}

// WorkflowRequirements maps a workflow step name to the set of content
// keys historically accessed during that step.
func (a *UsageAnalyzer) WorkflowRequirements(workflow string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, r := range a.records {
		if r.Workflow != workflow {
			continue
		}
		if !seen[r.Key] {
			seen[r.Key] = true
			out = append(out, r.Key)
		}
	}
	sort.Strings(out)
	return out
}

// ---- Suggestions ----

// SuggestionAction enumerates the actions a ContextSuggestion may recommend.
type SuggestionAction string

const (
	ActionPreload    SuggestionAction = "preload"
	ActionIndex      SuggestionAction = "index"
	ActionSynthesize SuggestionAction = "synthesize"
	ActionShare      SuggestionAction = "share"
	ActionArchive    SuggestionAction = "archive"
)

// ContextSuggestion is the ranked suggestion shape spec §4.5 names.
type ContextSuggestion struct {
	SuggestionID   string
	Title          string
	Description    string
	RelevanceScore float64
	ContentKind    string
	CacheKey       string
	ScopePath      string
	Reasoning      string
	Confidence     float64
	Action         SuggestionAction
}

// SuggestionEngine produces ranked ContextSuggestions from usage
// analysis.
type SuggestionEngine struct {
	analyzer *UsageAnalyzer
}

// NewSuggestionEngine constructs a SuggestionEngine over analyzer.
func NewSuggestionEngine(analyzer *UsageAnalyzer) *SuggestionEngine {
	return &SuggestionEngine{analyzer: analyzer}
}

// Suggest emits ranked suggestions for agentID given sessionContext keys
// already in view and an optional workflow name.
func (s *SuggestionEngine) Suggest(agentID string, sessionContext []string, workflow string) []ContextSuggestion {
	inView := make(map[string]bool, len(sessionContext))
	for _, k := range sessionContext {
		inView[k] = true
	}

	var suggestions []ContextSuggestion

	if workflow != "" {
		for _, key := range s.analyzer.WorkflowRequirements(workflow) {
			if inView[key] {
				continue
			}
			suggestions = append(suggestions, ContextSuggestion{
				SuggestionID:   suggestionID(agentID, key, "workflow"),
				Title:          "Preload " + key,
				Description:    "Historically needed during workflow " + workflow,
				RelevanceScore: 0.8,
				CacheKey:       key,
				Reasoning:      "workflow step-to-requirement mapping",
				Confidence:     0.7,
				Action:         ActionPreload,
			})
		}
	}

	for _, cluster := range s.analyzer.CoAccessClusters() {
		hasViewed := false
		for _, k := range cluster {
			if inView[k] {
				hasViewed = true
				break
			}
		}
		if !hasViewed {
			continue
		}
		for _, k := range cluster {
			if inView[k] {
				continue
			}
			suggestions = append(suggestions, ContextSuggestion{
				SuggestionID:   suggestionID(agentID, k, "co-access"),
				Title:          "Related to current context: " + k,
				Description:    "Frequently accessed alongside items already in view",
				RelevanceScore: 0.6 + 0.05*float64(len(cluster)),
				CacheKey:       k,
				Reasoning:      "co-access cluster",
				Confidence:     0.5,
				Action:         ActionPreload,
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].RelevanceScore > suggestions[j].RelevanceScore
	})
	return dedupeSuggestions(suggestions)
}

func dedupeSuggestions(in []ContextSuggestion) []ContextSuggestion {
	seen := make(map[string]bool)
	out := in[:0:0]
	for _, s := range in {
		if seen[s.CacheKey] {
			continue
		}
		seen[s.CacheKey] = true
		out = append(out, s)
	}
	return out
}

func suggestionID(agentID, key, reason string) string {
	return strings.Join([]string{agentID, reason, key}, ":")
}

// ---- Cache warming ----

// ContextRequirement describes one piece of content a warmer should
// preload, ranked by priority (higher fires first).
type ContextRequirement struct {
	CacheKey string
	Priority int
}

// WarmRequest is an enqueued Preload action.
type WarmRequest struct {
	CacheKey string
	Priority int
}

// CacheWarmer enqueues Preload actions on session start or workflow
// transition, ordered by ContextRequirement.priority.
type CacheWarmer struct {
	mu    sync.Mutex
	queue []WarmRequest
}

// NewCacheWarmer constructs an empty CacheWarmer.
func NewCacheWarmer() *CacheWarmer {
	return &CacheWarmer{}
}

// Enqueue adds requirements to the warm queue, highest priority first.
func (c *CacheWarmer) Enqueue(requirements []ContextRequirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range requirements {
		c.queue = append(c.queue, WarmRequest{CacheKey: r.CacheKey, Priority: r.Priority})
	}
	sort.SliceStable(c.queue, func(i, j int) bool { return c.queue[i].Priority > c.queue[j].Priority })
}

// Drain removes and returns up to n queued requests, highest priority
// first.
func (c *CacheWarmer) Drain(n int) []WarmRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n > len(c.queue) {
		n = len(c.queue)
	}
	out := c.queue[:n]
	c.queue = c.queue[n:]
	return out
}

// Len returns the number of queued requests.
func (c *CacheWarmer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
