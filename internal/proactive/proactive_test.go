package proactive

import (
	"testing"
	"time"
)

func TestWatcherFiltersDenyPatterns(t *testing.T) {
	var events []FileEvent
	w := NewWatcher(nil, []string{"*.log"}, 10, func(e FileEvent) { events = append(events, e) }, nil)

	w.Observe(FileEvent{Path: "/repo/debug.log", Kind: FileModified})
	w.Observe(FileEvent{Path: "/repo/main.go", Kind: FileModified})

	if len(events) != 1 || events[0].Path != "/repo/main.go" {
		t.Fatalf("expected only main.go to pass the deny filter, got %+v", events)
	}
}

func TestWatcherAllowPatternsRestrictMatches(t *testing.T) {
	var events []FileEvent
	w := NewWatcher([]string{"*.go"}, nil, 10, func(e FileEvent) { events = append(events, e) }, nil)

	w.Observe(FileEvent{Path: "/repo/main.go", Kind: FileModified})
	w.Observe(FileEvent{Path: "/repo/README.md", Kind: FileModified})

	if len(events) != 1 || events[0].Path != "/repo/main.go" {
		t.Fatalf("expected only .go files to match allow list, got %+v", events)
	}
}

func TestWatcherStateMachineTransitions(t *testing.T) {
	ready := make(chan string, 1)
	w := NewWatcher(nil, nil, 5, nil, func(path string) { ready <- path })

	w.Observe(FileEvent{Path: "/repo/a.go", Kind: FileModified})
	if got := w.State("/repo/a.go"); got != StateDirty {
		t.Fatalf("expected Dirty immediately after event, got %s", got)
	}

	select {
	case path := <-ready:
		if path != "/repo/a.go" {
			t.Fatalf("unexpected path %s", path)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounce to fire")
	}

	if got := w.State("/repo/a.go"); got != StateIndexing {
		t.Fatalf("expected Indexing after debounce fires, got %s", got)
	}

	w.MarkReady("/repo/a.go")
	if got := w.State("/repo/a.go"); got != StateReady {
		t.Fatalf("expected Ready after MarkReady, got %s", got)
	}
}

func TestWatcherMarkErrorReturnsToTracked(t *testing.T) {
	ready := make(chan string, 1)
	w := NewWatcher(nil, nil, 5, nil, func(path string) { ready <- path })

	w.Observe(FileEvent{Path: "/repo/b.go", Kind: FileCreated})
	<-ready

	w.MarkError("/repo/b.go")
	if got := w.State("/repo/b.go"); got != StateTracked {
		t.Fatalf("expected Tracked after MarkError, got %s", got)
	}
}

func TestWatcherDeletedEventStopsTracking(t *testing.T) {
	w := NewWatcher(nil, nil, 1000, nil, nil)
	w.Observe(FileEvent{Path: "/repo/c.go", Kind: FileCreated})
	w.Observe(FileEvent{Path: "/repo/c.go", Kind: FileDeleted})

	if got := w.State("/repo/c.go"); got != StateIgnored {
		t.Fatalf("expected deleted file to be untracked, got %s", got)
	}
}

func TestUsageAnalyzerCoAccessClusters(t *testing.T) {
	analyzer := NewUsageAnalyzer(time.Minute)
	base := time.Now()

	analyzer.Record(AccessRecord{Key: "a", AgentID: "agent-1", Timestamp: base})
	analyzer.Record(AccessRecord{Key: "b", AgentID: "agent-1", Timestamp: base.Add(time.Second)})
	analyzer.Record(AccessRecord{Key: "c", AgentID: "agent-1", Timestamp: base.Add(10 * time.Minute)})

	clusters := analyzer.CoAccessClusters()
	if len(clusters) == 0 {
		t.Fatal("expected at least one cluster")
	}
	found := false
	for _, cluster := range clusters {
		if len(cluster) == 2 && contains(cluster, "a") && contains(cluster, "b") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a and b clustered together, got %+v", clusters)
	}
}

func TestUsageAnalyzerWorkflowRequirements(t *testing.T) {
	analyzer := NewUsageAnalyzer(time.Minute)
	analyzer.Record(AccessRecord{Key: "schema.sql", Workflow: "migrate"})
	analyzer.Record(AccessRecord{Key: "migration.go", Workflow: "migrate"})
	analyzer.Record(AccessRecord{Key: "unrelated.go", Workflow: "deploy"})

	reqs := analyzer.WorkflowRequirements("migrate")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements for migrate workflow, got %v", reqs)
	}
}

func TestSuggestionEngineRanksByRelevance(t *testing.T) {
	analyzer := NewUsageAnalyzer(time.Minute)
	analyzer.Record(AccessRecord{Key: "migration.go", Workflow: "migrate"})
	analyzer.Record(AccessRecord{Key: "schema.sql", Workflow: "migrate"})

	engine := NewSuggestionEngine(analyzer)
	suggestions := engine.Suggest("agent-1", nil, "migrate")

	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(suggestions))
	}
	for _, s := range suggestions {
		if s.Action != ActionPreload {
			t.Fatalf("expected Preload action, got %s", s.Action)
		}
	}
}

func TestSuggestionEngineExcludesInViewKeys(t *testing.T) {
	analyzer := NewUsageAnalyzer(time.Minute)
	analyzer.Record(AccessRecord{Key: "already-open.go", Workflow: "build"})

	engine := NewSuggestionEngine(analyzer)
	suggestions := engine.Suggest("agent-1", []string{"already-open.go"}, "build")

	for _, s := range suggestions {
		if s.CacheKey == "already-open.go" {
			t.Fatal("expected in-view key to be excluded from suggestions")
		}
	}
}

func TestCacheWarmerDrainsByPriority(t *testing.T) {
	warmer := NewCacheWarmer()
	warmer.Enqueue([]ContextRequirement{
		{CacheKey: "low", Priority: 1},
		{CacheKey: "high", Priority: 10},
		{CacheKey: "mid", Priority: 5},
	})

	drained := warmer.Drain(2)
	if len(drained) != 2 || drained[0].CacheKey != "high" || drained[1].CacheKey != "mid" {
		t.Fatalf("expected high-then-mid priority order, got %+v", drained)
	}
	if warmer.Len() != 1 {
		t.Fatalf("expected 1 request remaining, got %d", warmer.Len())
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
