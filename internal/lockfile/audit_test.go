package lockfile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rhema-core/rhema/internal/storage"
)

func newTestAuditor(t *testing.T) (*Auditor, func()) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return NewAuditor(db), func() { db.Close() }
}

func TestGenerateAndWriteRecordsAudit(t *testing.T) {
	auditor, cleanup := newTestAuditor(t)
	defer cleanup()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "rhema.lock")
	scopes := map[string]LockedScope{
		"scope-a": {SourceChecksum: "abc123"},
	}

	lock, err := GenerateAndWrite(ctx, auditor, path, "test", scopes)
	if err != nil {
		t.Fatalf("GenerateAndWrite: %v", err)
	}

	history, err := auditor.History(ctx, path)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(history))
	}
	if history[0].Operation != OpGenerate {
		t.Errorf("expected operation %q, got %q", OpGenerate, history[0].Operation)
	}
	if history[0].Checksum != lock.Checksum {
		t.Errorf("expected recorded checksum %q, got %q", lock.Checksum, history[0].Checksum)
	}

	if err := WriteAudited(ctx, auditor, path, lock, OpWrite); err != nil {
		t.Fatalf("WriteAudited: %v", err)
	}
	history, err = auditor.History(ctx, path)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(history))
	}
	if history[1].Operation != OpWrite {
		t.Errorf("expected second operation %q, got %q", OpWrite, history[1].Operation)
	}
}

func TestNilAuditorIsNoOp(t *testing.T) {
	var auditor *Auditor
	ctx := context.Background()

	if err := auditor.Record(ctx, "anything", OpGenerate, "deadbeef"); err != nil {
		t.Errorf("Record on nil Auditor should be a no-op, got %v", err)
	}
	history, err := auditor.History(ctx, "anything")
	if err != nil {
		t.Errorf("History on nil Auditor should be a no-op, got %v", err)
	}
	if history != nil {
		t.Errorf("expected nil history, got %v", history)
	}
}
