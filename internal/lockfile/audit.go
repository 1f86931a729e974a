package lockfile

import (
	"context"
	"time"

	"github.com/rhema-core/rhema/internal/rherr"
	"github.com/rhema-core/rhema/internal/storage"
)

// Lock lifecycle operations recorded by Auditor.
const (
	OpGenerate = "generate"
	OpWrite    = "write"
	OpMerge    = "merge"
	OpRestore  = "restore"
)

// AuditEntry is one recorded lock lifecycle event.
type AuditEntry struct {
	ID          int64
	LockPath    string
	Operation   string
	Checksum    string
	PerformedAt time.Time
}

// Auditor appends an append-only trail of lock generation/write events to
// the shared storage.DB's lock_audit table, the same SQLite store the
// Disk cache tier indexes its entries in.
type Auditor struct {
	db *storage.DB
}

// NewAuditor constructs an Auditor backed by db. A nil db is valid and
// makes every Auditor method a no-op, so callers that don't care about
// the audit trail can pass nil rather than branch on its presence.
func NewAuditor(db *storage.DB) *Auditor {
	return &Auditor{db: db}
}

// Record appends one audit entry. A nil Auditor or nil backing db is a
// no-op, not an error.
func (a *Auditor) Record(ctx context.Context, lockPath, operation, checksum string) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.Conn().ExecContext(ctx, `
		INSERT INTO lock_audit (lock_path, operation, checksum, performed_at)
		VALUES (?, ?, ?, ?)`, lockPath, operation, checksum, time.Now().UTC())
	if err != nil {
		return rherr.Backend("failed to record lock audit entry", err).WithPath(lockPath)
	}
	return nil
}

// History returns every recorded event for lockPath, oldest first.
func (a *Auditor) History(ctx context.Context, lockPath string) ([]AuditEntry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.Conn().QueryContext(ctx, `
		SELECT id, lock_path, operation, checksum, performed_at
		FROM lock_audit WHERE lock_path = ? ORDER BY performed_at ASC`, lockPath)
	if err != nil {
		return nil, rherr.Backend("failed to query lock audit history", err).WithPath(lockPath)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.LockPath, &e.Operation, &e.Checksum, &e.PerformedAt); err != nil {
			return nil, rherr.Backend("failed to scan lock audit entry", err).WithPath(lockPath)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, rherr.Backend("failed to iterate lock audit history", err).WithPath(lockPath)
	}
	return out, nil
}

// WriteAudited writes lock to path like Write, then records operation in
// the audit trail keyed by the lock's freshly-recomputed checksum.
func WriteAudited(ctx context.Context, auditor *Auditor, path string, lock *Lock, operation string) error {
	if err := Write(path, lock); err != nil {
		return err
	}
	return auditor.Record(ctx, path, operation, lock.Checksum)
}

// GenerateAndWrite builds a lock from scopes, writes it to path, and
// records the generation in the audit trail.
func GenerateAndWrite(ctx context.Context, auditor *Auditor, path, generatedBy string, scopes map[string]LockedScope) (*Lock, error) {
	lock, err := Generate(generatedBy, scopes)
	if err != nil {
		return nil, err
	}
	if err := WriteAudited(ctx, auditor, path, lock, OpGenerate); err != nil {
		return nil, err
	}
	return lock, nil
}
