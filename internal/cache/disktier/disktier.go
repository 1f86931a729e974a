// Package disktier implements the Disk tier of the Tiered Cache (spec
// §4.3): a size-bounded on-disk store with optional per-entry compression,
// indexed by the shared storage.DB.
//
// Grounded on the teacher's internal/memory/db.go for the
// SQLite-index-plus-blob-file idiom, and on the klauspost/compress zstd
// package (already a dependency of this corpus) for the Zstd compression
// algorithm spec §4.3 requires.
package disktier

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/rhema-core/rhema/internal/cache"
	"github.com/rhema-core/rhema/internal/storage"
)

// Tier is an on-disk cache.DiskTier backed by a shared storage.DB for
// metadata and a flat directory of content-addressed blob files.
type Tier struct {
	db        *storage.DB
	dir       string
	algorithm cache.CompressionAlgorithm
	thresholdBytes int64
	maxBytes  int64

	mu sync.Mutex
}

// New constructs a disk tier rooted at dir, indexed by db.
func New(db *storage.DB, dir string, algorithm cache.CompressionAlgorithm, thresholdKB int, maxBytes int64) (*Tier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Tier{
		db:             db,
		dir:            dir,
		algorithm:      algorithm,
		thresholdBytes: int64(thresholdKB) * 1024,
		maxBytes:       maxBytes,
	}, nil
}

func (t *Tier) blobPath(key string) string {
	return filepath.Join(t.dir, cache.Checksum([]byte(key))+".blob")
}

// Get reads key's entry, decompressing if needed.
func (t *Tier) Get(ctx context.Context, key string) (cache.CacheEntry, bool, error) {
	row := t.db.Conn().QueryRowContext(ctx, `
		SELECT size_bytes, checksum, compression_algorithm, compression_ratio,
		       created_at, accessed_at, access_count, ttl_seconds, semantic_tags,
		       agent_session_id, scope_path, path_on_disk
		FROM cache_entries WHERE key = ? AND tier = 'disk'`, key)

	var (
		sizeBytes       int64
		checksum        sql.NullString
		algo            string
		ratio           sql.NullFloat64
		createdAt       time.Time
		accessedAt      time.Time
		accessCount     int64
		ttlSeconds      sql.NullInt64
		semanticTags    sql.NullString
		agentSessionID  sql.NullString
		scopePath       sql.NullString
		pathOnDisk      string
	)
	err := row.Scan(&sizeBytes, &checksum, &algo, &ratio, &createdAt, &accessedAt, &accessCount,
		&ttlSeconds, &semanticTags, &agentSessionID, &scopePath, &pathOnDisk)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.CacheEntry{}, false, nil
	}
	if err != nil {
		return cache.CacheEntry{}, false, err
	}

	raw, err := os.ReadFile(pathOnDisk)
	if errors.Is(err, os.ErrNotExist) {
		return cache.CacheEntry{}, false, nil
	}
	if err != nil {
		return cache.CacheEntry{}, false, err
	}

	plain, err := decompress(raw, cache.CompressionAlgorithm(algo))
	if err != nil {
		return cache.CacheEntry{}, false, err
	}

	meta := cache.EntryMetadata{
		Key:            key,
		SizeBytes:      sizeBytes,
		Checksum:       checksum.String,
		CreatedAt:      createdAt,
		AccessedAt:     accessedAt,
		AccessCount:    accessCount,
		ScopePath:      scopePath.String,
		AgentSessionID: agentSessionID.String,
	}
	if ratio.Valid {
		r := ratio.Float64
		meta.CompressionRatio = &r
	}
	if ttlSeconds.Valid {
		d := time.Duration(ttlSeconds.Int64) * time.Second
		meta.TTL = &d
	}
	if semanticTags.Valid && semanticTags.String != "" {
		meta.SemanticTags = splitTags(semanticTags.String)
	}

	go t.touch(key) //nolint:errcheck -- best-effort access bookkeeping

	return cache.CacheEntry{Bytes: plain, Metadata: meta}, true, nil
}

func (t *Tier) touch(key string) {
	_, _ = t.db.Conn().Exec(`UPDATE cache_entries SET accessed_at = ?, access_count = access_count + 1 WHERE key = ? AND tier = 'disk'`,
		time.Now(), key)
}

// Set writes entry to disk, compressing when its size meets the
// configured threshold, then records its metadata in the shared index.
func (t *Tier) Set(ctx context.Context, entry cache.CacheEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	algo := cache.CompressionNone
	body := entry.Bytes
	var ratio *float64

	if t.algorithm != cache.CompressionNone && int64(len(entry.Bytes)) >= t.thresholdBytes {
		compressed, err := compress(entry.Bytes, t.algorithm)
		if err == nil && len(compressed) < len(entry.Bytes) {
			r := float64(len(compressed)) / float64(len(entry.Bytes))
			ratio = &r
			body = compressed
			algo = t.algorithm
		}
	}

	path := t.blobPath(entry.Metadata.Key)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}

	var ttlSeconds any
	if entry.Metadata.TTL != nil {
		ttlSeconds = int64(entry.Metadata.TTL.Seconds())
	}
	var ratioArg any
	if ratio != nil {
		ratioArg = *ratio
	}

	_, err := t.db.Conn().ExecContext(ctx, `
		INSERT INTO cache_entries (
			key, tier, size_bytes, checksum, compression_algorithm, compression_ratio,
			created_at, accessed_at, access_count, ttl_seconds, semantic_tags,
			agent_session_id, scope_path, path_on_disk
		) VALUES (?, 'disk', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			tier=excluded.tier, size_bytes=excluded.size_bytes, checksum=excluded.checksum,
			compression_algorithm=excluded.compression_algorithm, compression_ratio=excluded.compression_ratio,
			created_at=excluded.created_at, accessed_at=excluded.accessed_at, access_count=excluded.access_count,
			ttl_seconds=excluded.ttl_seconds, semantic_tags=excluded.semantic_tags,
			agent_session_id=excluded.agent_session_id, scope_path=excluded.scope_path,
			path_on_disk=excluded.path_on_disk`,
		entry.Metadata.Key, entry.Metadata.SizeBytes, entry.Metadata.Checksum, string(algo), ratioArg,
		entry.Metadata.CreatedAt, entry.Metadata.AccessedAt, entry.Metadata.AccessCount, ttlSeconds,
		joinTags(entry.Metadata.SemanticTags), storage.NullString(entry.Metadata.AgentSessionID),
		storage.NullString(entry.Metadata.ScopePath), path,
	)
	if err != nil {
		os.Remove(path)
		return err
	}

	return t.enforceSizeBudget(ctx)
}

// enforceSizeBudget evicts oldest-accessed disk entries until total size
// fits within maxBytes. Must be called with t.mu held.
func (t *Tier) enforceSizeBudget(ctx context.Context) error {
	if t.maxBytes <= 0 {
		return nil
	}
	var total int64
	if err := t.db.Conn().QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries WHERE tier = 'disk'`).Scan(&total); err != nil {
		return err
	}
	for total > t.maxBytes {
		var key, path string
		var size int64
		err := t.db.Conn().QueryRowContext(ctx, `
			SELECT key, path_on_disk, size_bytes FROM cache_entries
			WHERE tier = 'disk' ORDER BY accessed_at ASC LIMIT 1`).Scan(&key, &path, &size)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return err
		}
		if err := t.deleteLocked(ctx, key, path); err != nil {
			return err
		}
		total -= size
	}
	return nil
}

// Delete removes key from disk and the index.
func (t *Tier) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteLocked(ctx, key, t.blobPath(key))
}

func (t *Tier) deleteLocked(ctx context.Context, key, path string) error {
	if _, err := t.db.Conn().ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ? AND tier = 'disk'`, key); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Invalidate removes every disk entry matching predicate.
func (t *Tier) Invalidate(ctx context.Context, predicate func(cache.EntryMetadata) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.db.Conn().QueryContext(ctx, `SELECT key, path_on_disk, scope_path, semantic_tags, agent_session_id FROM cache_entries WHERE tier = 'disk'`)
	if err != nil {
		return 0, err
	}
	type candidate struct{ key, path string }
	var toRemove []candidate
	for rows.Next() {
		var key, path string
		var scopePath, tags, sessionID sql.NullString
		if err := rows.Scan(&key, &path, &scopePath, &tags, &sessionID); err != nil {
			rows.Close()
			return 0, err
		}
		meta := cache.EntryMetadata{Key: key, ScopePath: scopePath.String, AgentSessionID: sessionID.String}
		if tags.Valid {
			meta.SemanticTags = splitTags(tags.String)
		}
		if predicate(meta) {
			toRemove = append(toRemove, candidate{key: key, path: path})
		}
	}
	rows.Close()

	for _, c := range toRemove {
		if err := t.deleteLocked(ctx, c.key, c.path); err != nil {
			return len(toRemove), err
		}
	}
	return len(toRemove), nil
}

// Close is a no-op; the underlying storage.DB is owned by the caller.
func (t *Tier) Close() error { return nil }

// compress encodes data with algo. Only Zstd and Gzip are implemented;
// any other algorithm, including LZ4, returns data unchanged, so Set
// stores the entry uncompressed.
func compress(data []byte, algo cache.CompressionAlgorithm) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case cache.CompressionZstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case cache.CompressionGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	return buf.Bytes(), nil
}

func decompress(data []byte, algo cache.CompressionAlgorithm) ([]byte, error) {
	switch algo {
	case cache.CompressionZstd:
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case cache.CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return data, nil
	}
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	out := tags[0]
	for _, t := range tags[1:] {
		out += "," + t
	}
	return out
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
