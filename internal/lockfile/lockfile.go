// Package lockfile implements the Lock File Subsystem (LFS, spec §2.6,
// §4.6, §6.1): a deterministic, checksummed YAML document recording
// resolved scope and dependency versions.
//
// Grounded on crates/rhema-core/src/lock.rs for the RhemaLock /
// LockedScope / LockedDependency data model and merge-strategy semantics,
// and on the teacher's internal/agents/config.go for this codebase's
// gopkg.in/yaml.v3 usage convention. The canonical, key-sorted encoding
// is built by hand over yaml.Node rather than yaml.Marshal on a Go map,
// since Go map iteration order is not guaranteed and the checksum must
// be reproducible. Write takes a cross-process FileLock (filelock_unix.go,
// filelock_windows.go) built on golang.org/x/sys, the same library the
// teacher's internal/instance package uses for its single-instance lock,
// repurposed here to serialize concurrent agents writing the same
// rhema.lock instead of guarding a single daemon's pidfile.
package lockfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhema-core/rhema/internal/rherr"
)

// LockedDependency is one resolved dependency entry (spec §6.1).
type LockedDependency struct {
	ResolvedVersion    string
	SourceChecksum     string
	IntegrityChecksum  string
	ResolvedAt         time.Time
}

// LockedScope is one resolved scope entry (spec §6.1).
type LockedScope struct {
	SourceChecksum string
	ResolvedAt     time.Time
	Dependencies   map[string]LockedDependency
}

// PerformanceMetrics records lock generation performance (spec §4.6/§6.1).
type PerformanceMetrics struct {
	GenerationTimeMS     int64
	ScopesProcessed      int
	DependenciesResolved int
	CacheHits            int
	CacheMisses          int
}

// Metadata is the lock's metadata block (spec §6.1).
type Metadata struct {
	CircularDependencies uint32
	PerformanceMetrics   PerformanceMetrics
}

// Lock is the in-memory representation of a rhema lock file.
type Lock struct {
	GeneratedBy string
	GeneratedAt time.Time
	Scopes      map[string]LockedScope
	Metadata    Metadata
	Checksum    string
}

// ValidationResult is the report shape for a non-fatal lock audit (spec
// §4.6). No function in this package returns one; Read and Write fail
// with an error on the first validation problem they find.
type ValidationResult struct {
	IsValid         bool
	Messages        []string
	ValidationTimeMS int64
}

// MergeStrategy selects how Merge combines multiple locks (spec §4.6).
type MergeStrategy string

const (
	MergeManual    MergeStrategy = "manual"
	MergeAutomatic MergeStrategy = "automatic" // latest resolved_at wins
	MergePrompt    MergeStrategy = "prompt"
	MergeSkip      MergeStrategy = "skip"
	MergeFail      MergeStrategy = "fail"
)

// Create initializes an empty lock with the current timestamp.
func Create(generatedBy string) *Lock {
	return &Lock{
		GeneratedBy: generatedBy,
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
		Scopes:      make(map[string]LockedScope),
	}
}

// Read loads, validates, and returns the lock at path.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rherr.NotFound("lock file not found", err).WithPath(path).WithCode("FileNotFound")
		}
		return nil, rherr.Backend("failed to read lock file", err).WithPath(path)
	}

	var doc lockDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, rherr.InvalidData("failed to decode lock file", err).WithPath(path)
	}

	lock := doc.toLock()

	recomputed, err := Checksum(lock)
	if err != nil {
		return nil, err
	}
	if lock.Checksum != "" && recomputed != lock.Checksum {
		return nil, rherr.Integrity("checksum mismatch", nil).WithPath(path).WithCode("checksum_mismatch")
	}

	if err := validateLock(lock); err != nil {
		return nil, err
	}

	return lock, nil
}

// GetOrCreate reads the lock at path if it exists, preserving its
// generated_by, or creates a new one with generatedBy otherwise.
func GetOrCreate(path string, generatedBy string) (*Lock, error) {
	if _, err := os.Stat(path); err == nil {
		return Read(path)
	} else if !os.IsNotExist(err) {
		return nil, rherr.Backend("failed to stat lock file", err).WithPath(path)
	}
	return Create(generatedBy), nil
}

// Write recomputes the checksum, validates, and atomically replaces path
// via a temp-file-then-rename. A FileLock on path serializes writers
// across processes: only one agent generates or updates a given
// rhema.lock at a time, even though the rename itself is already atomic.
func Write(path string, lock *Lock) error {
	fl, err := AcquireFileLock(path)
	if err != nil {
		return err
	}
	defer fl.Release()

	if err := validateLock(lock); err != nil {
		return err
	}

	checksum, err := Checksum(lock)
	if err != nil {
		return err
	}
	lock.Checksum = checksum

	encoded, err := canonicalEncode(lock)
	if err != nil {
		return rherr.InvalidData("failed to encode lock file", err).WithPath(path)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lock-*.tmp")
	if err != nil {
		return rherr.Backend("failed to create temp lock file", err).WithPath(path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return rherr.Backend("failed to write temp lock file", err).WithPath(path)
	}
	if err := tmp.Close(); err != nil {
		return rherr.Backend("failed to close temp lock file", err).WithPath(path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return rherr.Backend("failed to rename temp lock file into place", err).WithPath(path)
	}
	return nil
}

// AddScope inserts or replaces scope under name and refreshes the
// checksum on write.
func AddScope(path string, name string, scope LockedScope) error {
	lock, err := GetOrCreate(path, "lockfile")
	if err != nil {
		return err
	}
	if lock.Scopes == nil {
		lock.Scopes = make(map[string]LockedScope)
	}
	lock.Scopes[name] = scope
	return Write(path, lock)
}

// RemoveScope removes scope name, refreshing the checksum on write.
func RemoveScope(path string, name string) error {
	lock, err := Read(path)
	if err != nil {
		return err
	}
	delete(lock.Scopes, name)
	return Write(path, lock)
}

// AddDependency inserts or replaces a dependency within scopeName.
func AddDependency(path, scopeName, depName string, dep LockedDependency) error {
	lock, err := Read(path)
	if err != nil {
		return err
	}
	scope, ok := lock.Scopes[scopeName]
	if !ok {
		return rherr.NotFound("scope not present in lock", nil).WithPath(path).WithKey(scopeName)
	}
	if scope.Dependencies == nil {
		scope.Dependencies = make(map[string]LockedDependency)
	}
	scope.Dependencies[depName] = dep
	lock.Scopes[scopeName] = scope
	return Write(path, lock)
}

// RemoveDependency removes a dependency within scopeName.
func RemoveDependency(path, scopeName, depName string) error {
	lock, err := Read(path)
	if err != nil {
		return err
	}
	scope, ok := lock.Scopes[scopeName]
	if !ok {
		return rherr.NotFound("scope not present in lock", nil).WithPath(path).WithKey(scopeName)
	}
	delete(scope.Dependencies, depName)
	lock.Scopes[scopeName] = scope
	return Write(path, lock)
}

// IsOutdated recomputes SHA-256 of each source path present in the lock
// and returns true if any differs from the recorded checksum, or any
// source path is missing an entry.
func IsOutdated(lockPath string, sourcePaths []string) (bool, error) {
	lock, err := Read(lockPath)
	if err != nil {
		return false, err
	}

	for _, src := range sourcePaths {
		scope, ok := lock.Scopes[src]
		if !ok {
			return true, nil
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return true, nil
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != scope.SourceChecksum {
			return true, nil
		}
	}
	return false, nil
}

// Backup copies path to "<name>.backup.<UTC-YYYYMMDD_HHMMSS>" alongside
// the original.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", rherr.Backend("failed to read lock file for backup", err).WithPath(path)
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	backupPath := path + ".backup." + stamp
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", rherr.Backend("failed to write backup file", err).WithPath(backupPath)
	}
	return backupPath, nil
}

// Restore validates backupPath via Read and copies it over target.
func Restore(backupPath, target string) error {
	lock, err := Read(backupPath)
	if err != nil {
		return err
	}
	return Write(target, lock)
}

// Generate builds a new lock from a fully-resolved scope set, recording
// generation performance metrics.
func Generate(generatedBy string, scopes map[string]LockedScope) (*Lock, error) {
	start := time.Now()

	lock := Create(generatedBy)
	lock.Scopes = scopes

	var depCount int
	for _, s := range scopes {
		depCount += len(s.Dependencies)
	}

	lock.Metadata.PerformanceMetrics = PerformanceMetrics{
		GenerationTimeMS:     time.Since(start).Milliseconds(),
		ScopesProcessed:      len(scopes),
		DependenciesResolved: depCount,
	}
	return lock, nil
}

// DetectCircularDependencies runs a DFS over the scope dependency graph
// (a scope depends on another scope when that scope's name appears as a
// dependency key) and returns the count of back-edges found, updating
// lock.Metadata.CircularDependencies.
func DetectCircularDependencies(lock *Lock) uint32 {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(lock.Scopes))
	var count uint32

	var visit func(name string)
	visit = func(name string) {
		color[name] = gray
		scope := lock.Scopes[name]
		for dep := range scope.Dependencies {
			if _, isScope := lock.Scopes[dep]; !isScope {
				continue
			}
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				count++
			}
		}
		color[name] = black
	}

	for _, name := range sortedKeys(lock.Scopes) {
		if color[name] == white {
			visit(name)
		}
	}

	lock.Metadata.CircularDependencies = count
	return count
}

// Merge combines base and incoming using strategy and returns the result.
// MergeManual and MergePrompt are not resolvable without caller input and
// return a Conflict error; callers collect the conflicting scope names
// from the error's Key field to drive their own resolution flow.
func Merge(base, incoming *Lock, strategy MergeStrategy) (*Lock, error) {
	merged := Create(base.GeneratedBy)
	merged.Scopes = make(map[string]LockedScope, len(base.Scopes))
	for name, scope := range base.Scopes {
		merged.Scopes[name] = scope
	}

	for _, name := range sortedKeys(incoming.Scopes) {
		incomingScope := incoming.Scopes[name]
		baseScope, exists := merged.Scopes[name]
		if !exists {
			merged.Scopes[name] = incomingScope
			continue
		}
		if baseScope.SourceChecksum == incomingScope.SourceChecksum {
			continue
		}

		switch strategy {
		case MergeAutomatic:
			if incomingScope.ResolvedAt.After(baseScope.ResolvedAt) {
				merged.Scopes[name] = incomingScope
			}
		case MergeSkip:
			// keep base
		case MergeFail:
			return nil, rherr.Conflict("lock merge conflict", nil).WithKey(name).WithCode("merge_conflict")
		case MergeManual, MergePrompt:
			return nil, rherr.Conflict("lock merge requires manual resolution", nil).WithKey(name).WithCode("merge_unresolved")
		default:
			return nil, rherr.Config("unknown merge strategy", nil).WithCode(string(strategy))
		}
	}

	DetectCircularDependencies(merged)
	return merged, nil
}

func validateLock(lock *Lock) error {
	for scopeName, scope := range lock.Scopes {
		if scopeName == "" {
			return rherr.InvalidData("scope path must not be empty", nil).WithCode("LockError")
		}
		for depName, dep := range scope.Dependencies {
			if depName == "" {
				return rherr.InvalidData("dependency name must not be empty", nil).WithKey(scopeName).WithCode("LockError")
			}
			if dep.ResolvedVersion == "" {
				return rherr.InvalidData("dependency version must not be empty", nil).WithKey(depName).WithCode("LockError")
			}
		}
	}
	return nil
}

// Checksum computes the SHA-256 of the canonical encoding of lock with
// its checksum field excluded from the hash input.
func Checksum(lock *Lock) (string, error) {
	clone := *lock
	clone.Checksum = ""
	encoded, err := canonicalEncode(&clone)
	if err != nil {
		return "", rherr.InvalidData("failed to encode lock for checksum", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalEncode renders lock as deterministic YAML: map keys sorted
// lexicographically at every level, RFC-3339 UTC second-precision
// timestamps, single trailing newline. Built directly over yaml.Node so
// map key order does not depend on Go map iteration.
func canonicalEncode(lock *Lock) ([]byte, error) {
	root := lockToNode(lock)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = append(out, '\n')
	return out, nil
}

func lockToNode(lock *Lock) *yaml.Node {
	doc := mappingNode()

	addField(doc, "generated_by", scalarNode(lock.GeneratedBy))
	addField(doc, "generated_at", scalarNode(formatTimestamp(lock.GeneratedAt)))
	addField(doc, "scopes", scopesNode(lock.Scopes))
	addField(doc, "metadata", metadataNode(lock.Metadata))
	if lock.Checksum != "" {
		addField(doc, "checksum", scalarNode(lock.Checksum))
	}
	return doc
}

func scopesNode(scopes map[string]LockedScope) *yaml.Node {
	node := mappingNode()
	for _, name := range sortedKeys(scopes) {
		scope := scopes[name]
		scopeNode := mappingNode()
		addField(scopeNode, "source_checksum", scalarNode(scope.SourceChecksum))
		addField(scopeNode, "resolved_at", scalarNode(formatTimestamp(scope.ResolvedAt)))
		addField(scopeNode, "dependencies", dependenciesNode(scope.Dependencies))
		addField(node, name, scopeNode)
	}
	return node
}

func dependenciesNode(deps map[string]LockedDependency) *yaml.Node {
	node := mappingNode()
	for _, name := range sortedKeys(deps) {
		dep := deps[name]
		depNode := mappingNode()
		addField(depNode, "resolved_version", scalarNode(dep.ResolvedVersion))
		addField(depNode, "source_checksum", scalarNode(dep.SourceChecksum))
		addField(depNode, "integrity_checksum", scalarNode(dep.IntegrityChecksum))
		addField(depNode, "resolved_at", scalarNode(formatTimestamp(dep.ResolvedAt)))
		addField(node, name, depNode)
	}
	return node
}

func metadataNode(meta Metadata) *yaml.Node {
	node := mappingNode()
	addField(node, "circular_dependencies", scalarNode(meta.CircularDependencies))
	perf := mappingNode()
	addField(perf, "generation_time_ms", scalarNode(meta.PerformanceMetrics.GenerationTimeMS))
	addField(perf, "scopes_processed", scalarNode(meta.PerformanceMetrics.ScopesProcessed))
	addField(perf, "dependencies_resolved", scalarNode(meta.PerformanceMetrics.DependenciesResolved))
	addField(perf, "cache_hits", scalarNode(meta.PerformanceMetrics.CacheHits))
	addField(perf, "cache_misses", scalarNode(meta.PerformanceMetrics.CacheMisses))
	addField(node, "performance_metrics", perf)
	return node
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode}
}

func scalarNode(v any) *yaml.Node {
	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: ""}
	}
	return n
}

func addField(parent *yaml.Node, key string, value *yaml.Node) {
	parent.Content = append(parent.Content, scalarNode(key), value)
}

// lockDocument is the plain-struct shape yaml.Unmarshal decodes into;
// Go's map decoding here is safe to use on read since only the encode
// path needs deterministic key order.
type lockDocument struct {
	GeneratedBy string                          `yaml:"generated_by"`
	GeneratedAt time.Time                       `yaml:"generated_at"`
	Scopes      map[string]lockedScopeDocument  `yaml:"scopes"`
	Metadata    metadataDocument                `yaml:"metadata"`
	Checksum    string                          `yaml:"checksum"`
}

type lockedScopeDocument struct {
	SourceChecksum string                              `yaml:"source_checksum"`
	ResolvedAt     time.Time                           `yaml:"resolved_at"`
	Dependencies   map[string]lockedDependencyDocument `yaml:"dependencies"`
}

type lockedDependencyDocument struct {
	ResolvedVersion   string    `yaml:"resolved_version"`
	SourceChecksum    string    `yaml:"source_checksum"`
	IntegrityChecksum string    `yaml:"integrity_checksum"`
	ResolvedAt        time.Time `yaml:"resolved_at"`
}

type metadataDocument struct {
	CircularDependencies uint32                     `yaml:"circular_dependencies"`
	PerformanceMetrics   performanceMetricsDocument `yaml:"performance_metrics"`
}

type performanceMetricsDocument struct {
	GenerationTimeMS     int64 `yaml:"generation_time_ms"`
	ScopesProcessed      int   `yaml:"scopes_processed"`
	DependenciesResolved int   `yaml:"dependencies_resolved"`
	CacheHits            int   `yaml:"cache_hits"`
	CacheMisses          int   `yaml:"cache_misses"`
}

func (d *lockDocument) toLock() *Lock {
	lock := &Lock{
		GeneratedBy: d.GeneratedBy,
		GeneratedAt: d.GeneratedAt,
		Scopes:      make(map[string]LockedScope, len(d.Scopes)),
		Checksum:    d.Checksum,
		Metadata: Metadata{
			CircularDependencies: d.Metadata.CircularDependencies,
			PerformanceMetrics: PerformanceMetrics{
				GenerationTimeMS:     d.Metadata.PerformanceMetrics.GenerationTimeMS,
				ScopesProcessed:      d.Metadata.PerformanceMetrics.ScopesProcessed,
				DependenciesResolved: d.Metadata.PerformanceMetrics.DependenciesResolved,
				CacheHits:            d.Metadata.PerformanceMetrics.CacheHits,
				CacheMisses:          d.Metadata.PerformanceMetrics.CacheMisses,
			},
		},
	}
	for name, s := range d.Scopes {
		deps := make(map[string]LockedDependency, len(s.Dependencies))
		for depName, dep := range s.Dependencies {
			deps[depName] = LockedDependency{
				ResolvedVersion:   dep.ResolvedVersion,
				SourceChecksum:    dep.SourceChecksum,
				IntegrityChecksum: dep.IntegrityChecksum,
				ResolvedAt:        dep.ResolvedAt,
			}
		}
		lock.Scopes[name] = LockedScope{
			SourceChecksum: s.SourceChecksum,
			ResolvedAt:     s.ResolvedAt,
			Dependencies:   deps,
		}
	}
	return lock
}
