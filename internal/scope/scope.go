// Package scope implements the Git-Aware Scope Manager (GASM, spec
// §2.4, §4.7): scope discovery, git metadata/hook integration, context
// evolution tracking, and branch context isolation.
//
// Scope discovery is grounded on the teacher's
// internal/agents/projects.go DiscoverProjects, generalized from a
// single CLAUDE.md marker to an arbitrary marker-file set and a scope
// tree instead of a flat list.
package scope

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rhema-core/rhema/internal/rherr"
)

// DefaultMarkerFiles are the files DiscoverScopes treats as a scope
// root when present in a directory.
var DefaultMarkerFiles = []string{"rhema.yaml", "rhema.yml", ".rhema", "CLAUDE.md"}

// Scope is one discovered scope root.
type Scope struct {
	Name     string
	Path     string
	Marker   string
	Parent   *Scope
	Children []*Scope
}

// Tree is the full discovered scope hierarchy.
type Tree struct {
	Roots []*Scope
	byPath map[string]*Scope
	byName map[string][]*Scope
}

// DiscoverScopes walks root looking for marker files, building a tree of
// scopes where a scope's parent is the nearest enclosing marked
// directory, mirroring the teacher's directory-entry scan but applied
// recursively and against a configurable marker set.
func DiscoverScopes(root string, markerFiles []string) (*Tree, error) {
	if len(markerFiles) == 0 {
		markerFiles = DefaultMarkerFiles
	}

	tree := &Tree{
		byPath: make(map[string]*Scope),
		byName: make(map[string][]*Scope),
	}

	var stack []*Scope

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ".git" || info.Name() == "node_modules" {
			return filepath.SkipDir
		}

		for len(stack) > 0 && !isWithin(stack[len(stack)-1].Path, path) {
			stack = stack[:len(stack)-1]
		}

		marker := findMarker(path, markerFiles)
		if marker == "" {
			return nil
		}

		sc := &Scope{
			Name:   filepath.Base(path),
			Path:   path,
			Marker: marker,
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			sc.Parent = parent
			parent.Children = append(parent.Children, sc)
		} else {
			tree.Roots = append(tree.Roots, sc)
		}

		tree.byPath[path] = sc
		tree.byName[sc.Name] = append(tree.byName[sc.Name], sc)
		stack = append(stack, sc)
		return nil
	})
	if err != nil {
		return nil, rherr.Backend("failed to walk repository for scope discovery", err).WithPath(root)
	}

	return tree, nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func findMarker(dir string, markerFiles []string) string {
	for _, m := range markerFiles {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return m
		}
	}
	return ""
}

// FindScopePath returns the filesystem path of the scope named name, or
// an error if zero or more than one scope shares that name.
func (t *Tree) FindScopePath(name string) (string, error) {
	matches := t.byName[name]
	switch len(matches) {
	case 0:
		return "", rherr.NotFound("no scope found with that name", nil).WithKey(name)
	case 1:
		return matches[0].Path, nil
	default:
		return "", rherr.Conflict("multiple scopes share that name", nil).WithKey(name)
	}
}

// ScopePath returns the dotted ancestor chain ("parent.child") for the
// scope at path.
func (t *Tree) ScopePath(path string) (string, error) {
	sc, ok := t.byPath[path]
	if !ok {
		return "", rherr.NotFound("no scope discovered at that path", nil).WithPath(path)
	}
	parts := []string{sc.Name}
	for p := sc.Parent; p != nil; p = p.Parent {
		parts = append([]string{p.Name}, parts...)
	}
	return strings.Join(parts, "."), nil
}

// All returns every discovered scope in the tree, depth-first.
func (t *Tree) All() []*Scope {
	var out []*Scope
	var walk func(*Scope)
	walk = func(s *Scope) {
		out = append(out, s)
		for _, c := range s.Children {
			walk(c)
		}
	}
	for _, r := range t.Roots {
		walk(r)
	}
	return out
}
