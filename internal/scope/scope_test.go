package scope

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMarker(t *testing.T, dir, marker string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, marker), []byte("scope"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscoverScopesFindsNestedMarkers(t *testing.T) {
	root := t.TempDir()
	writeMarker(t, root, "rhema.yaml")
	writeMarker(t, filepath.Join(root, "service-a"), "rhema.yaml")
	writeMarker(t, filepath.Join(root, "service-a", "sub"), "rhema.yaml")

	tree, err := DiscoverScopes(root, nil)
	if err != nil {
		t.Fatalf("DiscoverScopes: %v", err)
	}

	if len(tree.Roots) != 1 {
		t.Fatalf("expected 1 root scope, got %d", len(tree.Roots))
	}
	serviceA := tree.Roots[0].Children
	if len(serviceA) != 1 || serviceA[0].Name != "service-a" {
		t.Fatalf("expected service-a child, got %+v", serviceA)
	}
	if len(serviceA[0].Children) != 1 || serviceA[0].Children[0].Name != "sub" {
		t.Fatalf("expected sub grandchild, got %+v", serviceA[0].Children)
	}
}

func TestFindScopePathRejectsAmbiguousName(t *testing.T) {
	root := t.TempDir()
	writeMarker(t, filepath.Join(root, "a", "shared"), "rhema.yaml")
	writeMarker(t, filepath.Join(root, "b", "shared"), "rhema.yaml")

	tree, err := DiscoverScopes(root, nil)
	if err != nil {
		t.Fatalf("DiscoverScopes: %v", err)
	}

	if _, err := tree.FindScopePath("shared"); err == nil {
		t.Fatal("expected ambiguous-name error")
	}
}

func TestScopePathReturnsDottedAncestry(t *testing.T) {
	root := t.TempDir()
	writeMarker(t, root, "rhema.yaml")
	childPath := filepath.Join(root, "service-a")
	writeMarker(t, childPath, "rhema.yaml")

	tree, err := DiscoverScopes(root, nil)
	if err != nil {
		t.Fatalf("DiscoverScopes: %v", err)
	}

	dotted, err := tree.ScopePath(childPath)
	if err != nil {
		t.Fatalf("ScopePath: %v", err)
	}
	expected := filepath.Base(root) + ".service-a"
	if dotted != expected {
		t.Fatalf("expected %q, got %q", expected, dotted)
	}
}

func TestDiscoverScopesSkipsGitDirectory(t *testing.T) {
	root := t.TempDir()
	writeMarker(t, filepath.Join(root, ".git", "nested"), "rhema.yaml")
	writeMarker(t, root, "rhema.yaml")

	tree, err := DiscoverScopes(root, nil)
	if err != nil {
		t.Fatalf("DiscoverScopes: %v", err)
	}
	if len(tree.All()) != 1 {
		t.Fatalf("expected .git contents to be skipped, got %d scopes", len(tree.All()))
	}
}
