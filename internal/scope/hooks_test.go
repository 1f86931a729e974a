package scope

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallHookWritesExecutableScript(t *testing.T) {
	root := makeFakeRepo(t)
	repo, err := OpenRepository(root)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}

	if err := InstallHook(repo, HookPreCommit, "/usr/local/bin/rhema"); err != nil {
		t.Fatalf("InstallHook: %v", err)
	}

	hookPath := filepath.Join(root, ".git", "hooks", "pre-commit")
	info, err := os.Stat(hookPath)
	if err != nil {
		t.Fatalf("expected hook script to exist: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Fatal("expected hook script to be executable")
	}

	data, err := os.ReadFile(hookPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "scope validate") {
		t.Fatalf("expected hook script to invoke scope validate, got:\n%s", data)
	}
}

func TestInstallHookRefusesToOverwriteUnmanagedScript(t *testing.T) {
	root := makeFakeRepo(t)
	repo, err := OpenRepository(root)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}

	hookPath := filepath.Join(root, ".git", "hooks", "pre-commit")
	if err := os.WriteFile(hookPath, []byte("#!/bin/sh\necho custom\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := InstallHook(repo, HookPreCommit, "/usr/local/bin/rhema"); err == nil {
		t.Fatal("expected error overwriting an unmanaged hook")
	}
}

func TestUninstallHookRemovesManagedScript(t *testing.T) {
	root := makeFakeRepo(t)
	repo, err := OpenRepository(root)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}

	if err := InstallHook(repo, HookPostCommit, "/usr/local/bin/rhema"); err != nil {
		t.Fatalf("InstallHook: %v", err)
	}
	if err := UninstallHook(repo, HookPostCommit); err != nil {
		t.Fatalf("UninstallHook: %v", err)
	}

	hookPath := filepath.Join(root, ".git", "hooks", "post-commit")
	if _, err := os.Stat(hookPath); !os.IsNotExist(err) {
		t.Fatal("expected hook script to be removed")
	}
}

func TestUninstallHookRefusesUnmanagedScript(t *testing.T) {
	root := makeFakeRepo(t)
	repo, err := OpenRepository(root)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}

	hookPath := filepath.Join(root, ".git", "hooks", "pre-push")
	if err := os.WriteFile(hookPath, []byte("#!/bin/sh\necho custom\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := UninstallHook(repo, HookPrePush); err == nil {
		t.Fatal("expected error removing an unmanaged hook")
	}
}
