package scope

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rhema-core/rhema/internal/rherr"
)

// GitHookType enumerates the hook points GASM can install into
// .git/hooks, per the original implementation's full set (spec §4.7
// names a subset; original_source/crates/rhema-core/src/scope_loader/
// git_integration.rs names the rest).
type GitHookType string

const (
	HookPreCommit        GitHookType = "pre-commit"
	HookPostCommit       GitHookType = "post-commit"
	HookPrePush          GitHookType = "pre-push"
	HookPostPush         GitHookType = "post-push"
	HookPreReceive       GitHookType = "pre-receive"
	HookPostReceive      GitHookType = "post-receive"
	HookPreMergeCommit   GitHookType = "pre-merge-commit"
	HookPostMergeCommit  GitHookType = "post-merge-commit"
	HookPreRebase        GitHookType = "pre-rebase"
	HookPostRebase       GitHookType = "post-rebase"
)

// GitChangeEvent is the taxonomy of changes a hook script reports back
// to the CLI (spec §4.5 names FileModified only; this extends it per
// the original's GitChangeEvent enum).
type GitChangeEvent string

const (
	ChangeFileModified  GitChangeEvent = "file_modified"
	ChangeFileAdded     GitChangeEvent = "file_added"
	ChangeFileDeleted   GitChangeEvent = "file_deleted"
	ChangeBranchChanged GitChangeEvent = "branch_changed"
	ChangeCommitMade    GitChangeEvent = "commit_made"
)

// hookCommands maps each hook type to the platform subcommand its
// script invokes, mirroring the teacher's approach of treating the CLI
// binary as a black box rather than embedding logic in shell.
var hookCommands = map[GitHookType]string{
	HookPreCommit:       "scope validate",
	HookPostCommit:      "scope sync --event commit_made",
	HookPrePush:         "lock validate",
	HookPostPush:        "scope sync --event branch_changed",
	HookPreReceive:      "scope validate --remote",
	HookPostReceive:     "scope sync --event commit_made --remote",
	HookPreMergeCommit:  "scope validate --merge",
	HookPostMergeCommit: "scope sync --event commit_made --merge",
	HookPreRebase:       "scope backup",
	HookPostRebase:      "scope sync --event branch_changed --rebase",
}

const hookMarker = "# managed-by: rhema"

// InstallHook writes a POSIX shell script at .git/hooks/<type> that
// invokes the platform CLI for the corresponding subcommand. An
// existing hook not carrying hookMarker is left untouched and an error
// returned, since overwriting a user's own hook silently would destroy
// their customization.
func InstallHook(repo *Repository, hookType GitHookType, cliPath string) error {
	cmd, ok := hookCommands[hookType]
	if !ok {
		return rherr.Config("unknown git hook type", nil).WithCode(string(hookType))
	}

	hookPath := filepath.Join(repo.gitDir, "hooks", string(hookType))
	if existing, err := os.ReadFile(hookPath); err == nil {
		if !containsMarker(existing) {
			return rherr.Conflict("existing hook is not managed by this tool", nil).WithPath(hookPath)
		}
	}

	script := fmt.Sprintf("#!/bin/sh\n%s\n%q %s \"$@\"\n", hookMarker, cliPath, cmd)
	if err := os.MkdirAll(filepath.Dir(hookPath), 0o755); err != nil {
		return rherr.Backend("failed to create hooks directory", err).WithPath(hookPath)
	}
	if err := os.WriteFile(hookPath, []byte(script), 0o755); err != nil {
		return rherr.Backend("failed to write hook script", err).WithPath(hookPath)
	}
	return nil
}

// UninstallHook removes the hook script at hookType if and only if it
// carries hookMarker.
func UninstallHook(repo *Repository, hookType GitHookType) error {
	hookPath := filepath.Join(repo.gitDir, "hooks", string(hookType))
	data, err := os.ReadFile(hookPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rherr.Backend("failed to read hook script", err).WithPath(hookPath)
	}
	if !containsMarker(data) {
		return rherr.Conflict("refusing to remove a hook not managed by this tool", nil).WithPath(hookPath)
	}
	if err := os.Remove(hookPath); err != nil {
		return rherr.Backend("failed to remove hook script", err).WithPath(hookPath)
	}
	return nil
}

func containsMarker(data []byte) bool {
	for i := 0; i+len(hookMarker) <= len(data); i++ {
		if string(data[i:i+len(hookMarker)]) == hookMarker {
			return true
		}
	}
	return false
}
