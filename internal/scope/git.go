package scope

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhema-core/rhema/internal/rherr"
)

// Repository reads git metadata directly from a repository's on-disk
// .git layout. Unlike the teacher's internal/git/git.go, which shells
// out to the git binary for every query, Repository never execs a
// subprocess: it only ever opens and parses files under .git.
type Repository struct {
	gitDir   string
	worktree string
}

// OpenRepository locates the .git directory under root (a plain
// directory, or the gitdir file left behind by worktrees/submodules)
// and returns a Repository bound to it.
func OpenRepository(root string) (*Repository, error) {
	gitPath := filepath.Join(root, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return nil, rherr.NotFound("not a git repository", err).WithPath(root)
	}

	gitDir := gitPath
	if !info.IsDir() {
		data, err := os.ReadFile(gitPath)
		if err != nil {
			return nil, rherr.Backend("failed to read gitdir pointer file", err).WithPath(gitPath)
		}
		const prefix = "gitdir: "
		line := strings.TrimSpace(string(data))
		if !strings.HasPrefix(line, prefix) {
			return nil, rherr.InvalidData("malformed gitdir pointer file", nil).WithPath(gitPath)
		}
		gitDir = strings.TrimPrefix(line, prefix)
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(root, gitDir)
		}
	}

	repo := &Repository{gitDir: filepath.Clean(gitDir), worktree: root}
	return repo, nil
}

// CurrentBranch reads HEAD directly: a symbolic ref resolves to the
// branch name it points at; a detached HEAD returns the raw commit hash.
func (r *Repository) CurrentBranch() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.gitDir, "HEAD"))
	if err != nil {
		return "", rherr.Backend("failed to read HEAD", err).WithPath(r.gitDir)
	}
	line := strings.TrimSpace(string(data))

	const prefix = "ref: refs/heads/"
	if strings.HasPrefix(line, prefix) {
		return strings.TrimPrefix(line, prefix), nil
	}
	return line, nil // detached HEAD: raw commit hash
}

// LastCommitHash resolves the current branch's ref to its commit hash,
// checking loose refs first and falling back to packed-refs.
func (r *Repository) LastCommitHash() (string, error) {
	branch, err := r.CurrentBranch()
	if err != nil {
		return "", err
	}

	refPath := filepath.Join(r.gitDir, "refs", "heads", branch)
	if data, err := os.ReadFile(refPath); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	hash, ok, err := r.lookupPackedRef("refs/heads/" + branch)
	if err != nil {
		return "", err
	}
	if ok {
		return hash, nil
	}

	// Detached HEAD already holds the raw hash.
	if isHexHash(branch) {
		return branch, nil
	}
	return "", rherr.NotFound("no commit found for current branch", nil).WithKey(branch)
}

func (r *Repository) lookupPackedRef(ref string) (string, bool, error) {
	f, err := os.Open(filepath.Join(r.gitDir, "packed-refs"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, rherr.Backend("failed to read packed-refs", err).WithPath(r.gitDir)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[1] == ref {
			return parts[0], true, nil
		}
	}
	return "", false, nil
}

func isHexHash(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// RemoteURL reads origin's url out of .git/config's INI-style text
// directly, without invoking `git config`.
func (r *Repository) RemoteURL(remote string) (string, error) {
	if remote == "" {
		remote = "origin"
	}
	f, err := os.Open(filepath.Join(r.gitDir, "config"))
	if err != nil {
		return "", rherr.Backend("failed to read git config", err).WithPath(r.gitDir)
	}
	defer f.Close()

	section := `[remote "` + remote + `"]`
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inSection = line == section
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(line, "url") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}
	return "", rherr.NotFound("no url configured for remote", nil).WithKey(remote)
}

// HasUncommittedChanges reports whether the index differs from HEAD or
// the worktree differs from the index. Since that comparison requires
// either a full tree walk against parsed git objects or the index
// format, and no such on-disk diff primitive is needed anywhere else in
// this module, this checks only the coarse signal GASM actually needs:
// whether any file under worktree (tracked or not; .git is skipped) has
// a newer mtime than the index file itself.
func (r *Repository) HasUncommittedChanges() (bool, error) {
	indexInfo, err := os.Stat(filepath.Join(r.gitDir, "index"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, rherr.Backend("failed to stat index", err).WithPath(r.gitDir)
	}

	dirty := false
	err = filepath.Walk(r.worktree, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.ModTime().After(indexInfo.ModTime()) {
			dirty = true
		}
		return nil
	})
	if err != nil {
		return false, rherr.Backend("failed to walk worktree", err).WithPath(r.worktree)
	}
	return dirty, nil
}
