//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/rhema-core/rhema/internal/rherr"
)

// FileLock is an OS-level exclusive lock on a single file, used to
// serialize rhema.lock writers across agent processes sharing a scope.
// The natural Unix analog of the teacher's Windows CreateFile lock
// (internal/instance/lock_windows.go): instead of an exclusive
// share-mode, it takes a non-blocking advisory flock on a dedicated
// ".lock" sidecar file.
type FileLock struct {
	f    *os.File
	path string
}

// AcquireFileLock takes a non-blocking exclusive flock on path+".lock".
// It fails immediately with a Conflict error if another process already
// holds the lock, rather than waiting.
func AcquireFileLock(path string) (*FileLock, error) {
	lockPath := path + ".lock"

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, rherr.Backend("failed to open lock file", err).WithPath(lockPath)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, rherr.Conflict("lock file is held by another process", err).WithPath(lockPath).WithCode("lock_held")
	}

	return &FileLock{f: f, path: lockPath}, nil
}

// Release unlocks and closes the underlying lock file. The sidecar file
// itself is left in place; flock state, not file presence, is what
// guards exclusivity.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return rherr.Backend("failed to release lock file", err).WithPath(l.path)
	}
	return l.f.Close()
}
