//go:build windows

package lockfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/rhema-core/rhema/internal/rherr"
)

// FileLock is an OS-level exclusive lock on a single file, used to
// serialize rhema.lock writers across agent processes sharing a scope.
// Directly adapted from the teacher's single-instance lock
// (internal/instance/lock_windows.go's AcquireLock/ReleaseLock):
// a zero-share-mode CreateFile handle that a second process cannot open.
type FileLock struct {
	handle windows.Handle
	path   string
}

// AcquireFileLock opens path+".lock" with exclusive (no-sharing) access.
// It fails immediately with a Conflict error if another process already
// holds the handle.
func AcquireFileLock(path string) (*FileLock, error) {
	lockPath := path + ".lock"

	lockPathPtr, err := syscall.UTF16PtrFromString(lockPath)
	if err != nil {
		return nil, rherr.Backend("failed to convert lock path", err).WithPath(lockPath)
	}

	handle, err := windows.CreateFile(
		lockPathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // exclusive access, no sharing
		nil,
		windows.CREATE_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, rherr.Conflict("lock file is held by another process", err).WithPath(lockPath).WithCode("lock_held")
	}

	return &FileLock{handle: handle, path: lockPath}, nil
}

// Release closes the lock handle and removes the sidecar lock file.
func (l *FileLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if err != nil {
		return rherr.Backend("failed to release lock file", err).WithPath(l.path)
	}
	return nil
}
