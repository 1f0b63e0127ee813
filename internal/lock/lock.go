// Package lock guards a session directory so that one daemon owns it.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the name of the lock file inside a session directory.
const FileName = "LOCK"

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	PID   int
	Since time.Time // zero when the owner did not record it
	Path  string
}

func (e *LockHeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d since %s (%s)", e.PID, e.Since.Local().Format(time.DateTime), e.Path)
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire attempts to acquire an exclusive lock on the session directory.
// Returns LockHeldError if another process already holds it.
func Acquire(sessionDir string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, held(lockPath)
	}

	if err := writeOwner(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock owner: %w", err)
	}
	return &Lock{file: f, path: lockPath}, nil
}

// Holder reports the process holding the session lock, or nil when the
// session is free. It never leaves the lock taken.
func Holder(sessionDir string) (*LockHeldError, error) {
	if _, err := os.Stat(filepath.Join(sessionDir, FileName)); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	l, err := Acquire(sessionDir)
	var heldErr *LockHeldError
	if errors.As(err, &heldErr) {
		return heldErr, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, l.Release()
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// held builds the error for a lock owned elsewhere from the owner record.
func held(lockPath string) *LockHeldError {
	data, _ := os.ReadFile(lockPath)
	pid, since := parseOwner(string(data))
	return &LockHeldError{PID: pid, Since: since, Path: lockPath}
}

// parseOwner reads the key=value lines written by writeOwner. Unknown or
// malformed lines are ignored.
func parseOwner(content string) (pid int, since time.Time) {
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			pid, _ = strconv.Atoi(value)
		case "time":
			since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return pid, since
}
