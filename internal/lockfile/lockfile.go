// Package lockfile implements cross-process mutual exclusion through
// PID-stamped lock files. Acquisition never blocks: a live holder makes
// Acquire report "not acquired", which callers treat as normal flow control
// rather than an error.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Lock represents one held lock file.
type Lock struct {
	path string

	mu       sync.Mutex
	released bool
}

// Acquire attempts to take the lock at path without blocking.
//
// Returns (lock, true, nil) when acquired, (nil, false, nil) when another
// live process holds it, and a non-nil error only for real I/O failures.
// A lock file left behind by a dead process is removed and acquisition is
// retried once.
func Acquire(path string) (*Lock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			content := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			if _, werr := f.WriteString(content); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, false, fmt.Errorf("write lock file %s: %w", path, werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, false, fmt.Errorf("close lock file %s: %w", path, cerr)
			}
			return &Lock{path: path}, true, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, false, fmt.Errorf("create lock file %s: %w", path, err)
		}

		// Someone holds (or held) the lock. Probe the recorded PID.
		pid, perr := readHolder(path)
		if perr == nil && pid > 0 && processAlive(pid) {
			return nil, false, nil
		}

		// Stale or unreadable lock: remove and retry once. A concurrent
		// remover makes os.Remove fail with ENOENT, which is fine.
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return nil, false, fmt.Errorf("remove stale lock file %s: %w", path, rerr)
		}
	}

	// Lost the race twice in a row; treat as contention.
	return nil, false, nil
}

// Release removes the lock file. Idempotent and safe on a nil lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// readHolder parses the PID from an existing lock file. Zero-size or
// malformed files are reported as errors so the caller treats them as stale.
func readHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty lock file %s", path)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("malformed lock file %s: %w", path, err)
	}
	return pid, nil
}

// processAlive probes OS-level liveness of the holder. Signal 0 performs
// permission and existence checks without delivering anything; EPERM means
// the process exists but belongs to another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
