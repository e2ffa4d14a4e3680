// Package lockfile serializes writers of one record store across processes
// with an advisory lock on a file next to the store.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAlreadyLocked is returned while another process holds the lock.
var ErrAlreadyLocked = errors.New("lock already held")

// Suffix is appended to a store path to name its lock file.
const Suffix = ".lock"

type Lock struct {
	path string
	f    *os.File
}

// For returns the lock file path guarding the store at storePath.
func For(storePath string) string {
	return storePath + Suffix
}

// Acquire takes the lock at path or fails at once with ErrAlreadyLocked.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	// The pid is informational only.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// AcquireWait retries Acquire with exponential backoff until it succeeds,
// timeout elapses or ctx is done. A zero timeout tries once.
func AcquireWait(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return Acquire(path)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = timeout

	var l *Lock
	err := backoff.Retry(func() error {
		var err error
		l, err = Acquire(path)
		if err != nil && !errors.Is(err, ErrAlreadyLocked) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", path, err)
	}
	return l, nil
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the lock file. It is safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
