// Package pathalloc allocates unique per-process mmap filenames of the
// form <prefix>_<pid>-<n>.db, probing n = 0, 1, 2, ... until an advisory
// exclusive whole-file lock is obtained. The lock is held for the life of
// the process, or until the returned Lease is released.
package pathalloc

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/metrics-mmap/coremmap/errs"
)

// maxProbe bounds the n=0,1,2,... search so a pathological directory full
// of stale locks fails loudly instead of spinning forever.
const maxProbe = 1 << 20

// Lease is a held advisory lock on one allocated path.
type Lease struct {
	Path string

	lock *flock.Flock
}

// Release unlocks and closes the lock handle.
func (l *Lease) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return &errs.IOError{Op: "unlock", Path: l.Path, Err: err}
	}
	return nil
}

// Allocator hands out unique, locked file paths under one directory for a
// single process. A per-Allocator mutex serializes probing so one
// Allocator never claims two leases for the same candidate path.
type Allocator struct {
	mu  sync.Mutex
	dir string
}

// New returns an Allocator rooted at dir. dir must already exist.
func New(dir string) *Allocator {
	return &Allocator{dir: dir}
}

// Acquire returns a path <dir>/<prefix>_<pidToken>-<n>.db for the smallest
// non-negative n whose whole-file advisory lock this process could obtain.
// Failure to lock a candidate simply advances to the next n.
func (a *Allocator) Acquire(prefix, pidToken string) (*Lease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for n := 0; n < maxProbe; n++ {
		name := fmt.Sprintf("%s_%s-%d.db", prefix, pidToken, n)
		path := filepath.Join(a.dir, name)

		fl := flock.New(path)
		locked, err := fl.TryLock()
		if err != nil {
			lastErr = &errs.LockError{Path: path, Err: err}
			continue
		}
		if !locked {
			lastErr = &errs.LockError{Path: path, Err: fmt.Errorf("already locked")}
			continue
		}
		return &Lease{Path: path, lock: fl}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("exhausted %d candidates", maxProbe)
	}
	return nil, lastErr
}
