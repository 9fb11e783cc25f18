// Package registry is the process-wide PerMetricFileRegistry: a mapping
// from file prefix ("counter", "gauge_min", ...) to the currently-open
// mmapdict.Dict for this process, reinitialized whenever the process pid
// changes (as happens after fork()).
package registry

import (
	"os"
	"strconv"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/metrics-mmap/coremmap/mmapdict"
	"github.com/metrics-mmap/coremmap/pathalloc"
)

// PIDProvider returns the current process identity as a filename/label
// token. Defaults to the OS pid, but can be overridden (e.g. by a
// pre-fork worker pool that hands out its own per-worker identifiers).
type PIDProvider func() string

// Registry is process-wide mutable state; it should normally be created
// once (see multiproc.Config) and shared by every metric object in the
// process.
type Registry struct {
	mu sync.Mutex

	dir         string
	initialSize int
	alloc       *pathalloc.Allocator
	pidProvider PIDProvider
	logger      log.Logger

	lastPID string
	dicts   map[string]*openDict
}

type openDict struct {
	dict  *mmapdict.Dict
	lease *pathalloc.Lease
}

// New returns a Registry rooted at dir. logger may be nil, in which case
// a no-op logger is used.
func New(dir string, initialSize int, pidProvider PIDProvider, logger log.Logger) *Registry {
	if pidProvider == nil {
		pidProvider = func() string { return strconv.Itoa(os.Getpid()) }
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		dir:         dir,
		initialSize: initialSize,
		alloc:       pathalloc.New(dir),
		pidProvider: pidProvider,
		logger:      logger,
		dicts:       make(map[string]*openDict),
	}
}

// Dict returns the open mmapdict.Dict for prefix in this process,
// allocating a fresh file on first use or after a pid change.
func (r *Registry) Dict(prefix string) (*mmapdict.Dict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reinitializeOnPIDChangeLocked()

	if od, ok := r.dicts[prefix]; ok {
		return od.dict, nil
	}

	lease, err := r.alloc.Acquire(prefix, r.lastPID)
	if err != nil {
		level.Error(r.logger).Log("msg", "could not allocate dict file", "prefix", prefix, "err", err)
		return nil, err
	}

	dict, err := mmapdict.OpenWithLogger(lease.Path, r.initialSize, r.logger)
	if err != nil {
		_ = lease.Release()
		level.Error(r.logger).Log("msg", "could not open dict file", "path", lease.Path, "err", err)
		return nil, err
	}

	r.dicts[prefix] = &openDict{dict: dict, lease: lease}
	level.Debug(r.logger).Log("msg", "allocated dict file", "prefix", prefix, "path", lease.Path)
	return dict, nil
}

// ReinitializeOnPIDChange is a no-op when the pid has not changed since
// the last call, and otherwise closes every open dict and clears the map
// so the next Dict() call re-allocates files under the new pid.
func (r *Registry) ReinitializeOnPIDChange() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reinitializeOnPIDChangeLocked()
}

func (r *Registry) reinitializeOnPIDChangeLocked() {
	pid := r.pidProvider()
	if pid == r.lastPID && r.lastPID != "" {
		return
	}
	level.Debug(r.logger).Log("msg", "reinitializing registry for new pid", "old_pid", r.lastPID, "new_pid", pid)
	r.closeAllLocked()
	r.lastPID = pid
}

// ResetAndReinitialize unconditionally closes and reopens the registry,
// regardless of whether the pid changed. Intended for test suites that
// need a clean slate between cases sharing one directory.
func (r *Registry) ResetAndReinitialize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAllLocked()
	r.lastPID = ""
}

func (r *Registry) closeAllLocked() {
	for prefix, od := range r.dicts {
		if err := od.dict.Close(); err != nil {
			level.Error(r.logger).Log("msg", "error closing dict file", "prefix", prefix, "err", err)
		}
		if err := od.lease.Release(); err != nil {
			level.Error(r.logger).Log("msg", "error releasing lock", "prefix", prefix, "err", err)
		}
	}
	r.dicts = make(map[string]*openDict)
}

// Close tears down every open dict, releasing their locks. The Registry
// must not be used afterward.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAllLocked()
	return nil
}
