// Package mmapdict builds an in-memory key → value-offset index over an
// mmapfile.File by scanning it once with entryparser at open time, then
// dispatches subsequent reads and writes through that index.
package mmapdict

import (
	"sync"

	"github.com/go-kit/log"

	"github.com/metrics-mmap/coremmap/entryparser"
	"github.com/metrics-mmap/coremmap/mmapfile"
)

// Dict is a (key → f64) dictionary backed by one mmapfile.File. It assumes
// single-writer-per-file, enforced one layer up by the PathAllocator's
// advisory lock.
type Dict struct {
	mu     sync.Mutex
	file   *mmapfile.File
	offset map[string]int
}

// Open opens path as an mmapfile.File and builds the key index by running
// entryparser once over its current contents. File growth events are
// logged to a no-op logger; use OpenWithLogger to route them elsewhere.
func Open(path string, initialSize int) (*Dict, error) {
	return OpenWithLogger(path, initialSize, log.NewNopLogger())
}

// OpenWithLogger is Open, but routes the backing mmapfile.File's growth
// events to logger at level.Debug.
func OpenWithLogger(path string, initialSize int, logger log.Logger) (*Dict, error) {
	f, err := mmapfile.OpenWithLogger(path, initialSize, logger)
	if err != nil {
		return nil, err
	}
	d := &Dict{file: f, offset: make(map[string]int)}
	d.reindex()
	return d, nil
}

func (d *Dict) reindex() {
	buf, used := d.file.Snapshot()
	it := entryparser.New(buf, used, entryparser.Lenient)
	for it.Next() {
		e := it.Entry()
		d.offset[string(e.Key)] = e.Offset
	}
}

// Path returns the backing file's path.
func (d *Dict) Path() string { return d.file.Path() }

// ReadValue returns the current f64 for key, or 0.0 if key has never been
// written.
func (d *Dict) ReadValue(key []byte) (float64, error) {
	d.mu.Lock()
	off, ok := d.offset[string(key)]
	d.mu.Unlock()
	if !ok {
		return 0.0, nil
	}
	return d.file.ReadValueAt(off)
}

// WriteValue sets key's value to v, overwriting the existing entry in
// place if key is already present, or appending a new one otherwise. The
// whole check-then-act sequence holds d.mu so two goroutines racing to
// create the same new key in this process never append it twice.
func (d *Dict) WriteValue(key []byte, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off, ok := d.offset[string(key)]; ok {
		return d.file.WriteValueAt(off, v)
	}

	newOffset, err := d.file.AppendEntry(key, v)
	if err != nil {
		return err
	}
	d.offset[string(key)] = newOffset
	return nil
}

// Len reports the number of distinct keys currently indexed.
func (d *Dict) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.offset)
}

// Sync flushes the backing file to disk.
func (d *Dict) Sync() error { return d.file.Sync() }

// Close tears down the backing file.
func (d *Dict) Close() error { return d.file.Close() }
