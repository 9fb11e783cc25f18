// Package mmapfile owns one memory-mapped DictFile: the header (used-bytes
// counter), page-aligned doubling growth, append-only entry writes, and
// safe teardown. It knows nothing about keys beyond their raw bytes; the
// key → offset index lives one layer up, in package mmapdict.
package mmapfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sys/unix"

	"github.com/metrics-mmap/coremmap/errs"
	"github.com/metrics-mmap/coremmap/pagesize"
)

const headerSize = 8

// File is one open memory-mapped DictFile. All exported methods are safe
// for concurrent use by goroutines within this process; cross-process
// coordination is the PathAllocator's advisory lock, not this type.
type File struct {
	mu sync.Mutex

	path string
	fd   *os.File
	data []byte
	size int

	ino    uint64
	modDev uint64

	logger log.Logger
}

// Open maps path, creating it (truncated to initialSize, rounded up to a
// page multiple) if it does not exist. If it exists but is smaller than
// pagesize.Minimum it is extended to initialSize; otherwise its existing
// size is rounded up to the next page multiple. Growth events are logged
// to a no-op logger; use OpenWithLogger to route them elsewhere.
func Open(path string, initialSize int) (*File, error) {
	return OpenWithLogger(path, initialSize, log.NewNopLogger())
}

// OpenWithLogger is Open, but growth events (file doubling) are logged to
// logger at level.Debug, per the registry reinitialization/file growth
// lifecycle logging the core's ambient stack requires.
func OpenWithLogger(path string, initialSize int, logger log.Logger) (*File, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	page := pagesize.Get()
	if initialSize <= 0 {
		initialSize = page
	}
	initialSize = pagesize.RoundUp(initialSize, page)

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, &errs.IOError{Op: "open", Path: path, Err: err}
	}

	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, &errs.IOError{Op: "stat", Path: path, Err: err}
	}

	size := int(st.Size())
	switch {
	case size < pagesize.Minimum:
		size = initialSize
	default:
		size = pagesize.RoundUp(size, page)
	}

	if int64(size) != st.Size() {
		if err := fd.Truncate(int64(size)); err != nil {
			fd.Close()
			return nil, &errs.IOError{Op: "truncate", Path: path, Err: err}
		}
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fd.Close()
		return nil, &errs.IOError{Op: "mmap", Path: path, Err: err}
	}

	f := &File{path: path, fd: fd, data: data, size: size, logger: logger}
	f.rememberIdentity(st)
	return f, nil
}

func (f *File) rememberIdentity(st os.FileInfo) {
	if sys, ok := st.Sys().(*unix.Stat_t); ok {
		f.ino = sys.Ino
		f.modDev = uint64(sys.Dev)
	}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Size returns the current mapped length in bytes.
func (f *File) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Used returns the current "used" header value: the number of bytes
// occupied by the header plus all entries.
func (f *File) Used() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadUsed()
}

func (f *File) loadUsed() int {
	used := int(atomic.LoadUint32((*uint32)(unsafe.Pointer(&f.data[0]))))
	if used < headerSize {
		// A freshly created file has an all-zero header; its first entry
		// starts right after the header.
		return headerSize
	}
	return used
}

func (f *File) publishUsed(v int) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&f.data[0])), uint32(v))
}

// Snapshot returns the whole current mapping together with the Used()
// value. It borrows the mapping; callers must not retain it across a
// growth (AppendEntry) or Close.
func (f *File) Snapshot() (buf []byte, used int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.loadUsed()
}

// ReadValueAt reads the f64 at the given absolute offset. offset must be
// 8-byte aligned and within the current mapping, normally obtained from a
// prior AppendEntry or from mmapdict's index.
func (f *File) ReadValueAt(offset int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkAlive(); err != nil {
		return 0, err
	}
	if offset < 0 || offset+8 > f.size {
		return 0, &errs.IOError{Op: "read", Path: f.path, Err: fmt.Errorf("offset %d out of range", offset)}
	}
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&f.data[offset])))
	return math.Float64frombits(bits), nil
}

// WriteValueAt overwrites the f64 at the given absolute offset with a
// single aligned 8-byte store, so no reader ever observes a torn value.
func (f *File) WriteValueAt(offset int, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkAlive(); err != nil {
		return err
	}
	if offset < 0 || offset+8 > f.size {
		return &errs.IOError{Op: "write", Path: f.path, Err: fmt.Errorf("offset %d out of range", offset)}
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&f.data[offset])), math.Float64bits(v))
	return nil
}

// AppendEntry writes a brand-new (key, value) entry following the §4.2
// protocol: length-prefixed key, zero padding to the next 8-byte
// boundary, then the value in the trailing 8 bytes. It grows the file
// first if necessary. Returns the absolute offset of the value, to be
// remembered by mmapdict's index. The caller is responsible for ensuring
// key does not already exist in the file.
func (f *File) AppendEntry(key []byte, v float64) (valueOffset int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkAlive(); err != nil {
		return 0, err
	}

	l := len(key)
	entryLen := 4 + l
	pad := 8 - (entryLen % 8)
	total := entryLen + pad + 8

	used := f.loadUsed()
	if used+total > f.size {
		if err := f.grow(used + total); err != nil {
			return 0, err
		}
	}

	offset := used
	binary.LittleEndian.PutUint32(f.data[offset:offset+4], uint32(l))
	copy(f.data[offset+4:offset+4+l], key)
	for i := offset + 4 + l; i < offset+4+l+pad; i++ {
		f.data[i] = 0
	}
	valueOffset = offset + 4 + l + pad
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&f.data[valueOffset])), math.Float64bits(v))

	f.publishUsed(valueOffset + 8)
	return valueOffset, nil
}

// grow doubles size until it can hold minSize bytes, ftruncates the
// backing file to the new size, and remaps. Previously-computed entry
// offsets stay valid: growth never moves existing bytes.
func (f *File) grow(minSize int) error {
	newSize := f.size
	if newSize == 0 {
		newSize = pagesize.Get()
	}
	for newSize < minSize {
		newSize *= 2
	}

	if err := f.fd.Truncate(int64(newSize)); err != nil {
		return &errs.IOError{Op: "truncate", Path: f.path, Err: err}
	}
	if err := unix.Munmap(f.data); err != nil {
		return &errs.IOError{Op: "munmap", Path: f.path, Err: err}
	}
	data, err := unix.Mmap(int(f.fd.Fd()), 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return &errs.IOError{Op: "mmap", Path: f.path, Err: err}
	}
	f.data = data
	f.size = newSize
	level.Debug(f.logger).Log("msg", "grew mmap file", "path", f.path, "size", newSize)
	return nil
}

// checkAlive detects whether the backing file was unlinked or truncated
// beneath this writer. It stats by path, not by file descriptor: an
// unlinked-but-still-open fd keeps stat-ing successfully on its original
// inode, so only a path lookup actually observes the unlink. It never
// crashes the process; it surfaces *errs.FileVanished so the caller
// (normally the registry) can reallocate a fresh file.
func (f *File) checkAlive() error {
	st, err := os.Stat(f.path)
	if err != nil {
		return &errs.FileVanished{Path: f.path}
	}
	sys, ok := st.Sys().(*unix.Stat_t)
	if ok && (sys.Ino != f.ino || uint64(sys.Dev) != f.modDev) {
		return &errs.FileVanished{Path: f.path}
	}
	if st.Size() < int64(f.size) {
		return &errs.FileVanished{Path: f.path}
	}
	return nil
}

// Sync flushes the mapping to disk. Failures are not fatal; callers that
// care should log and continue.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
		return &errs.IOError{Op: "msync", Path: f.path, Err: err}
	}
	return nil
}

// Close unmaps the file and closes the descriptor. It never truncates:
// shrinking a file another process may still be reading is forbidden.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if err := unix.Munmap(f.data); err != nil {
		firstErr = &errs.IOError{Op: "munmap", Path: f.path, Err: err}
	}
	if err := f.fd.Close(); err != nil && firstErr == nil {
		firstErr = &errs.IOError{Op: "close", Path: f.path, Err: err}
	}
	return firstErr
}
