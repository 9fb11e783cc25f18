// Package entryparser decodes the on-disk entry stream of a DictFile: a
// byte slice whose first 8 bytes are the "used" header, followed by
// contiguous 8-byte-aligned (key, value) entries. It is a pure decoder: it
// never mutates its input and tolerates a truncated tail.
package entryparser

import (
	"encoding/binary"
	"math"

	"github.com/metrics-mmap/coremmap/errs"
)

// Mode selects how a malformed entry stream is handled.
type Mode int

const (
	// Lenient stops iteration silently on the first malformed or
	// truncated entry, yielding the largest well-formed prefix.
	Lenient Mode = iota
	// Strict surfaces a *errs.ParseError with the offending byte offset.
	Strict
)

// headerSize is the fixed 8-byte header: 4 bytes "used", 4 bytes padding.
const headerSize = 8

// Entry is one decoded (key, value) record plus the absolute offset of its
// value within the parsed buffer.
type Entry struct {
	Key    []byte
	Value  float64
	Offset int
}

// Iterator is a one-shot, non-restartable lazy sequence of Entry values
// over a byte slice. It borrows buf; callers must not use it after the
// mapping it came from has been unmapped or remapped.
type Iterator struct {
	buf  []byte
	size int
	used int
	pos  int
	mode Mode

	cur Entry
	err error
	done bool
}

// New returns an Iterator over buf, whose valid region runs to size
// (size may be less than len(buf) when the caller holds a stale, shorter
// mapping than the file's current on-disk length).
func New(buf []byte, size int, mode Mode) *Iterator {
	it := &Iterator{buf: buf, size: size, mode: mode, pos: headerSize}
	if size < headerSize || len(buf) < headerSize {
		it.used = 0
		it.done = true
		return it
	}
	used := int(binary.LittleEndian.Uint32(buf[0:4]))
	if used > size {
		used = size
	}
	it.used = used
	return it
}

// Err returns the error that stopped iteration in Strict mode. It is
// always nil in Lenient mode and nil while iteration is still in
// progress.
func (it *Iterator) Err() error { return it.err }

// Next advances the iterator and reports whether a further Entry is
// available via Entry().
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	for it.pos < it.used && it.pos+headerSize <= it.size {
		lenField := it.pos + 4
		if lenField > it.size {
			return it.fail(it.pos, "truncated length field")
		}
		l := int(binary.LittleEndian.Uint32(it.buf[it.pos:lenField]))
		if l == 0 {
			it.pos += headerSize
			continue
		}
		entryLen := 4 + l
		pad := 8 - (entryLen % 8)
		valueOffset := it.pos + entryLen + pad
		if valueOffset < 0 || valueOffset+8 > it.size || valueOffset+8 > it.used {
			return it.fail(it.pos, "truncated tail")
		}
		keyStart := it.pos + 4
		keyEnd := keyStart + l
		if keyEnd > it.size {
			return it.fail(it.pos, "key extends past buffer")
		}

		key := it.buf[keyStart:keyEnd]
		bits := binary.LittleEndian.Uint64(it.buf[valueOffset : valueOffset+8])

		it.cur = Entry{Key: key, Value: math.Float64frombits(bits), Offset: valueOffset}
		it.pos = valueOffset + 8
		return true
	}
	it.done = true
	return false
}

// Entry returns the entry decoded by the most recent call to Next.
func (it *Iterator) Entry() Entry { return it.cur }

func (it *Iterator) fail(offset int, reason string) bool {
	it.done = true
	if it.mode == Strict {
		it.err = &errs.ParseError{Offset: offset, Reason: reason}
	}
	return false
}

// All drains the iterator into a slice. The aggregator and the tests use
// it; mmapdict uses Next/Entry directly to avoid the intermediate
// allocation.
func All(buf []byte, size int, mode Mode) ([]Entry, error) {
	it := New(buf, size, mode)
	var out []Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
