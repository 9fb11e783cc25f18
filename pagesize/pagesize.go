// Package pagesize resolves the OS page size used to size and grow the
// memory-mapped dictionary files, and rounds arbitrary sizes up to a page
// multiple.
package pagesize

import "golang.org/x/sys/unix"

// Fallback is used when the OS refuses to report a page size.
const Fallback = 4096

// Minimum is the smallest a DictFile may ever be, per the on-disk format.
const Minimum = 8

// Get returns the OS page size, falling back to Fallback if the kernel
// reports something nonsensical (zero or negative).
func Get() int {
	sz := unix.Getpagesize()
	if sz <= 0 {
		return Fallback
	}
	return sz
}

// RoundUp rounds size up to the next multiple of page. page must be > 0.
func RoundUp(size, page int) int {
	if size <= 0 {
		return page
	}
	rem := size % page
	if rem == 0 {
		return size
	}
	return size + (page - rem)
}
