package multiproc

import "github.com/metrics-mmap/coremmap/errs"

// The exported error taxonomy is an alias of package errs, which exists
// separately only to let every internal package construct these without
// importing this facade package back.
type (
	// ParseError reports a malformed on-disk entry.
	ParseError = errs.ParseError
	// KeyError reports an encoded key that failed JSON validation.
	KeyError = errs.KeyError
	// IOError wraps an mmap, ftruncate, flock or file-open failure.
	IOError = errs.IOError
	// LockError reports a failed advisory-lock probe.
	LockError = errs.LockError
	// FileVanished reports a writer's backing file disappearing beneath it.
	FileVanished = errs.FileVanished
)
