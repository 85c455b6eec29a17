// Package gruf implements a reader/writer for GRF and THOR archives, the
// container formats used by Gravity's game client to distribute and patch
// game data.
package gruf

import "golang.org/x/xerrors"

// Kind classifies a gruf error so callers can branch on failure mode without
// parsing error strings.
type Kind int

const (
	// KindIO wraps an underlying I/O failure (open/read/write/seek).
	KindIO Kind = iota
	// KindParsing indicates a container failed to parse: bad magic, a
	// malformed table, or a decompression failure.
	KindParsing
	// KindEncoding indicates a string couldn't be encoded into the
	// archive's fixed Windows-1252 charset.
	KindEncoding
	// KindEntryNotFound indicates a lookup by path found no matching entry.
	KindEntryNotFound
	// KindIntegrity indicates a checksum stored in a THOR archive did not
	// match the corresponding entry's content.
	KindIntegrity
	// KindAllocator indicates a space-allocation invariant was violated:
	// raw entry content whose length differs from the size recorded for
	// it. The chunk allocator itself does not validate its callers'
	// offsets and never returns this kind.
	KindAllocator
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParsing:
		return "parsing"
	case KindEncoding:
		return "encoding"
	case KindEntryNotFound:
		return "entry not found"
	case KindIntegrity:
		return "integrity"
	case KindAllocator:
		return "allocator"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported function in gruf and
// its subpackages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write `errors.Is(err, gruf.ErrEntryNotFound)`-style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ErrEntryNotFound is a sentinel usable with errors.Is to detect a missing
// archive entry regardless of the wrapped message.
var ErrEntryNotFound = &Error{Kind: KindEntryNotFound, Msg: "entry not found"}

func newErr(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: xerrors.Errorf(format, args...).Error(), Err: err}
}

// IOError wraps err as a KindIO *Error, annotated with the failing operation.
func IOError(op string, err error) *Error {
	return newErr(KindIO, err, "%s: %w", op, err)
}

// ParsingError builds a KindParsing *Error from a formatted message.
func ParsingError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindParsing, Msg: xerrors.Errorf(format, args...).Error()}
}

// EncodingError builds a KindEncoding *Error from a formatted message.
func EncodingError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindEncoding, Msg: xerrors.Errorf(format, args...).Error()}
}

// EntryNotFound builds a KindEntryNotFound *Error for the given path.
func EntryNotFound(path string) *Error {
	return &Error{Kind: KindEntryNotFound, Msg: "no such entry: " + path}
}

// IntegrityError builds a KindIntegrity *Error from a formatted message.
func IntegrityError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindIntegrity, Msg: xerrors.Errorf(format, args...).Error()}
}

// AllocatorError builds a KindAllocator *Error from a formatted message.
func AllocatorError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAllocator, Msg: xerrors.Errorf(format, args...).Error()}
}
