package casky

import "fmt"

// Kind enumerates the flat error taxonomy every public operation reports
// through. It intentionally stays a single enum rather than a tree of
// error types — every failure the engine can produce reduces to one of
// these causes.
type Kind int

const (
	// Ok is never itself returned as an error; it exists so Kind has a
	// documented zero value.
	Ok Kind = iota
	// InvalidPath means a path was empty or otherwise unusable.
	InvalidPath
	// InvalidPointer means a method was called on a nil or closed *DB.
	InvalidPointer
	// Io means an underlying read/write/flush/fsync/rename failed.
	Io
	// Memory means a size or sanity guard tripped before an allocation
	// would have occurred.
	Memory
	// Corrupt means recovery halted on a bad record; the engine is still
	// usable but compaction is advisable.
	Corrupt
	// InvalidKey means the key was missing or malformed for the operation.
	InvalidKey
	// KeyNotFound means the key is not live in the directory.
	KeyNotFound
)

// String is the strerror equivalent: a short, stable, human-readable label
// for each Kind.
func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case InvalidPath:
		return "invalid path"
	case InvalidPointer:
		return "invalid handle"
	case Io:
		return "i/o error"
	case Memory:
		return "size limit exceeded"
	case Corrupt:
		return "corrupt log"
	case InvalidKey:
		return "invalid key"
	case KeyNotFound:
		return "key not found"
	default:
		return fmt.Sprintf("unknown error kind (%d)", int(k))
	}
}

// Error is the concrete error type every public casky operation returns. It
// wraps a Kind and, where one exists, the underlying cause, so callers can
// both errors.Is against a sentinel and errors.Unwrap to the original
// failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("casky: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("casky: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrKeyNotFound) and friends work against a bare
// *Error compared to one of the sentinel values below, without requiring
// the Op or Err fields to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Sentinel errors for use with errors.Is. Each wraps a Kind with no cause
// and no operation name, so matching only ever compares Kind (see
// (*Error).Is above).
var (
	ErrInvalidPath    = &Error{Kind: InvalidPath}
	ErrInvalidPointer = &Error{Kind: InvalidPointer}
	ErrIO             = &Error{Kind: Io}
	ErrMemory         = &Error{Kind: Memory}
	ErrCorrupt        = &Error{Kind: Corrupt}
	ErrInvalidKey     = &Error{Kind: InvalidKey}
	ErrKeyNotFound    = &Error{Kind: KeyNotFound}
)
