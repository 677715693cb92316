// Package errs defines the closed set of failure kinds surfaced by the stores,
// the trainer and the vendor client, so callers can tell "no data" apart from
// "corrupt store" without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindOther is the zero value and marks errors outside the taxonomy.
	KindOther Kind = iota
	// KindNoData means the requested input does not exist yet.
	KindNoData
	// KindCorrupt means a persisted document exists but cannot be decoded
	// or fails validation at the load boundary.
	KindCorrupt
	// KindIO means the backing file or directory cannot be read or written.
	KindIO
	// KindValidation means a mutation was rejected before anything changed.
	KindValidation
	// KindVendor means the vendor API call failed.
	KindVendor
)

func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "no_data"
	case KindCorrupt:
		return "corrupt"
	case KindIO:
		return "io"
	case KindValidation:
		return "validation"
	case KindVendor:
		return "vendor"
	default:
		return "other"
	}
}

// ErrStartTimeout is the vendor condition where a start request was accepted
// but not confirmed in time. The session frequently starts anyway.
var ErrStartTimeout = errors.New("charging session failed to start in time allotted")

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
