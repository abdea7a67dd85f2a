// Package dfs implements the Acorn DFS disk-image storage engine: the
// backing store, sector addressing, catalog codec, side model, validator,
// file operations and the double-sided Image container.
package dfs

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind is a coarse error taxonomy. It is not a type hierarchy - callers
// switch on Kind via errors.As/KindOf, matching the way the teacher corpus
// treats `log.Errorf`-wrapped errors as annotated strings rather than a zoo
// of concrete error types.
type Kind int

// Error kinds, matching the taxonomy of the engine's error-handling design.
const (
	KindIoError Kind = iota
	KindNotAnImage
	KindGeometryAmbiguous
	KindCatalogCorrupt
	KindValidationWarning
	KindAddressOutOfRange
	KindSectorOutOfRange
	KindNameInvalid
	KindNameTooLong
	KindDirInvalid
	KindExists
	KindNotFound
	KindLocked
	KindFull
	KindNoSpace
	KindOutOfMMBSlots
	KindSlotUninitialized
	KindIoDuringCompact
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindNotAnImage:
		return "NotAnImage"
	case KindGeometryAmbiguous:
		return "GeometryAmbiguous"
	case KindCatalogCorrupt:
		return "CatalogCorrupt"
	case KindValidationWarning:
		return "ValidationWarning"
	case KindAddressOutOfRange:
		return "AddressOutOfRange"
	case KindSectorOutOfRange:
		return "SectorOutOfRange"
	case KindNameInvalid:
		return "NameInvalid"
	case KindNameTooLong:
		return "NameTooLong"
	case KindDirInvalid:
		return "DirInvalid"
	case KindExists:
		return "Exists"
	case KindNotFound:
		return "NotFound"
	case KindLocked:
		return "Locked"
	case KindFull:
		return "Full"
	case KindNoSpace:
		return "NoSpace"
	case KindOutOfMMBSlots:
		return "OutOfMMBSlots"
	case KindSlotUninitialized:
		return "SlotUninitialized"
	case KindIoDuringCompact:
		return "IoDuringCompact"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type the engine returns. Kind lets callers
// branch on taxonomy without string-matching; Err carries the underlying
// cause (possibly a stack-capturing *goerrors.Error for the two kinds where
// a post-mortem stack is worth the allocation - see NewStacked).
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a formatted error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// NewStacked wraps cause in an error of the given kind, capturing a stack
// trace at the call site via go-errors. CatalogCorrupt and IoDuringCompact
// are the two kinds that show up only when something has gone wrong enough
// that a post-mortem stack is worth having - a corrupt catalog discovered
// mid-mutation, or a compaction aborted by a failed I/O - so those are the
// only two kinds that pay for it.
func NewStacked(kind Kind, cause error) error {
	return &Error{Kind: kind, Err: goerrors.Wrap(cause, 1)}
}

// KindOf extracts the Kind from an error produced by this package, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
