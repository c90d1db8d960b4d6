package persistence

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

// ErrUnsupported is returned when a backend cannot serve a category. It is
// a capability signal, not a failure.
var ErrUnsupported = errors.New("persistence: unsupported by backend")

// Unsupported returns an error wrapping ErrUnsupported.
func Unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

// IsUnsupported reports whether err signals an unsupported category.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupported) }

var (
	// Error is the class of registry and decorator errors.
	Error = errs.Class("persistence")
	// ErrLoad marks a stored document that cannot be turned into a record.
	ErrLoad = errs.Class("load failure")
	// ErrDuplicateRegistration is returned when two factories share an id.
	ErrDuplicateRegistration = errs.Class("duplicate registration")
	// ErrUnknownFactory is returned when no factory is registered under an id.
	ErrUnknownFactory = errs.Class("unknown factory")
	// ErrInvalidID is returned for ids that cannot be stored safely.
	ErrInvalidID = errs.Class("invalid id")
)
