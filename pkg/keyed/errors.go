package keyed

import "github.com/zeebo/errs"

var (
	// Error is the class of misuse errors raised by this package.
	Error = errs.Class("keyed")
	// ErrKeyDecode marks a stored value that does not decode with its key's codec.
	ErrKeyDecode = errs.Class("key decode")
	// ErrDuplicateKey is returned when a name is declared twice for one owner.
	ErrDuplicateKey = errs.Class("duplicate key")
)
