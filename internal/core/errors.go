package core

import "github.com/zeebo/errs"

var (
	// Error is the class of storage service errors.
	Error = errs.Class("core")
	// ErrNotFound is returned when a load finds no stored document.
	ErrNotFound = errs.Class("not found")
	// ErrInvalidated is returned by a load that was overtaken by an
	// invalidation and has no cached record to fall back to.
	ErrInvalidated = errs.Class("invalidated")
	// ErrClosed is returned once the service has stopped accepting work.
	ErrClosed = errs.Class("closed")
)
