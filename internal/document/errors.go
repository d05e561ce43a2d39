package document

import "errors"

var (
	// ErrInvalidName indicates the document name is not a single safe path segment
	ErrInvalidName = errors.New("invalid document name")
	// ErrPreconditionMissing indicates a write was attempted without stating the fingerprint it replaces
	ErrPreconditionMissing = errors.New("precondition fingerprint missing")
	// ErrPreconditionFailed indicates the stated fingerprint is not the current one
	ErrPreconditionFailed = errors.New("precondition fingerprint does not match current document")
	// ErrStorage indicates the backend failed to read or persist the document
	ErrStorage = errors.New("document storage failure")
	// ErrNotFound indicates no content has been written yet
	ErrNotFound = errors.New("document not found")
)
