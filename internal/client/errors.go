package client

import "errors"

var (
	// ErrConflict is returned when the document changed since the fingerprint was read.
	ErrConflict = errors.New("document was changed by another writer")
	// ErrPreconditionRequired is returned when a write was sent without a fingerprint.
	ErrPreconditionRequired = errors.New("server requires the current fingerprint")
	// ErrUnexpectedStatus is returned for any other non-success response.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)
