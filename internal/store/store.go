package store

import (
	"context"
	"errors"
	"io"
)

// SidecarSuffix is appended to a document name to form the name of its
// persisted fingerprint.
const SidecarSuffix = ".sha256sum"

// Sentinel errors for common error conditions
var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document changed since it was read")
)

// Backend persists named documents together with a cached content fingerprint.
//
// Writes happen in two phases. Stage consumes the body and computes its
// fingerprint without making anything visible to readers, Commit publishes the
// staged content in full. Commit must refuse with ErrConflict when the stored
// fingerprint no longer equals expected ("" meaning the document must not exist)
// for backends shared between processes.
type Backend interface {
	// Exists reports whether content is stored under name.
	Exists(ctx context.Context, name string) (bool, error)

	// Open returns the stored content together with the fingerprint persisted
	// for that same content, or ErrNotFound. Both come from one read so a
	// commit by another process cannot pair old content with a new
	// fingerprint.
	Open(ctx context.Context, name string) (*Object, error)

	// CachedFingerprint returns the persisted fingerprint for name if one is
	// present. A missing cache entry is not an error.
	CachedFingerprint(ctx context.Context, name string) (string, bool, error)

	// Stage streams r into a pending write for name.
	Stage(ctx context.Context, name string, r io.Reader) (Staged, error)
}

// Object is opened content and the fingerprint stored with it.
type Object struct {
	Body io.ReadCloser

	// Fingerprint is empty when none is persisted for the content.
	Fingerprint string
}

// Staged is a fully received document that has not been published yet.
type Staged interface {
	// Fingerprint is the uppercase hex SHA-256 of the staged content.
	Fingerprint() string

	// Size is the number of bytes staged.
	Size() int64

	// Commit replaces the stored document and its fingerprint.
	Commit(ctx context.Context, expected string) error

	// Discard releases the pending write. It is safe to call after Commit.
	Discard() error
}
