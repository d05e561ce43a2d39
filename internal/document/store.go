// Package document implements conditional replacement of stored documents
// keyed on their content fingerprint.
//
// A writer must present the fingerprint of the version it last saw. The write
// is accepted only if that is still the current fingerprint, which makes every
// update a compare-and-set. Readers always receive content together with the
// fingerprint of exactly that content.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
	"github.com/wolfeidau/ausgabenzettel/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultName is the document served by the server.
	DefaultName = "current.html"

	// EmptyFingerprint is reported while no content has been written.
	EmptyFingerprint = "EMPTY"
)

// Snapshot is an opened document and the fingerprint of that content.
type Snapshot struct {
	Body        io.ReadCloser
	Fingerprint string
}

// Option configures a Store.
type Option func(*Store)

// WithEmptyFingerprint overrides the fingerprint reported for a document that
// has never been written.
func WithEmptyFingerprint(fingerprint string) Option {
	return func(s *Store) {
		s.empty = fingerprint
	}
}

// Store serializes compare-and-set writes per document name on top of a
// storage backend.
type Store struct {
	backend store.Backend
	empty   string
	locks   *lockTable
	hashing singleflight.Group
	metrics *telemetry.Metrics
}

// NewStore creates a document store over backend.
func NewStore(backend store.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		empty:   EmptyFingerprint,
		locks:   newLockTable(),
		metrics: telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmptyFingerprint returns the fingerprint reported for an unwritten document.
func (s *Store) EmptyFingerprint() string {
	return s.empty
}

// ReadFingerprint returns the fingerprint of the current content of name.
//
// An absent document reports the empty fingerprint. A cached fingerprint is
// trusted as is; otherwise the content is hashed.
func (s *Store) ReadFingerprint(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	s.metrics.FingerprintProbesTotal.Add(ctx, 1)

	return s.lockedFingerprint(ctx, name)
}

func (s *Store) lockedFingerprint(ctx context.Context, name string) (string, error) {
	l := s.locks.get(name)
	l.RLock()
	defer l.RUnlock()

	return s.fingerprint(ctx, name)
}

// ReadDocument opens the current content of name. ErrNotFound means nothing
// has been written yet and the caller should substitute its default body.
//
// The body and its fingerprint come from a single backend read, so they match
// even when another process commits concurrently. Streaming the body happens
// after the read lock is released.
func (s *Store) ReadDocument(ctx context.Context, name string) (*Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.metrics.DocumentReadsTotal.Add(ctx, 1)

	l := s.locks.get(name)
	l.RLock()
	defer l.RUnlock()

	obj, err := s.backend.Open(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, name, err)
	}

	if obj.Fingerprint != "" {
		return &Snapshot{Body: obj.Body, Fingerprint: obj.Fingerprint}, nil
	}

	// no stored fingerprint, hash exactly the bytes handed to the caller
	defer obj.Body.Close()

	var buf bytes.Buffer
	fingerprint, err := s.hash(ctx, name, &buf, obj.Body)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Body: io.NopCloser(&buf), Fingerprint: fingerprint}, nil
}

// WriteDocument replaces the content of name with body if precondition equals
// the current fingerprint, and returns the fingerprint of the new content.
//
// A nil precondition is rejected with ErrPreconditionMissing and a stale one
// with ErrPreconditionFailed, in both cases without reading body. The body is
// staged before the write lock is taken so slow uploads do not block readers;
// the fingerprint is checked again under the lock before the staged content is
// committed.
func (s *Store) WriteDocument(ctx context.Context, name string, precondition *string, body io.Reader) (fingerprint string, err error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "document.Write", trace.WithAttributes(attribute.String("document.name", name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := zerolog.Ctx(ctx).With().Str("document", name).Logger()

	if precondition == nil {
		s.metrics.PreconditionMissingTotal.Add(ctx, 1)
		logger.Warn().Msg("Write rejected, precondition missing")
		return "", ErrPreconditionMissing
	}

	current, err := s.lockedFingerprint(ctx, name)
	if err != nil {
		return "", err
	}
	if *precondition != current {
		s.metrics.PreconditionFailedTotal.Add(ctx, 1)
		logger.Warn().Str("precondition", *precondition).Str("current", current).Msg("Write rejected, precondition is stale")
		return "", fmt.Errorf("%w: expected %s", ErrPreconditionFailed, current)
	}

	started := time.Now()

	staged, err := s.backend.Stage(ctx, name, body)
	if err != nil {
		s.metrics.DocumentWriteErrorsTotal.Add(ctx, 1)
		return "", fmt.Errorf("%w: stage %s: %w", ErrStorage, name, err)
	}
	defer func() {
		if derr := staged.Discard(); derr != nil {
			logger.Warn().Err(derr).Msg("Failed to discard staged document")
		}
	}()

	l := s.locks.get(name)
	l.Lock()
	defer l.Unlock()

	current, err = s.fingerprint(ctx, name)
	if err != nil {
		return "", err
	}
	if *precondition != current {
		s.metrics.PreconditionFailedTotal.Add(ctx, 1)
		logger.Warn().Str("precondition", *precondition).Str("current", current).Msg("Write lost race, document changed while body was received")
		return "", fmt.Errorf("%w: expected %s", ErrPreconditionFailed, current)
	}

	expected := current
	if current == s.empty {
		expected = ""
	}

	if err := staged.Commit(ctx, expected); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.PreconditionFailedTotal.Add(ctx, 1)
			logger.Warn().Err(err).Msg("Write rejected by storage, document changed")
			return "", fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
		}
		s.metrics.DocumentWriteErrorsTotal.Add(ctx, 1)
		return "", fmt.Errorf("%w: commit %s: %w", ErrStorage, name, err)
	}

	s.metrics.DocumentWritesTotal.Add(ctx, 1)
	s.metrics.DocumentBytesWritten.Add(ctx, staged.Size())
	s.metrics.DocumentWriteDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	logger.Info().
		Str("previous", current).
		Str("fingerprint", staged.Fingerprint()).
		Int64("size", staged.Size()).
		Dur("duration", time.Since(started)).
		Msg("Document replaced")

	return staged.Fingerprint(), nil
}

// fingerprint must be called with the name's lock held.
func (s *Store) fingerprint(ctx context.Context, name string) (string, error) {
	exists, err := s.backend.Exists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", ErrStorage, name, err)
	}
	if !exists {
		return s.empty, nil
	}

	cached, ok, err := s.backend.CachedFingerprint(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: read fingerprint of %s: %w", ErrStorage, name, err)
	}
	if ok {
		return cached, nil
	}

	// concurrent readers of an uncached document share one pass over the
	// content, which must not fail because the caller that started it went away
	flightCtx := context.WithoutCancel(ctx)
	ch := s.hashing.DoChan(name, func() (any, error) {
		return s.recompute(flightCtx, name)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: fingerprint %s: %w", ErrStorage, name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Store) recompute(ctx context.Context, name string) (string, error) {
	obj, err := s.backend.Open(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return s.empty, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrStorage, name, err)
	}
	defer obj.Body.Close()

	// committed by another process since the cache was checked
	if obj.Fingerprint != "" {
		return obj.Fingerprint, nil
	}

	return s.hash(ctx, name, io.Discard, obj.Body)
}

// hash copies body to w while computing its fingerprint.
func (s *Store) hash(ctx context.Context, name string, w io.Writer, body io.Reader) (string, error) {
	started := time.Now()

	hw := store.NewHashingWriter(w)
	if _, err := store.CopyBuffer(hw, body); err != nil {
		return "", fmt.Errorf("%w: hash %s: %w", ErrStorage, name, err)
	}

	s.metrics.FingerprintRecomputed.Add(ctx, 1)
	s.metrics.FingerprintRecomputeTime.Record(ctx, float64(time.Since(started).Milliseconds()))

	zerolog.Ctx(ctx).Debug().
		Str("document", name).
		Str("fingerprint", hw.Fingerprint()).
		Int64("size", hw.Size()).
		Msg("Computed fingerprint from content")

	return hw.Fingerprint(), nil
}
