package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
)

var _ store.Backend = (*DocumentStore)(nil)

// DocumentStoreConfig holds configuration for the PostgreSQL document store.
type DocumentStoreConfig struct {
	PoolConfig

	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool

	// QueryTimeout bounds each query. Zero leaves it to the request context.
	// Default: 10 seconds
	QueryTimeout time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *DocumentStoreConfig) ApplyDefaults() {
	c.PoolConfig.ApplyDefaults()
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}

// DocumentStore keeps documents as rows of the documents table.
//
// Commit is a conditional UPDATE on the stored fingerprint, or an INSERT
// guarded by the primary key for the first write, so servers sharing a
// database cannot overwrite each other.
type DocumentStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewDocumentStore connects to PostgreSQL and optionally runs migrations.
func NewDocumentStore(ctx context.Context, cfg *DocumentStoreConfig) (*DocumentStore, error) {
	cfg.ApplyDefaults()

	pool, err := NewPool(ctx, &cfg.PoolConfig)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return NewDocumentStoreWithPool(pool, cfg.QueryTimeout), nil
}

// NewDocumentStoreWithPool creates a document store on an existing pool.
func NewDocumentStoreWithPool(pool *pgxpool.Pool, timeout time.Duration) *DocumentStore {
	return &DocumentStore{pool: pool, timeout: timeout}
}

// Close closes the connection pool.
func (s *DocumentStore) Close() {
	s.pool.Close()
}

func (s *DocumentStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *DocumentStore) Exists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", mapPostgresError(err))
	}
	return exists, nil
}

// Open reads the content and its fingerprint from the same row version.
// Rows written without a fingerprint are hashed by the database in the same
// statement.
func (s *DocumentStore) Open(ctx context.Context, name string) (*store.Object, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		content     []byte
		fingerprint string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT content, COALESCE(NULLIF(fingerprint, ''), upper(encode(sha256(content), 'hex')))
		FROM documents
		WHERE name = $1
	`, name).Scan(&content, &fingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", mapPostgresError(err))
	}

	return &store.Object{
		Body:        io.NopCloser(bytes.NewReader(content)),
		Fingerprint: fingerprint,
	}, nil
}

func (s *DocumentStore) CachedFingerprint(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var fingerprint *string
	err := s.pool.QueryRow(ctx, `SELECT fingerprint FROM documents WHERE name = $1`, name).Scan(&fingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get fingerprint: %w", mapPostgresError(err))
	}

	if fingerprint == nil || *fingerprint == "" {
		return "", false, nil
	}
	return *fingerprint, true, nil
}

// Stage buffers the body in memory; the HTTP layer caps its size.
func (s *DocumentStore) Stage(ctx context.Context, name string, r io.Reader) (store.Staged, error) {
	var buf bytes.Buffer
	hw := store.NewHashingWriter(&buf)
	if _, err := store.CopyBuffer(hw, store.ContextReader(ctx, r)); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &staged{
		store:       s,
		name:        name,
		content:     buf.Bytes(),
		fingerprint: hw.Fingerprint(),
	}, nil
}

type staged struct {
	store       *DocumentStore
	name        string
	content     []byte
	fingerprint string
}

func (st *staged) Fingerprint() string { return st.fingerprint }

func (st *staged) Size() int64 { return int64(len(st.content)) }

func (st *staged) Commit(ctx context.Context, expected string) error {
	ctx, cancel := st.store.withTimeout(ctx)
	defer cancel()

	if expected == "" {
		return st.insert(ctx)
	}
	return st.update(ctx, expected)
}

func (st *staged) insert(ctx context.Context) error {
	_, err := st.store.pool.Exec(ctx, `
		INSERT INTO documents (name, content, fingerprint, size)
		VALUES ($1, $2, $3, $4)
	`, st.name, st.content, st.fingerprint, len(st.content))
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().Str("name", st.name).Str("fingerprint", st.fingerprint).Msg("Document inserted")
	return nil
}

// update matches rows without a stored fingerprint by hashing the content
// in the database.
func (st *staged) update(ctx context.Context, expected string) error {
	tag, err := st.store.pool.Exec(ctx, `
		UPDATE documents
		SET content = $2, fingerprint = $3, size = $4, updated_at = now()
		WHERE name = $1
		  AND (fingerprint = $5
		       OR (fingerprint IS NULL AND upper(encode(sha256(content), 'hex')) = $5))
	`, st.name, st.content, st.fingerprint, len(st.content), expected)
	if err != nil {
		return mapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s no longer has fingerprint %s", store.ErrConflict, st.name, expected)
	}

	log.Debug().Str("name", st.name).Str("fingerprint", st.fingerprint).Msg("Document updated")
	return nil
}

func (st *staged) Discard() error {
	st.content = nil
	return nil
}
