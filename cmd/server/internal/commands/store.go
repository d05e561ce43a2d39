package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
	filesystemstore "github.com/wolfeidau/ausgabenzettel/internal/store/filesystem"
	memorystore "github.com/wolfeidau/ausgabenzettel/internal/store/memory"
	postgresstore "github.com/wolfeidau/ausgabenzettel/internal/store/postgres"
	s3store "github.com/wolfeidau/ausgabenzettel/internal/store/s3"
)

type S3StoreFlags struct {
	Bucket   string `help:"S3 bucket documents are stored in" env:"AUSGABENZETTEL_S3_BUCKET"`
	Region   string `help:"AWS region of the bucket" env:"AUSGABENZETTEL_S3_REGION"`
	Endpoint string `help:"custom S3 endpoint, for MinIO or LocalStack" env:"AUSGABENZETTEL_S3_ENDPOINT"`
	Prefix   string `help:"key prefix for stored documents" env:"AUSGABENZETTEL_S3_PREFIX"`
}

func (s *S3StoreFlags) validate() error {
	if s.Bucket == "" {
		return errors.New("S3 bucket is required (--s3-bucket or AUSGABENZETTEL_S3_BUCKET)")
	}
	return nil
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	QueryTimeout    time.Duration `help:"timeout for each query" default:"10s"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"AUSGABENZETTEL_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if s.MinConns > s.MaxConns {
		return fmt.Errorf("--postgres-min-conns (%d) exceeds --postgres-max-conns (%d)", s.MinConns, s.MaxConns)
	}
	return nil
}

// openBackend creates the configured storage backend and a function releasing
// it.
func (c *ServerCmd) openBackend(ctx context.Context) (store.Backend, func() error, error) {
	noop := func() error { return nil }

	switch c.StoreType {
	case "memory":
		log.Warn().Msg("Using in-memory document store, documents are lost on restart")
		return memorystore.NewDocumentStore(), noop, nil

	case "s3":
		cfg := s3store.Config{
			Bucket:   c.S3Store.Bucket,
			Region:   c.S3Store.Region,
			Endpoint: c.S3Store.Endpoint,
			Prefix:   c.S3Store.Prefix,
		}
		client, err := s3store.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		backend, err := s3store.NewDocumentStore(client, cfg)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("Using S3 document store")
		return backend, noop, nil

	case "postgres":
		backend, err := postgresstore.NewDocumentStore(ctx, &postgresstore.DocumentStoreConfig{
			PoolConfig: postgresstore.PoolConfig{
				ConnString:      c.PostgresStore.ConnString,
				MaxConns:        c.PostgresStore.MaxConns,
				MinConns:        c.PostgresStore.MinConns,
				MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
				MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			},
			AutoMigrate:  c.PostgresStore.AutoMigrate,
			QueryTimeout: c.PostgresStore.QueryTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		log.Info().Bool("auto_migrate", c.PostgresStore.AutoMigrate).Msg("Using PostgreSQL document store")
		return backend, func() error { backend.Close(); return nil }, nil

	default:
		dir := c.DataDir
		if dir == "" {
			dir = defaultDataDir()
		}
		backend, err := filesystemstore.NewDocumentStore(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open data directory: %w", err)
		}
		log.Info().Str("dir", backend.Dir()).Msg("Using filesystem document store")
		return backend, backend.Close, nil
	}
}

// defaultDataDir is $XDG_RUNTIME_DIR/ausgabenzettel, falling back to
// /var/lib/ausgabenzettel.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ausgabenzettel")
	}
	return filepath.Join("/var/lib", "ausgabenzettel")
}
