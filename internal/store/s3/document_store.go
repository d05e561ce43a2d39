// Package s3 stores documents as objects in an S3 bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
)

// metadataFingerprint is the user metadata key holding the content
// fingerprint, sent as x-amz-meta-sha256.
const metadataFingerprint = "sha256"

var _ store.Backend = (*DocumentStore)(nil)

// API is the subset of the S3 client used by DocumentStore.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for DocumentStore.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// DocumentStore keeps each document as the object <prefix><name> with its
// fingerprint in the object metadata.
//
// Commit uses S3 conditional writes, so several servers can share a bucket
// without overwriting each other.
type DocumentStore struct {
	client API
	bucket string
	prefix string
}

// NewClient builds an S3 client from the default AWS configuration chain.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}), nil
}

// NewDocumentStore creates an S3 backed document store.
func NewDocumentStore(client API, cfg Config) (*DocumentStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	return &DocumentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *DocumentStore) key(name string) *string {
	return aws.String(s.prefix + name)
}

// head returns nil output when the object does not exist.
func (s *DocumentStore) head(ctx context.Context, name string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(name),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3 head failed for %s: %w", name, err)
	}
	return out, nil
}

func (s *DocumentStore) Exists(ctx context.Context, name string) (bool, error) {
	out, err := s.head(ctx, name)
	if err != nil {
		return false, err
	}
	return out != nil, nil
}

// Open takes the fingerprint from the metadata of the same GetObject
// response, which S3 returns for one version of the object.
func (s *DocumentStore) Open(ctx context.Context, name string) (*store.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(name),
	})
	if isNotFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", name, err)
	}

	return &store.Object{
		Body:        out.Body,
		Fingerprint: out.Metadata[metadataFingerprint],
	}, nil
}

func (s *DocumentStore) CachedFingerprint(ctx context.Context, name string) (string, bool, error) {
	out, err := s.head(ctx, name)
	if err != nil || out == nil {
		return "", false, err
	}

	fingerprint, ok := out.Metadata[metadataFingerprint]
	if !ok || fingerprint == "" {
		return "", false, nil
	}
	return fingerprint, true, nil
}

func (s *DocumentStore) Stage(ctx context.Context, name string, r io.Reader) (store.Staged, error) {
	f, err := os.CreateTemp("", "ausgabenzettel-s3-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	st := &staged{store: s, name: name, spool: f}

	hw := store.NewHashingWriter(f)
	if _, err := store.CopyBuffer(hw, store.ContextReader(ctx, r)); err != nil {
		_ = st.Discard()
		return nil, fmt.Errorf("failed to spool body: %w", err)
	}

	st.fingerprint = hw.Fingerprint()
	st.size = hw.Size()

	return st, nil
}

type staged struct {
	store       *DocumentStore
	name        string
	spool       *os.File
	fingerprint string
	size        int64
	done        bool
}

func (st *staged) Fingerprint() string { return st.fingerprint }

func (st *staged) Size() int64 { return st.size }

// Commit uploads the spooled body conditionally on the object S3 currently
// holds, after checking that object still carries the expected fingerprint.
func (st *staged) Commit(ctx context.Context, expected string) error {
	if st.done {
		return errors.New("staged document already committed or discarded")
	}

	s := st.store

	current, err := s.head(ctx, st.name)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.key(st.name),
		ContentLength: aws.Int64(st.size),
		ContentType:   aws.String("text/html; charset=utf-8"),
		Metadata:      map[string]string{metadataFingerprint: st.fingerprint},
	}

	switch {
	case current == nil && expected != "":
		return fmt.Errorf("%w: %s was removed", store.ErrConflict, st.name)
	case current == nil:
		input.IfNoneMatch = aws.String("*")
	case expected == "":
		return fmt.Errorf("%w: %s already exists", store.ErrConflict, st.name)
	default:
		fingerprint, err := s.objectFingerprint(ctx, st.name, current)
		if err != nil {
			return err
		}
		if fingerprint != expected {
			return fmt.Errorf("%w: %s is now %s", store.ErrConflict, st.name, fingerprint)
		}
		input.IfMatch = current.ETag
	}

	if _, err := st.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spool file: %w", err)
	}
	input.Body = st.spool

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		return fmt.Errorf("s3 put failed for %s: %w", st.name, err)
	}

	log.Debug().
		Str("bucket", s.bucket).
		Str("name", st.name).
		Str("fingerprint", st.fingerprint).
		Int64("size", st.size).
		Msg("Document uploaded")

	return nil
}

// objectFingerprint reads the fingerprint from metadata, hashing the object
// when it was uploaded by something else.
func (s *DocumentStore) objectFingerprint(ctx context.Context, name string, head *s3.HeadObjectOutput) (string, error) {
	if fingerprint := head.Metadata[metadataFingerprint]; fingerprint != "" {
		return fingerprint, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     s.key(name),
		IfMatch: head.ETag,
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		return "", fmt.Errorf("s3 get failed for %s: %w", name, err)
	}
	defer func() { _ = out.Body.Close() }()

	fingerprint, _, err := store.Fingerprint(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return fingerprint, nil
}

func (st *staged) Discard() error {
	if st.done {
		return nil
	}
	st.done = true

	_ = st.spool.Close()
	if err := os.Remove(st.spool.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
