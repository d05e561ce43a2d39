package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
)

// ErrNotDirectory is returned when the data directory path exists but is not a directory.
var ErrNotDirectory = errors.New("data path is not a directory")

var _ store.Backend = (*DocumentStore)(nil)

// DocumentStore keeps each document as a file in a single directory with the
// fingerprint cached in a sidecar file next to it.
//
// New content is written to a temporary file and renamed into place so
// readers only ever open complete documents. Compare-and-set is left to the
// caller's lock as the directory is owned by one process.
type DocumentStore struct {
	dir  string
	root *os.Root
}

// NewDocumentStore opens dir, creating it with 0700 permissions when missing.
func NewDocumentStore(dir string) (*DocumentStore, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Info().Str("dir", dir).Msg("Created data directory")
	case err != nil:
		return nil, fmt.Errorf("failed to stat data directory: %w", err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}

	return &DocumentStore{dir: dir, root: root}, nil
}

// Dir returns the directory documents are stored in.
func (s *DocumentStore) Dir() string {
	return s.dir
}

// Close releases the directory handle.
func (s *DocumentStore) Close() error {
	return s.root.Close()
}

func (s *DocumentStore) Exists(ctx context.Context, name string) (bool, error) {
	info, err := s.root.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open returns the content with its sidecar. The pair is only consistent
// while the caller holds off commits to name, which the owning process does.
func (s *DocumentStore) Open(ctx context.Context, name string) (*store.Object, error) {
	f, err := s.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, store.ErrNotFound
	}

	fingerprint, _, err := s.CachedFingerprint(ctx, name)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &store.Object{Body: f, Fingerprint: fingerprint}, nil
}

func (s *DocumentStore) CachedFingerprint(ctx context.Context, name string) (string, bool, error) {
	data, err := s.root.ReadFile(name + store.SidecarSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	fingerprint := strings.TrimSpace(string(data))
	if fingerprint == "" {
		return "", false, nil
	}
	return fingerprint, true, nil
}

func (s *DocumentStore) Stage(ctx context.Context, name string, r io.Reader) (store.Staged, error) {
	tmp := tempName(name)

	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	log.Debug().Str("name", name).Str("tmp", tmp).Msg("Staging document body")

	hw := store.NewHashingWriter(f)
	if _, err := store.CopyBuffer(hw, store.ContextReader(ctx, r)); err != nil {
		_ = f.Close()
		s.removeQuietly(tmp)
		return nil, fmt.Errorf("failed to write body: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		s.removeQuietly(tmp)
		return nil, fmt.Errorf("failed to sync body: %w", err)
	}

	if err := f.Close(); err != nil {
		s.removeQuietly(tmp)
		return nil, fmt.Errorf("failed to close body: %w", err)
	}

	return &staged{
		store:       s,
		name:        name,
		tmp:         tmp,
		fingerprint: hw.Fingerprint(),
		size:        hw.Size(),
	}, nil
}

func (s *DocumentStore) removeQuietly(name string) {
	if err := s.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("name", name).Msg("Failed to remove temp file")
	}
}

// writeSynced creates name and flushes data to disk before closing it.
func (s *DocumentStore) writeSynced(name string, data []byte) error {
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// syncDir flushes directory entries so renames survive a crash.
func (s *DocumentStore) syncDir() error {
	d, err := s.root.Open(".")
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func tempName(name string) string {
	return "." + name + "." + uuid.NewString() + ".tmp"
}

type staged struct {
	store       *DocumentStore
	name        string
	tmp         string
	fingerprint string
	size        int64
	done        bool
}

func (st *staged) Fingerprint() string { return st.fingerprint }

func (st *staged) Size() int64 { return st.size }

// Commit publishes the staged file. The old sidecar is removed before the
// content is renamed so no reader can pair new content with an old
// fingerprint; a crash in between leaves a document without a sidecar, which
// readers recompute.
func (st *staged) Commit(ctx context.Context, expected string) error {
	if st.done {
		return errors.New("staged document already committed or discarded")
	}

	s := st.store
	sidecar := st.name + store.SidecarSuffix
	sidecarTmp := tempName(sidecar)

	if err := s.writeSynced(sidecarTmp, []byte(st.fingerprint)); err != nil {
		s.removeQuietly(sidecarTmp)
		return fmt.Errorf("failed to write fingerprint: %w", err)
	}

	if err := s.root.Remove(sidecar); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.removeQuietly(sidecarTmp)
		return fmt.Errorf("failed to remove stale fingerprint: %w", err)
	}

	if err := s.root.Rename(st.tmp, st.name); err != nil {
		s.removeQuietly(sidecarTmp)
		return fmt.Errorf("failed to publish document: %w", err)
	}
	st.done = true

	if err := s.root.Rename(sidecarTmp, sidecar); err != nil {
		// the stale sidecar is already gone, readers fall back to hashing the content
		log.Warn().Err(err).Str("name", st.name).Msg("Failed to publish fingerprint")
		s.removeQuietly(sidecarTmp)
	}

	if err := s.syncDir(); err != nil {
		log.Warn().Err(err).Str("dir", s.dir).Msg("Failed to sync data directory")
	}

	log.Debug().
		Str("name", st.name).
		Str("fingerprint", st.fingerprint).
		Int64("size", st.size).
		Msg("Document stored")

	return nil
}

func (st *staged) Discard() error {
	if st.done {
		return nil
	}
	st.done = true

	err := st.store.root.Remove(st.tmp)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
