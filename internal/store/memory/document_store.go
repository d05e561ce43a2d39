package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/wolfeidau/ausgabenzettel/internal/store"
)

var _ store.Backend = (*DocumentStore)(nil)

type entry struct {
	content     []byte
	fingerprint string
	cached      bool
}

// DocumentStore is an in-memory implementation of store.Backend for development and testing
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*entry
}

// NewDocumentStore creates a new in-memory document store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[string]*entry),
	}
}

func (s *DocumentStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.docs[name]
	return ok, nil
}

func (s *DocumentStore) Open(ctx context.Context, name string) (*store.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.docs[name]
	if !ok {
		return nil, store.ErrNotFound
	}

	obj := &store.Object{
		// content slices are never mutated after commit, so readers can share them
		Body: io.NopCloser(bytes.NewReader(e.content)),
	}
	if e.cached {
		obj.Fingerprint = e.fingerprint
	}
	return obj, nil
}

func (s *DocumentStore) CachedFingerprint(ctx context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.docs[name]
	if !ok || !e.cached {
		return "", false, nil
	}
	return e.fingerprint, true, nil
}

// Seed stores content without a cached fingerprint, the same state a
// document edited outside the store is in.
func (s *DocumentStore) Seed(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[name] = &entry{content: bytes.Clone(content)}
}

func (s *DocumentStore) Stage(ctx context.Context, name string, r io.Reader) (store.Staged, error) {
	var buf bytes.Buffer
	hw := store.NewHashingWriter(&buf)
	if _, err := store.CopyBuffer(hw, store.ContextReader(ctx, r)); err != nil {
		return nil, err
	}

	return &staged{
		store: s,
		name:  name,
		entry: &entry{
			content:     buf.Bytes(),
			fingerprint: hw.Fingerprint(),
			cached:      true,
		},
	}, nil
}

type staged struct {
	store *DocumentStore
	name  string
	entry *entry
}

func (st *staged) Fingerprint() string { return st.entry.fingerprint }

func (st *staged) Size() int64 { return int64(len(st.entry.content)) }

func (st *staged) Commit(ctx context.Context, expected string) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[st.name]
	switch {
	case !ok && expected != "":
		return store.ErrConflict
	case ok && expected == "":
		return store.ErrConflict
	case ok:
		fingerprint := current.fingerprint
		if !current.cached {
			fingerprint, _, _ = store.Fingerprint(bytes.NewReader(current.content))
		}
		if fingerprint != expected {
			return store.ErrConflict
		}
	}

	s.docs[st.name] = st.entry
	return nil
}

func (st *staged) Discard() error { return nil }
