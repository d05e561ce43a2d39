package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
)

func newTestStore(t *testing.T) (*DocumentStore, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "data")
	s, err := NewDocumentStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewDocumentStore_CreatesDirectory(t *testing.T) {
	_, dir := newTestStore(t)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestNewDocumentStore_RejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	_, err := NewDocumentStore(path)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestDocumentStore_CommitWritesSidecar(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	staged, err := s.Stage(ctx, "current.html", strings.NewReader("<p>hi</p>"))
	require.NoError(t, err)

	// nothing is visible before commit
	exists, err := s.Exists(ctx, "current.html")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, staged.Commit(ctx, ""))
	require.NoError(t, staged.Discard())

	require.ElementsMatch(t, []string{"current.html", "current.html.sha256sum"}, listDir(t, dir))

	content, err := os.ReadFile(filepath.Join(dir, "current.html"))
	require.NoError(t, err)
	require.Equal(t, "<p>hi</p>", string(content))

	sidecar, err := os.ReadFile(filepath.Join(dir, "current.html.sha256sum"))
	require.NoError(t, err)
	require.Equal(t, staged.Fingerprint(), string(sidecar))

	fp, ok, err := s.CachedFingerprint(ctx, "current.html")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, staged.Fingerprint(), fp)
}

func TestDocumentStore_ReplaceSwapsSidecar(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	first, err := s.Stage(ctx, "current.html", strings.NewReader("one"))
	require.NoError(t, err)
	require.NoError(t, first.Commit(ctx, ""))

	second, err := s.Stage(ctx, "current.html", strings.NewReader("two"))
	require.NoError(t, err)
	require.NoError(t, second.Commit(ctx, first.Fingerprint()))

	fp, ok, err := s.CachedFingerprint(ctx, "current.html")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.Fingerprint(), fp)

	require.ElementsMatch(t, []string{"current.html", "current.html.sha256sum"}, listDir(t, dir))
}

func TestDocumentStore_DiscardRemovesTemp(t *testing.T) {
	s, dir := newTestStore(t)

	staged, err := s.Stage(context.Background(), "current.html", strings.NewReader("abandoned"))
	require.NoError(t, err)
	require.Len(t, listDir(t, dir), 1)

	require.NoError(t, staged.Discard())
	require.Empty(t, listDir(t, dir))
}

func TestDocumentStore_FailedStageLeavesNoTemp(t *testing.T) {
	s, dir := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Stage(ctx, "current.html", strings.NewReader("never read"))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, listDir(t, dir))
}

func TestDocumentStore_CachedFingerprint(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.html"), []byte("by hand"), 0600))

	_, ok, err := s.CachedFingerprint(ctx, "current.html")
	require.NoError(t, err)
	require.False(t, ok, "missing sidecar")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.html.sha256sum"), []byte("  \n"), 0600))
	_, ok, err = s.CachedFingerprint(ctx, "current.html")
	require.NoError(t, err)
	require.False(t, ok, "blank sidecar")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.html.sha256sum"), []byte("ABC123\n"), 0600))
	fp, ok, err := s.CachedFingerprint(ctx, "current.html")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ABC123", fp)
}

func TestDocumentStore_OpenMissing(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	_, err := s.Open(ctx, "current.html")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0700))
	exists, err := s.Exists(ctx, "sub")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = s.Open(ctx, "sub")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDocumentStore_OpenStreamsContent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	staged, err := s.Stage(ctx, "current.html", strings.NewReader(strings.Repeat("x", 100_000)))
	require.NoError(t, err)
	require.EqualValues(t, 100_000, staged.Size())
	require.NoError(t, staged.Commit(ctx, ""))

	obj, err := s.Open(ctx, "current.html")
	require.NoError(t, err)
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.Len(t, data, 100_000)
	require.Equal(t, staged.Fingerprint(), obj.Fingerprint)
}

func TestDocumentStore_OpenReturnsSidecar(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.html"), []byte("by hand"), 0600))

	obj, err := s.Open(ctx, "current.html")
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	require.Empty(t, obj.Fingerprint, "missing sidecar")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.html.sha256sum"), []byte("ABC123\n"), 0600))

	obj, err = s.Open(ctx, "current.html")
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	require.Equal(t, "ABC123", obj.Fingerprint)
}

func TestDocumentStore_WriteSynced(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.writeSynced("fingerprint.tmp", []byte("ABC123")))

	data, err := os.ReadFile(filepath.Join(dir, "fingerprint.tmp"))
	require.NoError(t, err)
	require.Equal(t, "ABC123", string(data))

	info, err := os.Stat(filepath.Join(dir, "fingerprint.tmp"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// temp names are never reused, an existing file is an error
	require.ErrorIs(t, s.writeSynced("fingerprint.tmp", []byte("other")), os.ErrExist)

	data, err = os.ReadFile(filepath.Join(dir, "fingerprint.tmp"))
	require.NoError(t, err)
	require.Equal(t, "ABC123", string(data))
}

func TestDocumentStore_CommitLeavesNoSidecarTemp(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	first, err := s.Stage(ctx, "current.html", strings.NewReader("one"))
	require.NoError(t, err)
	require.NoError(t, first.Commit(ctx, ""))

	second, err := s.Stage(ctx, "current.html", strings.NewReader("two"))
	require.NoError(t, err)
	require.NoError(t, second.Commit(ctx, first.Fingerprint()))

	for _, name := range listDir(t, dir) {
		require.False(t, strings.HasSuffix(name, ".tmp"), "leftover %s", name)
	}

	sidecar, err := os.ReadFile(filepath.Join(dir, "current.html.sha256sum"))
	require.NoError(t, err)
	require.Equal(t, second.Fingerprint(), string(sidecar))
}
