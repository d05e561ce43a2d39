package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/ausgabenzettel/internal/certs"
	"github.com/wolfeidau/ausgabenzettel/internal/document"
	"github.com/wolfeidau/ausgabenzettel/internal/pki"
	"github.com/wolfeidau/ausgabenzettel/internal/server"
	"github.com/wolfeidau/ausgabenzettel/internal/store/memory"
)

type testEnv struct {
	store  *document.Store
	server *httptest.Server
	config Config
}

// newTestEnv starts an mTLS document server and writes a client identity
// issued by the same CA into a temporary directory.
func newTestEnv(t *testing.T, wrap func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	dir := t.TempDir()

	ca, signer, err := pki.NewCA("Test CA", time.Hour)
	require.NoError(t, err)
	serverID, err := pki.IssueServer(signer, []string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)
	clientID, err := pki.IssueClient(signer, "editor", time.Hour)
	require.NoError(t, err)

	serverKey, err := serverID.KeyPEM()
	require.NoError(t, err)
	tlsConfig, err := certs.Load(serverID.CertificatePEM(), serverKey, ca.CertificatePEM())
	require.NoError(t, err)

	require.NoError(t, ca.Save(filepath.Join(dir, "ca.cer"), filepath.Join(dir, "ca.key")))
	require.NoError(t, clientID.Save(filepath.Join(dir, "client.cer"), filepath.Join(dir, "client.key")))

	s := document.NewStore(memory.NewDocumentStore())
	h, err := server.New(s, server.Config{})
	require.NoError(t, err)
	if wrap != nil {
		h = wrap(h)
	}

	ts := httptest.NewUnstartedServer(h)
	ts.TLS = tlsConfig
	ts.EnableHTTP2 = true
	ts.StartTLS()
	t.Cleanup(ts.Close)

	return &testEnv{
		store:  s,
		server: ts,
		config: Config{
			ServerURL: ts.URL,
			CertFile:  filepath.Join(dir, "client.cer"),
			KeyFile:   filepath.Join(dir, "client.key"),
			CAFile:    filepath.Join(dir, "ca.cer"),
			Timeout:   10 * time.Second,
			Retries:   2,
		},
	}
}

// interlope replaces the document the way a concurrent writer would.
func interlope(ctx context.Context, s *document.Store, content string) error {
	fp, err := s.ReadFingerprint(ctx, document.DefaultName)
	if err != nil {
		return err
	}
	_, err = s.WriteDocument(ctx, document.DefaultName, &fp, strings.NewReader(content))
	return err
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestClient_GetPutHead(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newTestClient(t, env.config)
	ctx := context.Background()

	doc, err := c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, document.EmptyFingerprint, doc.Fingerprint)
	require.NotEmpty(t, doc.Body)

	saved, err := c.Put(ctx, doc.Fingerprint, []byte("<p>hi</p>"))
	require.NoError(t, err)
	require.Equal(t, "<p>hi</p>", string(saved.Body))
	require.Len(t, saved.Fingerprint, 64)

	fp, err := c.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, saved.Fingerprint, fp)

	doc, err = c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, saved.Fingerprint, doc.Fingerprint)
	require.Equal(t, "<p>hi</p>", string(doc.Body))
}

func TestClient_PutConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newTestClient(t, env.config)
	ctx := context.Background()

	first, err := c.Put(ctx, document.EmptyFingerprint, []byte("first"))
	require.NoError(t, err)

	current, err := c.Put(ctx, document.EmptyFingerprint, []byte("second"))
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, first.Fingerprint, current.Fingerprint)
	require.Equal(t, "first", string(current.Body))
}

func TestClient_PutWithoutFingerprint(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newTestClient(t, env.config)

	current, err := c.Put(context.Background(), "", []byte("x"))
	require.ErrorIs(t, err, ErrPreconditionRequired)
	require.Equal(t, document.EmptyFingerprint, current.Fingerprint)
}

func TestClient_GetRevalidatesFromCache(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newTestClient(t, env.config)
	ctx := context.Background()

	_, err := c.Put(ctx, document.EmptyFingerprint, []byte("cached"))
	require.NoError(t, err)

	doc, err := c.Get(ctx)
	require.NoError(t, err)
	require.False(t, doc.Cached)

	doc, err = c.Get(ctx)
	require.NoError(t, err)
	require.True(t, doc.Cached)
	require.Equal(t, "cached", string(doc.Body))

	// a newer version is fetched again
	_, err = c.Put(ctx, doc.Fingerprint, []byte("changed"))
	require.NoError(t, err)

	doc, err = c.Get(ctx)
	require.NoError(t, err)
	require.False(t, doc.Cached)
	require.Equal(t, "changed", string(doc.Body))
}

func TestClient_PutLatestRetriesConflict(t *testing.T) {
	var (
		env   *testEnv
		raced atomic.Bool
	)

	// another writer gets in between the first probe and the first write
	env = newTestEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPut && raced.CompareAndSwap(false, true) {
				if err := interlope(r.Context(), env.store, "interloper"); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	})
	c := newTestClient(t, env.config)

	doc, err := c.PutLatest(context.Background(), []byte("mine"))
	require.NoError(t, err)
	require.True(t, raced.Load())
	require.Equal(t, "mine", string(doc.Body))
}

func TestClient_PutLatestGivesUp(t *testing.T) {
	var env *testEnv
	env = newTestEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPut {
				if err := interlope(r.Context(), env.store, time.Now().String()); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	})

	cfg := env.config
	cfg.Retries = 1
	c := newTestClient(t, cfg)

	_, err := c.PutLatest(context.Background(), []byte("mine"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestClient_UntrustedCertificateRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	other := newTestEnv(t, nil)

	cfg := env.config
	cfg.CertFile = other.config.CertFile
	cfg.KeyFile = other.config.KeyFile
	cfg.Retries = 0

	_, err := newTestClient(t, cfg).Head(context.Background())
	require.Error(t, err)
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(ts.Close)

	c := NewWithHTTPClient(ts.URL, ts.Client(), 3)

	_, err := c.Get(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.ErrorContains(t, err, "nope")
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_ServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("ETag", `"ABC"`)
	}))
	t.Cleanup(ts.Close)

	c := NewWithHTTPClient(ts.URL, ts.Client(), 1)

	fp, err := c.Head(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ABC", fp)
	require.Equal(t, int32(2), calls.Load())
}

func TestParseETag(t *testing.T) {
	require.Equal(t, "ABC", parseETag(`"ABC"`))
	require.Equal(t, "ABC", parseETag("ABC"))
	require.Equal(t, "", parseETag(""))
	require.Equal(t, `W/"ABC"`, parseETag(`W/"ABC"`))
}
