package http

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/ausgabenzettel/internal/pki"
)

func issueClient(t *testing.T, cn string) *x509.Certificate {
	t.Helper()

	_, signer, err := pki.NewCA("Test CA", time.Hour)
	require.NoError(t, err)

	id, err := pki.IssueClient(signer, cn, time.Hour)
	require.NoError(t, err)
	return id.Certificate
}

func TestPeerMiddleware(t *testing.T) {
	cert := issueClient(t, "editor")

	var (
		peer Peer
		ok   bool
	)
	handler := PeerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, ok = PeerFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{cert}}}
	handler.ServeHTTP(httptest.NewRecorder(), r)

	sum := sha256.Sum256(cert.Raw)
	require.True(t, ok)
	require.Equal(t, "editor", peer.CommonName)
	require.Equal(t, cert.SerialNumber.Text(16), peer.Serial)
	require.Equal(t, base58.Encode(sum[:]), peer.Fingerprint)
}

func TestPeerMiddleware_noVerifiedChain(t *testing.T) {
	var ok bool
	handler := PeerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = PeerFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)
	require.False(t, ok)

	r.TLS = &tls.ConnectionState{}
	handler.ServeHTTP(httptest.NewRecorder(), r)
	require.False(t, ok)
}
