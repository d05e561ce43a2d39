package http

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"net/http"

	"github.com/mr-tron/base58"
)

const peerContextKey contextKey = "peer"

// Peer identifies the client certificate a request was made with.
type Peer struct {
	CommonName  string
	Serial      string
	Fingerprint string // base58 SHA-256 of the leaf certificate DER
}

// NewPeer describes a verified client certificate.
func NewPeer(cert *x509.Certificate) Peer {
	sum := sha256.Sum256(cert.Raw)
	return Peer{
		CommonName:  cert.Subject.CommonName,
		Serial:      cert.SerialNumber.Text(16),
		Fingerprint: base58.Encode(sum[:]),
	}
}

// PeerFromContext returns the peer stored by PeerMiddleware.
func PeerFromContext(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerContextKey).(Peer)
	return p, ok
}

// PeerMiddleware stores the verified client certificate identity in the
// request context. Requests over plain HTTP or without a verified chain pass
// through without a peer; the handler decides whether to refuse them.
func PeerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil && len(r.TLS.VerifiedChains) > 0 && len(r.TLS.VerifiedChains[0]) > 0 {
				peer := NewPeer(r.TLS.VerifiedChains[0][0])
				r = r.WithContext(context.WithValue(r.Context(), peerContextKey, peer))
			}
			next.ServeHTTP(w, r)
		})
	}
}
