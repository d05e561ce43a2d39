// Package certs builds the mutual TLS configuration the server listens with.
package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

const pemCertificate = "CERTIFICATE"

// NextProtos lists the negotiated application protocols in preference order.
var NextProtos = []string{"h2", "http/1.1"}

// Load builds a server TLS configuration from PEM encoded material: the
// server certificate chain (leaf first), exactly one private key, and the
// bundle of CAs client certificates must chain to.
//
// Clients that do not present a certificate verifiable against the bundle
// are rejected during the handshake. Any error aborts construction; a
// partial configuration is never returned.
func Load(certPEM, keyPEM, caPEM []byte) (*tls.Config, error) {
	chain, err := parseCertificates(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificateParse, err)
	}

	anchors, err := parseCertificates(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrustBundleParse, err)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	if err := matchesLeaf(chain[0], key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificateParse, err)
	}

	pool, err := trustPool(anchors)
	if err != nil {
		return nil, err
	}

	serverCert := tls.Certificate{
		PrivateKey: key,
		Leaf:       chain[0],
	}
	for _, c := range chain {
		serverCert.Certificate = append(serverCert.Certificate, c.Raw)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		NextProtos:   append([]string(nil), NextProtos...),
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// parseCertificates decodes every CERTIFICATE block in data. Blocks of other
// types are ignored.
func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemCertificate {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", len(certs)+1, err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("no PEM certificates found")
	}
	return certs, nil
}

// parsePrivateKey scans data for PEM blocks that decode as a private key in
// PKCS#8, PKCS#1 or SEC 1 form. Exactly one must decode.
func parsePrivateKey(data []byte) (crypto.Signer, error) {
	var keys []crypto.Signer

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == pemCertificate {
			continue
		}

		if key, ok := decodePrivateKey(block.Bytes); ok {
			keys = append(keys, key)
		}
	}

	switch len(keys) {
	case 0:
		return nil, ErrNoPrivateKey
	case 1:
		return keys[0], nil
	default:
		return nil, fmt.Errorf("%w: %d keys", ErrMultiplePrivateKeys, len(keys))
	}
}

func decodePrivateKey(der []byte) (crypto.Signer, bool) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, true
		case *ecdsa.PrivateKey:
			return k, true
		case ed25519.PrivateKey:
			return k, true
		}
		return nil, false
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, true
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, true
	}
	return nil, false
}

type publicKey interface {
	Equal(crypto.PublicKey) bool
}

func matchesLeaf(leaf *x509.Certificate, key crypto.Signer) error {
	pub, ok := key.Public().(publicKey)
	if !ok || !pub.Equal(leaf.PublicKey) {
		return fmt.Errorf("private key does not match certificate %q", leaf.Subject.CommonName)
	}
	return nil
}

// trustPool builds the client CA pool. An anchor that cannot sign client
// certificates would make every handshake fail, so it is rejected up front.
func trustPool(anchors []*x509.Certificate) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, c := range anchors {
		if c.PublicKeyAlgorithm == x509.UnknownPublicKeyAlgorithm {
			return nil, fmt.Errorf("%w: %q has an unsupported public key", ErrUntrustedAnchor, c.Subject.CommonName)
		}
		if !c.BasicConstraintsValid || !c.IsCA {
			return nil, fmt.Errorf("%w: %q is not a CA", ErrUntrustedAnchor, c.Subject.CommonName)
		}
		pool.AddCert(c)
	}
	return pool, nil
}
