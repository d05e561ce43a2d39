package pki

import (
	"crypto/x509"
)

// CASigner signs certificate templates with a certificate authority key.
type CASigner interface {
	// SignCertificate signs a fully populated template and returns the
	// DER-encoded certificate. The template's PublicKey is the subject key.
	SignCertificate(template *x509.Certificate) ([]byte, error)

	// GetCACertificate returns the CA certificate used for chain building.
	GetCACertificate() (*x509.Certificate, error)
}
