package certs

import "errors"

var (
	// ErrCertificateParse indicates the server certificate chain could not be parsed
	ErrCertificateParse = errors.New("failed to parse server certificate")
	// ErrTrustBundleParse indicates the client CA bundle could not be parsed
	ErrTrustBundleParse = errors.New("failed to parse client CA bundle")
	// ErrNoPrivateKey indicates the key material contains no usable private key
	ErrNoPrivateKey = errors.New("no private key found")
	// ErrMultiplePrivateKeys indicates the key material contains more than one private key
	ErrMultiplePrivateKeys = errors.New("more than one private key found")
	// ErrUntrustedAnchor indicates a client CA certificate cannot act as a trust anchor
	ErrUntrustedAnchor = errors.New("client CA certificate cannot be used as a trust anchor")
	// ErrMaterialNotFound indicates a certificate or key file could not be located
	ErrMaterialNotFound = errors.New("trust material not found")
)
