package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

const organization = "Ausgabenzettel"

// Identity is an issued certificate together with its private key.
type Identity struct {
	Certificate *x509.Certificate
	Key         *ecdsa.PrivateKey
}

// CertificatePEM returns the certificate as a PEM CERTIFICATE block.
func (i *Identity) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: i.Certificate.Raw,
	})
}

// KeyPEM returns the private key as a PEM EC PRIVATE KEY block.
func (i *Identity) KeyPEM() ([]byte, error) {
	keyBytes, err := x509.MarshalECPrivateKey(i.Key)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	}), nil
}

// Save writes the certificate and key PEM files with 0600 permissions.
func (i *Identity) Save(certPath, keyPath string) error {
	if err := os.WriteFile(certPath, i.CertificatePEM(), 0600); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}

	keyPEM, err := i.KeyPEM()
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	return nil
}

// NewCA generates a self-signed P-256 certificate authority.
func NewCA(commonName string, validity time.Duration) (*Identity, *FileSigner, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{organization},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	signer, err := newFileSigner(caCert, caKey)
	if err != nil {
		return nil, nil, err
	}

	return &Identity{Certificate: caCert, Key: caKey}, signer, nil
}

// IssueServer issues a server certificate valid for hosts, which may be DNS
// names or IP addresses.
func IssueServer(signer CASigner, hosts []string, validity time.Duration) (*Identity, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one host is required")
	}

	template := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   hosts[0],
			Organization: []string{organization},
		},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	return issue(signer, template, validity)
}

// IssueClient issues a client authentication certificate for commonName.
func IssueClient(signer CASigner, commonName string, validity time.Duration) (*Identity, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{organization},
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	return issue(signer, template, validity)
}

func issue(signer CASigner, template *x509.Certificate, validity time.Duration) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	template.SerialNumber = serialNumber
	template.NotBefore = time.Now().Add(-time.Minute)
	template.NotAfter = time.Now().Add(validity)
	template.PublicKey = &key.PublicKey

	der, err := signer.SignCertificate(template)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Identity{Certificate: cert, Key: key}, nil
}

func newSerialNumber() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}
