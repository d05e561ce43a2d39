package commands

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/cmd/cli/internal/profile"
	"github.com/wolfeidau/ausgabenzettel/internal/certs"
	"github.com/wolfeidau/ausgabenzettel/internal/pki"
)

const (
	caRotationThreshold   = 30 * 24 * time.Hour
	leafRotationThreshold = 7 * 24 * time.Hour
	clientCertFile        = "client.cer"
	clientKeyFile         = "client.key"
	caKeyFile             = "ca.key"
	caCommonName          = "Ausgabenzettel Development CA"
)

// BootstrapCmd generates a development CA with a server and a client
// certificate. Existing certificates are kept until they are close to expiry.
type BootstrapCmd struct {
	OutputDir     string        `help:"output directory for certificates" default:"./certs" type:"path"`
	Hosts         []string      `help:"DNS names and IP addresses of the server" default:"localhost,127.0.0.1"`
	ClientName    string        `help:"common name of the client certificate" default:"editor"`
	CAValidity    time.Duration `help:"validity of the CA certificate" default:"87600h"`
	LeafValidity  time.Duration `help:"validity of the server and client certificates" default:"8760h"`
	Force         bool          `help:"force regeneration of all certificates" default:"false"`
	SaveProfile   bool          `help:"save a client profile using the generated certificates" default:"false"`
	ProfileServer string        `help:"server URL written to the profile" default:"https://localhost:3000"`
}

// certificatePaths holds paths to generated certificates
type certificatePaths struct {
	caCert     string
	caKey      string
	serverCert string
	serverKey  string
	clientCert string
	clientKey  string
}

// CertValidation holds certificate validation results
type CertValidation struct {
	Path          string
	Exists        bool
	Expired       bool
	NotBefore     time.Time
	NotAfter      time.Time
	DaysRemaining int
	ShouldRotate  bool
}

// Run executes the bootstrap command
func (cmd *BootstrapCmd) Run(ctx context.Context, globals *Globals) error {
	log.Info().
		Str("output_dir", cmd.OutputDir).
		Strs("hosts", cmd.Hosts).
		Msg("Starting mTLS bootstrap")

	if err := os.MkdirAll(cmd.OutputDir, 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := cmd.certificatePaths()

	signer, rotated, err := cmd.ensureCA(paths)
	if err != nil {
		return fmt.Errorf("failed to ensure CA: %w", err)
	}

	if err := cmd.ensureLeaf("server", paths.serverCert, paths.serverKey, rotated, func() (*pki.Identity, error) {
		return pki.IssueServer(signer, cmd.Hosts, cmd.LeafValidity)
	}); err != nil {
		return fmt.Errorf("failed to ensure server certificate: %w", err)
	}

	if err := cmd.ensureLeaf("client", paths.clientCert, paths.clientKey, rotated, func() (*pki.Identity, error) {
		return pki.IssueClient(signer, cmd.ClientName, cmd.LeafValidity)
	}); err != nil {
		return fmt.Errorf("failed to ensure client certificate: %w", err)
	}

	if cmd.SaveProfile {
		if err := cmd.saveProfile(globals, paths); err != nil {
			return err
		}
	}

	out := globals.stdout()
	fmt.Fprintln(out, "Start the server with:")
	fmt.Fprintf(out, "  ausgabenzettel-server --cert %s --key %s --client-ca %s\n", paths.serverCert, paths.serverKey, paths.caCert)
	fmt.Fprintln(out, "Connect with:")
	fmt.Fprintf(out, "  ausgabenzettel --cert %s --key %s --ca %s get\n", paths.clientCert, paths.clientKey, paths.caCert)

	return nil
}

func (cmd *BootstrapCmd) certificatePaths() certificatePaths {
	return certificatePaths{
		caCert:     filepath.Join(cmd.OutputDir, certs.ClientCAFile),
		caKey:      filepath.Join(cmd.OutputDir, caKeyFile),
		serverCert: filepath.Join(cmd.OutputDir, certs.ServerCertFile),
		serverKey:  filepath.Join(cmd.OutputDir, certs.ServerKeyFile),
		clientCert: filepath.Join(cmd.OutputDir, clientCertFile),
		clientKey:  filepath.Join(cmd.OutputDir, clientKeyFile),
	}
}

// ensureCA loads the existing CA or creates a new one. rotated reports
// whether a new CA was created, which invalidates every issued certificate.
func (cmd *BootstrapCmd) ensureCA(paths certificatePaths) (signer pki.CASigner, rotated bool, err error) {
	validation, err := validateCertificate(paths.caCert, caRotationThreshold)
	if err != nil {
		return nil, false, err
	}

	if !cmd.Force && !validation.ShouldRotate && fileExists(paths.caKey) {
		log.Info().
			Int("days_remaining", validation.DaysRemaining).
			Msg("CA certificate is valid, reusing")

		signer, err := pki.NewFileSigner(paths.caKey, paths.caCert)
		if err != nil {
			return nil, false, err
		}
		return signer, false, nil
	}

	log.Info().Bool("exists", validation.Exists).Bool("expired", validation.Expired).Msg("Generating CA certificate")

	ca, fileSigner, err := pki.NewCA(caCommonName, cmd.CAValidity)
	if err != nil {
		return nil, false, err
	}
	if err := ca.Save(paths.caCert, paths.caKey); err != nil {
		return nil, false, err
	}

	return fileSigner, true, nil
}

func (cmd *BootstrapCmd) ensureLeaf(kind, certPath, keyPath string, caRotated bool, issue func() (*pki.Identity, error)) error {
	validation, err := validateCertificate(certPath, leafRotationThreshold)
	if err != nil {
		return err
	}

	if !cmd.Force && !caRotated && !validation.ShouldRotate && fileExists(keyPath) {
		log.Info().
			Str("kind", kind).
			Int("days_remaining", validation.DaysRemaining).
			Msg("Certificate is valid, reusing")
		return nil
	}

	id, err := issue()
	if err != nil {
		return err
	}
	if err := id.Save(certPath, keyPath); err != nil {
		return err
	}

	log.Info().
		Str("kind", kind).
		Str("subject", id.Certificate.Subject.CommonName).
		Time("not_after", id.Certificate.NotAfter).
		Str("path", certPath).
		Msg("Issued certificate")

	return nil
}

func (cmd *BootstrapCmd) saveProfile(globals *Globals, paths certificatePaths) error {
	path := globals.Connection.Profile
	if path == "" {
		var err error
		if path, err = profile.DefaultPath(); err != nil {
			return err
		}
	}

	abs := func(p string) string {
		if a, err := filepath.Abs(p); err == nil {
			return a
		}
		return p
	}

	if err := profile.Save(path, &profile.Profile{
		Server: cmd.ProfileServer,
		Cert:   abs(paths.clientCert),
		Key:    abs(paths.clientKey),
		CA:     abs(paths.caCert),
	}); err != nil {
		return err
	}

	log.Info().Str("path", path).Msg("Saved client profile")
	return nil
}

func validateCertificate(path string, rotationThreshold time.Duration) (*CertValidation, error) {
	validation := &CertValidation{Path: path}

	// Check if file exists
	if !fileExists(path) {
		validation.Exists = false
		validation.ShouldRotate = true
		return validation, nil
	}

	validation.Exists = true

	// Load and parse certificate
	cert, err := loadCertificate(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	now := time.Now()
	validation.NotBefore = cert.NotBefore
	validation.NotAfter = cert.NotAfter
	validation.DaysRemaining = int(time.Until(cert.NotAfter).Hours() / 24)

	// Check if expired
	if now.After(cert.NotAfter) {
		validation.Expired = true
		validation.ShouldRotate = true
		return validation, nil
	}

	// Check if within rotation threshold
	if time.Until(cert.NotAfter) < rotationThreshold {
		validation.ShouldRotate = true
	}

	return validation, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	return x509.ParseCertificate(block.Bytes)
}
