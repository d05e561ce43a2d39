package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/ausgabenzettel/cmd/cli/internal/profile"
	"github.com/wolfeidau/ausgabenzettel/internal/certs"
	"github.com/wolfeidau/ausgabenzettel/internal/client"
	"github.com/wolfeidau/ausgabenzettel/internal/document"
	"github.com/wolfeidau/ausgabenzettel/internal/server"
	"github.com/wolfeidau/ausgabenzettel/internal/store/memory"
)

func newBootstrapCmd(dir string) *BootstrapCmd {
	return &BootstrapCmd{
		OutputDir:     dir,
		Hosts:         []string{"localhost", "127.0.0.1"},
		ClientName:    "editor",
		CAValidity:    365 * 24 * time.Hour,
		LeafValidity:  30 * 24 * time.Hour,
		ProfileServer: "https://localhost:3000",
	}
}

func bootstrap(t *testing.T, globals *Globals) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, newBootstrapCmd(dir).Run(context.Background(), globals))
	return dir
}

func TestBootstrapCmd_Run(t *testing.T) {
	var out bytes.Buffer
	dir := bootstrap(t, &Globals{Stdout: &out})

	for _, name := range []string{"ca.cer", "ca.key", "server.cer", "server.key", "client.cer", "client.key"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}
	assert.Contains(t, out.String(), "--client-ca "+filepath.Join(dir, "ca.cer"))

	// the generated material is accepted by the server
	certPEM, _ := os.ReadFile(filepath.Join(dir, "server.cer"))
	keyPEM, _ := os.ReadFile(filepath.Join(dir, "server.key"))
	caPEM, _ := os.ReadFile(filepath.Join(dir, "ca.cer"))
	_, err := certs.Load(certPEM, keyPEM, caPEM)
	require.NoError(t, err)
}

func TestBootstrapCmd_ReusesValidCertificates(t *testing.T) {
	dir := bootstrap(t, &Globals{Stdout: &bytes.Buffer{}})

	before, err := os.ReadFile(filepath.Join(dir, "client.cer"))
	require.NoError(t, err)

	require.NoError(t, newBootstrapCmd(dir).Run(context.Background(), &Globals{Stdout: &bytes.Buffer{}}))

	after, err := os.ReadFile(filepath.Join(dir, "client.cer"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	cmd := newBootstrapCmd(dir)
	cmd.Force = true
	require.NoError(t, cmd.Run(context.Background(), &Globals{Stdout: &bytes.Buffer{}}))

	forced, err := os.ReadFile(filepath.Join(dir, "client.cer"))
	require.NoError(t, err)
	assert.NotEqual(t, before, forced)
}

func TestBootstrapCmd_RotatesLeavesWithCA(t *testing.T) {
	dir := bootstrap(t, &Globals{Stdout: &bytes.Buffer{}})

	before, err := os.ReadFile(filepath.Join(dir, "server.cer"))
	require.NoError(t, err)

	// losing the CA key forces a new CA and with it new leaves
	require.NoError(t, os.Remove(filepath.Join(dir, "ca.key")))
	require.NoError(t, newBootstrapCmd(dir).Run(context.Background(), &Globals{Stdout: &bytes.Buffer{}}))

	after, err := os.ReadFile(filepath.Join(dir, "server.cer"))
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestBootstrapCmd_SaveProfile(t *testing.T) {
	profilePath := filepath.Join(t.TempDir(), "client.yaml")
	globals := &Globals{Stdout: &bytes.Buffer{}, Connection: ConnectionFlags{Profile: profilePath}}

	dir := t.TempDir()
	cmd := newBootstrapCmd(dir)
	cmd.SaveProfile = true
	require.NoError(t, cmd.Run(context.Background(), globals))

	p, err := profile.Load(profilePath)
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:3000", p.Server)
	assert.Equal(t, filepath.Join(dir, "client.cer"), p.Cert)
	assert.Equal(t, filepath.Join(dir, "ca.cer"), p.CA)
}

func TestValidateCertificate(t *testing.T) {
	v, err := validateCertificate(filepath.Join(t.TempDir(), "missing.cer"), time.Hour)
	require.NoError(t, err)
	assert.False(t, v.Exists)
	assert.True(t, v.ShouldRotate)

	dir := bootstrap(t, &Globals{Stdout: &bytes.Buffer{}})

	v, err = validateCertificate(filepath.Join(dir, "client.cer"), time.Hour)
	require.NoError(t, err)
	assert.True(t, v.Exists)
	assert.False(t, v.ShouldRotate)
	assert.Equal(t, 29, v.DaysRemaining)

	v, err = validateCertificate(filepath.Join(dir, "client.cer"), 60*24*time.Hour)
	require.NoError(t, err)
	assert.True(t, v.ShouldRotate)

	_, err = validateCertificate(filepath.Join(dir, "client.key"), time.Hour)
	require.Error(t, err)
}

func TestGlobals_clientConfig(t *testing.T) {
	profilePath := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, profile.Save(profilePath, &profile.Profile{
		Server: "https://docs.example.com",
		Cert:   "/profile/client.cer",
		Key:    "/profile/client.key",
		CA:     "/profile/ca.cer",
	}))

	g := &Globals{Connection: ConnectionFlags{
		Profile: profilePath,
		Cert:    "/flag/client.cer",
		Timeout: time.Second,
		Retries: 7,
	}}

	cfg, err := g.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com", cfg.ServerURL)
	assert.Equal(t, "/flag/client.cer", cfg.CertFile)
	assert.Equal(t, "/profile/client.key", cfg.KeyFile)
	assert.Equal(t, "/profile/ca.cer", cfg.CAFile)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, uint(7), cfg.Retries)
}

func TestGlobals_clientConfigWithoutProfile(t *testing.T) {
	g := &Globals{Connection: ConnectionFlags{Profile: filepath.Join(t.TempDir(), "none.yaml")}}

	cfg, err := g.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, client.DefaultConfig().ServerURL, cfg.ServerURL)
}

// startServer runs the document server with the bootstrapped material and
// returns globals that connect to it as the bootstrapped client.
func startServer(t *testing.T) (*Globals, *bytes.Buffer) {
	t.Helper()
	dir := bootstrap(t, &Globals{Stdout: &bytes.Buffer{}})

	certPEM, err := os.ReadFile(filepath.Join(dir, "server.cer"))
	require.NoError(t, err)
	keyPEM, err := os.ReadFile(filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.cer"))
	require.NoError(t, err)

	tlsConfig, err := certs.Load(certPEM, keyPEM, caPEM)
	require.NoError(t, err)

	h, err := server.New(document.NewStore(memory.NewDocumentStore()), server.Config{DefaultBody: []byte("<p>empty</p>")})
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(h)
	ts.TLS = tlsConfig
	ts.StartTLS()
	t.Cleanup(ts.Close)

	out := &bytes.Buffer{}
	return &Globals{
		Stdout: out,
		Connection: ConnectionFlags{
			Profile: filepath.Join(dir, "no-profile.yaml"),
			Server:  ts.URL,
			Cert:    filepath.Join(dir, "client.cer"),
			Key:     filepath.Join(dir, "client.key"),
			CA:      filepath.Join(dir, "ca.cer"),
			Timeout: 10 * time.Second,
			Retries: 1,
		},
	}, out
}

func TestDocumentCommands(t *testing.T) {
	globals, out := startServer(t)
	ctx := context.Background()

	require.NoError(t, (&HeadCmd{}).Run(ctx, globals))
	assert.Equal(t, "EMPTY\n", out.String())

	out.Reset()
	require.NoError(t, (&GetCmd{}).Run(ctx, globals))
	assert.Equal(t, "<p>empty</p>", out.String())

	file := filepath.Join(t.TempDir(), "doc.html")
	require.NoError(t, os.WriteFile(file, []byte("<p>v1</p>"), 0600))

	out.Reset()
	require.NoError(t, (&PutCmd{File: file, IfMatch: "EMPTY"}).Run(ctx, globals))
	fingerprint := strings.TrimSpace(out.String())
	assert.Len(t, fingerprint, 64)

	// replaying the stale fingerprint is refused
	err := (&PutCmd{File: file, IfMatch: "EMPTY"}).Run(ctx, globals)
	require.ErrorIs(t, err, client.ErrConflict)
	assert.Contains(t, err.Error(), "--latest")

	require.NoError(t, os.WriteFile(file, []byte("<p>v2</p>"), 0600))
	out.Reset()
	require.NoError(t, (&PutCmd{File: file, Latest: true}).Run(ctx, globals))
	assert.NotEqual(t, fingerprint, strings.TrimSpace(out.String()))

	output := filepath.Join(t.TempDir(), "out.html")
	require.NoError(t, (&GetCmd{Output: output}).Run(ctx, globals))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "<p>v2</p>", string(data))
}

func TestPutCmd_MissingFile(t *testing.T) {
	err := (&PutCmd{File: filepath.Join(t.TempDir(), "missing.html"), Latest: true}).Run(context.Background(), &Globals{})
	require.ErrorContains(t, err, "failed to read")
}
