package commands

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/cmd/cli/internal/profile"
	"github.com/wolfeidau/ausgabenzettel/internal/client"
)

type Globals struct {
	Debug      bool
	Version    string
	Connection ConnectionFlags

	// Stdout receives command output, os.Stdout when nil.
	Stdout io.Writer
}

// ConnectionFlags select the server and the client identity. Values left
// empty are taken from the profile.
type ConnectionFlags struct {
	Profile  string        `help:"client profile (default: ~/.config/ausgabenzettel/client.yaml)" type:"path" env:"AUSGABENZETTEL_PROFILE"`
	Server   string        `help:"server URL" env:"AUSGABENZETTEL_SERVER"`
	Cert     string        `help:"client certificate" type:"path" env:"AUSGABENZETTEL_CLIENT_CERT"`
	Key      string        `help:"client private key" type:"path" env:"AUSGABENZETTEL_CLIENT_KEY"`
	CA       string        `help:"CA bundle the server certificate chains to" type:"path" env:"AUSGABENZETTEL_SERVER_CA"`
	CacheDir string        `help:"HTTP cache directory, in memory when unset" type:"path" env:"AUSGABENZETTEL_CACHE_DIR"`
	Timeout  time.Duration `help:"request timeout" default:"1m"`
	Retries  uint          `help:"retries for failed requests and lost write races" default:"3"`
}

// SetupLogging sends console logs to stderr so stdout carries only command
// output.
func SetupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout != nil {
		return g.Stdout
	}
	return os.Stdout
}

// clientConfig merges the flags over the profile.
func (g *Globals) clientConfig() (client.Config, error) {
	path := g.Connection.Profile
	if path == "" {
		var err error
		if path, err = profile.DefaultPath(); err != nil {
			return client.Config{}, err
		}
	}

	p, err := profile.Load(path)
	if err != nil {
		return client.Config{}, err
	}

	cfg := client.DefaultConfig()
	cfg.ServerURL = firstNonEmpty(g.Connection.Server, p.Server, cfg.ServerURL)
	cfg.CertFile = firstNonEmpty(g.Connection.Cert, p.Cert)
	cfg.KeyFile = firstNonEmpty(g.Connection.Key, p.Key)
	cfg.CAFile = firstNonEmpty(g.Connection.CA, p.CA)
	cfg.CacheDir = firstNonEmpty(g.Connection.CacheDir, p.CacheDir)
	cfg.Timeout = g.Connection.Timeout
	cfg.Retries = g.Connection.Retries

	return cfg, nil
}

func (g *Globals) newClient() (*client.Client, error) {
	cfg, err := g.clientConfig()
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("server", cfg.ServerURL).
		Str("cert", cfg.CertFile).
		Str("ca", cfg.CAFile).
		Msg("Connecting")

	return client.New(cfg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
