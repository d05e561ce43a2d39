package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/internal/certs"
	"github.com/wolfeidau/ausgabenzettel/internal/document"
	httpmiddleware "github.com/wolfeidau/ausgabenzettel/internal/http"
	"github.com/wolfeidau/ausgabenzettel/internal/logger"
	"github.com/wolfeidau/ausgabenzettel/internal/server"
	"github.com/wolfeidau/ausgabenzettel/internal/telemetry"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTPS listen address" default:"127.0.0.1:3000" env:"AUSGABENZETTEL_LISTENING"`

	// Trust material, located in the user and system config directories when unset
	Cert        string `help:"path to the server certificate chain" default:"" env:"AUSGABENZETTEL_TLS_CERT"`
	Key         string `help:"path to the server private key" default:"" env:"AUSGABENZETTEL_TLS_KEY"`
	ClientCA    string `help:"path to the CA bundle client certificates must chain to" default:"" env:"AUSGABENZETTEL_CLIENT_CA"`
	CertsBucket string `help:"S3 bucket holding server.cer, server.key and ca.cer" default:"" env:"AUSGABENZETTEL_CERTS_BUCKET"`

	// Document configuration
	Document     string `help:"name of the served document" default:"current.html" env:"AUSGABENZETTEL_DOCUMENT"`
	Initial      string `help:"file served until the first write, a built in page when unset" default:"" type:"path" env:"AUSGABENZETTEL_INITIAL"`
	MaxBodyBytes int64  `help:"maximum size of an uploaded document in bytes" default:"10485760" env:"AUSGABENZETTEL_MAX_BODY_BYTES"`

	// Browser and client protections
	CORSOrigins       []string `help:"allowed CORS origins, CORS is disabled when empty" env:"AUSGABENZETTEL_CORS_ORIGINS"`
	WriteRate         float64  `help:"writes per second allowed per client certificate, 0 disables limiting" default:"0" env:"AUSGABENZETTEL_WRITE_RATE"`
	WriteBurst        int      `help:"burst of writes allowed per client certificate" default:"5" env:"AUSGABENZETTEL_WRITE_BURST"`
	TrustProxyHeaders bool     `help:"take the client IP from X-Forwarded-For and X-Real-IP" default:"false" env:"AUSGABENZETTEL_TRUST_PROXY_HEADERS"`

	// Development and operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"AUSGABENZETTEL_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type" default:"filesystem" env:"AUSGABENZETTEL_STORE_TYPE" enum:"filesystem,memory,s3,postgres"`
	DataDir       string             `help:"directory documents are stored in by the filesystem store" default:"" type:"path" env:"AUSGABENZETTEL_DATA_DIR"`
	S3Store       S3StoreFlags       `embed:"" prefix:"s3-"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

// Validate checks flag combinations kong cannot express.
func (c *ServerCmd) Validate() error {
	if err := document.ValidateName(c.Document); err != nil {
		return fmt.Errorf("--document %q: %w", c.Document, err)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("--max-body-bytes must be positive")
	}
	if c.WriteRate < 0 {
		return errors.New("--write-rate must not be negative")
	}

	switch c.StoreType {
	case "s3":
		return c.S3Store.validate()
	case "postgres":
		return c.PostgresStore.validate()
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log, err := logger.Setup(globals.Debug, globals.LogLevel)
	if err != nil {
		return err
	}
	setGlobalLogger(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{Version: globals.Version})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	tlsConfig, err := c.tlsConfig(ctx)
	if err != nil {
		return err
	}

	backend, closeBackend, err := c.openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	handler, err := c.handler(document.NewStore(backend), log)
	if err != nil {
		return err
	}

	srv := configureHTTPServer(c.Listen, handler, log)
	srv.TLSConfig = tlsConfig
	srv.BaseContext = func(net.Listener) context.Context { return ctx }
	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return fmt.Errorf("failed to configure http2: %w", err)
	}

	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Listen, err)
	}

	log.Info().Str("addr", ln.Addr().String()).Str("store", c.StoreType).Str("document", c.Document).Msg("Starting HTTPS server")

	return serve(ctx, srv, ln)
}

// handler builds the document handler and the middleware around it. Request
// logging runs inside the client IP and peer middleware so both are logged.
func (c *ServerCmd) handler(store *document.Store, log zerolog.Logger) (http.Handler, error) {
	var defaultBody []byte
	if c.Initial != "" {
		data, err := os.ReadFile(c.Initial)
		if err != nil {
			return nil, fmt.Errorf("failed to read initial document: %w", err)
		}
		defaultBody = data
	}

	h, err := server.New(store, server.Config{
		DocumentName: c.Document,
		DefaultBody:  defaultBody,
		MaxBodyBytes: c.MaxBodyBytes,
		CORSOrigins:  c.CORSOrigins,
	})
	if err != nil {
		return nil, err
	}

	return httpmiddleware.Chain(h,
		httpmiddleware.ClientIPMiddleware(c.TrustProxyHeaders),
		httpmiddleware.PeerMiddleware(),
		httpmiddleware.RequestLogger(log),
		httpmiddleware.WriteRateLimit(c.WriteRate, c.WriteBurst),
	), nil
}

// tlsConfig loads the trust material from S3 or from files. Paths not given
// on the command line are located in the config directories.
func (c *ServerCmd) tlsConfig(ctx context.Context) (*tls.Config, error) {
	cfg := certs.Config{
		ServerCertPath: c.Cert,
		ServerKeyPath:  c.Key,
		ClientCAPath:   c.ClientCA,
		Bucket:         c.CertsBucket,
	}

	if cfg.Bucket == "" && (cfg.ServerCertPath == "" || cfg.ServerKeyPath == "" || cfg.ClientCAPath == "") {
		userDir, err := certs.UserDir()
		if err != nil {
			log.Warn().Err(err).Msg("No user config directory, only the system directory is searched")
		}
		located, err := certs.Locate(userDir, certs.SystemDir)
		if err != nil {
			return nil, fmt.Errorf("failed to locate trust material: %w", err)
		}
		cfg.ServerCertPath = orDefault(cfg.ServerCertPath, located.ServerCertPath)
		cfg.ServerKeyPath = orDefault(cfg.ServerKeyPath, located.ServerKeyPath)
		cfg.ClientCAPath = orDefault(cfg.ClientCAPath, located.ClientCAPath)
	}

	material, err := certs.LoadMaterial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := material.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid trust material: %w", err)
	}

	log.Info().
		Str("cert", cfg.ServerCertPath).
		Str("client_ca", cfg.ClientCAPath).
		Str("bucket", cfg.Bucket).
		Msg("Loaded trust material")

	return tlsConfig, nil
}

// serve runs srv on ln until ctx is cancelled, then drains open requests.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func setGlobalLogger(l zerolog.Logger) {
	log.Logger = l
	zerolog.DefaultContextLogger = &l
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
