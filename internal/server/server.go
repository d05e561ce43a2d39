// Package server exposes a document over HTTPS for clients holding a
// certificate issued by the trusted CA.
package server

import (
	"fmt"
	"net/http"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/wolfeidau/ausgabenzettel/internal/document"
)

// DefaultMaxBodyBytes caps uploaded documents at 10 MiB.
const DefaultMaxBodyBytes = 10 << 20

// Config controls the document handler and the protections wrapped around it.
type Config struct {
	// DocumentName is the stored document served at "/".
	DocumentName string

	// DefaultBody is served until the first write. Defaults to a built in page.
	DefaultBody []byte

	// MaxBodyBytes caps the size of a PUT body.
	MaxBodyBytes int64

	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
}

func (c *Config) applyDefaults() {
	if c.DocumentName == "" {
		c.DocumentName = document.DefaultName
	}
	if c.DefaultBody == nil {
		c.DefaultBody = initialHTML
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// New returns the document handler wrapped with response compression,
// cross-origin request protection and optional CORS.
func New(store *document.Store, cfg Config) (http.Handler, error) {
	cfg.applyDefaults()

	if err := document.ValidateName(cfg.DocumentName); err != nil {
		return nil, fmt.Errorf("document %q: %w", cfg.DocumentName, err)
	}

	gzip, err := gzhttp.NewWrapper(
		gzhttp.MinSize(gzhttp.DefaultMinSize),
		gzhttp.ContentTypes([]string{"text/html"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip wrapper: %w", err)
	}

	// CSRF protection for browsers, CLI clients send no Origin or Sec-Fetch-Site
	protection := csrf.New()
	for _, origin := range cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid CORS origin %q: %w", origin, err)
		}
	}

	var handler http.Handler = NewHandler(store, cfg)
	handler = gzip(handler)
	handler = protection.Handler(handler)

	if len(cfg.CORSOrigins) > 0 {
		handler = withCORS(cfg.CORSOrigins, handler)
	}

	return handler, nil
}

// withCORS lets browser pages on the allowed origins read the ETag and send
// conditional writes.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPut},
		AllowedHeaders:   []string{"Content-Type", "If-Match", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true, // browsers present the client certificate
	})
	return middleware.Handler(h)
}
