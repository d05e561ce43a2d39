// Package client talks to an ausgabenzettel server over mutual TLS.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	CertFile  string
	KeyFile   string
	CAFile    string // CA that signed the server certificate, system roots when empty
	CacheDir  string // HTTP cache directory, in memory when empty
	Timeout   time.Duration
	Retries   uint
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "https://127.0.0.1:3000",
		Timeout:   time.Minute,
		Retries:   3,
	}
}

// Document is a document body together with the fingerprint the server
// reported for it.
type Document struct {
	Body        []byte
	Fingerprint string
	Cached      bool
}

// Client fetches and conditionally replaces the served document.
type Client struct {
	baseURL string
	http    *http.Client
	retries uint
}

// New creates a client presenting the configured certificate.
func New(cfg Config) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		data, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read server CA: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = roots
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}

	httpClient := &http.Client{
		Transport: newCachingTransport(transport, cfg.CacheDir),
		Timeout:   cfg.Timeout,
	}

	return NewWithHTTPClient(cfg.ServerURL, httpClient, cfg.Retries), nil
}

// NewWithHTTPClient creates a client using an already configured HTTP client.
func NewWithHTTPClient(serverURL string, httpClient *http.Client, retries uint) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/") + "/",
		http:    httpClient,
		retries: retries,
	}
}

// Head returns the current fingerprint without transferring the document.
func (c *Client) Head(ctx context.Context) (string, error) {
	return retry(ctx, c.retries, func() (string, error) {
		resp, err := c.do(ctx, http.MethodHead, "", nil)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, http.StatusOK); err != nil {
			return "", err
		}
		return parseETag(resp.Header.Get("ETag")), nil
	})
}

// Get returns the current document.
func (c *Client) Get(ctx context.Context) (*Document, error) {
	return retry(ctx, c.retries, func() (*Document, error) {
		resp, err := c.do(ctx, http.MethodGet, "", nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, http.StatusOK); err != nil {
			return nil, err
		}
		return readDocument(resp)
	})
}

// Put replaces the document if fingerprint is still current. On ErrConflict
// and ErrPreconditionRequired the returned document is the server's current
// version.
func (c *Client) Put(ctx context.Context, fingerprint string, body []byte) (*Document, error) {
	resp, err := c.do(ctx, http.MethodPut, fingerprint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return readDocument(resp)
	case http.StatusConflict:
		current, err := readDocument(resp)
		if err != nil {
			return nil, err
		}
		return current, fmt.Errorf("%w: current fingerprint is %s", ErrConflict, current.Fingerprint)
	case http.StatusNotAcceptable:
		current, err := readDocument(resp)
		if err != nil {
			return nil, err
		}
		return current, ErrPreconditionRequired
	default:
		return nil, checkStatus(resp, http.StatusOK)
	}
}

// PutLatest replaces whatever version is current. After a conflict the
// fingerprint is read again and the write retried, up to the configured
// number of retries.
func (c *Client) PutLatest(ctx context.Context, body []byte) (*Document, error) {
	attempt := 0
	return retry(ctx, c.retries, func() (*Document, error) {
		attempt++

		fingerprint, err := c.Head(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		doc, err := c.Put(ctx, fingerprint, body)
		if errors.Is(err, ErrConflict) {
			log.Debug().Int("attempt", attempt).Err(err).Msg("Write lost a race, retrying")
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return doc, nil
	})
}

func (c *Client) do(ctx context.Context, method, ifMatch string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", `"`+ifMatch+`"`)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/html; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, c.baseURL, err)
	}
	return resp, nil
}

// retry runs op with exponential backoff until it succeeds, returns a
// permanent error or has been tried retries+1 times.
func retry[T any](ctx context.Context, retries uint, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("next", next).Msg("Request failed, retrying")
		}),
	)
}
