package server

import (
	"bytes"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/ausgabenzettel/internal/document"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	allowedMethods  = "GET, HEAD, PUT"
)

//go:embed initial.html
var initialHTML []byte

// Handler serves a single document at "/" with fingerprint based
// conditional writes.
type Handler struct {
	store        *document.Store
	name         string
	defaultBody  []byte
	maxBodyBytes int64
}

// NewHandler creates the document handler. Zero values in cfg are replaced
// with their defaults.
func NewHandler(store *document.Store, cfg Config) *Handler {
	cfg.applyDefaults()
	return &Handler{
		store:        store,
		name:         cfg.DocumentName,
		defaultBody:  cfg.DefaultBody,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 {
		zerolog.Ctx(r.Context()).Warn().Msg("Request without a verified client certificate refused")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodHead:
		h.head(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		w.Header().Set("Allow", allowedMethods)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (h *Handler) head(w http.ResponseWriter, r *http.Request) {
	fingerprint, err := h.store.ReadFingerprint(r.Context(), h.name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("ETag", formatETag(fingerprint))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.writeCurrent(w, r, http.StatusOK)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	if r.ContentLength > h.maxBodyBytes {
		log.Warn().Int64("content_length", r.ContentLength).Int64("limit", h.maxBodyBytes).Msg("Request body too large")
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer body.Close()

	fingerprint, err := h.store.WriteDocument(r.Context(), h.name, parseIfMatch(r.Header), body)
	switch {
	case err == nil:
		log.Info().Str("fingerprint", fingerprint).Msg("Document saved")
		h.writeCurrent(w, r, http.StatusOK)
	case errors.Is(err, document.ErrPreconditionMissing):
		h.writeCurrent(w, r, http.StatusNotAcceptable)
	case errors.Is(err, document.ErrPreconditionFailed):
		h.writeCurrent(w, r, http.StatusConflict)
	default:
		h.fail(w, r, err)
	}
}

// writeCurrent responds with a fresh snapshot so the body always matches the
// ETag, even when another writer got in after this request's write.
func (h *Handler) writeCurrent(w http.ResponseWriter, r *http.Request, status int) {
	var (
		body        io.Reader
		fingerprint string
	)

	snap, err := h.store.ReadDocument(r.Context(), h.name)
	switch {
	case errors.Is(err, document.ErrNotFound):
		body = bytes.NewReader(h.defaultBody)
		fingerprint = h.store.EmptyFingerprint()
	case err != nil:
		h.fail(w, r, err)
		return
	default:
		defer snap.Body.Close()
		body = snap.Body
		fingerprint = snap.Fingerprint
	}

	etag := formatETag(fingerprint)
	w.Header().Set("Content-Type", contentTypeHTML)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if status == http.StatusOK && r.Method == http.MethodGet && noneMatch(r.Header, fingerprint) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(status)
	if _, err := io.Copy(w, body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to stream document")
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		log.Warn().Int64("limit", maxBytes.Limit).Msg("Request body too large")
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
	case errors.Is(err, document.ErrInvalidName):
		log.Warn().Err(err).Msg("Invalid document name")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("Document storage failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func formatETag(fingerprint string) string {
	return `"` + fingerprint + `"`
}

// parseIfMatch returns the fingerprint named by If-Match, or nil when the
// header is absent. Quoted and bare tags are accepted. Weak tags and "*" are
// passed through unchanged so they never equal a fingerprint.
func parseIfMatch(header http.Header) *string {
	values, ok := header["If-Match"]
	if !ok || len(values) == 0 {
		return nil
	}

	tag := strings.TrimSpace(values[0])
	if len(tag) >= 2 && strings.HasPrefix(tag, `"`) && strings.HasSuffix(tag, `"`) {
		tag = tag[1 : len(tag)-1]
	}
	return &tag
}

// noneMatch reports whether If-None-Match names fingerprint. Comparison is
// weak, so W/ prefixes are ignored.
func noneMatch(header http.Header, fingerprint string) bool {
	value := header.Get("If-None-Match")
	if value == "" {
		return false
	}

	for tag := range strings.SplitSeq(value, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" {
			return true
		}
		tag = strings.TrimPrefix(tag, "W/")
		tag = strings.Trim(tag, `"`)
		if tag == fingerprint {
			return true
		}
	}
	return false
}
