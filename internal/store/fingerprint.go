package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// hashBufferSize is the chunk size content is streamed through while hashing.
const hashBufferSize = 32 * 1024

// EncodeFingerprint renders a digest as uppercase hex.
func EncodeFingerprint(sum []byte) string {
	return strings.ToUpper(hex.EncodeToString(sum))
}

// Fingerprint streams r through SHA-256 and returns the encoded digest and the
// number of bytes read.
func Fingerprint(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, hashBufferSize))
	if err != nil {
		return "", n, err
	}
	return EncodeFingerprint(h.Sum(nil)), n, nil
}

// HashingWriter tees everything written through it into a SHA-256 digest.
type HashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewHashingWriter wraps w.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	_, _ = hw.h.Write(p[:n]) // hash.Hash never returns an error
	hw.n += int64(n)
	return n, err
}

// Fingerprint returns the encoded digest of the bytes written so far.
func (hw *HashingWriter) Fingerprint() string {
	return EncodeFingerprint(hw.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (hw *HashingWriter) Size() int64 {
	return hw.n
}

// CopyBuffer copies r into w using the hashing chunk size.
func CopyBuffer(w io.Writer, r io.Reader) (int64, error) {
	return io.CopyBuffer(w, r, make([]byte, hashBufferSize))
}

// ContextReader wraps r so reads fail once ctx is done. Request bodies are
// staged through it so a cancelled request stops consuming input.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
