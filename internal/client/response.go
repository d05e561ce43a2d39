package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 512

// checkStatus returns nil for the expected status. Client errors other than
// 429 are permanent, everything else may be retried.
func checkStatus(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, strings.TrimSpace(string(msg)))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func readDocument(resp *http.Response) (*Document, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	return &Document{
		Body:        body,
		Fingerprint: parseETag(resp.Header.Get("ETag")),
		Cached:      fromCache(resp),
	}, nil
}

// parseETag strips the quotes from a strong entity tag.
func parseETag(etag string) string {
	etag = strings.TrimSpace(etag)
	if len(etag) >= 2 && strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`) {
		return etag[1 : len(etag)-1]
	}
	return etag
}
