package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/ausgabenzettel/internal/client"
)

// GetCmd downloads the current document.
type GetCmd struct {
	Output string `help:"write the document to this file instead of stdout" short:"o" type:"path"`
}

func (c *GetCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := globals.newClient()
	if err != nil {
		return err
	}

	doc, err := cl.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	log.Info().Str("fingerprint", doc.Fingerprint).Int("size", len(doc.Body)).Bool("cached", doc.Cached).Msg("Fetched document")

	if c.Output == "" {
		_, err = globals.stdout().Write(doc.Body)
		return err
	}

	// #nosec G306 - documents are served to every client anyway
	if err := os.WriteFile(c.Output, doc.Body, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.Output, err)
	}
	return nil
}

// HeadCmd prints the fingerprint of the current document.
type HeadCmd struct{}

func (c *HeadCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := globals.newClient()
	if err != nil {
		return err
	}

	fingerprint, err := cl.Head(ctx)
	if err != nil {
		return fmt.Errorf("failed to read fingerprint: %w", err)
	}

	_, err = fmt.Fprintln(globals.stdout(), fingerprint)
	return err
}

// PutCmd uploads a document, replacing the version named by --if-match or,
// with --latest, whatever version is current.
type PutCmd struct {
	File    string `arg:"" help:"document to upload, - reads stdin"`
	IfMatch string `help:"fingerprint of the version being replaced" xor:"precondition" required:""`
	Latest  bool   `help:"replace the current version, retrying lost races" xor:"precondition" required:""`
}

func (c *PutCmd) Run(ctx context.Context, globals *Globals) error {
	body, err := c.read()
	if err != nil {
		return err
	}

	cl, err := globals.newClient()
	if err != nil {
		return err
	}

	var doc *client.Document
	if c.Latest {
		doc, err = cl.PutLatest(ctx, body)
	} else {
		doc, err = cl.Put(ctx, c.IfMatch, body)
	}

	if errors.Is(err, client.ErrConflict) {
		return fmt.Errorf("%w\n\nFetch the current version with get, or pass --latest to overwrite it", err)
	}
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}

	log.Info().Str("fingerprint", doc.Fingerprint).Int("size", len(doc.Body)).Msg("Saved document")

	_, err = fmt.Fprintln(globals.stdout(), doc.Fingerprint)
	return err
}

func (c *PutCmd) read() ([]byte, error) {
	if c.File == "-" {
		return io.ReadAll(os.Stdin)
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.File, err)
	}
	return data, nil
}
