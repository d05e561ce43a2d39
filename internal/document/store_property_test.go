//go:build property
// +build property

package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/wolfeidau/ausgabenzettel/internal/store"
	"github.com/wolfeidau/ausgabenzettel/internal/store/memory"
)

// Property: a successful write reports the SHA-256 of exactly the bytes sent,
// and a read returns those bytes with that fingerprint.
func TestWriteThenReadRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("read returns what was written", prop.ForAll(
		func(content []byte) bool {
			s := NewStore(memory.NewDocumentStore())
			ctx := context.Background()

			fp, err := s.WriteDocument(ctx, DefaultName, ptr(EmptyFingerprint), bytes.NewReader(content))
			if err != nil {
				return false
			}
			sum := sha256.Sum256(content)
			if fp != store.EncodeFingerprint(sum[:]) {
				return false
			}

			snap, err := s.ReadDocument(ctx, DefaultName)
			if err != nil {
				return false
			}
			defer snap.Body.Close()

			got, err := io.ReadAll(snap.Body)
			return err == nil && bytes.Equal(got, content) && snap.Fingerprint == fp
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

// Property: over any sequence of writes, only those presenting the current
// fingerprint are applied and the store always matches the last accepted one.
func TestWriteSequenceMatchesModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("only current preconditions are applied", prop.ForAll(
		func(bodies []string, stale []bool) bool {
			s := NewStore(memory.NewDocumentStore())
			ctx := context.Background()

			model := EmptyFingerprint
			content := ""
			for i, body := range bodies {
				precondition := model
				if i < len(stale) && stale[i] {
					precondition = "STALE" + model
				}

				fp, err := s.WriteDocument(ctx, DefaultName, ptr(precondition), strings.NewReader(body))
				switch {
				case precondition == model && err == nil:
					model, content = fp, body
				case precondition != model && errors.Is(err, ErrPreconditionFailed):
				default:
					return false
				}
			}

			current, err := s.ReadFingerprint(ctx, DefaultName)
			if err != nil || current != model {
				return false
			}
			if model == EmptyFingerprint {
				return true
			}

			snap, err := s.ReadDocument(ctx, DefaultName)
			if err != nil {
				return false
			}
			defer snap.Body.Close()
			got, _ := io.ReadAll(snap.Body)
			return string(got) == content
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// Property: no name containing a separator is ever accepted.
func TestValidateNameRejectsSeparators(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("names with separators are invalid", prop.ForAll(
		func(prefix, suffix string, sep int) bool {
			name := prefix + []string{"/", `\`, "\x00"}[sep] + suffix
			return errors.Is(ValidateName(name), ErrInvalidName)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
