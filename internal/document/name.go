package document

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/ausgabenzettel/internal/store"
)

// ValidateName checks that name is a single, local path segment. It rejects
// separators, parent and absolute components, and the hidden and sidecar
// names the storage backends use for their own bookkeeping.
func ValidateName(name string) error {
	switch name {
	case "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case ".", "..":
		return fmt.Errorf("%w: %q is a directory reference", ErrInvalidName, name)
	}

	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}

	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q is not a local name", ErrInvalidName, name)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}

	if strings.HasSuffix(name, store.SidecarSuffix) {
		return fmt.Errorf("%w: %q collides with a fingerprint file", ErrInvalidName, name)
	}

	return nil
}
