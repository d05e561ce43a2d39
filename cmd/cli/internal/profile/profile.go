// Package profile stores the CLI's connection settings on disk.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// FileName is the profile file inside the user config directory.
const FileName = "client.yaml"

// Profile holds the server to talk to and the identity to present.
type Profile struct {
	Version  int    `yaml:"version"`
	Server   string `yaml:"server,omitempty"`
	Cert     string `yaml:"cert,omitempty"`
	Key      string `yaml:"key,omitempty"`
	CA       string `yaml:"ca,omitempty"`
	CacheDir string `yaml:"cache_dir,omitempty"`
}

// DefaultPath returns $XDG_CONFIG_HOME/ausgabenzettel/client.yaml, falling
// back to ~/.config/ausgabenzettel/client.yaml.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ausgabenzettel", FileName), nil
}

// Load reads the profile at path. A missing file yields an empty profile.
// Relative paths in the profile are resolved against its directory.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("No client profile")
		return &Profile{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, field := range []*string{&p.Cert, &p.Key, &p.CA, &p.CacheDir} {
		if *field != "" && !filepath.IsAbs(*field) {
			*field = filepath.Join(base, *field)
		}
	}

	return &p, nil
}

// Save writes the profile atomically with 0600 permissions.
func Save(path string, p *Profile) error {
	if p.Version == 0 {
		p.Version = 1
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	// Write to temp file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to save profile: %w", err)
	}

	log.Debug().Str("path", path).Msg("Saved client profile")

	return nil
}
