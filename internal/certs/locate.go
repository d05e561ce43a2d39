package certs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File names looked up in the configuration directories.
const (
	ServerCertFile = "server.cer"
	ServerKeyFile  = "server.key"
	ClientCAFile   = "ca.cer"
)

const appName = "ausgabenzettel"

// SystemDir is the system wide configuration directory.
var SystemDir = filepath.Join("/etc", appName)

// UserDir returns $XDG_CONFIG_HOME/ausgabenzettel, falling back to
// ~/.config/ausgabenzettel.
func UserDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// Locate resolves the paths of the trust material, preferring files in
// userDir over systemDir. Each file is resolved independently.
func Locate(userDir, systemDir string) (Config, error) {
	var cfg Config

	for _, item := range []struct {
		file string
		dst  *string
	}{
		{ServerCertFile, &cfg.ServerCertPath},
		{ServerKeyFile, &cfg.ServerKeyPath},
		{ClientCAFile, &cfg.ClientCAPath},
	} {
		path, err := locateFile(item.file, userDir, systemDir)
		if err != nil {
			return Config{}, err
		}
		*item.dst = path
	}

	return cfg, nil
}

func locateFile(name string, dirs ...string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		switch {
		case err == nil && info.Mode().IsRegular():
			return path, nil
		case err == nil, errors.Is(err, fs.ErrNotExist):
			continue
		default:
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	return "", fmt.Errorf("%w: %s not in %v", ErrMaterialNotFound, name, dirs)
}
