// Package statefile persists small values (such as the address of the last
// discovered scale) between runs.
package statefile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir      = "perchscale"
	addressFile = "device_address.txt"
)

// ErrNotFound denotes that no value has been stored yet
var ErrNotFound = errors.New("no cached value found")

// Dir returns the state directory, honoring $XDG_STATE_HOME and falling back
// to ~/.local/state
func Dir() (string, error) {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDir), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}

	return filepath.Join(home, ".local", "state", appDir), nil
}

// Store denotes a single-value file in the state directory
type Store struct {
	path string
}

// NewAddressStore returns the store for the cached device address
func NewAddressStore() (*Store, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return NewStore(filepath.Join(dir, addressFile)), nil
}

// NewStore returns a store for the given file
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the underlying file
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored value. ErrNotFound is returned if the file does not
// exist or is empty
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", ErrNotFound
	}

	return value, nil
}

// Save overwrites the stored value, creating the state directory if needed
func (s *Store) Save(value string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.TrimSpace(value)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	return os.Rename(tmp, s.path)
}
