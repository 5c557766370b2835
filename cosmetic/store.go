package cosmetic

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store owns the persisted cosmetic configuration. Readers get snapshots via
// Current; the in-memory copy changes only through Reload or Update.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// NewStore returns a store holding cfg that is not backed by a file.
func NewStore(cfg Config) *Store {
	cfg = cfg.Clone()
	cfg.normalize()
	return &Store{cfg: cfg}
}

// Load reads the configuration at path. A missing file yields defaults.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file, or "".
func (s *Store) Path() string { return s.path }

// Current returns a copy of the active configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Reload rereads the backing file.
func (s *Store) Reload() error {
	cfg := Default()
	if s.path != "" {
		data, err := os.ReadFile(s.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("cosmetic: read %s: %w", s.path, err)
		default:
			cfg.Heading.Mapping = nil
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("cosmetic: parse %s: %w", s.path, err)
			}
			if cfg.Heading.Mapping == nil {
				cfg.Heading.Mapping = Default().Heading.Mapping
			}
		}
	}
	cfg.normalize()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the configuration, installs it and saves it.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	next := s.cfg.Clone()
	fn(&next)
	next.normalize()
	s.cfg = next
	s.mu.Unlock()
	return s.Save()
}

// Save writes the configuration to the backing file. Stores without a file
// keep the change in memory only.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := yaml.Marshal(s.cfg)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("cosmetic: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cosmetic: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cosmetic: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cosmetic: rename: %w", err)
	}
	return nil
}
