// Package filestore provides the durable file-based storage backend.
// Each document is one JSON file in a flat directory:
//
//	/var/lib/csp-billing-adapter/
//	  cache.json
//	  csp_config.json
//
// Writes are atomic (temp file, then rename) so a crash mid-write never
// leaves a half-written billing document behind.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
)

// Document filenames inside the storage directory.
const (
	cacheFile     = "cache.json"
	cspConfigFile = "csp_config.json"
)

// Store is the file-based Storage backend.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a file store over the given directory. If logger is nil, a
// discard logger is used. The directory is created by SetupAdapter, not
// here, so registering the backend has no side effects.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{dir: dir, logger: logger}
}

// Name returns the registry identifier of this backend.
func (s *Store) Name() string { return "file" }

// Description returns a human-readable description of this backend.
func (s *Store) Description() string {
	return fmt.Sprintf("JSON documents under %s with atomic writes", s.dir)
}

// SetupAdapter creates the storage directory with 0700 permissions.
func (s *Store) SetupAdapter(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("filestore: create directory %s: %w", s.dir, err)
	}
	s.logger.Debug("storage directory ready", "dir", s.dir)
	return nil
}

// GetCache reads the usage-record cache document. A missing file yields
// a nil document; a corrupt file is an error, never silently discarded,
// because recreating the cache would re-open an already billed period.
func (s *Store) GetCache(ctx context.Context) (*billing.Cache, error) {
	var cache billing.Cache
	found, err := s.read(cacheFile, &cache)
	if err != nil || !found {
		return nil, err
	}
	return &cache, nil
}

// SaveCache writes the usage-record cache document atomically.
func (s *Store) SaveCache(ctx context.Context, cache *billing.Cache) error {
	return s.write(cacheFile, cache)
}

// GetCSPConfig reads the CSP status document. A missing file yields a
// nil document.
func (s *Store) GetCSPConfig(ctx context.Context) (*billing.CSPStatus, error) {
	var status billing.CSPStatus
	found, err := s.read(cspConfigFile, &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// SaveCSPConfig writes the CSP status document atomically.
func (s *Store) SaveCSPConfig(ctx context.Context, status *billing.CSPStatus) error {
	return s.write(cspConfigFile, status)
}

// read unmarshals one document file into out, reporting whether the file
// existed.
func (s *Store) read(name string, out any) (bool, error) {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("filestore: read %s: %w", name, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("filestore: corrupt document %s: %w", name, err)
	}
	return true, nil
}

// write marshals a document and replaces the target file atomically:
// write a 0600 temp file in the same directory, then rename over the
// destination.
func (s *Store) write(name string, doc any) error {
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: chmod temp for %s: %w", name, err)
	}

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write temp for %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp for %s: %w", name, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("filestore: rename temp for %s: %w", name, err)
	}

	success = true
	return nil
}
