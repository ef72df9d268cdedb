package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnreadableFile is returned by Save after Load failed to read an existing
// cache file. Saving would replace entries that were never loaded.
var ErrUnreadableFile = errors.New("cache file was not readable at load, refusing to overwrite")

// FileStore persists the cache as an indented JSON object so operators can
// correct entries by hand.
type FileStore struct {
	path string
	// loadErr blocks Save while the file on disk holds entries Load could not read.
	loadErr error
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the cache file. A missing file yields an empty map. A file that
// does not parse is moved aside to "<path>.corrupt" and reported as an error.
// Any other read failure is reported and blocks later saves, leaving the file
// as it is.
func (s *FileStore) Load(_ context.Context) (map[string]Entry, error) {
	s.loadErr = nil
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		s.loadErr = err
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	entries := map[string]Entry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		if mvErr := os.Rename(s.path, s.path+".corrupt"); mvErr != nil {
			s.loadErr = mvErr
			return nil, fmt.Errorf("parse cache file: %w (move aside: %v)", err, mvErr)
		}
		return nil, fmt.Errorf("parse cache file: %w", err)
	}
	return entries, nil
}

// Save writes the full snapshot to a temp file in the same directory, syncs
// it and renames it over the cache file. Readers see the old or the new file, never a partial one.
func (s *FileStore) Save(_ context.Context, entries map[string]Entry, _ []string) error {
	if s.loadErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreadableFile, s.path, s.loadErr)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp cache file: %w", err)
	}
	return nil
}
