package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// unsafeKeyChars matches characters that are not allowed in record file names.
var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.+-]`)

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore keeps one JSON file per key in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory not set")
	}
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("FileStore failed to create directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	slog.Debug("FileStore ready", "dir", dir)
	return &FileStore{dir: dir}, nil
}

// Path returns the file that holds the record for key.
func (s *FileStore) Path(key string) string {
	name := unsafeKeyChars.ReplaceAllString(key, "_")
	if name == "." || name == ".." {
		name = "_" + name
	}
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	_, err := os.Stat(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat record %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("FileStore Load failed", "error", err, "key", key)
		return nil, false, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return data, true, nil
}

// Save writes to a temporary file and renames it over the record so readers
// never observe a partially written file.
func (s *FileStore) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	path := s.Path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		slog.Error("FileStore Save failed to create temp file", "error", err, "key", key)
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close record %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		slog.Error("FileStore Save failed to rename", "error", err, "key", key)
		return fmt.Errorf("failed to replace record %s: %w", key, err)
	}
	slog.Debug("FileStore Save succeeded", "key", key, "path", path)
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("FileStore Delete failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
