package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps objects as files under a root directory, for ledgers on a
// shared filesystem. Keys use '/' separators.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at root. A file:// prefix is accepted.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimPrefix(root, "file://")}
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Fetch reads the file for key.
func (s *FileStore) Fetch(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, newError("fetch", key, nil, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, newError("fetch", key, classifyFS(err), err)
	}
	return data, nil
}

// Put writes data via a temp file and rename, so readers never see a
// partially written object.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return newError("put", key, nil, err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError("put", key, classifyFS(err), err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*")
	if err != nil {
		return newError("put", key, classifyFS(err), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return newError("put", key, nil, err)
	}
	if err := tmp.Close(); err != nil {
		return newError("put", key, nil, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return newError("put", key, classifyFS(err), err)
	}
	return nil
}

// Exists stats the file for key.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, newError("exists", key, nil, err)
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, newError("exists", key, classifyFS(err), err)
	}
}

func classifyFS(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrAccessDenied
	}
	return nil
}
