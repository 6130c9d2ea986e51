package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// FileStore serves blobs from files below a root directory.
// Locations are slash-separated paths relative to the root and cannot escape it.
type FileStore struct {
	root *os.Root
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open blob root %s: %w", dir, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.root.Open(strings.TrimPrefix(location, "/"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FileStore) Close() error {
	return s.root.Close()
}
