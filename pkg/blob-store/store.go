package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a location does not name a stored blob.
var ErrNotFound = errors.New("blob not found")

// Store yields the bytes of externally stored representations.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Open returns a reader over the bytes stored under the location name.
	// The caller closes the reader.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	// Close releases the store.
	Close() error
}

// Kind selects a Store implementation.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindLevelDB    Kind = "leveldb"
)

// New opens the store of the given kind rooted at root.
func New(kind Kind, root string) (Store, error) {
	switch kind {
	case KindFilesystem, "":
		return NewFileStore(root)
	case KindLevelDB:
		return NewLevelStore(root)
	default:
		return nil, fmt.Errorf("unsupported blob store: %s", kind)
	}
}
