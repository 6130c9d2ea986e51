package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func TestFileStoreOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "resources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resources", "ABC-gzip"), []byte("zipped"), 0o644))

	s, err := New(KindFilesystem, dir)
	require.NoError(t, err)
	defer s.Close()

	rc, err := s.Open(context.Background(), "resources/ABC-gzip")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "zipped", string(b))
}

func TestFileStoreMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Open(context.Background(), "resources/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreStaysInRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "www")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret"), []byte("x"), 0o644))

	s, err := NewFileStore(root)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Open(context.Background(), "../secret")
	require.Error(t, err)
}

func TestLevelStoreOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs")
	db, err := leveldb.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("resources/XYZ"), []byte("hello"), nil))
	require.NoError(t, db.Close())

	s, err := New(KindLevelDB, path)
	require.NoError(t, err)
	defer s.Close()

	rc, err := s.Open(context.Background(), "resources/XYZ")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	_, err = s.Open(context.Background(), "resources/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownKind(t *testing.T) {
	_, err := New("s3", "")
	require.Error(t, err)
}
