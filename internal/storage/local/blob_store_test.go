// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgoodale/webscout/internal/research"
	"github.com/mgoodale/webscout/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})
}

func TestPut(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		key := "test/object.txt"
		data := []byte("hello world")
		uri, err := store.Put(context.Background(), key, data, "text/plain")
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, key)
		assert.Equal(t, expectedURI, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, key))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.Put(context.Background(), "", []byte("data"), "text/plain")
		assert.Error(t, err)
	})

	t.Run("NestedKey", func(t *testing.T) {
		key := "a/b/c/object.txt"
		data := []byte("nested hello")
		uri, err := store.Put(context.Background(), key, data, "text/plain")
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, key)
		assert.Equal(t, expectedURI, uri)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.Put(context.Background(), "../escape.txt", []byte("x"), "")
		assert.Error(t, err)
	})
}

func TestGetAndDelete(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	ctx := context.Background()
	key := "jobs/j1/screenshots/s1.png"
	data := []byte("fake png bytes")

	_, err = store.Put(ctx, key, data, "image/png")
	require.NoError(t, err)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, research.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), research.ErrNotFound)
}
