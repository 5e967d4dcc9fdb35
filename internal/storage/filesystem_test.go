package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := store.Write(context.Background(), "jobs/j1/reference.jpg", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "jobs/j1/reference.jpg", key)

	data, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside", "..", "", "a/../../b"} {
		_, err := store.Write(context.Background(), key, []byte("x"))
		assert.Error(t, err, "key=%q", key)
	}

	// Leading slashes and dot segments are normalized, not rejected.
	key, err := store.Write(context.Background(), "/jobs/./j1/a.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "jobs/j1/a.png", key)
}

func TestReadMissingKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Read(context.Background(), "jobs/none.png")
	assert.Error(t, err)
}
