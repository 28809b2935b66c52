package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "capstream.db")

	store1, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.SaveCursor(checkpoint.Cursor{SessionID: "s", Sink: "file", LastID: "id-7", Delivered: 7}))
	require.NoError(t, store1.SaveSession(checkpoint.SessionRecord{ID: "s", Name: "run", State: "active"}))
	require.NoError(t, store1.Close())

	// Reopening sees what the crashed process left behind.
	store2, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	c, err := store2.LoadCursor("s", "file")
	require.NoError(t, err)
	assert.Equal(t, "id-7", c.LastID)
	assert.Equal(t, uint64(7), c.Delivered)

	r, err := store2.LoadSession("s")
	require.NoError(t, err)
	assert.Equal(t, "active", r.State)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveCursor(checkpoint.Cursor{SessionID: "s", Sink: "file"}))
	cursors, err := store.ListCursors("s")
	require.NoError(t, err)
	assert.Len(t, cursors, 1)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
