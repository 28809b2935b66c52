package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	"github.com/randalmurphal/capstream/pkg/capstream/producer"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

func TestManager_RecoverFailsInterruptedSessions(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "capstream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	created := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)
	closed := created.Add(time.Minute)
	require.NoError(t, store.SaveSession(checkpoint.SessionRecord{ID: "crashed", Name: "a", State: string(StateActive), CreatedAt: created}))
	require.NoError(t, store.SaveSession(checkpoint.SessionRecord{ID: "stopping", Name: "b", State: string(StateStopping), CreatedAt: created.Add(time.Second)}))
	require.NoError(t, store.SaveSession(checkpoint.SessionRecord{ID: "done", Name: "c", State: string(StateStopped), CreatedAt: created.Add(2 * time.Second), ClosedAt: &closed}))
	require.NoError(t, store.SaveCursor(checkpoint.Cursor{SessionID: "crashed", Sink: "file", LastID: "0190-last", Delivered: 42}))

	m := NewManager(ManagerConfig{Store: store})
	live, err := m.Create(context.Background(), Config{})
	require.NoError(t, err)

	recovered, err := m.Recover()
	require.NoError(t, err)
	require.Len(t, recovered, 2)
	assert.Equal(t, "crashed", recovered[0].ID)
	assert.Equal(t, "stopping", recovered[1].ID)

	for _, id := range []string{"crashed", "stopping"} {
		rec, err := store.LoadSession(id)
		require.NoError(t, err)
		assert.Equal(t, string(StateFailed), rec.State)
		assert.Equal(t, ProcessTerminated, rec.Error)
		assert.NotNil(t, rec.ClosedAt)
	}

	done, err := store.LoadSession("done")
	require.NoError(t, err)
	assert.Equal(t, string(StateStopped), done.State)
	assert.Empty(t, done.Error)

	assert.Equal(t, StateCreated, live.State(), "live sessions are left alone")

	cursors, err := m.Cursors("crashed")
	require.NoError(t, err)
	require.Len(t, cursors, 1)
	assert.Equal(t, "0190-last", cursors[0].LastID)
	assert.Equal(t, uint64(42), cursors[0].Delivered)

	_, err = m.Cursors("never-existed")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	again, err := m.Recover()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestManager_ListIncludesEverySession(t *testing.T) {
	m := newManager(t)
	first, err := m.Create(context.Background(), Config{Name: "first"})
	require.NoError(t, err)
	second, err := m.Create(context.Background(), Config{
		Name:      "second",
		Producers: []producer.Source{counter("input", envelope.SourceInput, time.Millisecond)},
		Sinks:     []sink.Sink{sink.NewMemory("out")},
	})
	require.NoError(t, err)
	require.NoError(t, second.Start(context.Background()))
	require.NoError(t, second.Stop(context.Background()))

	records, err := m.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	byID := map[string]checkpoint.SessionRecord{}
	for _, r := range records {
		byID[r.ID] = r
	}
	assert.Equal(t, string(StateCreated), byID[first.ID()].State)
	assert.Equal(t, string(StateStopped), byID[second.ID()].State)

	live := m.Sessions()
	require.Len(t, live, 1, "stopped sessions leave the manager")
	assert.Same(t, first, live[0])
	_, err = m.Get(second.ID())
	assert.ErrorIs(t, err, ErrUnknownSession)

	cursors, err := m.Cursors(second.ID())
	require.NoError(t, err)
	require.Len(t, cursors, 1)
	assert.True(t, cursors[0].Final)
}
