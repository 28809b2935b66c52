package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory store for tests and one-shot recordings.
// Data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	cursors  map[string]map[string]Cursor // sessionID -> sink -> cursor
	sessions map[string]SessionRecord
	closed   bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors:  make(map[string]map[string]Cursor),
		sessions: make(map[string]SessionRecord),
	}
}

// SaveCursor implements Store.
func (m *MemoryStore) SaveCursor(c Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.cursors[c.SessionID] == nil {
		m.cursors[c.SessionID] = make(map[string]Cursor)
	}
	c.UpdatedAt = time.Now().UTC()
	m.cursors[c.SessionID][c.Sink] = c
	return nil
}

// LoadCursor implements Store.
func (m *MemoryStore) LoadCursor(sessionID, sink string) (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Cursor{}, ErrStoreClosed
	}

	c, ok := m.cursors[sessionID][sink]
	if !ok {
		return Cursor{}, ErrNotFound
	}
	return c, nil
}

// ListCursors implements Store.
func (m *MemoryStore) ListCursors(sessionID string) ([]Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Cursor, 0, len(m.cursors[sessionID]))
	for _, c := range m.cursors[sessionID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sink < out[j].Sink
	})
	return out, nil
}

// DeleteCursor implements Store.
func (m *MemoryStore) DeleteCursor(sessionID, sink string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if byS, ok := m.cursors[sessionID]; ok {
		delete(byS, sink)
	}
	return nil
}

// SaveSession implements Store.
func (m *MemoryStore) SaveSession(r SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if r.ClosedAt != nil {
		closed := *r.ClosedAt
		r.ClosedAt = &closed
	}
	m.sessions[r.ID] = r
	return nil
}

// LoadSession implements Store.
func (m *MemoryStore) LoadSession(id string) (SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return SessionRecord{}, ErrStoreClosed
	}

	r, ok := m.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return r, nil
}

// ListSessions implements Store.
func (m *MemoryStore) ListSessions() ([]SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]SessionRecord, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cursors = nil
	m.sessions = nil
	return nil
}

// Len returns the total number of cursors across all sessions.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, byS := range m.cursors {
		count += len(byS)
	}
	return count
}
