// Package checkpoint persists sink cursors and session records so a
// recorder can resume delivery and report on sessions after a crash.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists cursors and session records.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveCursor stores the cursor for (c.SessionID, c.Sink), overwriting
	// any previous value. UpdatedAt is set by the store.
	SaveCursor(c Cursor) error

	// LoadCursor retrieves a cursor.
	// Returns ErrNotFound if the cursor doesn't exist.
	LoadCursor(sessionID, sink string) (Cursor, error)

	// ListCursors returns all cursors of a session ordered by sink name.
	// Returns empty slice (not error) if the session has none.
	ListCursors(sessionID string) ([]Cursor, error)

	// DeleteCursor removes a cursor.
	// Returns nil if the cursor doesn't exist.
	DeleteCursor(sessionID, sink string) error

	// SaveSession stores a session record, overwriting by ID.
	SaveSession(r SessionRecord) error

	// LoadSession retrieves a session record.
	// Returns ErrNotFound if it doesn't exist.
	LoadSession(id string) (SessionRecord, error)

	// ListSessions returns all session records ordered by creation time.
	ListSessions() ([]SessionRecord, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Cursor is a sink's delivery position within a session.
type Cursor struct {
	SessionID string `json:"session_id"`
	Sink      string `json:"sink"`

	// LastID is the ID of the last envelope the sink accepted. IDs sort in
	// admission order, so anything <= LastID has been delivered.
	LastID string `json:"last_id"`

	// LastOffset is the bus offset of LastID in the process that wrote it.
	LastOffset uint64 `json:"last_offset"`

	Delivered uint64 `json:"delivered"`
	Lost      uint64 `json:"lost"`

	Degraded bool `json:"degraded"`
	Detached bool `json:"detached"`

	// Final is set once the session drained and the sink was closed.
	Final bool `json:"final"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SessionRecord is the persisted summary of a session.
type SessionRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a cursor or session doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
