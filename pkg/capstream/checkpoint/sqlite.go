package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists cursors and sessions to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cursors (
	session_id TEXT NOT NULL,
	sink TEXT NOT NULL,
	last_id TEXT NOT NULL,
	last_offset INTEGER NOT NULL,
	delivered INTEGER NOT NULL,
	lost INTEGER NOT NULL,
	degraded INTEGER NOT NULL,
	detached INTEGER NOT NULL,
	final INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (session_id, sink)
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	state TEXT NOT NULL,
	created_at TEXT NOT NULL,
	closed_at TEXT,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`

// NewSQLiteStore creates a new SQLite store.
// The path should be a file path (e.g., "./capstream.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveCursor implements Store.
func (s *SQLiteStore) SaveCursor(c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO cursors (session_id, sink, last_id, last_offset, delivered, lost,
			degraded, detached, final, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, sink) DO UPDATE SET
			last_id = excluded.last_id,
			last_offset = excluded.last_offset,
			delivered = excluded.delivered,
			lost = excluded.lost,
			degraded = excluded.degraded,
			detached = excluded.detached,
			final = excluded.final,
			updated_at = excluded.updated_at
	`, c.SessionID, c.Sink, c.LastID, int64(c.LastOffset), int64(c.Delivered), int64(c.Lost),
		c.Degraded, c.Detached, c.Final, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// LoadCursor implements Store.
func (s *SQLiteStore) LoadCursor(sessionID, sink string) (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Cursor{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT session_id, sink, last_id, last_offset, delivered, lost,
			degraded, detached, final, updated_at
		FROM cursors
		WHERE session_id = ? AND sink = ?
	`, sessionID, sink)

	c, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, ErrNotFound
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("load cursor: %w", err)
	}
	return c, nil
}

// ListCursors implements Store.
func (s *SQLiteStore) ListCursors(sessionID string) ([]Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT session_id, sink, last_id, last_offset, delivered, lost,
			degraded, detached, final, updated_at
		FROM cursors
		WHERE session_id = ?
		ORDER BY sink
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	cursors := []Cursor{}
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}

// DeleteCursor implements Store.
func (s *SQLiteStore) DeleteCursor(sessionID, sink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`
		DELETE FROM cursors WHERE session_id = ? AND sink = ?
	`, sessionID, sink); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

// SaveSession implements Store.
func (s *SQLiteStore) SaveSession(r SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var closedAt sql.NullString
	if r.ClosedAt != nil {
		closedAt = sql.NullString{String: formatTime(*r.ClosedAt), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, name, state, created_at, closed_at, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			closed_at = excluded.closed_at,
			error = excluded.error
	`, r.ID, r.Name, r.State, formatTime(r.CreatedAt), closedAt, r.Error)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession implements Store.
func (s *SQLiteStore) LoadSession(id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return SessionRecord{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, name, state, created_at, closed_at, error
		FROM sessions WHERE id = ?
	`, id)

	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	return r, nil
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions() ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, name, state, created_at, closed_at, error
		FROM sessions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCursor(row scanner) (Cursor, error) {
	var (
		c                           Cursor
		lastOffset, delivered, lost int64
		updatedAt                   string
	)
	if err := row.Scan(&c.SessionID, &c.Sink, &c.LastID, &lastOffset, &delivered, &lost,
		&c.Degraded, &c.Detached, &c.Final, &updatedAt); err != nil {
		return Cursor{}, err
	}
	c.LastOffset = uint64(lastOffset)
	c.Delivered = uint64(delivered)
	c.Lost = uint64(lost)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return c, nil
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		r         SessionRecord
		createdAt string
		closedAt  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &r.State, &createdAt, &closedAt, &r.Error); err != nil {
		return SessionRecord{}, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if closedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err == nil {
			r.ClosedAt = &t
		}
	}
	return r, nil
}

// formatTime uses a fixed-width layout so stored timestamps sort as text.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
