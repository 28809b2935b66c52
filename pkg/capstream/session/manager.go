package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
	"github.com/randalmurphal/capstream/pkg/capstream/dispatch"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
	"github.com/randalmurphal/capstream/pkg/capstream/registry"
)

// NameLayout formats default session names from the creation time.
const NameLayout = "20060102T150405Z"

// ErrUnknownSession is returned for IDs the manager does not hold.
var ErrUnknownSession = errors.New("unknown session")

// ProcessTerminated is the error recorded by Recover.
const ProcessTerminated = "process terminated"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store persists session records and sink cursors. Defaults to a
	// memory store.
	Store checkpoint.Store

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Tracer  observability.SpanManager
}

// Manager creates and tracks sessions.
type Manager struct {
	store    checkpoint.Store
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	tracer   observability.SpanManager
	sessions *registry.Registry[string, *Session]
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		store:    cfg.Store,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		sessions: registry.New[string, *Session](),
	}
	if m.store == nil {
		m.store = checkpoint.NewMemoryStore()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observability.NoopMetrics{}
	}
	if m.tracer == nil {
		m.tracer = observability.NoopSpanManager{}
	}
	return m
}

// Store returns the manager's checkpoint store.
func (m *Manager) Store() checkpoint.Store {
	return m.store
}

// Create builds a session in the created state. Nothing is opened until
// Start.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := time.Now().UTC()
	if cfg.Name == "" {
		cfg.Name = now.Format(NameLayout)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	s := &Session{
		id:        id.String(),
		name:      cfg.Name,
		createdAt: now,
		cfg:       cfg,
		store:     m.store,
		logger:    observability.EnrichLogger(m.logger, id.String(), "session"),
		metrics:   m.metrics,
		tracer:    m.tracer,
		state:     StateCreated,
		done:      make(chan struct{}),
		onClosed:  func(s *Session) { m.sessions.Delete(s.id) },
	}

	var disp *dispatch.Dispatcher
	busCfg := cfg.Bus
	busCfg.SessionID = s.id
	busCfg.Metrics = m.metrics
	busCfg.Logger = s.logger
	onPressure := busCfg.OnPressure
	busCfg.OnPressure = func() {
		disp.NotifyPressure()
		if onPressure != nil {
			onPressure()
		}
	}
	s.bus = bus.New(busCfg)

	dispCfg := cfg.Dispatch
	dispCfg.Cursors = m.store
	dispCfg.Logger = s.logger
	dispCfg.Metrics = m.metrics
	dispCfg.Tracer = m.tracer
	dispCfg.OnFatal = func(err error) { go s.fail(err) }
	dispCfg.OnHealth = cfg.OnHealth
	disp = dispatch.New(s.bus, dispCfg)
	s.disp = disp

	if err := m.store.SaveSession(s.Record()); err != nil {
		disp.Abort()
		return nil, fmt.Errorf("save session %s: %w", s.id, err)
	}
	m.sessions.Register(s.id, s)
	s.logger.Info("session created", slog.String("name", s.name))
	return s, nil
}

// Get returns a live session of this manager. Sessions leave the manager
// when they stop or fail; their records and cursors stay in the store.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Sessions returns the live (non-terminal) sessions of this manager in ID
// order.
func (m *Manager) Sessions() []*Session {
	return m.sessions.Values()
}

// List returns every persisted session record, including those of
// earlier processes.
func (m *Manager) List() ([]checkpoint.SessionRecord, error) {
	records, err := m.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}

// Cursors returns the stored cursors of any session, live or not.
func (m *Manager) Cursors(id string) ([]checkpoint.Cursor, error) {
	if s, ok := m.sessions.Get(id); ok {
		return s.Cursors(), nil
	}
	if _, err := m.store.LoadSession(id); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	cursors, err := m.store.ListCursors(id)
	if err != nil {
		return nil, fmt.Errorf("list cursors of %s: %w", id, err)
	}
	return cursors, nil
}

// Recover marks every persisted session that was left non-terminal by an
// earlier process as failed. It returns the records it changed.
func (m *Manager) Recover() ([]checkpoint.SessionRecord, error) {
	records, err := m.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var recovered []checkpoint.SessionRecord
	for _, r := range records {
		if State(r.State).Terminal() || m.sessions.Has(r.ID) {
			continue
		}
		from := r.State
		now := time.Now().UTC()
		r.State = string(StateFailed)
		r.Error = ProcessTerminated
		r.ClosedAt = &now
		if err := m.store.SaveSession(r); err != nil {
			return recovered, fmt.Errorf("save session %s: %w", r.ID, err)
		}
		observability.LogSessionState(m.logger, r.ID, from, r.State)
		m.metrics.RecordTransition(context.Background(), from, r.State)
		recovered = append(recovered, r)
	}
	return recovered, nil
}
