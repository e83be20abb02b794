// Package session implements the Session Manager from SPEC_FULL §4.6: it
// issues session IDs, tracks per-session activity and expiry, and hands out
// monotonically increasing SSE event IDs. Sessions additionally own a
// bounded, replayable SSE event buffer (SPEC_FULL's SSE Event Record),
// grounded on the teacher's transport/server/base.Session event buffer but
// keyed and expired per the spec's own data model rather than the
// teacher's round-trip/writer bookkeeping.
//
// Go has no cheap fork, so the "one worker, one address space" isolation
// the spec describes is substituted here with a single Manager guarded by
// a sync.RWMutex, per SPEC_FULL §5.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// State is a session's lifecycle state.
type State int

const (
	StateActive State = iota
	StateExpired
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned by Get/UpdateActivity/etc. for an unknown or
// already-terminated session ID.
var ErrNotFound = errors.New("session: not found")

// Event is a replayable SSE Event Record.
type Event struct {
	ID        uint64
	EventType string
	Data      string
}

// Session is the Session Manager's per-connection record, following the
// Session data model.
type Session struct {
	ID                string
	ConnectionID      string
	State             State
	CreatedAt         time.Time
	LastActivity      time.Time
	TimeoutDuration   time.Duration
	ClientInfo        []byte

	mu             sync.Mutex
	nextEventID    uint64
	events         []Event
	eventCapacity  int
}

// DefaultTimeout is the idle timeout applied to a session when none is
// supplied to CreateSession.
const DefaultTimeout = 30 * time.Minute

// DefaultEventCapacity bounds a session's replay buffer.
const DefaultEventCapacity = 1000

// DefaultCleanupInterval is the minimum spacing between
// Manager.CleanupExpiredSessions sweeps.
const DefaultCleanupInterval = 5 * time.Minute

// GenerateEventID allocates the next monotonic event ID for this session
// and formats it as "<session_id>-<n>", per SPEC_FULL §4.6.
func (s *Session) GenerateEventID() string {
	s.mu.Lock()
	s.nextEventID++
	n := s.nextEventID
	s.mu.Unlock()
	return fmt.Sprintf("%s-%d", s.ID, n)
}

// StoreEvent appends an event to the replay buffer, evicting the oldest
// entry once the buffer exceeds its capacity.
func (s *Session) StoreEvent(id uint64, eventType, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{ID: id, EventType: eventType, Data: data})
	if len(s.events) > s.eventCapacity {
		excess := len(s.events) - s.eventCapacity
		s.events = s.events[excess:]
	}
}

// EventsAfter returns buffered events with ID strictly greater than lastID,
// in ascending order, for Last-Event-ID replay.
func (s *Session) EventsAfter(lastID uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastID == 0 {
		out := make([]Event, len(s.events))
		copy(out, s.events)
		return out
	}
	idx := 0
	for idx < len(s.events) && s.events[idx].ID <= lastID {
		idx++
	}
	out := make([]Event, len(s.events)-idx)
	copy(out, s.events[idx:])
	return out
}

// Manager is the Session Manager: a thread-safe store of Sessions keyed by
// session ID, grounded on the teacher's SessionStore interface
// (transport/server/base/store.go) but with the spec's own expiry and
// event-ID semantics folded in rather than delegated to a pluggable store.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	byConnection    map[string]string // connection_id -> session_id
	eventCapacity   int
	cleanupLimiter  *rate.Limiter
}

// NewManager constructs an empty Manager. eventCapacity and cleanupEvery
// fall back to DefaultEventCapacity and DefaultCleanupInterval when <= 0.
func NewManager(eventCapacity int, cleanupEvery time.Duration) *Manager {
	if eventCapacity <= 0 {
		eventCapacity = DefaultEventCapacity
	}
	if cleanupEvery <= 0 {
		cleanupEvery = DefaultCleanupInterval
	}
	return &Manager{
		sessions:       map[string]*Session{},
		byConnection:   map[string]string{},
		eventCapacity:  eventCapacity,
		cleanupLimiter: rate.NewLimiter(rate.Every(cleanupEvery), 1),
	}
}

// CreateSession allocates a fresh RFC 4122 UUIDv4 session ID bound to
// connectionID. timeout <= 0 uses DefaultTimeout.
func (m *Manager) CreateSession(connectionID string, clientInfo []byte, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := time.Now()
	s := &Session{
		ID:              uuid.NewString(),
		ConnectionID:    connectionID,
		State:           StateActive,
		CreatedAt:       now,
		LastActivity:    now,
		TimeoutDuration: timeout,
		ClientInfo:      clientInfo,
		eventCapacity:   m.eventCapacity,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	if connectionID != "" {
		m.byConnection[connectionID] = s.ID
	}
	m.mu.Unlock()
	return s
}

// GetSession looks up a session by ID. It fails for a missing or
// terminated session.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.State == StateTerminated {
		return nil, ErrNotFound
	}
	return s, nil
}

// UpdateActivity refreshes a session's LastActivity timestamp.
func (m *Manager) UpdateActivity(id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.State == StateTerminated {
		return ErrNotFound
	}
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// TerminateSession removes a session and its connection mapping. Idempotent:
// terminating an already-terminated or unknown session is not an error.
func (m *Manager) TerminateSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.mu.Lock()
	s.State = StateTerminated
	s.mu.Unlock()
	delete(m.sessions, id)
	if s.ConnectionID != "" && m.byConnection[s.ConnectionID] == id {
		delete(m.byConnection, s.ConnectionID)
	}
}

// CleanupExpiredSessions sweeps for sessions idle longer than their
// TimeoutDuration and terminates them. It is a no-op if called again before
// cleanupEvery has elapsed since the last sweep, per SPEC_FULL §4.6; force
// bypasses that rate limit (used by tests and explicit shutdown paths).
func (m *Manager) CleanupExpiredSessions(force bool) int {
	if !force && !m.cleanupLimiter.Allow() {
		return 0
	}
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for _, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.LastActivity) > s.TimeoutDuration
		s.mu.Unlock()
		if idle {
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.mu.Lock()
		s.State = StateExpired
		s.mu.Unlock()
		m.TerminateSession(s.ID)
	}
	return len(expired)
}

// SessionByConnection resolves the session currently bound to a connection
// ID, if any.
func (m *Manager) SessionByConnection(connectionID string) (*Session, bool) {
	m.mu.RLock()
	id, ok := m.byConnection[connectionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s, err := m.GetSession(id)
	return s, err == nil
}

// Count returns the number of live (non-terminated) sessions, for tests and
// health reporting.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
