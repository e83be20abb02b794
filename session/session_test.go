package session

import (
	"testing"
	"time"
)

func TestManager_CreateAndGetSession(t *testing.T) {
	m := NewManager(0, 0)
	s := m.CreateSession("conn-1", []byte(`{"name":"test-client"}`), 0)
	if s.ID == "" {
		t.Fatalf("expected a generated session id")
	}
	if s.TimeoutDuration != DefaultTimeout {
		t.Fatalf("expected default timeout, got %v", s.TimeoutDuration)
	}

	got, err := m.GetSession(s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != s {
		t.Fatalf("expected same session instance back")
	}
}

func TestManager_GetSession_MissingFails(t *testing.T) {
	m := NewManager(0, 0)
	if _, err := m.GetSession("nonexistent"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestManager_TerminateSession_Idempotent(t *testing.T) {
	m := NewManager(0, 0)
	s := m.CreateSession("conn-1", nil, 0)
	m.TerminateSession(s.ID)
	m.TerminateSession(s.ID) // must not panic or error

	if _, err := m.GetSession(s.ID); err != ErrNotFound {
		t.Fatalf("expected terminated session to be gone, got %v", err)
	}
	if _, ok := m.SessionByConnection("conn-1"); ok {
		t.Fatalf("expected connection mapping to be cleared")
	}
}

func TestManager_CleanupExpiredSessions(t *testing.T) {
	m := NewManager(0, 0)
	s := m.CreateSession("conn-1", nil, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	n := m.CleanupExpiredSessions(true)
	if n != 1 {
		t.Fatalf("got %d expired, want 1", n)
	}
	if _, err := m.GetSession(s.ID); err != ErrNotFound {
		t.Fatalf("expected session to be terminated after cleanup")
	}
}

func TestManager_CleanupExpiredSessions_RateLimited(t *testing.T) {
	m := NewManager(0, time.Hour)
	s := m.CreateSession("conn-1", nil, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if n := m.CleanupExpiredSessions(false); n != 1 {
		t.Fatalf("first sweep: got %d, want 1", n)
	}

	s2 := m.CreateSession("conn-2", nil, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if n := m.CleanupExpiredSessions(false); n != 0 {
		t.Fatalf("rate-limited sweep: got %d, want 0", n)
	}
	if _, err := m.GetSession(s2.ID); err != nil {
		t.Fatalf("s2 should still be active, rate limit should have blocked cleanup")
	}
	_ = s
}

func TestSession_GenerateEventID_Monotonic(t *testing.T) {
	m := NewManager(0, 0)
	s := m.CreateSession("conn-1", nil, 0)

	first := s.GenerateEventID()
	second := s.GenerateEventID()
	if first == second {
		t.Fatalf("expected distinct event ids")
	}
	want1 := s.ID + "-1"
	want2 := s.ID + "-2"
	if first != want1 || second != want2 {
		t.Fatalf("got %q, %q; want %q, %q", first, second, want1, want2)
	}
}

func TestSession_EventBuffer_BoundedAndEvictsOldest(t *testing.T) {
	s := &Session{ID: "s1", eventCapacity: 3}
	for i := uint64(1); i <= 5; i++ {
		s.StoreEvent(i, "message", "payload")
	}
	all := s.EventsAfter(0)
	if len(all) != 3 {
		t.Fatalf("got %d buffered events, want 3", len(all))
	}
	if all[0].ID != 3 {
		t.Fatalf("expected oldest retained event to be id 3, got %d", all[0].ID)
	}
}

func TestSession_EventsAfter_ReplaysOnlyNewer(t *testing.T) {
	s := &Session{ID: "s1", eventCapacity: 10}
	for i := uint64(1); i <= 5; i++ {
		s.StoreEvent(i, "message", "payload")
	}
	replay := s.EventsAfter(3)
	if len(replay) != 2 {
		t.Fatalf("got %d events, want 2", len(replay))
	}
	if replay[0].ID != 4 || replay[1].ID != 5 {
		t.Fatalf("got ids %d, %d; want 4, 5", replay[0].ID, replay[1].ID)
	}
}
