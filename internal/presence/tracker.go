// internal/presence/tracker.go
// In-memory registry of live user sessions

package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var onlineUsers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "presence_online_users",
		Help: "Number of users currently considered online",
	},
)

// Listener receives online/offline transitions. Called exactly once per
// transition, never once per session event, and always in transition order:
// the tracker holds its lock across the call so a racing re-registration
// cannot slip its ONLINE in front of a pending OFFLINE. Implementations must
// not call back into the tracker and must log their own errors.
type Listener interface {
	UserOnline(userID int64)
	UserOffline(userID int64)
}

type entry struct {
	sessions     map[string]struct{}
	lastActivity time.Time
}

// Tracker owns the process-wide presence map. All synchronization is
// internal; no caller ever touches the map directly. State is not
// persisted: after a restart only transient who-is-online state is lost.
type Tracker struct {
	mu          sync.Mutex
	users       map[int64]*entry
	sessionUser map[string]int64
	idleTimeout time.Duration
	listener    Listener
}

// NewTracker creates a tracker with the given idle timeout
func NewTracker(idleTimeout time.Duration) *Tracker {
	return &Tracker{
		users:       make(map[int64]*entry),
		sessionUser: make(map[string]int64),
		idleTimeout: idleTimeout,
	}
}

// SetListener sets the transition listener after initialization to avoid a
// circular dependency with the hub
func (t *Tracker) SetListener(l Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// RegisterSession adds a session to a user's set. The first session for a
// user broadcasts a single ONLINE transition.
func (t *Tracker) RegisterSession(userID int64, sessionID string) {
	t.mu.Lock()
	e, exists := t.users[userID]
	if !exists {
		e = &entry{sessions: make(map[string]struct{})}
		t.users[userID] = e
	}
	wasOnline := exists && len(e.sessions) > 0
	e.sessions[sessionID] = struct{}{}
	e.lastActivity = time.Now()
	t.sessionUser[sessionID] = userID
	onlineUsers.Set(float64(len(t.users)))
	if !wasOnline && t.listener != nil {
		t.listener.UserOnline(userID)
	}
	t.mu.Unlock()
}

// UnregisterSession removes a session, broadcasting a single OFFLINE
// transition when a user's last session goes away. Unknown sessions are a
// no-op: the idle sweep may already have cleaned the user up.
func (t *Tracker) UnregisterSession(sessionID string) {
	t.mu.Lock()
	userID, ok := t.sessionUser[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.sessionUser, sessionID)

	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}

	delete(e.sessions, sessionID)
	if len(e.sessions) == 0 {
		delete(t.users, userID)
		if t.listener != nil {
			t.listener.UserOffline(userID)
		}
	}
	onlineUsers.Set(float64(len(t.users)))
	t.mu.Unlock()
}

// Heartbeat refreshes a user's last activity. A heartbeat arriving after
// the sweep force-removed the user re-registers the session, so a live
// connection heals itself back to online.
func (t *Tracker) Heartbeat(userID int64, sessionID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if ok {
		e.lastActivity = time.Now()
		if _, known := e.sessions[sessionID]; !known {
			e.sessions[sessionID] = struct{}{}
			t.sessionUser[sessionID] = userID
		}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.RegisterSession(userID, sessionID)
}

// IsOnline reports whether a user has a live, non-idle session. The idle
// check is applied lazily so a stale entry never reads as online between
// sweeps.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.users[userID]
	return ok && len(e.sessions) > 0 && time.Since(e.lastActivity) <= t.idleTimeout
}

// ListOnline returns the ids of all currently online users
func (t *Tracker) ListOnline() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	online := make([]int64, 0, len(t.users))
	for userID, e := range t.users {
		if len(e.sessions) > 0 && time.Since(e.lastActivity) <= t.idleTimeout {
			online = append(online, userID)
		}
	}
	return online
}

// SweepIdle force-removes every user silent for longer than the idle
// timeout, broadcasting OFFLINE for each. Defends against sessions that
// disconnected without a clean unregister.
func (t *Tracker) SweepIdle() {
	cutoff := time.Now().Add(-t.idleTimeout)

	t.mu.Lock()
	for userID, e := range t.users {
		if e.lastActivity.Before(cutoff) {
			for sessionID := range e.sessions {
				delete(t.sessionUser, sessionID)
			}
			delete(t.users, userID)
			log.Printf("Presence sweep: user %d idle past timeout, forced offline", userID)
			if t.listener != nil {
				t.listener.UserOffline(userID)
			}
		}
	}
	onlineUsers.Set(float64(len(t.users)))
	t.mu.Unlock()
}

// Run sweeps on a fixed interval until the context is cancelled
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.SweepIdle()
		case <-ctx.Done():
			return
		}
	}
}
