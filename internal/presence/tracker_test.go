package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingListener struct {
	mu      sync.Mutex
	online  []int64
	offline []int64
}

func (l *recordingListener) UserOnline(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, userID)
}

func (l *recordingListener) UserOffline(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = append(l.offline, userID)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online), len(l.offline)
}

func newTestTracker(idleTimeout time.Duration) (*Tracker, *recordingListener) {
	t := NewTracker(idleTimeout)
	l := &recordingListener{}
	t.SetListener(l)
	return t, l
}

func TestTransitionsFireOncePerUser(t *testing.T) {
	tracker, listener := newTestTracker(time.Minute)

	// Two sessions for the same user produce a single ONLINE
	tracker.RegisterSession(7, "s1")
	tracker.RegisterSession(7, "s2")
	if online, _ := listener.counts(); online != 1 {
		t.Fatalf("expected 1 online transition, got %d", online)
	}
	if !tracker.IsOnline(7) {
		t.Fatal("expected user online")
	}

	// Dropping one session keeps the user online with no OFFLINE
	tracker.UnregisterSession("s1")
	if _, offline := listener.counts(); offline != 0 {
		t.Fatalf("expected no offline transition, got %d", offline)
	}
	if !tracker.IsOnline(7) {
		t.Fatal("expected user still online with one session left")
	}

	// The last session going away produces a single OFFLINE
	tracker.UnregisterSession("s2")
	if _, offline := listener.counts(); offline != 1 {
		t.Fatalf("expected 1 offline transition, got %d", offline)
	}
	if tracker.IsOnline(7) {
		t.Fatal("expected user offline")
	}
}

func TestUnknownSessionIsNoOp(t *testing.T) {
	tracker, listener := newTestTracker(time.Minute)

	tracker.UnregisterSession("never-registered")
	if online, offline := listener.counts(); online != 0 || offline != 0 {
		t.Fatalf("expected no transitions, got %d online %d offline", online, offline)
	}
}

func TestIdleUserReadsOfflineBeforeSweep(t *testing.T) {
	tracker, _ := newTestTracker(30 * time.Millisecond)

	tracker.RegisterSession(7, "s1")
	if !tracker.IsOnline(7) {
		t.Fatal("expected user online immediately after register")
	}

	time.Sleep(50 * time.Millisecond)

	// The sweep has not run, but the lazy idle check already hides the user
	if tracker.IsOnline(7) {
		t.Fatal("expected idle user to read as offline")
	}
	if got := tracker.ListOnline(); len(got) != 0 {
		t.Fatalf("expected empty online list, got %v", got)
	}
}

func TestSweepForcesIdleUsersOffline(t *testing.T) {
	tracker, listener := newTestTracker(30 * time.Millisecond)

	tracker.RegisterSession(7, "s1")
	tracker.RegisterSession(8, "s2")

	time.Sleep(50 * time.Millisecond)

	// User 8 stays active across the idle window
	tracker.Heartbeat(8, "s2")
	tracker.SweepIdle()

	if _, offline := listener.counts(); offline != 1 {
		t.Fatalf("expected 1 forced offline, got %d", offline)
	}
	if tracker.IsOnline(7) {
		t.Fatal("expected swept user offline")
	}
	if !tracker.IsOnline(8) {
		t.Fatal("expected heartbeating user to survive the sweep")
	}

	// Unregister after the sweep already removed the session
	tracker.UnregisterSession("s1")
	if _, offline := listener.counts(); offline != 1 {
		t.Fatalf("expected no double offline, got %d", offline)
	}
}

func TestHeartbeatAfterSweepHealsSession(t *testing.T) {
	tracker, listener := newTestTracker(30 * time.Millisecond)

	tracker.RegisterSession(7, "s1")
	time.Sleep(50 * time.Millisecond)
	tracker.SweepIdle()

	if tracker.IsOnline(7) {
		t.Fatal("expected user swept offline")
	}

	// The connection is still alive: its next heartbeat re-registers
	tracker.Heartbeat(7, "s1")
	if !tracker.IsOnline(7) {
		t.Fatal("expected heartbeat to heal the session back online")
	}
	if online, _ := listener.counts(); online != 2 {
		t.Fatalf("expected a second online transition after healing, got %d", online)
	}

	// And a clean disconnect still works after healing
	tracker.UnregisterSession("s1")
	if _, offline := listener.counts(); offline != 2 {
		t.Fatalf("expected clean offline after healed session closed, got %d", offline)
	}
}

func TestConcurrentSessionsSingleTransitionPair(t *testing.T) {
	tracker, listener := newTestTracker(time.Minute)

	sessions := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			tracker.RegisterSession(42, sessionID)
		}(s)
	}
	wg.Wait()

	if online, _ := listener.counts(); online != 1 {
		t.Fatalf("expected a single online transition under concurrency, got %d", online)
	}

	for _, s := range sessions {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			tracker.UnregisterSession(sessionID)
		}(s)
	}
	wg.Wait()

	if _, offline := listener.counts(); offline != 1 {
		t.Fatalf("expected a single offline transition under concurrency, got %d", offline)
	}
	if tracker.IsOnline(42) {
		t.Fatal("expected user offline after all sessions closed")
	}
}

// sequenceListener records the interleaved order of transitions, not just
// their counts
type sequenceListener struct {
	mu          sync.Mutex
	transitions []string
}

func (l *sequenceListener) UserOnline(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, "online")
}

func (l *sequenceListener) UserOffline(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, "offline")
}

func (l *sequenceListener) sequence() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.transitions...)
}

func TestTransitionsDeliverInOrderUnderChurn(t *testing.T) {
	tracker := NewTracker(time.Minute)
	listener := &sequenceListener{}
	tracker.SetListener(listener)

	// Rapid reconnect churn: each disconnect races the next connect. The
	// listener must never see two ONLINEs or two OFFLINEs in a row, which
	// would happen if a transition could be delivered out of order.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("churn-%d", i)
			tracker.RegisterSession(9, sessionID)
			tracker.UnregisterSession(sessionID)
		}(i)
	}
	wg.Wait()

	seq := listener.sequence()
	if len(seq) == 0 || seq[0] != "online" {
		t.Fatalf("expected sequence to open with online, got %v", seq)
	}
	for i := 1; i < len(seq); i++ {
		if seq[i] == seq[i-1] {
			t.Fatalf("expected alternating transitions, got %v", seq)
		}
	}
	if seq[len(seq)-1] != "offline" {
		t.Fatalf("expected sequence to end offline, got %v", seq)
	}
}

func TestListOnline(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	tracker.RegisterSession(1, "s1")
	tracker.RegisterSession(2, "s2")
	tracker.UnregisterSession("s2")

	online := tracker.ListOnline()
	if len(online) != 1 || online[0] != 1 {
		t.Fatalf("expected only user 1 online, got %v", online)
	}
}
