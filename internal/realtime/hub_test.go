package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/skillsphere/messaging-service/internal/chat"
	"github.com/skillsphere/messaging-service/internal/identity"
)

// newTestClient builds an in-process client with no socket; frames land in
// the send queue where the test reads them
func newTestClient(hub *Hub, userID int64, sessionID string) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, 16),
		sessionID: sessionID,
		identity:  &identity.Identity{InternalID: userID},
	}
}

func startTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func connect(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	select {
	case hub.register <- client:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
}

func receive(t *testing.T, client *Client) chat.Event {
	t.Helper()
	select {
	case data := <-client.send:
		var event chat.Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("expected a frame, got none")
		return chat.Event{}
	}
}

func expectSilence(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("expected no frame, got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastReachesAllRecipientSessions(t *testing.T) {
	hub := startTestHub(t)

	tab1 := newTestClient(hub, 1, "u1-tab1")
	tab2 := newTestClient(hub, 1, "u1-tab2")
	other := newTestClient(hub, 2, "u2-tab1")
	bystander := newTestClient(hub, 3, "u3-tab1")
	connect(t, hub, tab1)
	connect(t, hub, tab2)
	connect(t, hub, other)
	connect(t, hub, bystander)

	hub.BroadcastToConversation(10, []int64{1, 2}, chat.NewEvent(chat.EventMessage, 10, "hello"))

	for _, client := range []*Client{tab1, tab2, other} {
		event := receive(t, client)
		if event.Type != chat.EventMessage || event.ConversationID != 10 {
			t.Fatalf("unexpected event %+v for session %s", event, client.sessionID)
		}
	}
	expectSilence(t, bystander)
}

func TestTopicSubscriptionRouting(t *testing.T) {
	hub := startTestHub(t)

	subscriber := newTestClient(hub, 5, "u5-tab1")
	outsider := newTestClient(hub, 6, "u6-tab1")
	connect(t, hub, subscriber)
	connect(t, hub, outsider)

	hub.Subscribe(subscriber, 20)

	// Topic-only broadcast (nil recipients) reaches subscribers only
	hub.BroadcastToConversation(20, nil, chat.NewEvent(chat.EventTyping, 20, nil))
	if event := receive(t, subscriber); event.Type != chat.EventTyping {
		t.Fatalf("unexpected event %+v", event)
	}
	expectSilence(t, outsider)

	hub.Unsubscribe(subscriber, 20)
	hub.BroadcastToConversation(20, nil, chat.NewEvent(chat.EventTyping, 20, nil))
	expectSilence(t, subscriber)
}

func TestRecipientAndSubscriberDeduplicated(t *testing.T) {
	hub := startTestHub(t)

	client := newTestClient(hub, 7, "u7-tab1")
	connect(t, hub, client)
	hub.Subscribe(client, 30)

	// A session that is both a recipient and a topic subscriber gets the
	// event once
	hub.BroadcastToConversation(30, []int64{7}, chat.NewEvent(chat.EventMessage, 30, "once"))
	receive(t, client)
	expectSilence(t, client)
}

func TestPresenceBroadcast(t *testing.T) {
	hub := startTestHub(t)

	watcher := newTestClient(hub, 8, "u8-tab1")
	self := newTestClient(hub, 9, "u9-tab1")
	unrelated := newTestClient(hub, 10, "u10-tab1")
	connect(t, hub, watcher)
	connect(t, hub, self)
	connect(t, hub, unrelated)

	hub.SubscribePresence(watcher)

	// Presence reaches subscribers and the transitioning user's own sessions
	hub.UserOnline(9)

	for _, client := range []*Client{watcher, self} {
		event := receive(t, client)
		if event.Type != chat.EventPresence {
			t.Fatalf("unexpected event %+v for session %s", event, client.sessionID)
		}
	}
	expectSilence(t, unrelated)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := startTestHub(t)

	client := newTestClient(hub, 11, "u11-tab1")
	connect(t, hub, client)
	if !hub.IsUserOnline(11) {
		t.Fatal("expected user online after register")
	}

	select {
	case hub.unregister <- client:
	case <-time.After(time.Second):
		t.Fatal("unregister timed out")
	}

	// Drain until the hub has processed the unregister
	deadline := time.Now().Add(time.Second)
	for hub.IsUserOnline(11) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.IsUserOnline(11) {
		t.Fatal("expected user offline after unregister")
	}

	hub.BroadcastToConversation(40, []int64{11}, chat.NewEvent(chat.EventMessage, 40, "late"))
	expectSilence(t, client)
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	hub := startTestHub(t)

	slow := &Client{
		hub:       hub,
		send:      make(chan []byte, 1),
		sessionID: "slow-tab1",
		identity:  &identity.Identity{InternalID: 12},
	}
	connect(t, hub, slow)

	// Fill the queue, then overflow it
	hub.BroadcastToConversation(50, []int64{12}, chat.NewEvent(chat.EventMessage, 50, "first"))
	hub.BroadcastToConversation(50, []int64{12}, chat.NewEvent(chat.EventMessage, 50, "overflow"))

	deadline := time.Now().Add(time.Second)
	for hub.IsUserOnline(12) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.IsUserOnline(12) {
		t.Fatal("expected slow consumer to be evicted")
	}
}

func TestUnregisterPrunesEmptyTopics(t *testing.T) {
	hub := startTestHub(t)

	client := newTestClient(hub, 13, "u13-tab1")
	connect(t, hub, client)
	hub.Subscribe(client, 60)

	select {
	case hub.unregister <- client:
	case <-time.After(time.Second):
		t.Fatal("unregister timed out")
	}
	deadline := time.Now().Add(time.Second)
	for hub.IsUserOnline(13) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// The last subscriber disconnecting must not strand an empty set; a busy
	// server would otherwise hold one per conversation ever opened
	hub.mu.RLock()
	_, stranded := hub.topics[60]
	hub.mu.RUnlock()
	if stranded {
		t.Fatal("expected emptied topic set to be pruned on unregister")
	}
}

func TestStalledClientReplyEvicts(t *testing.T) {
	hub := startTestHub(t)

	stalled := &Client{
		hub:       hub,
		send:      make(chan []byte, 1),
		sessionID: "stalled-tab1",
		identity:  &identity.Identity{InternalID: 14},
	}
	connect(t, hub, stalled)

	// Fill the queue, then force a direct reply; it cannot be queued, so the
	// client takes the same eviction path as a slow broadcast consumer
	stalled.send <- []byte("backlog")
	stalled.sendError("bad_frame", "malformed frame")

	deadline := time.Now().Add(time.Second)
	for hub.IsUserOnline(14) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.IsUserOnline(14) {
		t.Fatal("expected stalled client evicted when a reply cannot be queued")
	}
}
