// internal/realtime/hub.go

package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skillsphere/messaging-service/internal/chat"
)

var activeConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "realtime_active_connections",
		Help: "Number of active WebSocket connections",
	},
)

// outbound is one fan-out unit flowing through the hub's run loop. Routing
// every broadcast through the single loop preserves per-topic ordering:
// a read receipt can never overtake the send it acknowledges.
type outbound struct {
	conversationID int64
	recipients     []int64
	event          chat.Event
}

// Hub maintains active WebSocket sessions and their subscriptions. A user
// may hold several sessions at once (multi-tab, multi-device); per-user
// delivery reaches all of them.
type Hub struct {
	mu           sync.RWMutex
	clients      map[int64]map[string]*Client
	topics       map[int64]map[*Client]struct{}
	presenceSubs map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:      make(map[int64]map[string]*Client),
		topics:       make(map[int64]map[*Client]struct{}),
		presenceSubs: make(map[*Client]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan outbound, 256),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case out := <-h.broadcast:
			h.fanOut(out)

		case <-h.ctx.Done():
			h.cleanup()
			return
		}
	}
}

// BroadcastToConversation implements chat.Broadcaster. Recipients get the
// event on their private per-user queues (all sessions); the shared
// conversation topic reaches generic subscribers. Topic-only events pass
// nil recipients.
func (h *Hub) BroadcastToConversation(conversationID int64, recipients []int64, event chat.Event) {
	select {
	case h.broadcast <- outbound{conversationID: conversationID, recipients: recipients, event: event}:
	case <-h.ctx.Done():
	}
}

// presencePayload is the body of presence transition events
type presencePayload struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// UserOnline implements presence.Listener
func (h *Hub) UserOnline(userID int64) {
	h.broadcastPresence(userID, "online")
}

// UserOffline implements presence.Listener
func (h *Hub) UserOffline(userID int64) {
	h.broadcastPresence(userID, "offline")
}

// broadcastPresence delivers a transition to the global presence topic and
// to the user's own sessions for self-status
func (h *Hub) broadcastPresence(userID int64, status string) {
	event := chat.NewEvent(chat.EventPresence, 0, presencePayload{UserID: userID, Status: status})
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling presence event: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.presenceSubs)+2)
	for client := range h.presenceSubs {
		targets = append(targets, client)
	}
	for _, client := range h.clients[userID] {
		if _, subscribed := h.presenceSubs[client]; !subscribed {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, data)
	}
}

// Subscribe adds a client to a conversation topic
func (h *Hub) Subscribe(client *Client, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[conversationID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[conversationID] = subs
	}
	subs[client] = struct{}{}
}

// Unsubscribe removes a client from a conversation topic
func (h *Hub) Unsubscribe(client *Client, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[conversationID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, conversationID)
		}
	}
}

// SubscribePresence adds a client to the global presence topic
func (h *Hub) SubscribePresence(client *Client) {
	h.mu.Lock()
	h.presenceSubs[client] = struct{}{}
	h.mu.Unlock()
}

// UnsubscribePresence removes a client from the global presence topic
func (h *Hub) UnsubscribePresence(client *Client) {
	h.mu.Lock()
	delete(h.presenceSubs, client)
	h.mu.Unlock()
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	sessions, ok := h.clients[client.identity.InternalID]
	if !ok {
		sessions = make(map[string]*Client)
		h.clients[client.identity.InternalID] = sessions
	}
	sessions[client.sessionID] = client
	total := h.connectionCount()
	h.mu.Unlock()

	activeConnections.Set(float64(total))
	log.Printf("User %d connected (session %s). Total connections: %d", client.identity.InternalID, client.sessionID, total)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	sessions, ok := h.clients[client.identity.InternalID]
	if ok {
		if _, present := sessions[client.sessionID]; present {
			delete(sessions, client.sessionID)
			if len(sessions) == 0 {
				delete(h.clients, client.identity.InternalID)
			}
			client.Close()
		}
	}
	for convID, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, convID)
		}
	}
	delete(h.presenceSubs, client)
	total := h.connectionCount()
	h.mu.Unlock()

	activeConnections.Set(float64(total))
	log.Printf("User %d disconnected (session %s). Total connections: %d", client.identity.InternalID, client.sessionID, total)
}

func (h *Hub) fanOut(out outbound) {
	data, err := json.Marshal(out.event)
	if err != nil {
		log.Printf("Error marshalling event: %v", err)
		return
	}

	h.mu.RLock()
	seen := make(map[*Client]struct{})
	targets := make([]*Client, 0, len(out.recipients))
	for _, userID := range out.recipients {
		for _, client := range h.clients[userID] {
			if _, dup := seen[client]; !dup {
				seen[client] = struct{}{}
				targets = append(targets, client)
			}
		}
	}
	for client := range h.topics[out.conversationID] {
		if _, dup := seen[client]; !dup {
			seen[client] = struct{}{}
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, data)
	}
}

// deliver enqueues a frame; a slow consumer with a full queue is evicted
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		go func() {
			select {
			case h.unregister <- client:
			case <-h.ctx.Done():
			}
		}()
	}
}

// IsUserOnline reports whether the user has at least one hub session
func (h *Hub) IsUserOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID]) > 0
}

// connectionCount must be called with the lock held
func (h *Hub) connectionCount() int {
	total := 0
	for _, sessions := range h.clients {
		total += len(sessions)
	}
	return total
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sessions := range h.clients {
		for _, client := range sessions {
			client.Close()
		}
	}
	h.clients = make(map[int64]map[string]*Client)
	h.topics = make(map[int64]map[*Client]struct{})
	h.presenceSubs = make(map[*Client]struct{})
}

// Shutdown stops the run loop and closes all connections
func (h *Hub) Shutdown() {
	h.cancel()
	<-h.done
}
