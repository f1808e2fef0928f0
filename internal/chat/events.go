// internal/chat/events.go
// Outbound real-time event vocabulary shared with the transport layer

package chat

import "time"

type EventType string

const (
	EventMessage        EventType = "message"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventRead           EventType = "read"
	EventTyping         EventType = "typing"
	EventStopTyping     EventType = "stop_typing"
	EventPresence       EventType = "presence"
)

// Event is the envelope fanned out to connected clients
type Event struct {
	Type           EventType   `json:"type"`
	ConversationID int64       `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data"`
	Timestamp      time.Time   `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(eventType EventType, conversationID int64, data interface{}) Event {
	return Event{
		Type:           eventType,
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now(),
	}
}

// ReadReceipt is the payload of an EventRead broadcast
type ReadReceipt struct {
	ConversationID    int64 `json:"conversation_id"`
	ReaderID          int64 `json:"reader_id"`
	Count             int   `json:"count"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}

// TypingNotice is the payload of typing indicator broadcasts
type TypingNotice struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	DisplayName    string `json:"display_name,omitempty"`
}

// Broadcaster fans an event out to every active session of each recipient
// (per-user private queues) and to the shared conversation topic. Pass nil
// recipients for topic-only events such as typing indicators.
type Broadcaster interface {
	BroadcastToConversation(conversationID int64, recipients []int64, event Event)
}

// OnlineChecker answers whether a user currently has a live session
type OnlineChecker interface {
	IsOnline(userID int64) bool
}
