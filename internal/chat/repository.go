// internal/chat/repository.go

package chat

import (
	"context"
	"time"
)

type Repository interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	GetDirectConversation(ctx context.Context, directKey string) (*Conversation, error)
	GetSkillGroupConversation(ctx context.Context, skillRef int64) (*Conversation, error)
	ListUserConversations(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error)
	SearchUserConversations(ctx context.Context, userID int64, query string) ([]*Conversation, error)
	UpdateConversationLastMessage(ctx context.Context, convID int64, preview string, at time.Time) error

	// Participants
	AddParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, convID, userID int64) (*Participant, error)
	GetActiveParticipants(ctx context.Context, convID int64) ([]*Participant, error)
	DeactivateParticipant(ctx context.Context, convID, userID int64) error
	ReactivateParticipant(ctx context.Context, convID, userID int64) error
	SetNotificationsEnabled(ctx context.Context, convID, userID int64, enabled bool) error
	AdvanceLastRead(ctx context.Context, convID, userID, messageID int64) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, convID int64, limit, offset int) ([]*Message, error)
	MarkDelivered(ctx context.Context, messageID int64) error
	MarkConversationRead(ctx context.Context, convID, readerID int64, at time.Time) (count int, lastID int64, err error)
	UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) error
	SoftDeleteMessage(ctx context.Context, id int64) error
	SearchMessages(ctx context.Context, convID int64, query string, limit, offset int) ([]*Message, error)
	UnreadCount(ctx context.Context, convID, userID int64) (int, error)
	TotalUnreadCount(ctx context.Context, userID int64) (int, error)
	PurgeDeletedMessages(ctx context.Context, olderThan time.Duration) (int64, error)

	// IsDuplicate reports whether err is a unique-constraint violation,
	// used to resolve concurrent create-or-get races at the store level
	IsDuplicate(err error) bool
}
