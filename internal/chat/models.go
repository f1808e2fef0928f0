// internal/chat/models.go

package chat

import (
	"fmt"
	"time"
)

// Conversation types
type ConversationType string

const (
	ConversationDirect     ConversationType = "DIRECT"
	ConversationGroup      ConversationType = "GROUP"
	ConversationSkillGroup ConversationType = "SKILL_GROUP"
)

// Conversation status. COMPLETED and CANCELLED mirror the upstream
// skill/exchange lifecycle and are set by external events.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "ACTIVE"
	StatusArchived  ConversationStatus = "ARCHIVED"
	StatusCompleted ConversationStatus = "COMPLETED"
	StatusCancelled ConversationStatus = "CANCELLED"
)

// Participant roles
type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "ADMIN"
	RoleMember    ParticipantRole = "MEMBER"
	RoleModerator ParticipantRole = "MODERATOR"
	RoleReadOnly  ParticipantRole = "READONLY"
)

// Message types
type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeImage  MessageType = "IMAGE"
	TypeFile   MessageType = "FILE"
	TypeAudio  MessageType = "AUDIO"
	TypeVideo  MessageType = "VIDEO"
	TypeSystem MessageType = "SYSTEM"
)

// Message delivery status, conversation-wide. Only ever advances
// SENT -> DELIVERED -> READ.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// DeletedPlaceholder replaces the content of soft-deleted messages
const DeletedPlaceholder = "This message was deleted"

// Conversation represents a chat conversation
type Conversation struct {
	ID                 int64              `json:"id" db:"id"`
	Name               string             `json:"name" db:"name"`
	Type               ConversationType   `json:"type" db:"type"`
	Status             ConversationStatus `json:"status" db:"status"`
	SkillRef           *int64             `json:"skill_ref,omitempty" db:"skill_ref"`
	DirectKey          *string            `json:"-" db:"direct_key"`
	LastMessagePreview *string            `json:"last_message_preview,omitempty" db:"last_message_preview"`
	LastMessageAt      *time.Time         `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`

	// Computed fields
	Participants []*Participant `json:"participants,omitempty"`
	UnreadCount  int            `json:"unread_count,omitempty"`
}

// DirectKey builds the canonical key for a DIRECT conversation pair. The
// unique index on this key is what resolves concurrent duplicate creation.
func DirectKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// Participant represents a user's membership record in a conversation
type Participant struct {
	ID                   int64           `json:"id" db:"id"`
	ConversationID       int64           `json:"conversation_id" db:"conversation_id"`
	UserID               int64           `json:"user_id" db:"user_id"`
	DisplayName          string          `json:"display_name" db:"display_name"`
	Role                 ParticipantRole `json:"role" db:"role"`
	JoinedAt             time.Time       `json:"joined_at" db:"joined_at"`
	LeftAt               *time.Time      `json:"left_at,omitempty" db:"left_at"`
	IsActive             bool            `json:"is_active" db:"is_active"`
	LastReadMessageID    *int64          `json:"last_read_message_id,omitempty" db:"last_read_message_id"`
	NotificationsEnabled bool            `json:"notifications_enabled" db:"notifications_enabled"`
}

// Message represents a chat message
type Message struct {
	ID             int64         `json:"id" db:"id"`
	ConversationID int64         `json:"conversation_id" db:"conversation_id"`
	SenderID       int64         `json:"sender_id" db:"sender_id"`
	SenderName     string        `json:"sender_name" db:"sender_name"`
	Content        string        `json:"content" db:"content"`
	Type           MessageType   `json:"type" db:"type"`
	Status         MessageStatus `json:"status" db:"status"`
	AttachmentURL  *string       `json:"attachment_url,omitempty" db:"attachment_url"`
	AttachmentName *string       `json:"attachment_name,omitempty" db:"attachment_name"`
	AttachmentType *string       `json:"attachment_type,omitempty" db:"attachment_type"`
	AttachmentSize *int64        `json:"attachment_size,omitempty" db:"attachment_size"`
	SentAt         time.Time     `json:"sent_at" db:"sent_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty" db:"read_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty" db:"edited_at"`
	IsDeleted      bool          `json:"is_deleted" db:"is_deleted"`
}

// Attachment carries an uploaded file reference on a send request
type Attachment struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"required"`
	Type string `json:"type"`
	Size int64  `json:"size" validate:"min=0"`
}

// Request DTOs

type SendMessageRequest struct {
	ConversationID int64       `json:"conversation_id" validate:"required"`
	Content        string      `json:"content" validate:"required_without=Attachment,max=4000"`
	Type           MessageType `json:"type" validate:"required,oneof=TEXT IMAGE FILE AUDIO VIDEO"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

type CreateGroupRequest struct {
	Name           string  `json:"name" validate:"required,min=1,max=120"`
	ParticipantIDs []int64 `json:"participant_ids" validate:"required,min=1"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// Page is a paged result window
type Page[T any] struct {
	Items []T  `json:"items"`
	Page  int  `json:"page"`
	Size  int  `json:"size"`
	More  bool `json:"more"`
}
