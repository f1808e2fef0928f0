// internal/chat/errors.go

package chat

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant in this conversation")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
	ErrEditWindowExpired    = errors.New("message can no longer be edited")
	ErrMessageDeleted       = errors.New("message has been deleted")
)
