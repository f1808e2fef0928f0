// internal/chat/messages.go
// Message send, read-tracking, edit, soft-delete and search

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Send persists and fans out a message. Authorization gates the whole
// operation; metadata enrichment never does. The message is stored as SENT
// and advanced to DELIVERED once the broadcast attempt completes.
func (s *Service) Send(ctx context.Context, senderID int64, senderName string, req *SendMessageRequest) (*Message, error) {
	conv, err := s.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	participant, err := s.repo.GetParticipant(ctx, conv.ID, senderID)
	if err != nil && !errors.Is(err, ErrNotParticipant) {
		return nil, err
	}

	if !canSend(conv, participant) {
		return nil, ErrNotAuthorized
	}

	if senderName == "" {
		if participant != nil {
			senderName = participant.DisplayName
		} else {
			senderName = s.displayName(ctx, senderID)
		}
	}

	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        req.Content,
		Type:           req.Type,
		Status:         StatusSent,
		SentAt:         time.Now(),
	}
	if req.Attachment != nil {
		msg.AttachmentURL = &req.Attachment.URL
		msg.AttachmentName = &req.Attachment.Name
		msg.AttachmentType = &req.Attachment.Type
		msg.AttachmentSize = &req.Attachment.Size
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	preview := previewText(msg)
	if err := s.repo.UpdateConversationLastMessage(ctx, conv.ID, preview, msg.SentAt); err != nil {
		log.Printf("Warning: updating last message for conversation %d: %v", conv.ID, err)
	}

	participants, err := s.repo.GetActiveParticipants(ctx, conv.ID)
	if err != nil {
		log.Printf("Warning: loading participants for conversation %d: %v", conv.ID, err)
		participants = nil
	}

	recipients := make([]int64, 0, len(participants))
	for _, p := range participants {
		recipients = append(recipients, p.UserID)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToConversation(conv.ID, recipients, NewEvent(EventMessage, conv.ID, msg))
	}

	// DELIVERED is set unconditionally after the broadcast attempt, not
	// per-recipient ack
	if err := s.repo.MarkDelivered(ctx, msg.ID); err != nil {
		log.Printf("Warning: marking message %d delivered: %v", msg.ID, err)
	} else {
		msg.Status = StatusDelivered
	}

	go s.notifyOfflineParticipants(conv, msg, participants)

	messagesSent.Inc()
	return msg, nil
}

// Page returns one window of a conversation's messages. Page 0 is the most
// recent window; rows within each page run oldest to newest.
func (s *Service) Page(ctx context.Context, convID, requesterID int64, page, size int) (*Page[*Message], error) {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, conv, requesterID); err != nil {
		return nil, err
	}

	size = clampPageSize(size)
	if page < 0 {
		page = 0
	}

	msgs, err := s.repo.ListMessages(ctx, convID, size+1, page*size)
	if err != nil {
		return nil, err
	}

	more := len(msgs) > size
	if more {
		msgs = msgs[:size]
	}
	reverseMessages(msgs)

	return &Page[*Message]{Items: msgs, Page: page, Size: size, More: more}, nil
}

// MarkRead marks every unread message not sent by the caller as READ,
// advances the caller's read pointer, and broadcasts a receipt. Idempotent:
// a second call changes nothing and returns 0.
func (s *Service) MarkRead(ctx context.Context, convID, userID int64) (int, error) {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return 0, err
	}
	if err := s.checkReadAccess(ctx, conv, userID); err != nil {
		return 0, err
	}

	count, lastID, err := s.repo.MarkConversationRead(ctx, convID, userID, time.Now())
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	// The pointer only moves forward; lobby readers without a participant
	// row have no pointer to advance
	if _, perr := s.repo.GetParticipant(ctx, convID, userID); perr == nil {
		if err := s.repo.AdvanceLastRead(ctx, convID, userID, lastID); err != nil {
			log.Printf("Warning: advancing read pointer for user %d in conversation %d: %v", userID, convID, err)
		}
	}

	if s.broadcaster != nil {
		receipt := ReadReceipt{
			ConversationID:    convID,
			ReaderID:          userID,
			Count:             count,
			LastReadMessageID: lastID,
		}
		s.broadcaster.BroadcastToConversation(convID, nil, NewEvent(EventRead, convID, receipt))
	}

	return count, nil
}

// Edit rewrites a message's content. Only the original sender may edit,
// only within the edit window, and never after deletion.
func (s *Service) Edit(ctx context.Context, messageID, requesterID int64, content string) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if msg.SenderID != requesterID {
		return nil, ErrNotAuthorized
	}
	if time.Since(msg.SentAt) > s.editWindow {
		return nil, ErrEditWindowExpired
	}

	now := time.Now()
	if err := s.repo.UpdateMessageContent(ctx, messageID, content, now); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &now

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToConversation(msg.ConversationID, s.activeRecipients(ctx, msg.ConversationID), NewEvent(EventMessageEdited, msg.ConversationID, msg))
	}

	return msg, nil
}

// Delete soft-deletes a message: the content becomes a tombstone and the
// deleted state is terminal
func (s *Service) Delete(ctx context.Context, messageID, requesterID int64) error {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.SenderID != requesterID {
		return ErrNotAuthorized
	}
	if msg.IsDeleted {
		return nil
	}

	if err := s.repo.SoftDeleteMessage(ctx, messageID); err != nil {
		return err
	}

	if s.broadcaster != nil {
		payload := map[string]int64{"message_id": messageID, "conversation_id": msg.ConversationID}
		s.broadcaster.BroadcastToConversation(msg.ConversationID, s.activeRecipients(ctx, msg.ConversationID), NewEvent(EventMessageDeleted, msg.ConversationID, payload))
	}

	return nil
}

// SearchMessages matches message content case-insensitively within one
// conversation
func (s *Service) SearchMessages(ctx context.Context, convID, requesterID int64, query string, page, size int) (*Page[*Message], error) {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, conv, requesterID); err != nil {
		return nil, err
	}

	size = clampPageSize(size)
	if page < 0 {
		page = 0
	}

	msgs, err := s.repo.SearchMessages(ctx, convID, query, size+1, page*size)
	if err != nil {
		return nil, err
	}

	more := len(msgs) > size
	if more {
		msgs = msgs[:size]
	}
	reverseMessages(msgs)

	return &Page[*Message]{Items: msgs, Page: page, Size: size, More: more}, nil
}

// UnreadCount returns the caller's unread count for one conversation
func (s *Service) UnreadCount(ctx context.Context, convID, userID int64) (int, error) {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return 0, err
	}
	if err := s.checkReadAccess(ctx, conv, userID); err != nil {
		return 0, err
	}
	return s.repo.UnreadCount(ctx, convID, userID)
}

// TotalUnreadCount sums unread messages across all the caller's active
// conversations
func (s *Service) TotalUnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.repo.TotalUnreadCount(ctx, userID)
}

// PurgeDeletedMessages is the retention sweep over old soft-deleted rows
func (s *Service) PurgeDeletedMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.PurgeDeletedMessages(ctx, olderThan)
}

// BroadcastTyping relays a typing indicator over the conversation topic.
// Ephemeral: nothing is persisted.
func (s *Service) BroadcastTyping(ctx context.Context, convID, userID int64, displayName string, typing bool) error {
	if err := s.CanAccess(ctx, convID, userID); err != nil {
		return err
	}

	eventType := EventTyping
	if !typing {
		eventType = EventStopTyping
	}

	if s.broadcaster != nil {
		notice := TypingNotice{ConversationID: convID, UserID: userID, DisplayName: displayName}
		s.broadcaster.BroadcastToConversation(convID, nil, NewEvent(eventType, convID, notice))
	}
	return nil
}

// postSystemMessage records a SYSTEM message and fans it out; failures are
// logged, the triggering operation already succeeded
func (s *Service) postSystemMessage(ctx context.Context, conv *Conversation, content string) {
	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       0,
		SenderName:     "System",
		Content:        content,
		Type:           TypeSystem,
		Status:         StatusSent,
		SentAt:         time.Now(),
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		log.Printf("Warning: recording system message in conversation %d: %v", conv.ID, err)
		return
	}

	if err := s.repo.UpdateConversationLastMessage(ctx, conv.ID, content, msg.SentAt); err != nil {
		log.Printf("Warning: updating last message for conversation %d: %v", conv.ID, err)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToConversation(conv.ID, s.activeRecipients(ctx, conv.ID), NewEvent(EventMessage, conv.ID, msg))
	}
}

// activeRecipients returns the ids of a conversation's active participants,
// the per-user delivery targets of message-type events. Message mutations
// must reach every session that got the original message on its private
// queue, not only topic subscribers.
func (s *Service) activeRecipients(ctx context.Context, convID int64) []int64 {
	participants, err := s.repo.GetActiveParticipants(ctx, convID)
	if err != nil {
		log.Printf("Warning: loading participants for conversation %d: %v", convID, err)
		return nil
	}
	recipients := make([]int64, 0, len(participants))
	for _, p := range participants {
		recipients = append(recipients, p.UserID)
	}
	return recipients
}

func (s *Service) notifyOfflineParticipants(conv *Conversation, msg *Message, participants []*Participant) {
	if s.notifier == nil {
		return
	}

	ctx := context.Background()
	for _, p := range participants {
		if p.UserID == msg.SenderID || !p.NotificationsEnabled {
			continue
		}
		if s.presence != nil && s.presence.IsOnline(p.UserID) {
			continue
		}

		s.notifier.Notify(ctx, p.UserID, msg.SenderName, previewText(msg), map[string]string{
			"type":            "message",
			"conversation_id": fmt.Sprintf("%d", conv.ID),
			"message_id":      fmt.Sprintf("%d", msg.ID),
			"sender_id":       fmt.Sprintf("%d", msg.SenderID),
		})
	}
}

// previewText produces the conversation-list preview for a message
func previewText(msg *Message) string {
	if msg.Content != "" {
		runes := []rune(msg.Content)
		if len(runes) > 120 {
			return string(runes[:120])
		}
		return msg.Content
	}

	switch msg.Type {
	case TypeImage:
		return "Sent an image"
	case TypeVideo:
		return "Sent a video"
	case TypeAudio:
		return "Sent an audio message"
	case TypeFile:
		return "Sent a file"
	default:
		return "Sent a message"
	}
}

func reverseMessages(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
