// internal/chat/postgres.go

package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// CreateConversation creates a conversation. A unique-index violation on
// direct_key or skill_ref surfaces through IsDuplicate.
func (r *postgresRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
        INSERT INTO conversations (
            name, type, status, skill_ref, direct_key, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $6
        ) RETURNING id`

	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	return r.db.QueryRowContext(
		ctx, query,
		conv.Name, conv.Type, conv.Status, conv.SkillRef, conv.DirectKey, now,
	).Scan(&conv.ID)
}

func (r *postgresRepository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *postgresRepository) GetDirectConversation(ctx context.Context, directKey string) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT * FROM conversations WHERE type = 'DIRECT' AND direct_key = $1`, directKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *postgresRepository) GetSkillGroupConversation(ctx context.Context, skillRef int64) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT * FROM conversations WHERE type = 'SKILL_GROUP' AND skill_ref = $1`, skillRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListUserConversations returns the user's ACTIVE conversations ordered by
// last message time descending, nulls last, then creation time descending
func (r *postgresRepository) ListUserConversations(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error) {
	query := `
        SELECT c.*
        FROM conversations c
        JOIN conversation_participants p
          ON p.conversation_id = c.id AND p.user_id = $1 AND p.is_active = true
        WHERE c.status = 'ACTIVE'
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
        LIMIT $2 OFFSET $3`

	var convs []*Conversation
	if err := r.db.SelectContext(ctx, &convs, query, userID, limit, offset); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *postgresRepository) SearchUserConversations(ctx context.Context, userID int64, query string) ([]*Conversation, error) {
	q := `
        SELECT c.*
        FROM conversations c
        JOIN conversation_participants p
          ON p.conversation_id = c.id AND p.user_id = $1 AND p.is_active = true
        WHERE c.status = 'ACTIVE' AND c.name ILIKE '%' || $2 || '%'
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	var convs []*Conversation
	if err := r.db.SelectContext(ctx, &convs, q, userID, query); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *postgresRepository) UpdateConversationLastMessage(ctx context.Context, convID int64, preview string, at time.Time) error {
	query := `
        UPDATE conversations
        SET last_message_preview = $1,
            last_message_at = $2,
            updated_at = $2
        WHERE id = $3`

	_, err := r.db.ExecContext(ctx, query, preview, at, convID)
	return err
}

func (r *postgresRepository) AddParticipant(ctx context.Context, p *Participant) error {
	query := `
        INSERT INTO conversation_participants (
            conversation_id, user_id, display_name, role, joined_at,
            is_active, notifications_enabled
        ) VALUES ($1, $2, $3, $4, $5, true, true)
        RETURNING id`

	p.JoinedAt = time.Now()
	p.IsActive = true
	p.NotificationsEnabled = true

	return r.db.QueryRowContext(
		ctx, query,
		p.ConversationID, p.UserID, p.DisplayName, p.Role, p.JoinedAt,
	).Scan(&p.ID)
}

func (r *postgresRepository) GetParticipant(ctx context.Context, convID, userID int64) (*Participant, error) {
	var p Participant
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) GetActiveParticipants(ctx context.Context, convID int64) ([]*Participant, error) {
	var ps []*Participant
	err := r.db.SelectContext(ctx, &ps,
		`SELECT * FROM conversation_participants
         WHERE conversation_id = $1 AND is_active = true
         ORDER BY joined_at`, convID)
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func (r *postgresRepository) DeactivateParticipant(ctx context.Context, convID, userID int64) error {
	query := `
        UPDATE conversation_participants
        SET is_active = false, left_at = NOW()
        WHERE conversation_id = $1 AND user_id = $2 AND is_active = true`

	_, err := r.db.ExecContext(ctx, query, convID, userID)
	return err
}

func (r *postgresRepository) ReactivateParticipant(ctx context.Context, convID, userID int64) error {
	query := `
        UPDATE conversation_participants
        SET is_active = true, left_at = NULL, joined_at = NOW()
        WHERE conversation_id = $1 AND user_id = $2`

	_, err := r.db.ExecContext(ctx, query, convID, userID)
	return err
}

func (r *postgresRepository) SetNotificationsEnabled(ctx context.Context, convID, userID int64, enabled bool) error {
	query := `
        UPDATE conversation_participants
        SET notifications_enabled = $1
        WHERE conversation_id = $2 AND user_id = $3`

	_, err := r.db.ExecContext(ctx, query, enabled, convID, userID)
	return err
}

// AdvanceLastRead moves the read pointer forward only; GREATEST keeps it
// monotonic under concurrent markRead calls
func (r *postgresRepository) AdvanceLastRead(ctx context.Context, convID, userID, messageID int64) error {
	query := `
        UPDATE conversation_participants
        SET last_read_message_id = GREATEST(COALESCE(last_read_message_id, 0), $1)
        WHERE conversation_id = $2 AND user_id = $3`

	_, err := r.db.ExecContext(ctx, query, messageID, convID, userID)
	return err
}

func (r *postgresRepository) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
        INSERT INTO messages (
            conversation_id, sender_id, sender_name, content, type, status,
            attachment_url, attachment_name, attachment_type, attachment_size,
            sent_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id`

	return r.db.QueryRowContext(
		ctx, query,
		msg.ConversationID, msg.SenderID, msg.SenderName, msg.Content,
		msg.Type, msg.Status, msg.AttachmentURL, msg.AttachmentName,
		msg.AttachmentType, msg.AttachmentSize, msg.SentAt,
	).Scan(&msg.ID)
}

func (r *postgresRepository) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var msg Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns non-deleted messages newest first; the service
// reverses each window so clients see oldest to newest within a page
func (r *postgresRepository) ListMessages(ctx context.Context, convID int64, limit, offset int) ([]*Message, error) {
	query := `
        SELECT * FROM messages
        WHERE conversation_id = $1 AND is_deleted = false
        ORDER BY id DESC
        LIMIT $2 OFFSET $3`

	var msgs []*Message
	if err := r.db.SelectContext(ctx, &msgs, query, convID, limit, offset); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkDelivered advances SENT to DELIVERED; any other status is untouched
func (r *postgresRepository) MarkDelivered(ctx context.Context, messageID int64) error {
	query := `
        UPDATE messages
        SET status = 'DELIVERED'
        WHERE id = $1 AND status = 'SENT'`

	_, err := r.db.ExecContext(ctx, query, messageID)
	return err
}

// MarkConversationRead marks every unread message not sent by the reader as
// READ and returns how many rows changed plus the newest affected id.
// Running it twice in a row is a no-op returning 0.
func (r *postgresRepository) MarkConversationRead(ctx context.Context, convID, readerID int64, at time.Time) (int, int64, error) {
	query := `
        UPDATE messages
        SET status = 'READ', read_at = $1
        WHERE conversation_id = $2
          AND sender_id <> $3
          AND is_deleted = false
          AND status <> 'READ'
        RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, at, convID, readerID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var count int
	var lastID int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, 0, err
		}
		count++
		if id > lastID {
			lastID = id
		}
	}

	return count, lastID, rows.Err()
}

func (r *postgresRepository) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	query := `
        UPDATE messages
        SET content = $1, edited_at = $2
        WHERE id = $3 AND is_deleted = false`

	_, err := r.db.ExecContext(ctx, query, content, editedAt, id)
	return err
}

func (r *postgresRepository) SoftDeleteMessage(ctx context.Context, id int64) error {
	query := `
        UPDATE messages
        SET content = $1, is_deleted = true
        WHERE id = $2 AND is_deleted = false`

	_, err := r.db.ExecContext(ctx, query, DeletedPlaceholder, id)
	return err
}

func (r *postgresRepository) SearchMessages(ctx context.Context, convID int64, query string, limit, offset int) ([]*Message, error) {
	q := `
        SELECT * FROM messages
        WHERE conversation_id = $1
          AND is_deleted = false
          AND content ILIKE '%' || $2 || '%'
        ORDER BY id DESC
        LIMIT $3 OFFSET $4`

	var msgs []*Message
	if err := r.db.SelectContext(ctx, &msgs, q, convID, query, limit, offset); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *postgresRepository) UnreadCount(ctx context.Context, convID, userID int64) (int, error) {
	query := `
        SELECT COUNT(*) FROM messages
        WHERE conversation_id = $1
          AND sender_id <> $2
          AND is_deleted = false
          AND status <> 'READ'`

	var count int
	err := r.db.QueryRowContext(ctx, query, convID, userID).Scan(&count)
	return count, err
}

func (r *postgresRepository) TotalUnreadCount(ctx context.Context, userID int64) (int, error) {
	// Only ACTIVE conversations count toward the badge; completed and
	// cancelled ones no longer appear in the user's list, so their unread
	// messages would be impossible to clear.
	query := `
        SELECT COUNT(*)
        FROM messages m
        JOIN conversation_participants p
          ON p.conversation_id = m.conversation_id
         AND p.user_id = $1 AND p.is_active = true
        JOIN conversations c
          ON c.id = m.conversation_id
         AND c.status = 'ACTIVE'
        WHERE m.sender_id <> $1
          AND m.is_deleted = false
          AND m.status <> 'READ'`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&count)
	return count, err
}

// PurgeDeletedMessages is the retention sweep over old soft-deleted rows,
// the only hard-delete path in the system
func (r *postgresRepository) PurgeDeletedMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
        DELETE FROM messages
        WHERE is_deleted = true AND sent_at < $1`

	res, err := r.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *postgresRepository) IsDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
