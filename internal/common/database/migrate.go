// internal/common/database/migrate.go
// Schema migrations for the messaging tables

package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// RunMigrations creates the messaging tables if they do not exist
func RunMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL DEFAULT '',
            type VARCHAR(20) NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
            skill_ref BIGINT,
            direct_key VARCHAR(64),
            last_message_preview VARCHAR(255),
            last_message_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
            ON conversations (direct_key) WHERE direct_key IS NOT NULL`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_skill_ref
            ON conversations (skill_ref) WHERE skill_ref IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at
            ON conversations (last_message_at DESC NULLS LAST)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
            id BIGSERIAL PRIMARY KEY,
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            display_name VARCHAR(255) NOT NULL DEFAULT '',
            role VARCHAR(20) NOT NULL DEFAULT 'MEMBER',
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            left_at TIMESTAMPTZ,
            is_active BOOLEAN NOT NULL DEFAULT true,
            last_read_message_id BIGINT,
            notifications_enabled BOOLEAN NOT NULL DEFAULT true,
            UNIQUE (conversation_id, user_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_participants_user
            ON conversation_participants (user_id) WHERE is_active = true`,

		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            sender_name VARCHAR(255) NOT NULL DEFAULT '',
            content TEXT NOT NULL,
            type VARCHAR(20) NOT NULL DEFAULT 'TEXT',
            status VARCHAR(20) NOT NULL DEFAULT 'SENT',
            attachment_url TEXT,
            attachment_name VARCHAR(255),
            attachment_type VARCHAR(100),
            attachment_size BIGINT,
            sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            read_at TIMESTAMPTZ,
            edited_at TIMESTAMPTZ,
            is_deleted BOOLEAN NOT NULL DEFAULT false
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
            ON messages (conversation_id, id DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_unread
            ON messages (conversation_id, sender_id) WHERE status <> 'READ' AND is_deleted = false`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed")
	return nil
}
