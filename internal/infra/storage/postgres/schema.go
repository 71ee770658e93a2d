package postgres

import (
	"context"
	"fmt"
)

const (
	conversationsTable = "conversations"
	messagesTable      = "messages"
	identitiesTable    = "sender_identities"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ` + conversationsTable + ` (
    id TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    logged_to_case BOOLEAN NOT NULL DEFAULT FALSE,
    case_reference TEXT,
    thread_channel_id TEXT,
    thread_id TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON ` + conversationsTable + ` (updated_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_thread ON ` + conversationsTable + ` (thread_channel_id, thread_id) WHERE thread_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS ` + messagesTable + ` (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL REFERENCES ` + conversationsTable + ` (id),
    content TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    carrier_message_id TEXT,
    chat_message_id TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON ` + messagesTable + ` (conversation_id, created_at, seq);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_carrier_id ON ` + messagesTable + ` (conversation_id, carrier_message_id) WHERE carrier_message_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS ` + identitiesTable + ` (
    agent_id TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
}

// EnsureSchema creates the conversation, message and sender identity tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("conversation store not initialized")
	}
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure conversation schema: %w", err)
		}
	}
	return nil
}
