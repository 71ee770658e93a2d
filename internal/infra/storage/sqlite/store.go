// Package sqlite implements the conversation store on an embedded SQLite
// database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/utils/id"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    logged_to_case INTEGER NOT NULL DEFAULT 0,
    case_reference TEXT,
    thread_channel_id TEXT,
    thread_id TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations (updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL REFERENCES conversations (id),
    content TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
    created_at INTEGER NOT NULL,
    carrier_message_id TEXT,
    chat_message_id TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at, seq);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_carrier_id ON messages (conversation_id, carrier_message_id) WHERE carrier_message_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS sender_identities (
    agent_id TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);`,
}

type conversationRow struct {
	ID            string         `db:"id"`
	Phone         string         `db:"phone_number"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
	LoggedToCase  bool           `db:"logged_to_case"`
	CaseReference sql.NullString `db:"case_reference"`
	ChannelID     sql.NullString `db:"thread_channel_id"`
	ThreadID      sql.NullString `db:"thread_id"`
}

func (r conversationRow) toDomain() conversation.Conversation {
	conv := conversation.Conversation{
		ID:            r.ID,
		Phone:         r.Phone,
		CreatedAt:     fromUnixNano(r.CreatedAt),
		UpdatedAt:     fromUnixNano(r.UpdatedAt),
		LoggedToCase:  r.LoggedToCase,
		CaseReference: r.CaseReference.String,
	}
	if r.ThreadID.Valid && r.ThreadID.String != "" {
		conv.Thread = &conversation.ThreadHandle{ChannelID: r.ChannelID.String, ThreadID: r.ThreadID.String}
	}
	return conv
}

type messageRow struct {
	ID               string         `db:"id"`
	ConversationID   string         `db:"conversation_id"`
	Content          string         `db:"content"`
	Direction        string         `db:"direction"`
	CreatedAt        int64          `db:"created_at"`
	CarrierMessageID sql.NullString `db:"carrier_message_id"`
	ChatMessageID    sql.NullString `db:"chat_message_id"`
}

func (r messageRow) toDomain() conversation.Message {
	return conversation.Message{
		ID:               r.ID,
		ConversationID:   r.ConversationID,
		Content:          r.Content,
		Direction:        conversation.Direction(r.Direction),
		CreatedAt:        fromUnixNano(r.CreatedAt),
		CarrierMessageID: r.CarrierMessageID.String,
		ChatMessageID:    r.ChatMessageID.String,
	}
}

type identityRow struct {
	AgentID   string `db:"agent_id"`
	Phone     string `db:"phone_number"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

const (
	conversationColumns = `id, phone_number, created_at, updated_at, logged_to_case, case_reference, thread_channel_id, thread_id`
	messageColumns      = `id, conversation_id, content, direction, created_at, carrier_message_id, chat_message_id`
)

// Store persists conversations in a SQLite file through sqlx.
type Store struct {
	db     *sqlx.DB
	logger logging.Logger
	now    func() time.Time
}

// Open opens (creating when needed) the database at path. A single
// connection serializes writers so get-or-create stays atomic.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("sqlite conversation store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return &Store{
		db:     db,
		logger: logging.NewComponentLogger("ConversationSQLiteStore"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates the conversation tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure conversation schema: %w", err)
		}
	}
	return nil
}

// GetOrCreateConversation inserts the conversation unless phone already exists, then reads it back.
func (s *Store) GetOrCreateConversation(ctx context.Context, phone string) (conversation.Conversation, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return conversation.Conversation{}, conversation.Validationf("phone number is required")
	}
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, phone_number, created_at, updated_at)
VALUES (?, ?, ?, ?) ON CONFLICT (phone_number) DO NOTHING`, id.NewConversationID(), phone, now, now)
	if err != nil {
		return conversation.Conversation{}, conversation.StorageError("get or create conversation", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("Created conversation for %s", phone)
	}

	var row conversationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE phone_number = ?`, phone); err != nil {
		return conversation.Conversation{}, conversation.StorageError("get or create conversation", err)
	}
	return row.toDomain(), nil
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return conversation.Conversation{}, conversation.StorageError("get conversation", notFound(err, "conversation %s", conversationID))
	}
	return row.toDomain(), nil
}

// AppendMessage inserts msg and touches the owning conversation.
func (s *Store) AppendMessage(ctx context.Context, msg conversation.NewMessage) (conversation.Message, error) {
	if err := msg.Validate(); err != nil {
		return conversation.Message{}, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return conversation.Message{}, conversation.StorageError("append message: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now.UnixNano(), msg.ConversationID)
	if err != nil {
		return conversation.Message{}, conversation.StorageError("append message: touch conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conversation.Message{}, conversation.NotFoundf("conversation %s", msg.ConversationID)
	}

	stored := conversation.Message{
		ID:               id.NewMessageID(),
		ConversationID:   msg.ConversationID,
		Content:          msg.Content,
		Direction:        msg.Direction,
		CreatedAt:        fromUnixNano(now.UnixNano()),
		CarrierMessageID: msg.CarrierMessageID,
		ChatMessageID:    msg.ChatMessageID,
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.ConversationID, stored.Content, string(stored.Direction), now.UnixNano(),
		nullString(stored.CarrierMessageID), nullString(stored.ChatMessageID))
	if err != nil {
		if isUniqueViolation(err) {
			return conversation.Message{}, fmt.Errorf("append message: carrier message %s: %w", msg.CarrierMessageID, conversation.ErrConflict)
		}
		return conversation.Message{}, conversation.StorageError("append message: insert", err)
	}
	if err := tx.Commit(); err != nil {
		return conversation.Message{}, conversation.StorageError("append message: commit", err)
	}
	return stored, nil
}

// FindMessageByCarrierID looks up a message by carrier id, optionally scoped to a conversation.
func (s *Store) FindMessageByCarrierID(ctx context.Context, conversationID, carrierMessageID string) (conversation.Message, error) {
	if strings.TrimSpace(carrierMessageID) == "" {
		return conversation.Message{}, conversation.NotFoundf("empty carrier message id")
	}
	var (
		row messageRow
		err error
	)
	if conversationID == "" {
		err = s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE carrier_message_id = ? ORDER BY seq LIMIT 1`, carrierMessageID)
	} else {
		err = s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND carrier_message_id = ?`, conversationID, carrierMessageID)
	}
	if err != nil {
		return conversation.Message{}, conversation.StorageError("find message by carrier id", notFound(err, "carrier message %s", carrierMessageID))
	}
	return row.toDomain(), nil
}

// AttachThreadHandle binds handle when the conversation has none.
func (s *Store) AttachThreadHandle(ctx context.Context, conversationID string, handle conversation.ThreadHandle) (conversation.Conversation, error) {
	if _, err := conversation.ResolveAttach(conversationID, nil, handle); err != nil {
		return conversation.Conversation{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET thread_channel_id = ?, thread_id = ?, updated_at = ?
WHERE id = ? AND thread_id IS NULL`, handle.ChannelID, handle.ThreadID, s.now().UnixNano(), conversationID)
	if err != nil {
		return conversation.Conversation{}, conversation.StorageError("attach thread handle", err)
	}
	current, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return current, nil
	}
	if _, err := conversation.ResolveAttach(conversationID, current.Thread, handle); err != nil {
		s.logger.Warn("Rejected thread %s for conversation %s: %v", handle.Key(), conversationID, err)
		return current, err
	}
	return current, nil
}

// ListMessages returns the conversation log in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
WHERE conversation_id = ? ORDER BY created_at, seq`, conversationID); err != nil {
		return nil, conversation.StorageError("list messages", err)
	}
	if len(rows) == 0 {
		if _, err := s.GetConversation(ctx, conversationID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := make([]conversation.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListRecentConversations returns conversations by last activity with their messages.
func (s *Store) ListRecentConversations(ctx context.Context, limit int) ([]conversation.ConversationWithMessages, error) {
	if limit <= 0 {
		limit = 10
	}
	var convRows []conversationRow
	if err := s.db.SelectContext(ctx, &convRows, `SELECT `+conversationColumns+` FROM conversations
ORDER BY updated_at DESC LIMIT ?`, limit); err != nil {
		return nil, conversation.StorageError("list recent conversations", err)
	}
	if len(convRows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(convRows))
	for i, r := range convRows {
		ids[i] = r.ID
	}
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages
WHERE conversation_id IN (?) ORDER BY conversation_id, created_at, seq`, ids)
	if err != nil {
		return nil, conversation.StorageError("list recent conversation messages", err)
	}
	var msgRows []messageRow
	if err := s.db.SelectContext(ctx, &msgRows, s.db.Rebind(query), args...); err != nil {
		return nil, conversation.StorageError("list recent conversation messages", err)
	}
	byConversation := make(map[string][]conversation.Message, len(convRows))
	for _, r := range msgRows {
		byConversation[r.ConversationID] = append(byConversation[r.ConversationID], r.toDomain())
	}

	out := make([]conversation.ConversationWithMessages, len(convRows))
	for i, r := range convRows {
		out[i] = conversation.ConversationWithMessages{Conversation: r.toDomain(), Messages: byConversation[r.ID]}
	}
	return out, nil
}

// ListThreadedConversations returns every conversation bound to a thread.
func (s *Store) ListThreadedConversations(ctx context.Context) ([]conversation.Conversation, error) {
	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+conversationColumns+` FROM conversations
WHERE thread_id IS NOT NULL ORDER BY created_at`); err != nil {
		return nil, conversation.StorageError("list threaded conversations", err)
	}
	out := make([]conversation.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// SetSenderIdentity upserts the agent's sending phone number.
func (s *Store) SetSenderIdentity(ctx context.Context, agentID, phone string) (conversation.SenderIdentity, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" || strings.TrimSpace(phone) == "" {
		return conversation.SenderIdentity{}, conversation.Validationf("agent id and phone number are required")
	}
	now := s.now().UnixNano()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sender_identities (agent_id, phone_number, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (agent_id) DO UPDATE SET phone_number = excluded.phone_number, updated_at = excluded.updated_at`,
		agentID, phone, now, now); err != nil {
		return conversation.SenderIdentity{}, conversation.StorageError("set sender identity", err)
	}
	return s.GetSenderIdentity(ctx, agentID)
}

// GetSenderIdentity returns the agent's sending phone number.
func (s *Store) GetSenderIdentity(ctx context.Context, agentID string) (conversation.SenderIdentity, error) {
	var row identityRow
	if err := s.db.GetContext(ctx, &row, `SELECT agent_id, phone_number, created_at, updated_at
FROM sender_identities WHERE agent_id = ?`, agentID); err != nil {
		return conversation.SenderIdentity{}, conversation.StorageError("get sender identity", notFound(err, "sender identity for %s", agentID))
	}
	return conversation.SenderIdentity{
		AgentID:   row.AgentID,
		Phone:     row.Phone,
		CreatedAt: fromUnixNano(row.CreatedAt),
		UpdatedAt: fromUnixNano(row.UpdatedAt),
	}, nil
}

// MarkCaseLogged records the case reference for a conversation.
func (s *Store) MarkCaseLogged(ctx context.Context, conversationID, caseReference string) (conversation.Conversation, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET logged_to_case = 1, case_reference = ?, updated_at = ? WHERE id = ?`,
		caseReference, s.now().UnixNano(), conversationID)
	if err != nil {
		return conversation.Conversation{}, conversation.StorageError("mark case logged", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conversation.Conversation{}, conversation.NotFoundf("conversation %s", conversationID)
	}
	return s.GetConversation(ctx, conversationID)
}

func fromUnixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.NotFoundf(format, args...)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

var (
	_ conversation.Store         = (*Store)(nil)
	_ conversation.SchemaEnsurer = (*Store)(nil)
	_ conversation.Closer        = (*Store)(nil)
)
