// Package postgres implements the conversation store on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/utils/id"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// getOrCreateAttempts bounds retries after a unique violation on insert.
const getOrCreateAttempts = 3

// pool abstracts the subset of pgxpool.Pool used by the store so pgxmock fits.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store persists conversations, messages and sender identities in Postgres.
type Store struct {
	pool   pool
	logger logging.Logger
	now    func() time.Time
}

// New builds a Store backed by the provided connection pool.
func New(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("postgres conversation store requires pool")
	}
	return &Store{
		pool:   p,
		logger: logging.NewComponentLogger("ConversationPostgresStore"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

const conversationColumns = `id, phone_number, created_at, updated_at, logged_to_case,
COALESCE(case_reference, ''), COALESCE(thread_channel_id, ''), COALESCE(thread_id, '')`

const messageColumns = `id, conversation_id, content, direction, created_at,
COALESCE(carrier_message_id, ''), COALESCE(chat_message_id, '')`

// GetOrCreateConversation returns the conversation for phone, inserting it when absent.
func (s *Store) GetOrCreateConversation(ctx context.Context, phone string) (conversation.Conversation, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return conversation.Conversation{}, conversation.Validationf("phone number is required")
	}

	var lastErr error
	for attempt := 0; attempt < getOrCreateAttempts; attempt++ {
		now := s.now()
		row := s.pool.QueryRow(ctx, `
INSERT INTO `+conversationsTable+` (id, phone_number, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (phone_number) DO NOTHING
RETURNING `+conversationColumns, id.NewConversationID(), phone, now)
		conv, err := scanConversation(row)
		if err == nil {
			s.logger.Info("Created conversation %s for %s", conv.ID, phone)
			return conv, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := s.getByPhone(ctx, phone)
			if getErr == nil {
				return existing, nil
			}
			lastErr = getErr
			if !errors.Is(getErr, pgx.ErrNoRows) {
				break
			}
			continue
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			lastErr = err
			continue
		}
		lastErr = err
		break
	}
	return conversation.Conversation{}, conversation.StorageError("get or create conversation", lastErr)
}

func (s *Store) getByPhone(ctx context.Context, phone string) (conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM `+conversationsTable+` WHERE phone_number = $1`, phone)
	return scanConversation(row)
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM `+conversationsTable+` WHERE id = $1`, conversationID)
	conv, err := scanConversation(row)
	if err != nil {
		return conversation.Conversation{}, conversation.StorageError("get conversation", notFound(err, "conversation %s", conversationID))
	}
	return conv, nil
}

// AppendMessage inserts msg and touches the owning conversation in one transaction.
func (s *Store) AppendMessage(ctx context.Context, msg conversation.NewMessage) (conversation.Message, error) {
	if err := msg.Validate(); err != nil {
		return conversation.Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return conversation.Message{}, conversation.StorageError("append message: begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	tag, err := tx.Exec(ctx, `UPDATE `+conversationsTable+` SET updated_at = $2 WHERE id = $1`, msg.ConversationID, now)
	if err != nil {
		return conversation.Message{}, conversation.StorageError("append message: touch conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return conversation.Message{}, conversation.NotFoundf("conversation %s", msg.ConversationID)
	}

	stored := conversation.Message{
		ID:               id.NewMessageID(),
		ConversationID:   msg.ConversationID,
		Content:          msg.Content,
		Direction:        msg.Direction,
		CreatedAt:        now,
		CarrierMessageID: msg.CarrierMessageID,
		ChatMessageID:    msg.ChatMessageID,
	}
	_, err = tx.Exec(ctx, `
INSERT INTO `+messagesTable+` (id, conversation_id, content, direction, created_at, carrier_message_id, chat_message_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stored.ID, stored.ConversationID, stored.Content, string(stored.Direction), stored.CreatedAt,
		nullable(stored.CarrierMessageID), nullable(stored.ChatMessageID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return conversation.Message{}, fmt.Errorf("append message: carrier message %s: %w", msg.CarrierMessageID, conversation.ErrConflict)
		}
		return conversation.Message{}, conversation.StorageError("append message: insert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return conversation.Message{}, conversation.StorageError("append message: commit", err)
	}
	return stored, nil
}

// FindMessageByCarrierID looks up a message by carrier id, optionally scoped to a conversation.
func (s *Store) FindMessageByCarrierID(ctx context.Context, conversationID, carrierMessageID string) (conversation.Message, error) {
	if strings.TrimSpace(carrierMessageID) == "" {
		return conversation.Message{}, conversation.NotFoundf("empty carrier message id")
	}
	var row pgx.Row
	if conversationID == "" {
		row = s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM `+messagesTable+`
WHERE carrier_message_id = $1 ORDER BY seq LIMIT 1`, carrierMessageID)
	} else {
		row = s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM `+messagesTable+`
WHERE conversation_id = $1 AND carrier_message_id = $2`, conversationID, carrierMessageID)
	}
	msg, err := scanMessage(row)
	if err != nil {
		return conversation.Message{}, conversation.StorageError("find message by carrier id", notFound(err, "carrier message %s", carrierMessageID))
	}
	return msg, nil
}

// AttachThreadHandle binds handle to the conversation with first-writer-wins semantics.
func (s *Store) AttachThreadHandle(ctx context.Context, conversationID string, handle conversation.ThreadHandle) (conversation.Conversation, error) {
	if _, err := conversation.ResolveAttach(conversationID, nil, handle); err != nil {
		return conversation.Conversation{}, err
	}

	row := s.pool.QueryRow(ctx, `
UPDATE `+conversationsTable+`
SET thread_channel_id = $2, thread_id = $3, updated_at = $4
WHERE id = $1 AND thread_id IS NULL
RETURNING `+conversationColumns, conversationID, handle.ChannelID, handle.ThreadID, s.now())
	conv, err := scanConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return conversation.Conversation{}, conversation.StorageError("attach thread handle", err)
	}

	current, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if current.Thread == nil {
		return conversation.Conversation{}, conversation.StorageError("attach thread handle",
			fmt.Errorf("update for conversation %s did not apply", conversationID))
	}
	if _, err := conversation.ResolveAttach(conversationID, current.Thread, handle); err != nil {
		s.logger.Warn("Rejected thread %s for conversation %s: %v", handle.Key(), conversationID, err)
		return current, err
	}
	return current, nil
}

// ListMessages returns the conversation log in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM `+messagesTable+`
WHERE conversation_id = $1 ORDER BY created_at, seq`, conversationID)
	if err != nil {
		return nil, conversation.StorageError("list messages", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, conversation.StorageError("list messages", err)
	}
	if len(messages) == 0 {
		if _, err := s.GetConversation(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// ListRecentConversations returns conversations by last activity with their messages embedded.
func (s *Store) ListRecentConversations(ctx context.Context, limit int) ([]conversation.ConversationWithMessages, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `SELECT `+conversationColumns+` FROM `+conversationsTable+`
ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, conversation.StorageError("list recent conversations", err)
	}
	convs, err := collectConversations(rows)
	if err != nil {
		return nil, conversation.StorageError("list recent conversations", err)
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	msgRows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM `+messagesTable+`
WHERE conversation_id = ANY($1) ORDER BY conversation_id, created_at, seq`, ids)
	if err != nil {
		return nil, conversation.StorageError("list recent conversation messages", err)
	}
	messages, err := collectMessages(msgRows)
	if err != nil {
		return nil, conversation.StorageError("list recent conversation messages", err)
	}
	byConversation := make(map[string][]conversation.Message, len(convs))
	for _, m := range messages {
		byConversation[m.ConversationID] = append(byConversation[m.ConversationID], m)
	}

	out := make([]conversation.ConversationWithMessages, len(convs))
	for i, c := range convs {
		out[i] = conversation.ConversationWithMessages{Conversation: c, Messages: byConversation[c.ID]}
	}
	return out, nil
}

// ListThreadedConversations returns every conversation bound to a thread.
func (s *Store) ListThreadedConversations(ctx context.Context) ([]conversation.Conversation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+conversationColumns+` FROM `+conversationsTable+`
WHERE thread_id IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, conversation.StorageError("list threaded conversations", err)
	}
	convs, err := collectConversations(rows)
	if err != nil {
		return nil, conversation.StorageError("list threaded conversations", err)
	}
	return convs, nil
}

// SetSenderIdentity upserts the agent's sending phone number.
func (s *Store) SetSenderIdentity(ctx context.Context, agentID, phone string) (conversation.SenderIdentity, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" || strings.TrimSpace(phone) == "" {
		return conversation.SenderIdentity{}, conversation.Validationf("agent id and phone number are required")
	}
	var identity conversation.SenderIdentity
	now := s.now()
	err := s.pool.QueryRow(ctx, `
INSERT INTO `+identitiesTable+` (agent_id, phone_number, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (agent_id)
DO UPDATE SET phone_number = EXCLUDED.phone_number,
              updated_at = EXCLUDED.updated_at
RETURNING agent_id, phone_number, created_at, updated_at`, agentID, phone, now).
		Scan(&identity.AgentID, &identity.Phone, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return conversation.SenderIdentity{}, conversation.StorageError("set sender identity", err)
	}
	return identity, nil
}

// GetSenderIdentity returns the agent's sending phone number.
func (s *Store) GetSenderIdentity(ctx context.Context, agentID string) (conversation.SenderIdentity, error) {
	var identity conversation.SenderIdentity
	err := s.pool.QueryRow(ctx, `SELECT agent_id, phone_number, created_at, updated_at FROM `+identitiesTable+`
WHERE agent_id = $1`, agentID).
		Scan(&identity.AgentID, &identity.Phone, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return conversation.SenderIdentity{}, conversation.StorageError("get sender identity", notFound(err, "sender identity for %s", agentID))
	}
	return identity, nil
}

// MarkCaseLogged records the case reference for a conversation.
func (s *Store) MarkCaseLogged(ctx context.Context, conversationID, caseReference string) (conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE `+conversationsTable+`
SET logged_to_case = TRUE, case_reference = $2, updated_at = $3
WHERE id = $1
RETURNING `+conversationColumns, conversationID, caseReference, s.now())
	conv, err := scanConversation(row)
	if err != nil {
		return conversation.Conversation{}, conversation.StorageError("mark case logged", notFound(err, "conversation %s", conversationID))
	}
	return conv, nil
}

func scanConversation(row pgx.Row) (conversation.Conversation, error) {
	var (
		conv              conversation.Conversation
		channelID, thread string
	)
	if err := row.Scan(&conv.ID, &conv.Phone, &conv.CreatedAt, &conv.UpdatedAt, &conv.LoggedToCase,
		&conv.CaseReference, &channelID, &thread); err != nil {
		return conversation.Conversation{}, err
	}
	if thread != "" {
		conv.Thread = &conversation.ThreadHandle{ChannelID: channelID, ThreadID: thread}
	}
	return conv, nil
}

func scanMessage(row pgx.Row) (conversation.Message, error) {
	var (
		msg       conversation.Message
		direction string
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &direction, &msg.CreatedAt,
		&msg.CarrierMessageID, &msg.ChatMessageID); err != nil {
		return conversation.Message{}, err
	}
	msg.Direction = conversation.Direction(direction)
	return msg, nil
}

func collectConversations(rows pgx.Rows) ([]conversation.Conversation, error) {
	defer rows.Close()
	var out []conversation.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func collectMessages(rows pgx.Rows) ([]conversation.Message, error) {
	defer rows.Close()
	var out []conversation.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.NotFoundf(format, args...)
	}
	return err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var (
	_ conversation.Store         = (*Store)(nil)
	_ conversation.SchemaEnsurer = (*Store)(nil)
)
