// Package local provides an in-process conversation store, optionally
// persisted to a single JSON document. It backs development runs and tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/infra/filestore"
	"smsrelay/internal/utils/id"
)

type state struct {
	Conversations map[string]conversation.Conversation   `json:"conversations"`
	PhoneIndex    map[string]string                      `json:"phone_index"`
	Messages      map[string][]conversation.Message      `json:"messages"`
	Identities    map[string]conversation.SenderIdentity `json:"sender_identities"`
}

func emptyState() state {
	return state{
		Conversations: make(map[string]conversation.Conversation),
		PhoneIndex:    make(map[string]string),
		Messages:      make(map[string][]conversation.Message),
		Identities:    make(map[string]conversation.SenderIdentity),
	}
}

func (s *state) ensure() {
	if s.Conversations == nil {
		s.Conversations = make(map[string]conversation.Conversation)
	}
	if s.PhoneIndex == nil {
		s.PhoneIndex = make(map[string]string)
	}
	if s.Messages == nil {
		s.Messages = make(map[string][]conversation.Message)
	}
	if s.Identities == nil {
		s.Identities = make(map[string]conversation.SenderIdentity)
	}
}

func cloneState(in state) state {
	out := emptyState()
	for k, v := range in.Conversations {
		if v.Thread != nil {
			handle := *v.Thread
			v.Thread = &handle
		}
		out.Conversations[k] = v
	}
	for k, v := range in.PhoneIndex {
		out.PhoneIndex[k] = v
	}
	for k, v := range in.Messages {
		out.Messages[k] = append([]conversation.Message(nil), v...)
	}
	for k, v := range in.Identities {
		out.Identities[k] = v
	}
	return out
}

// Store keeps every record in one Document so related writes land together.
type Store struct {
	doc *filestore.Document[state]
	now func() time.Time
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore() *Store {
	return &Store{
		doc: filestore.NewDocument(filestore.DocumentConfig{}, emptyState()),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NewFileStore returns a store persisted to path, loading prior state.
func NewFileStore(path string) (*Store, error) {
	path = strings.TrimSpace(filestore.ResolvePath(path))
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	doc := filestore.NewDocument(filestore.DocumentConfig{FilePath: path}, emptyState())
	if err := doc.Load(); err != nil {
		return nil, conversation.StorageError("load conversation file", err)
	}
	return &Store{doc: doc, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) mutate(ctx context.Context, op string, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return conversation.StorageError(op, err)
	}
	return conversation.StorageError(op, s.doc.Mutate(cloneState, func(st *state) error {
		st.ensure()
		return fn(st)
	}))
}

func (s *Store) read(ctx context.Context, op string, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return conversation.StorageError(op, err)
	}
	var err error
	s.doc.Read(func(st *state) { err = fn(st) })
	return conversation.StorageError(op, err)
}

// GetOrCreateConversation returns the conversation for phone, creating it when absent.
func (s *Store) GetOrCreateConversation(ctx context.Context, phone string) (conversation.Conversation, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return conversation.Conversation{}, conversation.Validationf("phone number is required")
	}
	var out conversation.Conversation
	err := s.mutate(ctx, "get or create conversation", func(st *state) error {
		if existing, ok := st.PhoneIndex[phone]; ok {
			out = copyConversation(st.Conversations[existing])
			return nil
		}
		now := s.now()
		conv := conversation.Conversation{ID: id.NewConversationID(), Phone: phone, CreatedAt: now, UpdatedAt: now}
		st.Conversations[conv.ID] = conv
		st.PhoneIndex[phone] = conv.ID
		out = conv
		return nil
	})
	return out, err
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	var out conversation.Conversation
	err := s.read(ctx, "get conversation", func(st *state) error {
		conv, ok := st.Conversations[conversationID]
		if !ok {
			return conversation.NotFoundf("conversation %s", conversationID)
		}
		out = copyConversation(conv)
		return nil
	})
	return out, err
}

// AppendMessage appends msg and touches the conversation.
func (s *Store) AppendMessage(ctx context.Context, msg conversation.NewMessage) (conversation.Message, error) {
	if err := msg.Validate(); err != nil {
		return conversation.Message{}, err
	}
	var out conversation.Message
	err := s.mutate(ctx, "append message", func(st *state) error {
		conv, ok := st.Conversations[msg.ConversationID]
		if !ok {
			return conversation.NotFoundf("conversation %s", msg.ConversationID)
		}
		if msg.CarrierMessageID != "" {
			for _, existing := range st.Messages[conv.ID] {
				if existing.CarrierMessageID == msg.CarrierMessageID {
					return fmt.Errorf("carrier message %s: %w", msg.CarrierMessageID, conversation.ErrConflict)
				}
			}
		}
		now := s.now()
		out = conversation.Message{
			ID:               id.NewMessageID(),
			ConversationID:   conv.ID,
			Content:          msg.Content,
			Direction:        msg.Direction,
			CreatedAt:        now,
			CarrierMessageID: msg.CarrierMessageID,
			ChatMessageID:    msg.ChatMessageID,
		}
		st.Messages[conv.ID] = append(st.Messages[conv.ID], out)
		conv.UpdatedAt = now
		st.Conversations[conv.ID] = conv
		return nil
	})
	return out, err
}

// FindMessageByCarrierID looks up a message by carrier id; an empty conversationID searches all.
func (s *Store) FindMessageByCarrierID(ctx context.Context, conversationID, carrierMessageID string) (conversation.Message, error) {
	var out conversation.Message
	err := s.read(ctx, "find message by carrier id", func(st *state) error {
		if carrierMessageID != "" {
			for convID, messages := range st.Messages {
				if conversationID != "" && convID != conversationID {
					continue
				}
				for _, m := range messages {
					if m.CarrierMessageID == carrierMessageID {
						out = m
						return nil
					}
				}
			}
		}
		return conversation.NotFoundf("carrier message %s", carrierMessageID)
	})
	return out, err
}

// AttachThreadHandle binds handle when none is bound.
func (s *Store) AttachThreadHandle(ctx context.Context, conversationID string, handle conversation.ThreadHandle) (conversation.Conversation, error) {
	var out conversation.Conversation
	var conflict error
	err := s.mutate(ctx, "attach thread handle", func(st *state) error {
		conv, ok := st.Conversations[conversationID]
		if !ok {
			return conversation.NotFoundf("conversation %s", conversationID)
		}
		applied, err := conversation.ResolveAttach(conversationID, conv.Thread, handle)
		if err != nil {
			if errors.Is(err, conversation.ErrConflict) {
				out = copyConversation(conv)
				conflict = err
				return nil
			}
			return err
		}
		if applied {
			h := handle
			conv.Thread = &h
			conv.UpdatedAt = s.now()
			st.Conversations[conv.ID] = conv
		}
		out = copyConversation(conv)
		return nil
	})
	if err != nil {
		return conversation.Conversation{}, err
	}
	return out, conflict
}

// ListMessages returns the log in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var out []conversation.Message
	err := s.read(ctx, "list messages", func(st *state) error {
		if _, ok := st.Conversations[conversationID]; !ok {
			return conversation.NotFoundf("conversation %s", conversationID)
		}
		out = append([]conversation.Message(nil), st.Messages[conversationID]...)
		return nil
	})
	return out, err
}

// ListRecentConversations returns conversations newest activity first.
func (s *Store) ListRecentConversations(ctx context.Context, limit int) ([]conversation.ConversationWithMessages, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []conversation.ConversationWithMessages
	err := s.read(ctx, "list recent conversations", func(st *state) error {
		all := make([]conversation.Conversation, 0, len(st.Conversations))
		for _, conv := range st.Conversations {
			all = append(all, copyConversation(conv))
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
				return all[i].ID > all[j].ID
			}
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		})
		if len(all) > limit {
			all = all[:limit]
		}
		for _, conv := range all {
			out = append(out, conversation.ConversationWithMessages{
				Conversation: conv,
				Messages:     append([]conversation.Message(nil), st.Messages[conv.ID]...),
			})
		}
		return nil
	})
	return out, err
}

// ListThreadedConversations returns conversations bound to a thread, oldest first.
func (s *Store) ListThreadedConversations(ctx context.Context) ([]conversation.Conversation, error) {
	var out []conversation.Conversation
	err := s.read(ctx, "list threaded conversations", func(st *state) error {
		for _, conv := range st.Conversations {
			if conv.Thread != nil {
				out = append(out, copyConversation(conv))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

// SetSenderIdentity upserts the agent's sending phone.
func (s *Store) SetSenderIdentity(ctx context.Context, agentID, phone string) (conversation.SenderIdentity, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" || strings.TrimSpace(phone) == "" {
		return conversation.SenderIdentity{}, conversation.Validationf("agent id and phone number are required")
	}
	var out conversation.SenderIdentity
	err := s.mutate(ctx, "set sender identity", func(st *state) error {
		now := s.now()
		identity, ok := st.Identities[agentID]
		if !ok {
			identity = conversation.SenderIdentity{AgentID: agentID, CreatedAt: now}
		}
		identity.Phone = phone
		identity.UpdatedAt = now
		st.Identities[agentID] = identity
		out = identity
		return nil
	})
	return out, err
}

// GetSenderIdentity returns ErrNotFound for unknown agents.
func (s *Store) GetSenderIdentity(ctx context.Context, agentID string) (conversation.SenderIdentity, error) {
	var out conversation.SenderIdentity
	err := s.read(ctx, "get sender identity", func(st *state) error {
		identity, ok := st.Identities[agentID]
		if !ok {
			return conversation.NotFoundf("sender identity for %s", agentID)
		}
		out = identity
		return nil
	})
	return out, err
}

// MarkCaseLogged records the case reference.
func (s *Store) MarkCaseLogged(ctx context.Context, conversationID, caseReference string) (conversation.Conversation, error) {
	var out conversation.Conversation
	err := s.mutate(ctx, "mark case logged", func(st *state) error {
		conv, ok := st.Conversations[conversationID]
		if !ok {
			return conversation.NotFoundf("conversation %s", conversationID)
		}
		conv.LoggedToCase = true
		conv.CaseReference = caseReference
		conv.UpdatedAt = s.now()
		st.Conversations[conv.ID] = conv
		out = copyConversation(conv)
		return nil
	})
	return out, err
}

func copyConversation(conv conversation.Conversation) conversation.Conversation {
	if conv.Thread != nil {
		handle := *conv.Thread
		conv.Thread = &handle
	}
	return conv
}

var _ conversation.Store = (*Store)(nil)
