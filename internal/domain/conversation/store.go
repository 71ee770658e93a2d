package conversation

import "context"

// Store is the durable persistence port for conversations, messages and
// sender identities. It is the single source of truth; caches layered on top
// must be rebuildable from it.
//
// Implementations wrap driver failures in ErrStorageUnavailable and never
// retry internally.
type Store interface {
	// GetOrCreateConversation returns the conversation for phone, creating it
	// atomically when absent. Concurrent callers for the same phone observe the
	// same conversation ID.
	GetOrCreateConversation(ctx context.Context, phone string) (Conversation, error)

	// GetConversation loads a conversation by ID.
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)

	// AppendMessage inserts a message and touches the conversation's
	// last-activity timestamp.
	AppendMessage(ctx context.Context, msg NewMessage) (Message, error)

	// FindMessageByCarrierID looks up a message by the carrier's message ID.
	// An empty conversationID searches every conversation.
	FindMessageByCarrierID(ctx context.Context, conversationID, carrierMessageID string) (Message, error)

	// AttachThreadHandle binds handle to the conversation. It is a no-op when
	// the same handle is already bound and returns a *ThreadConflictError when
	// a different one is.
	AttachThreadHandle(ctx context.Context, conversationID string, handle ThreadHandle) (Conversation, error)

	// ListMessages returns the conversation log in chronological order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// ListRecentConversations returns conversations by last activity, newest first.
	ListRecentConversations(ctx context.Context, limit int) ([]ConversationWithMessages, error)

	// ListThreadedConversations returns every conversation with a thread handle.
	ListThreadedConversations(ctx context.Context) ([]Conversation, error)

	// SetSenderIdentity upserts the phone an agent sends from.
	SetSenderIdentity(ctx context.Context, agentID, phone string) (SenderIdentity, error)

	// GetSenderIdentity returns ErrNotFound when the agent has none.
	GetSenderIdentity(ctx context.Context, agentID string) (SenderIdentity, error)

	// MarkCaseLogged flips the case-logged flag and records the reference.
	MarkCaseLogged(ctx context.Context, conversationID, caseReference string) (Conversation, error)
}

// SchemaEnsurer is implemented by backends that own a schema.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close()
}

// ResolveAttach applies the attach rules to a stored handle. It returns
// applied=false when requested is already bound, and a conflict error when
// a different handle is.
func ResolveAttach(conversationID string, current *ThreadHandle, requested ThreadHandle) (applied bool, err error) {
	if requested.ChannelID == "" || requested.ThreadID == "" {
		return false, Validationf("thread handle requires channel and thread ids")
	}
	if current == nil || current.IsZero() {
		return true, nil
	}
	if *current == requested {
		return false, nil
	}
	return false, NewThreadConflict(conversationID, *current, requested)
}
