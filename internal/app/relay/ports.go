package relay

import (
	"context"

	"smsrelay/internal/domain/conversation"
)

// SendResult is the carrier's acknowledgment of an accepted message.
type SendResult struct {
	MessageID string
	Status    string
}

// Carrier sends SMS. A returned error means the message was not accepted.
type Carrier interface {
	Send(ctx context.Context, to, body, from string) (SendResult, error)
}

// PostKind tells the chat adapter how to render a post.
type PostKind int

const (
	// PostText is a plain message.
	PostText PostKind = iota
	// PostHeader starts a conversation thread.
	PostHeader
	// PostHistory replays one stored message.
	PostHistory
	// PostInstructions explains how to reply and offers case logging.
	PostInstructions
	// PostNotice reports the outcome of an agent action inside a thread.
	PostNotice
)

// ChatPost is a presentation-neutral message for the chat adapter.
type ChatPost struct {
	Kind           PostKind
	Text           string
	ConversationID string
	Phone          string
	SenderPhone    string
	MessageCount   int
}

// HomeView is the per-agent landing surface.
type HomeView struct {
	AgentID       string
	SenderPhone   string
	Conversations []conversation.ConversationWithMessages
}

// SetupRequired reports whether the agent still needs a sender identity.
func (v HomeView) SetupRequired() bool {
	return v.SenderPhone == ""
}

// Chat is the team-chat side of the bridge.
type Chat interface {
	OpenDirectMessage(ctx context.Context, userID string) (string, error)
	// PostMessage posts into channelID, inside threadID when non-empty, and
	// returns the new message timestamp.
	PostMessage(ctx context.Context, channelID, threadID string, post ChatPost) (string, error)
	PublishHomeView(ctx context.Context, userID string, view HomeView) error
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
}

// CaseLogger exports a conversation to the CRM and returns the case reference.
type CaseLogger interface {
	LogConversation(ctx context.Context, conv conversation.Conversation, messages []conversation.Message) (string, error)
}
