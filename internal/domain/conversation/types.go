// Package conversation defines the SMS conversation domain model and the
// durable store port shared by every storage backend.
//
// A Conversation is keyed naturally by the remote phone number and
// surrogately by an opaque ID. It owns an append-only log of Messages and may
// be bound to at most one chat thread.
package conversation

import (
	"time"
)

// Direction marks which side of the bridge produced a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// ThreadHandle identifies a chat-platform thread.
type ThreadHandle struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
}

// IsZero reports whether the handle is unset.
func (h ThreadHandle) IsZero() bool {
	return h.ChannelID == "" && h.ThreadID == ""
}

// Key returns the stable "channel:thread" form used by caches.
func (h ThreadHandle) Key() string {
	return h.ChannelID + ":" + h.ThreadID
}

// Conversation is the durable record for one external phone number.
type Conversation struct {
	ID            string        `json:"id"`
	Phone         string        `json:"phone_number"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LoggedToCase  bool          `json:"logged_to_case"`
	CaseReference string        `json:"case_reference,omitempty"`
	Thread        *ThreadHandle `json:"thread,omitempty"`
}

// Status derives the thread status variant for the conversation.
func (c Conversation) Status() Status {
	if c.Thread == nil || c.Thread.IsZero() {
		return Unthreaded()
	}
	return Threaded(*c.Thread)
}

// Message is one immutable entry in a conversation log.
type Message struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Content          string    `json:"content"`
	Direction        Direction `json:"direction"`
	CreatedAt        time.Time `json:"created_at"`
	CarrierMessageID string    `json:"carrier_message_id,omitempty"`
	ChatMessageID    string    `json:"chat_message_id,omitempty"`
}

// NewMessage carries the fields a caller supplies when appending.
type NewMessage struct {
	ConversationID   string
	Content          string
	Direction        Direction
	CarrierMessageID string
	ChatMessageID    string
}

// Validate checks the caller-supplied fields.
func (m NewMessage) Validate() error {
	if m.ConversationID == "" {
		return Validationf("conversation id is required")
	}
	if !m.Direction.Valid() {
		return Validationf("invalid message direction %q", m.Direction)
	}
	return nil
}

// ConversationWithMessages embeds the message log for presentation.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}

// SenderIdentity maps a chat user to the phone number they send from.
type SenderIdentity struct {
	AgentID   string    `json:"agent_id"`
	Phone     string    `json:"phone_number"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
