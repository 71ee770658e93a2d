package relay

import (
	"context"
	"strings"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// ThreadReply is an agent message posted inside a chat thread.
type ThreadReply struct {
	ChannelID     string
	ThreadID      string
	AgentID       string
	Text          string
	ChatMessageID string
}

// ReplyStatus classifies the outcome of a thread reply.
type ReplyStatus int

const (
	// ReplyIgnored means the thread is not a conversation thread.
	ReplyIgnored ReplyStatus = iota
	// ReplySent means the SMS was sent and recorded.
	ReplySent
	// ReplySetupRequired means the agent has no sender identity.
	ReplySetupRequired
	// ReplySendFailed means the carrier rejected the SMS.
	ReplySendFailed
)

func (s ReplyStatus) String() string {
	switch s {
	case ReplySent:
		return "sent"
	case ReplySetupRequired:
		return "setup_required"
	case ReplySendFailed:
		return "send_failed"
	default:
		return "ignored"
	}
}

// ReplyResult reports what HandleThreadReply did.
type ReplyResult struct {
	Status         ReplyStatus
	ConversationID string
	MessageID      string
}

// HandleThreadReply sends an agent's thread reply as SMS. Nothing is stored
// unless the carrier accepted the message.
func (e *Engine) HandleThreadReply(ctx context.Context, reply ThreadReply) (result ReplyResult, err error) {
	ctx, op := e.begin(ctx, observability.SpanRelayReply, KindReply)
	defer func() { op.finish(err) }()

	text := strings.TrimSpace(reply.Text)
	conversationID, ok := e.directory.ResolveByThread(conversation.ThreadHandle{ChannelID: reply.ChannelID, ThreadID: reply.ThreadID})
	if !ok || text == "" {
		op.outcome = observability.OutcomeIgnored
		return ReplyResult{Status: ReplyIgnored}, nil
	}
	result.ConversationID = conversationID

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return result, storageFailure("handle thread reply", err)
	}
	senderPhone, err := e.senderPhone(ctx, reply.AgentID)
	if err != nil {
		return result, storageFailure("handle thread reply", err)
	}
	if senderPhone == "" {
		op.outcome = observability.OutcomeRejected
		result.Status = ReplySetupRequired
		e.notify(ctx, reply.ChannelID, reply.ThreadID, ChatPost{Kind: PostNotice, Text: textReplySetupRequired, ConversationID: conv.ID})
		return result, nil
	}

	sent, err := e.send(ctx, conv.Phone, text, senderPhone)
	if err != nil {
		e.log(ctx).Warn("SMS reply to %s failed: %v", conv.Phone, err)
		op.outcome = observability.OutcomeError
		result.Status = ReplySendFailed
		e.notify(ctx, reply.ChannelID, reply.ThreadID, ChatPost{Kind: PostNotice, Text: sendFailedText(err), ConversationID: conv.ID})
		return result, nil
	}

	msg, err := e.store.AppendMessage(ctx, conversation.NewMessage{
		ConversationID:   conv.ID,
		Content:          text,
		Direction:        conversation.DirectionOutbound,
		CarrierMessageID: sent.MessageID,
		ChatMessageID:    reply.ChatMessageID,
	})
	if err != nil {
		e.log(ctx).Error("SMS %s to %s sent but not recorded: %v", sent.MessageID, conv.Phone, err)
		e.notify(ctx, reply.ChannelID, reply.ThreadID, ChatPost{Kind: PostNotice, Text: textRecordFailed, ConversationID: conv.ID})
		return result, storageFailure("handle thread reply", err)
	}
	result.Status = ReplySent
	result.MessageID = msg.ID
	e.notify(ctx, reply.ChannelID, reply.ThreadID, ChatPost{Kind: PostNotice, Text: sentText(conv.Phone, senderPhone), ConversationID: conv.ID})
	return result, nil
}
