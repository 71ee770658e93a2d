package relay

import (
	"context"
	"strings"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// DirectSend is an agent-composed SMS outside a thread (the /sms send command).
type DirectSend struct {
	AgentID         string
	To              string
	Text            string
	ResponseChannel string
}

// DirectResult reports what SendDirect did.
type DirectResult struct {
	ConversationID string
	MessageID      string
	Sent           bool
	Mirrored       bool
}

// SendDirect sends an SMS to any number, creating the conversation on first
// contact. It is mirrored into the conversation thread when one exists.
func (e *Engine) SendDirect(ctx context.Context, req DirectSend) (result DirectResult, err error) {
	ctx, op := e.begin(ctx, observability.SpanRelayDirectSend, KindDirectSend)
	defer func() { op.finish(err) }()

	text := strings.TrimSpace(req.Text)
	phone, err := conversation.NormalizePhone(req.To)
	if err != nil || text == "" {
		op.outcome = observability.OutcomeRejected
		e.ack(ctx, req.ResponseChannel, req.AgentID, textUsage)
		if err == nil {
			err = conversation.Validationf("message text is required")
		}
		return DirectResult{}, err
	}

	senderPhone, err := e.senderPhone(ctx, req.AgentID)
	if err != nil {
		return DirectResult{}, storageFailure("send direct", err)
	}
	if senderPhone == "" {
		op.outcome = observability.OutcomeRejected
		e.ack(ctx, req.ResponseChannel, req.AgentID, textSetupRequired)
		return DirectResult{}, nil
	}

	conv, err := e.store.GetOrCreateConversation(ctx, phone)
	if err != nil {
		e.ack(ctx, req.ResponseChannel, req.AgentID, sendFailedText(err))
		return DirectResult{}, storageFailure("send direct", err)
	}
	result.ConversationID = conv.ID

	sent, err := e.send(ctx, phone, text, senderPhone)
	if err != nil {
		op.outcome = observability.OutcomeError
		e.ack(ctx, req.ResponseChannel, req.AgentID, sendFailedText(err))
		return result, nil
	}
	result.Sent = true

	msg, err := e.store.AppendMessage(ctx, conversation.NewMessage{
		ConversationID:   conv.ID,
		Content:          text,
		Direction:        conversation.DirectionOutbound,
		CarrierMessageID: sent.MessageID,
	})
	if err != nil {
		e.log(ctx).Error("SMS %s to %s sent but not recorded: %v", sent.MessageID, phone, err)
		e.ack(ctx, req.ResponseChannel, req.AgentID, textRecordFailed)
		return result, storageFailure("send direct", err)
	}
	result.MessageID = msg.ID

	if handle, ok := e.threadOf(conv); ok {
		if _, err := e.post(ctx, handle.ChannelID, handle.ThreadID, ChatPost{
			Kind:           PostHistory,
			Text:           historyText(phone, msg),
			ConversationID: conv.ID,
			Phone:          phone,
		}); err != nil {
			e.log(ctx).Warn("SMS %s not mirrored to %s: %v", msg.ID, handle.Key(), err)
		} else {
			result.Mirrored = true
		}
	}
	e.ack(ctx, req.ResponseChannel, req.AgentID, sentText(phone, senderPhone))
	return result, nil
}
