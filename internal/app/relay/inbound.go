package relay

import (
	"context"
	"errors"
	"strings"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// InboundSMS is a carrier webhook delivery.
type InboundSMS struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	MessageSid string `json:"message_sid"`
}

// Validate rejects payloads missing the sender or the body. A whitespace-only
// body is still a message.
func (in InboundSMS) Validate() error {
	if strings.TrimSpace(in.From) == "" || in.Body == "" {
		return conversation.Validationf("inbound sms requires From and Body")
	}
	if _, err := conversation.NormalizePhone(in.From); err != nil {
		return err
	}
	return nil
}

// InboundResult reports what HandleInbound did.
type InboundResult struct {
	ConversationID string
	MessageID      string
	Duplicate      bool
	Relayed        bool
}

// HandleInbound stores an inbound SMS and relays it into the conversation
// thread when one exists. Redelivered carrier messages are skipped.
func (e *Engine) HandleInbound(ctx context.Context, in InboundSMS) (result InboundResult, err error) {
	ctx, op := e.begin(ctx, observability.SpanRelayInbound, KindInbound)
	defer func() { op.finish(err) }()

	if err := in.Validate(); err != nil {
		op.outcome = observability.OutcomeRejected
		return InboundResult{}, err
	}
	phone, _ := conversation.NormalizePhone(in.From)

	conv, err := e.store.GetOrCreateConversation(ctx, phone)
	if err != nil {
		return InboundResult{}, storageFailure("handle inbound", err)
	}
	result.ConversationID = conv.ID

	if in.MessageSid != "" {
		existing, err := e.store.FindMessageByCarrierID(ctx, conv.ID, in.MessageSid)
		switch {
		case err == nil:
			e.log(ctx).Info("Skipping redelivered carrier message %s for %s", in.MessageSid, conv.ID)
			op.outcome = observability.OutcomeDuplicate
			result.MessageID = existing.ID
			result.Duplicate = true
			return result, nil
		case !errors.Is(err, conversation.ErrNotFound):
			return result, storageFailure("handle inbound", err)
		}
	}

	msg, err := e.store.AppendMessage(ctx, conversation.NewMessage{
		ConversationID:   conv.ID,
		Content:          in.Body,
		Direction:        conversation.DirectionInbound,
		CarrierMessageID: in.MessageSid,
	})
	if errors.Is(err, conversation.ErrConflict) {
		op.outcome = observability.OutcomeDuplicate
		result.Duplicate = true
		return result, nil
	}
	if err != nil {
		return result, storageFailure("handle inbound", err)
	}
	result.MessageID = msg.ID

	handle, threaded := e.threadOf(conv)
	if !threaded {
		e.log(ctx).Info("Stored inbound SMS %s for unthreaded conversation %s", msg.ID, conv.ID)
		return result, nil
	}
	if _, err := e.post(ctx, handle.ChannelID, handle.ThreadID, ChatPost{
		Kind:           PostText,
		Text:           inboundText(phone, in.Body),
		ConversationID: conv.ID,
		Phone:          phone,
	}); err != nil {
		e.log(ctx).Warn("Inbound SMS %s stored but not relayed to %s: %v", msg.ID, handle.Key(), err)
		return result, nil
	}
	result.Relayed = true
	return result, nil
}
