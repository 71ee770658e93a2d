package relay

import (
	"context"
	"errors"
	"strings"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// DeliveryStatus is a carrier status callback for an outbound message.
type DeliveryStatus struct {
	MessageSid string `json:"message_sid"`
	Status     string `json:"status"`
	ErrorCode  string `json:"error_code"`
}

// Failed reports whether the carrier gave up on the message.
func (s DeliveryStatus) Failed() bool {
	switch strings.ToLower(s.Status) {
	case "failed", "undelivered":
		return true
	}
	return false
}

// HandleDeliveryStatus counts the callback and surfaces failed deliveries in
// the conversation thread. Unknown message ids are ignored.
func (e *Engine) HandleDeliveryStatus(ctx context.Context, status DeliveryStatus) (err error) {
	ctx, op := e.begin(ctx, observability.SpanRelayDeliveryStatus, KindDeliveryStatus)
	defer func() { op.finish(err) }()

	e.metrics.ObserveDeliveryStatus(strings.ToLower(status.Status))
	if status.MessageSid == "" {
		op.outcome = observability.OutcomeRejected
		return conversation.Validationf("status callback requires MessageSid")
	}
	if !status.Failed() {
		op.outcome = observability.OutcomeIgnored
		return nil
	}

	msg, err := e.store.FindMessageByCarrierID(ctx, "", status.MessageSid)
	if errors.Is(err, conversation.ErrNotFound) {
		op.outcome = observability.OutcomeIgnored
		return nil
	}
	if err != nil {
		return storageFailure("handle delivery status", err)
	}
	conv, err := e.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return storageFailure("handle delivery status", err)
	}
	e.log(ctx).Warn("SMS %s to %s %s (code %s)", status.MessageSid, conv.Phone, status.Status, status.ErrorCode)

	handle, ok := e.threadOf(conv)
	if !ok {
		return nil
	}
	e.notify(ctx, handle.ChannelID, handle.ThreadID, ChatPost{
		Kind:           PostNotice,
		Text:           deliveryFailedText(status.Status, status.ErrorCode),
		ConversationID: conv.ID,
		Phone:          conv.Phone,
	})
	return nil
}
