package relay

import (
	"context"
	"errors"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// OpenRequest asks to surface a conversation in the agent's chat.
type OpenRequest struct {
	ConversationID string
	AgentID        string
}

// OpenResult describes the thread an open resolved to.
type OpenResult struct {
	Handle conversation.ThreadHandle
	// Created is true when this call created the thread.
	Created bool
	// Adopted is true when a concurrent open won and its thread was reused.
	Adopted bool
	// Failed is true when a chat call failed and the agent was told so.
	Failed bool
}

// OpenConversation reuses the conversation's thread or creates one. Concurrent
// opens of one conversation share a single attempt, and a conversation never
// ends up with two attached threads.
func (e *Engine) OpenConversation(ctx context.Context, req OpenRequest) (result OpenResult, err error) {
	ctx, op := e.begin(ctx, observability.SpanRelayOpen, KindOpen, observability.ConversationAttrs(req.ConversationID)...)
	defer func() { op.finish(err) }()

	if req.ConversationID == "" || req.AgentID == "" {
		op.outcome = observability.OutcomeRejected
		return OpenResult{}, conversation.Validationf("open requires conversation and agent ids")
	}

	v, err, _ := e.opens.Do(req.ConversationID, func() (any, error) {
		return e.open(ctx, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			e.ack(ctx, req.AgentID, req.AgentID, textConversationGone)
		case errors.Is(err, conversation.ErrExternalUnavailable):
			e.log(ctx).Warn("Open conversation %s failed: %v", req.ConversationID, err)
			e.ack(ctx, req.AgentID, req.AgentID, textOpenFailed)
			op.outcome = observability.OutcomeError
			return OpenResult{Failed: true}, nil
		default:
			e.ack(ctx, req.AgentID, req.AgentID, textOpenFailed)
		}
		return OpenResult{}, err
	}
	result = v.(openOutcome).result
	e.ack(ctx, req.AgentID, req.AgentID, openedText(v.(openOutcome).phone))
	return result, nil
}

type openOutcome struct {
	result OpenResult
	phone  string
}

func (e *Engine) open(ctx context.Context, req OpenRequest) (openOutcome, error) {
	conv, err := e.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return openOutcome{}, err
	}
	if handle, ok := e.threadOf(conv); ok {
		if err := e.replay(ctx, conv, handle, true); err != nil {
			return openOutcome{}, err
		}
		return openOutcome{result: OpenResult{Handle: handle}, phone: conv.Phone}, nil
	}

	senderPhone, err := e.senderPhone(ctx, req.AgentID)
	if err != nil {
		return openOutcome{}, err
	}
	channelID, err := e.chat.OpenDirectMessage(ctx, req.AgentID)
	e.metrics.ObserveExternal(adapterChat, err)
	if err != nil {
		return openOutcome{}, conversation.ExternalError("open direct message", err)
	}
	threadID, err := e.post(ctx, channelID, "", ChatPost{
		Kind:           PostHeader,
		Text:           headerText(conv.Phone),
		ConversationID: conv.ID,
		Phone:          conv.Phone,
		SenderPhone:    senderPhone,
	})
	if err != nil {
		return openOutcome{}, err
	}
	created := conversation.ThreadHandle{ChannelID: channelID, ThreadID: threadID}

	stored, err := e.store.AttachThreadHandle(ctx, conv.ID, created)
	var conflict *conversation.ThreadConflictError
	switch {
	case errors.As(err, &conflict):
		e.log(ctx).Warn("Orphaned thread %s: conversation %s already bound to %s", created.Key(), conv.ID, conflict.Existing.Key())
		e.directory.Remember(conv.ID, conflict.Existing)
		if err := e.replay(ctx, conv, conflict.Existing, true); err != nil {
			return openOutcome{}, err
		}
		return openOutcome{result: OpenResult{Handle: conflict.Existing, Adopted: true}, phone: conv.Phone}, nil
	case err != nil:
		e.log(ctx).Error("Orphaned thread %s: attaching to conversation %s failed: %v", created.Key(), conv.ID, err)
		return openOutcome{}, err
	}

	handle, _ := stored.Status().Handle()
	e.directory.Remember(conv.ID, handle)
	if err := e.replay(ctx, stored, handle, false); err != nil {
		return openOutcome{}, err
	}
	e.notify(ctx, handle.ChannelID, handle.ThreadID, ChatPost{
		Kind:           PostInstructions,
		Text:           textInstructions,
		ConversationID: conv.ID,
		Phone:          conv.Phone,
	})
	e.log(ctx).Info("Opened thread %s for conversation %s", handle.Key(), conv.ID)
	return openOutcome{result: OpenResult{Handle: handle, Created: true}, phone: conv.Phone}, nil
}

// replay posts the most recent messages into the thread. Only a storage
// failure is returned; chat failures are logged.
func (e *Engine) replay(ctx context.Context, conv conversation.Conversation, handle conversation.ThreadHandle, reopened bool) error {
	messages, err := e.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return err
	}
	if reopened {
		e.notify(ctx, handle.ChannelID, handle.ThreadID, ChatPost{
			Kind:           PostText,
			Text:           alreadyOpenText(conv.Phone),
			ConversationID: conv.ID,
			Phone:          conv.Phone,
			MessageCount:   len(messages),
		})
	}
	for _, msg := range lastN(messages, e.config.HistoryLimit) {
		e.notify(ctx, handle.ChannelID, handle.ThreadID, ChatPost{
			Kind:           PostHistory,
			Text:           historyText(conv.Phone, msg),
			ConversationID: conv.ID,
			Phone:          conv.Phone,
		})
	}
	return nil
}
