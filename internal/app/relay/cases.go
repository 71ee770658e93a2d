package relay

import (
	"context"
	"errors"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// LogRequest asks to export a conversation as a CRM case.
type LogRequest struct {
	ConversationID string
	AgentID        string
	// ResponseChannel receives the acknowledgment; defaults to the agent DM.
	ResponseChannel string
}

// LogResult reports the case a conversation is logged as.
type LogResult struct {
	CaseReference string
	AlreadyLogged bool
	Failed        bool
	// Err is the case adapter failure when Failed is set.
	Err error
}

// LogToCase creates at most one case per conversation. A logged conversation
// short-circuits with its existing case reference.
func (e *Engine) LogToCase(ctx context.Context, req LogRequest) (result LogResult, err error) {
	ctx, op := e.begin(ctx, observability.SpanRelayLogToCase, KindLogToCase, observability.ConversationAttrs(req.ConversationID)...)
	defer func() { op.finish(err) }()

	if req.ConversationID == "" {
		op.outcome = observability.OutcomeRejected
		return LogResult{}, conversation.Validationf("log to case requires a conversation id")
	}
	v, err, _ := e.logs.Do(req.ConversationID, func() (any, error) {
		return e.logToCase(ctx, req.ConversationID)
	})
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			e.ack(ctx, req.ResponseChannel, req.AgentID, textConversationGone)
		} else {
			e.ack(ctx, req.ResponseChannel, req.AgentID, textCaseFailed)
		}
		return LogResult{}, err
	}
	result = v.(LogResult)
	switch {
	case result.Failed:
		op.outcome = observability.OutcomeError
	case result.AlreadyLogged:
		op.outcome = observability.OutcomeDuplicate
	}
	e.ack(ctx, req.ResponseChannel, req.AgentID, caseAck(result))
	return result, nil
}

func caseAck(result LogResult) string {
	switch {
	case result.AlreadyLogged:
		return alreadyLoggedText(result.CaseReference)
	case result.Failed:
		return caseErrorText(result.Err)
	default:
		return caseLoggedText(result.CaseReference)
	}
}

func (e *Engine) logToCase(ctx context.Context, conversationID string) (LogResult, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return LogResult{}, err
	}
	if conv.LoggedToCase {
		return LogResult{CaseReference: conv.CaseReference, AlreadyLogged: true}, nil
	}
	messages, err := e.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return LogResult{}, err
	}

	caseRef, err := e.cases.LogConversation(ctx, conv, messages)
	e.metrics.ObserveExternal(adapterCase, err)
	if err != nil {
		e.log(ctx).Warn("Case logging for %s failed: %v", conv.ID, err)
		return LogResult{Failed: true, Err: err}, nil
	}
	if _, err := e.store.MarkCaseLogged(ctx, conv.ID, caseRef); err != nil {
		e.log(ctx).Error("Case %s created for %s but flag not persisted: %v", caseRef, conv.ID, err)
		return LogResult{}, err
	}
	e.log(ctx).Info("Logged conversation %s as case %s", conv.ID, caseRef)
	return LogResult{CaseReference: caseRef}, nil
}
