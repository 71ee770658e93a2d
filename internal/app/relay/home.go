package relay

import (
	"context"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
)

// SetSenderIdentity validates and stores the agent's sending number, then
// refreshes the agent's home view.
func (e *Engine) SetSenderIdentity(ctx context.Context, agentID, rawPhone string) (identity conversation.SenderIdentity, err error) {
	started := e.now()
	outcome := observability.OutcomeOK
	defer func() {
		if err != nil && outcome == observability.OutcomeOK {
			outcome = observability.OutcomeError
		}
		e.metrics.ObserveRelay(KindSetIdentity, outcome, e.now().Sub(started))
	}()

	phone, err := conversation.NormalizePhone(rawPhone)
	if err != nil {
		outcome = observability.OutcomeRejected
		e.ack(ctx, agentID, agentID, textInvalidPhone)
		return conversation.SenderIdentity{}, err
	}
	identity, err = e.store.SetSenderIdentity(ctx, agentID, phone)
	if err != nil {
		e.ack(ctx, agentID, agentID, textIdentityFailed)
		return conversation.SenderIdentity{}, storageFailure("set sender identity", err)
	}
	e.ack(ctx, agentID, agentID, identitySavedText(phone))
	if err := e.PublishHome(ctx, agentID); err != nil {
		e.log(ctx).Warn("Home refresh for %s failed: %v", agentID, err)
	}
	return identity, nil
}

// PublishHome renders the agent's recent conversations and sender setup.
func (e *Engine) PublishHome(ctx context.Context, agentID string) (err error) {
	started := e.now()
	defer func() {
		outcome := observability.OutcomeOK
		if err != nil {
			outcome = observability.OutcomeError
		}
		e.metrics.ObserveRelay(KindPublishHome, outcome, e.now().Sub(started))
	}()

	recent, err := e.store.ListRecentConversations(ctx, e.config.HomeLimit)
	if err != nil {
		return storageFailure("publish home", err)
	}
	senderPhone, err := e.senderPhone(ctx, agentID)
	if err != nil {
		return storageFailure("publish home", err)
	}
	err = e.chat.PublishHomeView(ctx, agentID, HomeView{AgentID: agentID, SenderPhone: senderPhone, Conversations: recent})
	e.metrics.ObserveExternal(adapterChat, err)
	if err != nil {
		e.log(ctx).Warn("Publishing home for %s failed: %v", agentID, err)
	}
	return nil
}
