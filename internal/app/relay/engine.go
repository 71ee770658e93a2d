// Package relay implements the conversation state machine that bridges the
// SMS carrier and the team chat.
//
// Every conversation is either Unthreaded or Threaded. The engine is the only
// component that attaches thread handles and the only caller of
// Directory.Remember, which it invokes after the store has accepted a handle.
// Storage failures abort an operation and are returned. Carrier, chat and case
// failures are reported back to the acting agent and are not returned.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smsrelay/internal/app/directory"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	defaultHistoryLimit = 5
	defaultHomeLimit    = 10
)

// Relay operation kinds used for metrics labels.
const (
	KindInbound        = "inbound"
	KindOpen           = "open"
	KindReply          = "reply"
	KindDirectSend     = "direct_send"
	KindLogToCase      = "log_to_case"
	KindSetIdentity    = "set_identity"
	KindPublishHome    = "publish_home"
	KindDeliveryStatus = "delivery_status"
)

// Adapter names used for external call metrics.
const (
	adapterCarrier = "carrier"
	adapterChat    = "chat"
	adapterCase    = "case"
)

// Config tunes presentation limits.
type Config struct {
	// HistoryLimit is the number of recent messages replayed when a thread opens.
	HistoryLimit int
	// HomeLimit is the number of conversations listed on the home view.
	HomeLimit int
}

// Deps groups the engine collaborators.
type Deps struct {
	Store     conversation.Store
	Directory *directory.Directory
	Carrier   Carrier
	Chat      Chat
	Cases     CaseLogger
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.TracerProvider
}

// Engine runs relay operations. It is safe for concurrent use.
type Engine struct {
	store     conversation.Store
	directory *directory.Directory
	carrier   Carrier
	chat      Chat
	cases     CaseLogger
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.TracerProvider
	config    Config

	opens singleflight.Group
	logs  singleflight.Group
	now   func() time.Time
}

// NewEngine validates deps and returns an engine.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("relay: directory is required")
	}
	if deps.Carrier == nil || deps.Chat == nil || deps.Cases == nil {
		return nil, errors.New("relay: carrier, chat and case adapters are required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HomeLimit <= 0 {
		cfg.HomeLimit = defaultHomeLimit
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("RelayEngine")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return &Engine{
		store:     deps.Store,
		directory: deps.Directory,
		carrier:   deps.Carrier,
		chat:      deps.Chat,
		cases:     deps.Cases,
		logger:    logger,
		metrics:   deps.Metrics,
		tracer:    tracer,
		config:    cfg,
		now:       time.Now,
	}, nil
}

// Rebuild repopulates the directory from the store.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	return e.directory.Rebuild(ctx, e.store)
}

// operation is the tracing and metrics scope of one relay call.
type operation struct {
	engine  *Engine
	kind    string
	started time.Time
	outcome string
	end     func(error)
}

func (e *Engine) begin(ctx context.Context, spanName, kind string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := e.tracer.StartSpan(ctx, spanName, attrs...)
	op := &operation{engine: e, kind: kind, started: e.now(), outcome: observability.OutcomeOK}
	op.end = func(err error) {
		span.SetAttributes(attribute.String(observability.AttrOutcome, op.outcome))
		observability.EndSpan(span, err)
	}
	return ctx, op
}

// finish records the outcome; an error always counts as OutcomeError.
func (op *operation) finish(err error) {
	if err != nil {
		op.outcome = observability.OutcomeError
	}
	op.engine.metrics.ObserveRelay(op.kind, op.outcome, op.engine.now().Sub(op.started))
	op.end(err)
}

func (e *Engine) log(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, e.logger)
}

// post sends one chat message and records the external call.
func (e *Engine) post(ctx context.Context, channelID, threadID string, p ChatPost) (string, error) {
	ts, err := e.chat.PostMessage(ctx, channelID, threadID, p)
	e.metrics.ObserveExternal(adapterChat, err)
	if err != nil {
		return "", conversation.ExternalError("post chat message", err)
	}
	return ts, nil
}

// notify posts best-effort; failures are logged only.
func (e *Engine) notify(ctx context.Context, channelID, threadID string, p ChatPost) {
	if _, err := e.post(ctx, channelID, threadID, p); err != nil {
		e.log(ctx).Warn("Chat post to %s/%s failed: %v", channelID, threadID, err)
	}
}

// ack sends the ephemeral acknowledgment that closes every agent action.
func (e *Engine) ack(ctx context.Context, channelID, agentID, text string) {
	if channelID == "" {
		channelID = agentID
	}
	err := e.chat.PostEphemeral(ctx, channelID, agentID, text)
	e.metrics.ObserveExternal(adapterChat, err)
	if err != nil {
		e.log(ctx).Warn("Ephemeral ack to %s failed: %v", agentID, err)
	}
}

func (e *Engine) send(ctx context.Context, to, body, from string) (SendResult, error) {
	res, err := e.carrier.Send(ctx, to, body, from)
	e.metrics.ObserveExternal(adapterCarrier, err)
	if err != nil {
		return SendResult{}, conversation.ExternalError("send sms", err)
	}
	return res, nil
}

// senderPhone returns the agent's identity, or "" when the agent has none.
func (e *Engine) senderPhone(ctx context.Context, agentID string) (string, error) {
	identity, err := e.store.GetSenderIdentity(ctx, agentID)
	if errors.Is(err, conversation.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return identity.Phone, nil
}

// threadOf returns the conversation's handle, consulting the directory first
// and caching a handle found only in the store.
func (e *Engine) threadOf(conv conversation.Conversation) (conversation.ThreadHandle, bool) {
	if handle, ok := e.directory.ResolveByConversation(conv.ID); ok {
		return handle, true
	}
	handle, ok := conv.Status().Handle()
	if ok {
		e.directory.Remember(conv.ID, handle)
	}
	return handle, ok
}

func lastN(messages []conversation.Message, n int) []conversation.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
