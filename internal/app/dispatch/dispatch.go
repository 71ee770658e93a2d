// Package dispatch turns relay operations into queue tasks and back.
//
// Producers (the HTTP handlers and the Slack ingress) call the Dispatcher,
// which only enqueues. Register installs the consuming side on a queue.Mux.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"smsrelay/internal/app/relay"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/queue"
	id "smsrelay/internal/utils/id"

	json "github.com/goccy/go-json"
)

// Task types.
const (
	TaskInbound        = "relay.inbound"
	TaskDeliveryStatus = "relay.delivery_status"
	TaskThreadReply    = "relay.thread_reply"
	TaskOpen           = "relay.open"
	TaskLogToCase      = "relay.log_to_case"
	TaskSetIdentity    = "relay.set_identity"
	TaskSendDirect     = "relay.send_direct"
	TaskPublishHome    = "relay.publish_home"
)

type identityPayload struct {
	AgentID string `json:"agent_id"`
	Phone   string `json:"phone"`
}

type homePayload struct {
	AgentID string `json:"agent_id"`
}

// Dispatcher enqueues relay operations.
type Dispatcher struct {
	queue queue.Queue
}

// New returns a dispatcher producing into q.
func New(q queue.Queue) *Dispatcher {
	return &Dispatcher{queue: q}
}

func (d *Dispatcher) enqueue(ctx context.Context, taskType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: encode %s: %w", taskType, err)
	}
	return d.queue.Enqueue(ctx, queue.Task{Type: taskType, Payload: body, LogID: id.LogIDFromContext(ctx)})
}

// Inbound schedules an inbound SMS.
func (d *Dispatcher) Inbound(ctx context.Context, in relay.InboundSMS) error {
	return d.enqueue(ctx, TaskInbound, in)
}

// DeliveryStatus schedules a carrier status callback.
func (d *Dispatcher) DeliveryStatus(ctx context.Context, status relay.DeliveryStatus) error {
	return d.enqueue(ctx, TaskDeliveryStatus, status)
}

// ThreadReply schedules an agent reply typed in a thread.
func (d *Dispatcher) ThreadReply(ctx context.Context, reply relay.ThreadReply) error {
	return d.enqueue(ctx, TaskThreadReply, reply)
}

// Open schedules an open conversation action.
func (d *Dispatcher) Open(ctx context.Context, req relay.OpenRequest) error {
	return d.enqueue(ctx, TaskOpen, req)
}

// LogToCase schedules a case export.
func (d *Dispatcher) LogToCase(ctx context.Context, req relay.LogRequest) error {
	return d.enqueue(ctx, TaskLogToCase, req)
}

// SetSenderIdentity schedules saving an agent's sender number.
func (d *Dispatcher) SetSenderIdentity(ctx context.Context, agentID, phone string) error {
	return d.enqueue(ctx, TaskSetIdentity, identityPayload{AgentID: agentID, Phone: phone})
}

// SendDirect schedules a slash-command send.
func (d *Dispatcher) SendDirect(ctx context.Context, req relay.DirectSend) error {
	return d.enqueue(ctx, TaskSendDirect, req)
}

// PublishHome schedules an App Home refresh.
func (d *Dispatcher) PublishHome(ctx context.Context, agentID string) error {
	return d.enqueue(ctx, TaskPublishHome, homePayload{AgentID: agentID})
}

// Engine is the relay surface the consumers call.
type Engine interface {
	HandleInbound(ctx context.Context, in relay.InboundSMS) (relay.InboundResult, error)
	HandleDeliveryStatus(ctx context.Context, status relay.DeliveryStatus) error
	HandleThreadReply(ctx context.Context, reply relay.ThreadReply) (relay.ReplyResult, error)
	OpenConversation(ctx context.Context, req relay.OpenRequest) (relay.OpenResult, error)
	LogToCase(ctx context.Context, req relay.LogRequest) (relay.LogResult, error)
	SetSenderIdentity(ctx context.Context, agentID, rawPhone string) (conversation.SenderIdentity, error)
	SendDirect(ctx context.Context, req relay.DirectSend) (relay.DirectResult, error)
	PublishHome(ctx context.Context, agentID string) error
}

// Register installs one handler per task type.
//
// Operations that may already have reached the carrier, the CRM or the chat
// platform before failing (opens, replies, direct sends and case exports) are
// never retried. An open that fails after posting its header leaves an
// orphaned thread; a retry would post another.
func Register(mux *queue.Mux, engine Engine, logger logging.Logger) {
	logger = logging.OrNop(logger)

	mux.Handle(TaskInbound, consume(logger, true, func(ctx context.Context, in relay.InboundSMS) error {
		_, err := engine.HandleInbound(ctx, in)
		return err
	}))
	mux.Handle(TaskDeliveryStatus, consume(logger, true, engine.HandleDeliveryStatus))
	mux.Handle(TaskOpen, consume(logger, false, func(ctx context.Context, req relay.OpenRequest) error {
		_, err := engine.OpenConversation(ctx, req)
		return err
	}))
	mux.Handle(TaskSetIdentity, consume(logger, true, func(ctx context.Context, p identityPayload) error {
		_, err := engine.SetSenderIdentity(ctx, p.AgentID, p.Phone)
		return err
	}))
	mux.Handle(TaskPublishHome, consume(logger, true, func(ctx context.Context, p homePayload) error {
		return engine.PublishHome(ctx, p.AgentID)
	}))
	mux.Handle(TaskThreadReply, consume(logger, false, func(ctx context.Context, reply relay.ThreadReply) error {
		_, err := engine.HandleThreadReply(ctx, reply)
		return err
	}))
	mux.Handle(TaskSendDirect, consume(logger, false, func(ctx context.Context, req relay.DirectSend) error {
		_, err := engine.SendDirect(ctx, req)
		return err
	}))
	mux.Handle(TaskLogToCase, consume(logger, false, func(ctx context.Context, req relay.LogRequest) error {
		_, err := engine.LogToCase(ctx, req)
		return err
	}))
}

// consume decodes the payload into T and classifies the handler error.
func consume[T any](logger logging.Logger, retryable bool, fn func(context.Context, T) error) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var payload T
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return queue.SkipRetry(fmt.Errorf("dispatch: decode %s: %w", task.Type, err))
		}
		err := fn(ctx, payload)
		if err == nil {
			return nil
		}
		logging.FromContext(ctx, logger).Warn("Task %s: %v", task.Type, err)
		if !retryable || !isRetryable(err) {
			return queue.SkipRetry(err)
		}
		return err
	}
}

// isRetryable reports whether err may succeed on a later attempt.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, conversation.ErrValidation),
		errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, conversation.ErrConflict):
		return false
	default:
		return true
	}
}
