package dispatch

import (
	"context"
	"errors"
	"testing"

	"smsrelay/internal/app/relay"
	slackchannel "smsrelay/internal/channels/slack"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/queue"
	id "smsrelay/internal/utils/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ slackchannel.Dispatcher = (*Dispatcher)(nil)

type capturingQueue struct {
	tasks []queue.Task
	err   error
}

func (q *capturingQueue) Enqueue(_ context.Context, task queue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *capturingQueue) Close() error { return nil }

type fakeEngine struct {
	calls []string
	err   error

	inbound  relay.InboundSMS
	reply    relay.ThreadReply
	identity [2]string
}

func (e *fakeEngine) HandleInbound(_ context.Context, in relay.InboundSMS) (relay.InboundResult, error) {
	e.calls = append(e.calls, "inbound")
	e.inbound = in
	return relay.InboundResult{}, e.err
}

func (e *fakeEngine) HandleDeliveryStatus(context.Context, relay.DeliveryStatus) error {
	e.calls = append(e.calls, "status")
	return e.err
}

func (e *fakeEngine) HandleThreadReply(_ context.Context, reply relay.ThreadReply) (relay.ReplyResult, error) {
	e.calls = append(e.calls, "reply")
	e.reply = reply
	return relay.ReplyResult{}, e.err
}

func (e *fakeEngine) OpenConversation(context.Context, relay.OpenRequest) (relay.OpenResult, error) {
	e.calls = append(e.calls, "open")
	return relay.OpenResult{}, e.err
}

func (e *fakeEngine) LogToCase(context.Context, relay.LogRequest) (relay.LogResult, error) {
	e.calls = append(e.calls, "log")
	return relay.LogResult{}, e.err
}

func (e *fakeEngine) SetSenderIdentity(_ context.Context, agentID, phone string) (conversation.SenderIdentity, error) {
	e.calls = append(e.calls, "identity")
	e.identity = [2]string{agentID, phone}
	return conversation.SenderIdentity{}, e.err
}

func (e *fakeEngine) SendDirect(context.Context, relay.DirectSend) (relay.DirectResult, error) {
	e.calls = append(e.calls, "direct")
	return relay.DirectResult{}, e.err
}

func (e *fakeEngine) PublishHome(context.Context, string) error {
	e.calls = append(e.calls, "home")
	return e.err
}

func setup() (*Dispatcher, *capturingQueue, *queue.Mux, *fakeEngine) {
	q := &capturingQueue{}
	mux := queue.NewMux()
	engine := &fakeEngine{}
	Register(mux, engine, logging.Nop())
	return New(q), q, mux, engine
}

func TestEveryOperationRoundTrips(t *testing.T) {
	d, q, mux, engine := setup()
	ctx := id.WithLogID(context.Background(), "log-7")

	require.NoError(t, d.Inbound(ctx, relay.InboundSMS{From: "+15551234567", Body: "Hi", MessageSid: "SM1"}))
	require.NoError(t, d.DeliveryStatus(ctx, relay.DeliveryStatus{MessageSid: "SM1", Status: "failed"}))
	require.NoError(t, d.ThreadReply(ctx, relay.ThreadReply{ChannelID: "D1", ThreadID: "1.1", AgentID: "U1", Text: "ok"}))
	require.NoError(t, d.Open(ctx, relay.OpenRequest{ConversationID: "conv_1", AgentID: "U1"}))
	require.NoError(t, d.LogToCase(ctx, relay.LogRequest{ConversationID: "conv_1", AgentID: "U1"}))
	require.NoError(t, d.SetSenderIdentity(ctx, "U1", "+15559990000"))
	require.NoError(t, d.SendDirect(ctx, relay.DirectSend{AgentID: "U1", To: "+15551234567", Text: "x"}))
	require.NoError(t, d.PublishHome(ctx, "U1"))

	require.Len(t, q.tasks, 8)
	for _, task := range q.tasks {
		assert.Equal(t, "log-7", task.LogID)
		require.NoError(t, mux.Process(ctx, task))
	}
	assert.Equal(t, []string{"inbound", "status", "reply", "open", "log", "identity", "direct", "home"}, engine.calls)
	assert.Equal(t, "SM1", engine.inbound.MessageSid)
	assert.Equal(t, "1.1", engine.reply.ThreadID)
	assert.Equal(t, [2]string{"U1", "+15559990000"}, engine.identity)
	assert.ElementsMatch(t, []string{
		TaskInbound, TaskDeliveryStatus, TaskThreadReply, TaskOpen,
		TaskLogToCase, TaskSetIdentity, TaskSendDirect, TaskPublishHome,
	}, mux.Types())
}

func TestEnqueueFailurePropagates(t *testing.T) {
	q := &capturingQueue{err: errors.New("redis down")}
	err := New(q).Inbound(context.Background(), relay.InboundSMS{From: "+15551234567", Body: "Hi"})
	assert.EqualError(t, err, "redis down")
}

func TestStorageFailuresRetryOnlyForSafeOperations(t *testing.T) {
	d, q, mux, engine := setup()
	engine.err = conversation.StorageError("append message", errors.New("disk full"))
	ctx := context.Background()

	require.NoError(t, d.Inbound(ctx, relay.InboundSMS{From: "+15551234567", Body: "Hi"}))
	require.NoError(t, d.ThreadReply(ctx, relay.ThreadReply{ChannelID: "D1", ThreadID: "1.1", AgentID: "U1", Text: "ok"}))
	require.NoError(t, d.Open(ctx, relay.OpenRequest{ConversationID: "conv_1", AgentID: "U1"}))

	inboundErr := mux.Process(ctx, q.tasks[0])
	require.Error(t, inboundErr)
	assert.False(t, queue.IsSkipRetry(inboundErr))

	replyErr := mux.Process(ctx, q.tasks[1])
	require.Error(t, replyErr)
	assert.True(t, queue.IsSkipRetry(replyErr))

	openErr := mux.Process(ctx, q.tasks[2])
	require.Error(t, openErr)
	assert.True(t, queue.IsSkipRetry(openErr))
	assert.ErrorIs(t, openErr, conversation.ErrStorageUnavailable)
}

func TestValidationFailuresAreNotRetried(t *testing.T) {
	d, q, mux, engine := setup()
	engine.err = conversation.Validationf("invalid phone number")

	require.NoError(t, d.Inbound(context.Background(), relay.InboundSMS{From: "bogus", Body: "Hi"}))
	err := mux.Process(context.Background(), q.tasks[0])
	assert.True(t, queue.IsSkipRetry(err))
	assert.ErrorIs(t, err, conversation.ErrValidation)
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	_, _, mux, engine := setup()
	err := mux.Process(context.Background(), queue.Task{Type: TaskOpen, Payload: []byte("{")})
	assert.True(t, queue.IsSkipRetry(err))
	assert.Empty(t, engine.calls)
}
