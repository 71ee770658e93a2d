package twilio

import (
	"context"
	"sync"

	"smsrelay/internal/app/relay"
	"smsrelay/internal/logging"

	"github.com/segmentio/ksuid"
)

// MockCarrier accepts every message without calling Twilio. It is used when
// no credentials are configured.
type MockCarrier struct {
	mu     sync.Mutex
	sent   []MockMessage
	logger logging.Logger
}

// MockMessage is one message accepted by MockCarrier.
type MockMessage struct {
	SID  string
	To   string
	From string
	Body string
}

// NewMockCarrier returns an empty mock carrier.
func NewMockCarrier() *MockCarrier {
	return &MockCarrier{logger: logging.NewComponentLogger("MockCarrier")}
}

// Send records the message and returns a synthetic sid.
func (m *MockCarrier) Send(ctx context.Context, to, body, from string) (relay.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return relay.SendResult{}, err
	}
	msg := MockMessage{SID: "mock_" + ksuid.New().String(), To: to, From: from, Body: body}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("Mock SMS %s to %s from %s (%d chars)", msg.SID, to, from, len(body))
	return relay.SendResult{MessageID: msg.SID, Status: "sent"}, nil
}

// Sent returns a copy of the accepted messages.
func (m *MockCarrier) Sent() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.sent...)
}

var _ relay.Carrier = (*MockCarrier)(nil)
