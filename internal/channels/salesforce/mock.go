package salesforce

import (
	"context"
	"sync"

	"smsrelay/internal/app/relay"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"

	"github.com/segmentio/ksuid"
)

// MockCaseLogger fabricates case ids without calling Salesforce. It is used
// when the integration is disabled.
type MockCaseLogger struct {
	mu     sync.Mutex
	cases  map[string]string
	logger logging.Logger
}

// NewMock returns an empty mock case logger.
func NewMock() *MockCaseLogger {
	return &MockCaseLogger{cases: map[string]string{}, logger: logging.NewComponentLogger("MockCaseLogger")}
}

// LogConversation records the transcript under a synthetic case id.
func (m *MockCaseLogger) LogConversation(ctx context.Context, conv conversation.Conversation, messages []conversation.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	caseID := "MOCK-" + ksuid.New().String()
	m.mu.Lock()
	m.cases[caseID] = Transcript(conv, messages)
	m.mu.Unlock()
	m.logger.Info("Mock case %s for %s (%d messages)", caseID, conv.Phone, len(messages))
	return caseID, nil
}

// Transcript returns the description stored for caseID.
func (m *MockCaseLogger) Transcript(caseID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.cases[caseID]
	return text, ok
}

var _ relay.CaseLogger = (*MockCaseLogger)(nil)
