package salesforce

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/domain/conversation"
	relayerrors "smsrelay/internal/errors"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrg struct {
	mu          sync.Mutex
	tokenCalls  int
	passwords   []string
	caseCalls   int
	authHeaders []string
	bodies      []caseRecord
	caseReplies []func(w http.ResponseWriter)
	srv         *httptest.Server
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()
	org := &fakeOrg{}
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		org.mu.Lock()
		org.tokenCalls++
		org.passwords = append(org.passwords, r.PostForm.Get("password"))
		org.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "tok",
			"token_type":   "Bearer",
			"instance_url": org.srv.URL,
		})
	})
	mux.HandleFunc("/services/data/v59.0/sobjects/Case/", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var record caseRecord
		_ = json.Unmarshal(raw, &record)

		org.mu.Lock()
		org.caseCalls++
		org.authHeaders = append(org.authHeaders, r.Header.Get("Authorization"))
		org.bodies = append(org.bodies, record)
		var reply func(w http.ResponseWriter)
		if len(org.caseReplies) > 0 {
			reply = org.caseReplies[0]
			org.caseReplies = org.caseReplies[1:]
		}
		org.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if reply != nil {
			reply(w)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5001x000001","success":true,"errors":[]}`))
	})
	org.srv = httptest.NewServer(mux)
	t.Cleanup(org.srv.Close)
	return org
}

func status(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func fastRetry() relayerrors.RetryConfig {
	return relayerrors.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxRetries:      3,
	}
}

func passwordConfig(org *fakeOrg) Config {
	return Config{
		LoginURL:      org.srv.URL,
		ClientID:      "client",
		ClientSecret:  "secret",
		Username:      "agent@example.com",
		Password:      "pw",
		SecurityToken: "TOKEN",
		Retry:         fastRetry(),
	}
}

func sampleConversation() (conversation.Conversation, []conversation.Message) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	conv := conversation.Conversation{
		ID:        "conv_1",
		Phone:     "+15551234567",
		CreatedAt: start,
		UpdatedAt: start.Add(time.Minute),
		Thread:    &conversation.ThreadHandle{ChannelID: "D1", ThreadID: "1700000000.000100"},
	}
	msgs := []conversation.Message{
		{Content: "Hi", Direction: conversation.DirectionInbound, CreatedAt: start},
		{Content: "On it", Direction: conversation.DirectionOutbound, CreatedAt: start.Add(time.Minute)},
	}
	return conv, msgs
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{Username: "only"})
	require.Error(t, err)
}

func TestLogConversationPasswordFlow(t *testing.T) {
	org := newFakeOrg(t)
	client, err := New(passwordConfig(org))
	require.NoError(t, err)
	conv, msgs := sampleConversation()

	id, err := client.LogConversation(context.Background(), conv, msgs)
	require.NoError(t, err)
	assert.Equal(t, "5001x000001", id)

	_, err = client.LogConversation(context.Background(), conv, msgs)
	require.NoError(t, err)

	assert.Equal(t, 1, org.tokenCalls)
	assert.Equal(t, []string{"pwTOKEN"}, org.passwords)
	assert.Equal(t, 2, org.caseCalls)
	assert.Equal(t, "Bearer tok", org.authHeaders[0])

	record := org.bodies[0]
	assert.Equal(t, "SMS Conversation with +15551234567", record.Subject)
	assert.Equal(t, "New", record.Status)
	assert.Equal(t, "SMS", record.Origin)
	assert.Equal(t, "Medium", record.Priority)
	assert.Equal(t, "Question", record.Type)
	assert.Equal(t, "+15551234567", record.Phone)
	assert.Contains(t, record.Description, "[1] FROM CUSTOMER")
	assert.Contains(t, record.Description, "[2] TO CUSTOMER")
}

func TestLogConversationReauthenticatesOnUnauthorized(t *testing.T) {
	org := newFakeOrg(t)
	org.caseReplies = []func(w http.ResponseWriter){
		status(http.StatusUnauthorized, `[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`),
	}
	client, err := New(passwordConfig(org))
	require.NoError(t, err)
	conv, msgs := sampleConversation()

	id, err := client.LogConversation(context.Background(), conv, msgs)
	require.NoError(t, err)
	assert.Equal(t, "5001x000001", id)
	assert.Equal(t, 2, org.tokenCalls)
	assert.Equal(t, 2, org.caseCalls)
}

func TestLogConversationRetriesServerErrors(t *testing.T) {
	org := newFakeOrg(t)
	org.caseReplies = []func(w http.ResponseWriter){
		status(http.StatusServiceUnavailable, `maintenance`),
	}
	client, err := New(passwordConfig(org))
	require.NoError(t, err)
	conv, msgs := sampleConversation()

	_, err = client.LogConversation(context.Background(), conv, msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, org.caseCalls)
}

func TestLogConversationValidationErrorIsPermanent(t *testing.T) {
	org := newFakeOrg(t)
	org.caseReplies = []func(w http.ResponseWriter){
		status(http.StatusBadRequest, `[{"message":"Required fields are missing: [Subject]","errorCode":"REQUIRED_FIELD_MISSING"}]`),
	}
	client, err := New(passwordConfig(org))
	require.NoError(t, err)
	conv, msgs := sampleConversation()

	_, err = client.LogConversation(context.Background(), conv, msgs)
	require.Error(t, err)
	assert.True(t, relayerrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "REQUIRED_FIELD_MISSING")
	assert.Equal(t, 1, org.caseCalls)
}

func TestLogConversationStaticToken(t *testing.T) {
	org := newFakeOrg(t)
	client, err := New(Config{AccessToken: "static", InstanceURL: org.srv.URL + "/", Retry: fastRetry()})
	require.NoError(t, err)
	conv, msgs := sampleConversation()

	_, err = client.LogConversation(context.Background(), conv, msgs)
	require.NoError(t, err)
	assert.Equal(t, 0, org.tokenCalls)
	assert.Equal(t, "Bearer static", org.authHeaders[0])
}

func TestTranscript(t *testing.T) {
	conv, msgs := sampleConversation()
	text := Transcript(conv, msgs)
	assert.Contains(t, text, "SMS Conversation with +15551234567")
	assert.Contains(t, text, "Total messages: 2")
	assert.Contains(t, text, "Slack Thread: D1 (1700000000.000100)")
	assert.Contains(t, text, "Conversation started: 2025-03-01 09:00:00 UTC")
	assert.Contains(t, text, "Hi\n\n")
}

func TestMockCaseLogger(t *testing.T) {
	mock := NewMock()
	conv, msgs := sampleConversation()
	id, err := mock.LogConversation(context.Background(), conv, msgs)
	require.NoError(t, err)
	assert.Contains(t, id, "MOCK-")
	text, ok := mock.Transcript(id)
	require.True(t, ok)
	assert.Contains(t, text, "+15551234567")
}
