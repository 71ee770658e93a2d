package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"smsrelay/internal/app/relay"
	slackchannel "smsrelay/internal/channels/slack"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingDispatcher struct {
	inbound  []relay.InboundSMS
	statuses []relay.DeliveryStatus
	err      error
}

func (d *recordingDispatcher) Inbound(_ context.Context, in relay.InboundSMS) error {
	if d.err != nil {
		return d.err
	}
	d.inbound = append(d.inbound, in)
	return nil
}

func (d *recordingDispatcher) DeliveryStatus(_ context.Context, status relay.DeliveryStatus) error {
	if d.err != nil {
		return d.err
	}
	d.statuses = append(d.statuses, status)
	return nil
}

type stubReader struct {
	recent []conversation.ConversationWithMessages
	conv   conversation.Conversation
	msgs   []conversation.Message
	err    error
	limit  int
}

func (r *stubReader) ListRecentConversations(_ context.Context, limit int) ([]conversation.ConversationWithMessages, error) {
	r.limit = limit
	return r.recent, r.err
}

func (r *stubReader) GetConversation(_ context.Context, conversationID string) (conversation.Conversation, error) {
	if r.err != nil {
		return conversation.Conversation{}, r.err
	}
	if conversationID != r.conv.ID {
		return conversation.Conversation{}, conversation.NotFoundf("conversation %s", conversationID)
	}
	return r.conv, nil
}

func (r *stubReader) ListMessages(context.Context, string) ([]conversation.Message, error) {
	return r.msgs, nil
}

type recordingIngress struct {
	events       []slackevents.EventsAPIEvent
	interactions []slack.InteractionCallback
	commands     []slack.SlashCommand
	err          error
}

func (r *recordingIngress) HandleEvent(_ context.Context, event slackevents.EventsAPIEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingIngress) HandleInteraction(_ context.Context, cb slack.InteractionCallback) error {
	r.interactions = append(r.interactions, cb)
	return r.err
}

func (r *recordingIngress) HandleCommand(_ context.Context, cmd slack.SlashCommand) error {
	r.commands = append(r.commands, cmd)
	return r.err
}

type stubValidator struct {
	valid bool
	url   string
}

func (v *stubValidator) Valid(fullURL string, _ url.Values, signature string) bool {
	v.url = fullURL
	return v.valid && signature != ""
}

type fixture struct {
	router    *gin.Engine
	dispatch  *recordingDispatcher
	reader    *stubReader
	ingress   *recordingIngress
	validator *stubValidator
}

const testSigningSecret = "signing-secret"

func newFixture(t *testing.T, mutate func(*RouterDeps, *RouterConfig)) *fixture {
	t.Helper()
	f := &fixture{
		dispatch: &recordingDispatcher{},
		reader:   &stubReader{},
		ingress:  &recordingIngress{},
	}
	deps := RouterDeps{
		Dispatcher:    f.dispatch,
		Conversations: f.reader,
		Slack:         f.ingress,
		SlackVerifier: slackchannel.NewVerifier(testSigningSecret),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Logger: logging.Nop(),
		Now:    func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	cfg := RouterConfig{Environment: "test"}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	if v, ok := deps.Carrier.(*stubValidator); ok {
		f.validator = v
	}
	f.router = NewRouter(deps, cfg)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func signedSlackRequest(path, contentType, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + body))
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "sms-relay", body["service"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["timestamp"])
	assert.NotEmpty(t, rec.Header().Get("X-Log-Id"))
}

func TestLogIDIsPropagated(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := f.do(req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Log-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestInboundWebhookAccepted(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(formRequest("/sms/webhook", url.Values{
		"From":       {"+15551234567"},
		"To":         {"+15550000000"},
		"Body":       {"Hi"},
		"MessageSid": {"SM1"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, rec.Body.String(), "<Response></Response>")
	require.Len(t, f.dispatch.inbound, 1)
	assert.Equal(t, relay.InboundSMS{From: "+15551234567", To: "+15550000000", Body: "Hi", MessageSid: "SM1"}, f.dispatch.inbound[0])
}

func TestInboundWebhookRejectsMissingFields(t *testing.T) {
	f := newFixture(t, nil)
	for name, form := range map[string]url.Values{
		"missing from":  {"Body": {"Hi"}},
		"missing body":  {"From": {"+15551234567"}},
		"invalid phone": {"From": {"not-a-phone"}, "Body": {"Hi"}},
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(formRequest("/sms/webhook", form))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, f.dispatch.inbound)
}

func TestInboundWebhookAcceptsWhitespaceBody(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(formRequest("/sms/webhook", url.Values{"From": {"+15551234567"}, "Body": {" "}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.dispatch.inbound, 1)
	assert.Equal(t, " ", f.dispatch.inbound[0].Body)
}

func TestInboundWebhookEnqueueFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatch.err = errors.New("queue closed")
	rec := f.do(formRequest("/sms/webhook", url.Values{"From": {"+15551234567"}, "Body": {"Hi"}}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInboundWebhookSignature(t *testing.T) {
	f := newFixture(t, func(d *RouterDeps, c *RouterConfig) {
		d.Carrier = &stubValidator{valid: true}
		c.PublicURL = "https://relay.example.com/"
	})
	form := url.Values{"From": {"+15551234567"}, "Body": {"Hi"}}

	rec := f.do(formRequest("/sms/webhook", form))
	assert.Equal(t, http.StatusForbidden, rec.Code, "unsigned request")

	req := formRequest("/sms/webhook", form)
	req.Header.Set("X-Twilio-Signature", "sig")
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://relay.example.com/sms/webhook", f.validator.url)
}

func TestDeliveryStatusCallback(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(formRequest("/sms/status", url.Values{
		"MessageSid":    {"SM9"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"30003"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.dispatch.statuses, 1)
	assert.Equal(t, relay.DeliveryStatus{MessageSid: "SM9", Status: "undelivered", ErrorCode: "30003"}, f.dispatch.statuses[0])

	rec = f.do(formRequest("/sms/status", url.Values{"MessageStatus": {"sent"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlackURLVerification(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"type":"url_verification","token":"t","challenge":"abc123"}`
	rec := f.do(signedSlackRequest("/slack/events", "application/json", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"abc123"}`, rec.Body.String())
	assert.Empty(t, f.ingress.events)
}

func TestSlackEventRequiresSignature(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{"type":"event_callback"}`))
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.ingress.events)
}

func TestSlackEventRouted(t *testing.T) {
	f := newFixture(t, nil)
	f.ingress.err = slackchannel.ErrUnsupported
	body := `{"type":"event_callback","event_id":"Ev1","event":{"type":"message","channel":"D1","user":"U1","text":"ok","ts":"2.2","thread_ts":"1.1"}}`
	rec := f.do(signedSlackRequest("/slack/events", "application/json", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ingress.events, 1)
	assert.Equal(t, slackevents.CallbackEvent, f.ingress.events[0].Type)
}

func TestSlackEventNotAcceptedAsksForRedelivery(t *testing.T) {
	f := newFixture(t, nil)
	f.ingress.err = fmt.Errorf("%w: redis down", slackchannel.ErrNotAccepted)
	body := `{"type":"event_callback","event_id":"Ev2","event":{"type":"message","channel":"D1","user":"U1","text":"ok","ts":"2.3","thread_ts":"1.1"}}`
	rec := f.do(signedSlackRequest("/slack/events", "application/json", body))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Len(t, f.ingress.events, 1)
}

func TestSlackCommandNotAcceptedStillAcks(t *testing.T) {
	f := newFixture(t, nil)
	f.ingress.err = fmt.Errorf("%w: redis down", slackchannel.ErrNotAccepted)
	body := url.Values{"command": {"/sms"}, "text": {"send +15551234567 hi"}, "user_id": {"U1"}, "channel_id": {"C1"}}.Encode()
	rec := f.do(signedSlackRequest("/slack/commands", "application/x-www-form-urlencoded", body))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSlackInteractionRouted(t *testing.T) {
	f := newFixture(t, nil)
	payload := `{"type":"block_actions","user":{"id":"U1"},"actions":[{"action_id":"open_conversation","block_id":"b1","value":"conv_1"}]}`
	body := url.Values{"payload": {payload}}.Encode()
	rec := f.do(signedSlackRequest("/slack/interactions", "application/x-www-form-urlencoded", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ingress.interactions, 1)
	assert.Equal(t, "U1", f.ingress.interactions[0].User.ID)
}

func TestSlackCommandRouted(t *testing.T) {
	f := newFixture(t, nil)
	body := url.Values{
		"command":    {"/sms"},
		"text":       {"send +15551234567 hello"},
		"user_id":    {"U1"},
		"channel_id": {"C1"},
	}.Encode()
	rec := f.do(signedSlackRequest("/slack/commands", "application/x-www-form-urlencoded", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ingress.commands, 1)
	assert.Equal(t, "send +15551234567 hello", f.ingress.commands[0].Text)
}

func TestSlackRoutesDisabledWithoutIngress(t *testing.T) {
	f := newFixture(t, func(d *RouterDeps, _ *RouterConfig) { d.Slack = nil })
	rec := f.do(signedSlackRequest("/slack/events", "application/json", `{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.recent = []conversation.ConversationWithMessages{{
		Conversation: conversation.Conversation{ID: "conv_1", Phone: "+15551234567"},
	}}
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, f.reader.limit)
	var body conversationListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "conv_1", body.Conversations[0].ID)
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.conv = conversation.Conversation{ID: "conv_1", Phone: "+15551234567"}
	f.reader.msgs = []conversation.Message{{ID: "msg_1", ConversationID: "conv_1", Content: "Hi", Direction: conversation.DirectionInbound}}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/conversations/conv_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body conversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conv_1", body.Conversation.ID)
	require.Len(t, body.Conversation.Messages, 1)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/conversations/conv_404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationAPIStorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.err = conversation.StorageError("list recent", errors.New("db down"))
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Storage unavailable")
}

func TestConversationAPIRateLimited(t *testing.T) {
	f := newFixture(t, func(_ *RouterDeps, c *RouterConfig) {
		c.RateLimit = RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil)).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health is not limited")
}

func TestMapDomainError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{conversation.Validationf("bad"), http.StatusBadRequest},
		{conversation.NotFoundf("conversation x"), http.StatusNotFound},
		{conversation.NewThreadConflict("c", conversation.ThreadHandle{ChannelID: "D1", ThreadID: "1"}, conversation.ThreadHandle{ChannelID: "D1", ThreadID: "2"}), http.StatusConflict},
		{conversation.ExternalError("chat post", errors.New("boom")), http.StatusBadGateway},
		{conversation.StorageError("append", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("other"), 0},
		{nil, 0},
	}
	for _, tc := range cases {
		status, _ := mapDomainError(tc.err)
		assert.Equal(t, tc.status, status, "%v", tc.err)
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, EntryTTL: time.Minute, CleanupInterval: time.Minute})
	now := time.Now()
	limiter.now = func() time.Time { return now }
	assert.True(t, limiter.allow("ip:a"))
	assert.False(t, limiter.allow("ip:a"))

	now = now.Add(3 * time.Minute)
	assert.True(t, limiter.allow("ip:b"))
	assert.Len(t, limiter.entries, 1)
}
