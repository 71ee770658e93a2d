package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/app/relay"
	relayerrors "smsrelay/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	Method string
	Form   map[string]string
}

type fakeSlackAPI struct {
	mu       sync.Mutex
	calls    []apiCall
	handlers map[string][]func(w http.ResponseWriter)
}

func newFakeSlackAPI() *fakeSlackAPI {
	return &fakeSlackAPI{handlers: map[string][]func(w http.ResponseWriter){}}
}

func (f *fakeSlackAPI) on(method string, fn func(w http.ResponseWriter)) {
	f.handlers[method] = append(f.handlers[method], fn)
}

func (f *fakeSlackAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/")
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Form: form})
	queue := f.handlers[method]
	var handler func(w http.ResponseWriter)
	if len(queue) > 0 {
		handler = queue[0]
		if len(queue) > 1 {
			f.handlers[method] = queue[1:]
		}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if handler == nil {
		_, _ = w.Write([]byte(`{"ok":true}`))
		return
	}
	handler(w)
}

func (f *fakeSlackAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func jsonReply(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, api *fakeSlackAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client, err := New(Config{
		BotToken: "xoxb-test",
		APIURL:   srv.URL + "/",
		Retry: relayerrors.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsedTime:  time.Second,
			MaxRetries:      3,
		},
	})
	require.NoError(t, err)
	return client
}

func TestNewRequiresBotToken(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestOpenDirectMessage(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("conversations.open", jsonReply(`{"ok":true,"channel":{"id":"D123"}}`))
	client := newTestClient(t, api)

	channel, err := client.OpenDirectMessage(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "D123", channel)

	calls := api.callsTo("conversations.open")
	require.Len(t, calls, 1)
	assert.Equal(t, "U1", calls[0].Form["users"])
}

func TestPostMessageThreadsAndRendersBlocks(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("chat.postMessage", jsonReply(`{"ok":true,"channel":"D123","ts":"1700000000.000200"}`))
	client := newTestClient(t, api)

	ts, err := client.PostMessage(context.Background(), "D123", "1700000000.000100", relay.ChatPost{
		Kind:           relay.PostInstructions,
		Text:           "reply here",
		ConversationID: "conv_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000200", ts)

	calls := api.callsTo("chat.postMessage")
	require.Len(t, calls, 1)
	form := calls[0].Form
	assert.Equal(t, "D123", form["channel"])
	assert.Equal(t, "1700000000.000100", form["thread_ts"])
	assert.Equal(t, "reply here", form["text"])
	assert.Contains(t, form["blocks"], ActionLogToCase)
	assert.Contains(t, form["blocks"], "conv_1")
}

func TestPostMessageRetriesRateLimit(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("chat.postMessage", func(w http.ResponseWriter) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	api.on("chat.postMessage", jsonReply(`{"ok":true,"channel":"D1","ts":"1.2"}`))
	client := newTestClient(t, api)

	ts, err := client.PostMessage(context.Background(), "D1", "", relay.ChatPost{Kind: relay.PostText, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "1.2", ts)
	assert.Len(t, api.callsTo("chat.postMessage"), 2)
}

func TestPostMessageAPIErrorIsPermanent(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("chat.postMessage", jsonReply(`{"ok":false,"error":"channel_not_found"}`))
	client := newTestClient(t, api)

	_, err := client.PostMessage(context.Background(), "C404", "", relay.ChatPost{Kind: relay.PostText, Text: "hi"})
	require.Error(t, err)
	assert.True(t, relayerrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Len(t, api.callsTo("chat.postMessage"), 1)
}

func TestPostEphemeral(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("chat.postEphemeral", jsonReply(`{"ok":true,"message_ts":"1.3"}`))
	client := newTestClient(t, api)

	require.NoError(t, client.PostEphemeral(context.Background(), "C1", "U1", "only you"))
	calls := api.callsTo("chat.postEphemeral")
	require.Len(t, calls, 1)
	assert.Equal(t, "U1", calls[0].Form["user"])
	assert.Equal(t, "only you", calls[0].Form["text"])
}

func TestPublishHomeView(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("views.publish", jsonReply(`{"ok":true,"view":{"id":"V1"}}`))
	client := newTestClient(t, api)

	require.NoError(t, client.PublishHomeView(context.Background(), "U1", relay.HomeView{AgentID: "U1"}))
	assert.Len(t, api.callsTo("views.publish"), 1)
}

func TestOpenPhoneModal(t *testing.T) {
	api := newFakeSlackAPI()
	api.on("views.open", jsonReply(`{"ok":false,"error":"expired_trigger_id"}`))
	client := newTestClient(t, api)

	err := client.OpenPhoneModal(context.Background(), "trigger")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired_trigger_id")
}
