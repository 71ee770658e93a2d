package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedHeader(secret string, body []byte, ts time.Time) http.Header {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + stamp + ":"))
	mac.Write(body)
	header := http.Header{}
	header.Set("X-Slack-Request-Timestamp", stamp)
	header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return header
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	v := NewVerifier("shh")
	require.NoError(t, v.Verify(signedHeader("shh", body, time.Now()), body))
}

func TestVerifierRejectsBadSignature(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	v := NewVerifier("shh")

	err := v.Verify(signedHeader("wrong", body, time.Now()), body)
	assert.ErrorIs(t, err, ErrBadSignature)

	err = v.Verify(http.Header{}, body)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifierDisabledWithoutSecret(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Verify(http.Header{}, []byte("anything")))
}

func TestParseEventChallenge(t *testing.T) {
	_, challenge, err := ParseEvent([]byte(`{"token":"t","challenge":"abc123","type":"url_verification"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", challenge)
}

func TestParseEventMessage(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"event_id": "Ev42",
		"event": {
			"type": "message",
			"user": "U1",
			"text": "hello",
			"channel": "D1",
			"ts": "1700000000.000300",
			"thread_ts": "1700000000.000100"
		}
	}`)
	event, challenge, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Empty(t, challenge)
	assert.Equal(t, slackevents.CallbackEvent, event.Type)
	assert.Equal(t, "Ev42", eventKey(event))

	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "1700000000.000100", msg.ThreadTimeStamp)
}

func TestParseEventRejectsGarbage(t *testing.T) {
	_, _, err := ParseEvent([]byte("not json"))
	require.Error(t, err)
}

func TestParseInteraction(t *testing.T) {
	payload := `{
		"type": "block_actions",
		"trigger_id": "trig",
		"user": {"id": "U1"},
		"container": {"type": "view", "view_id": "V1"},
		"actions": [{"type": "button", "block_id": "b1", "action_id": "open_conversation", "value": "conv_1"}]
	}`
	cb, err := ParseInteraction(url.Values{"payload": {payload}})
	require.NoError(t, err)
	assert.Equal(t, slack.InteractionTypeBlockActions, cb.Type)
	assert.Equal(t, "U1", cb.User.ID)
	require.Len(t, cb.ActionCallback.BlockActions, 1)
	assert.Equal(t, ActionOpenConversation, cb.ActionCallback.BlockActions[0].ActionID)
	assert.Equal(t, "conv_1", cb.ActionCallback.BlockActions[0].Value)

	_, err = ParseInteraction(url.Values{})
	require.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(url.Values{
		"command":    {"/sms"},
		"text":       {"send +15551234567 hi"},
		"user_id":    {"U1"},
		"channel_id": {"C1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/sms", cmd.Command)
	assert.Equal(t, "send +15551234567 hi", cmd.Text)

	_, err = ParseCommand(url.Values{"text": {"x"}})
	require.Error(t, err)
}
