package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// ErrBadSignature is returned when a request fails signing-secret verification.
var ErrBadSignature = errors.New("slack: request signature verification failed")

// Verifier checks the X-Slack-Signature of HTTP deliveries.
type Verifier struct {
	secret string
}

// NewVerifier returns a verifier for signingSecret. An empty secret disables
// verification.
func NewVerifier(signingSecret string) *Verifier {
	return &Verifier{secret: signingSecret}
}

// Enabled reports whether requests are verified.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify validates header against the raw request body.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	if !v.Enabled() {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(header, v.secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// ParseEvent decodes an Events API body. For url_verification requests the
// challenge is returned and the event is empty.
func ParseEvent(body []byte) (slackevents.EventsAPIEvent, string, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return slackevents.EventsAPIEvent{}, "", fmt.Errorf("parse slack event: %w", err)
	}
	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return slackevents.EventsAPIEvent{}, "", fmt.Errorf("parse slack challenge: %w", err)
		}
		return slackevents.EventsAPIEvent{}, challenge.Challenge, nil
	}
	return event, "", nil
}

// ParseInteraction decodes the payload field of an interactivity request.
func ParseInteraction(form url.Values) (slack.InteractionCallback, error) {
	var cb slack.InteractionCallback
	payload := form.Get("payload")
	if payload == "" {
		return cb, errors.New("slack interaction: missing payload")
	}
	if err := json.Unmarshal([]byte(payload), &cb); err != nil {
		return cb, fmt.Errorf("parse slack interaction: %w", err)
	}
	return cb, nil
}

// ParseCommand decodes a slash command form.
func ParseCommand(form url.Values) (slack.SlashCommand, error) {
	cmd := slack.SlashCommand{
		Token:       form.Get("token"),
		TeamID:      form.Get("team_id"),
		ChannelID:   form.Get("channel_id"),
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		Command:     form.Get("command"),
		Text:        form.Get("text"),
		ResponseURL: form.Get("response_url"),
		TriggerID:   form.Get("trigger_id"),
	}
	if cmd.UserID == "" || cmd.Command == "" {
		return cmd, errors.New("slack command: user_id and command are required")
	}
	return cmd, nil
}
