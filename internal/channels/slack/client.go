// Package slack is the team-chat side of the relay: a Web API client that
// renders relay posts and views as Block Kit, and ingress parsing for events,
// interactions and slash commands delivered over HTTP or Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smsrelay/internal/app/relay"
	relayerrors "smsrelay/internal/errors"
	"smsrelay/internal/httpclient"
	"smsrelay/internal/logging"

	"github.com/slack-go/slack"
)

const defaultRequestTimeout = 15 * time.Second

// Config holds Slack app credentials.
type Config struct {
	BotToken      string
	SigningSecret string
	AppToken      string
	SocketMode    bool
	// APIURL overrides the Web API base url. It must end with a slash.
	APIURL  string
	Timeout time.Duration
	Retry   relayerrors.RetryConfig
}

// Client implements relay.Chat over the Slack Web API.
type Client struct {
	api    *slack.Client
	retry  relayerrors.RetryConfig
	logger logging.Logger
}

// New builds a client from a bot token.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("slack: bot token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	opts := []slack.Option{
		slack.OptionHTTPClient(httpclient.NewWithCircuitBreaker(timeout, "slack")),
	}
	if appToken := strings.TrimSpace(cfg.AppToken); appToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(appToken))
	}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	retry := cfg.Retry
	if retry == (relayerrors.RetryConfig{}) {
		retry = relayerrors.DefaultRetryConfig()
	}
	return &Client{
		api:    slack.New(token, opts...),
		retry:  retry,
		logger: logging.NewComponentLogger("SlackClient"),
	}, nil
}

// API exposes the underlying Web API client for Socket Mode.
func (c *Client) API() *slack.Client {
	return c.api
}

// OpenDirectMessage opens (or reuses) the bot DM with userID.
func (c *Client) OpenDirectMessage(ctx context.Context, userID string) (string, error) {
	return relayerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (string, error) {
		channel, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		if err != nil {
			return "", classify("conversations.open", err)
		}
		if channel == nil || channel.ID == "" {
			return "", &relayerrors.PermanentError{Err: errors.New("slack: conversations.open returned no channel")}
		}
		return channel.ID, nil
	})
}

// PostMessage renders post and sends it, threaded under threadID when set.
func (c *Client) PostMessage(ctx context.Context, channelID, threadID string, post relay.ChatPost) (string, error) {
	text, blocks := renderPost(post)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	return relayerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (string, error) {
		_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
		if err != nil {
			return "", classify("chat.postMessage", err)
		}
		return ts, nil
	})
}

// PublishHomeView replaces the App Home tab of userID.
func (c *Client) PublishHomeView(ctx context.Context, userID string, view relay.HomeView) error {
	req := slack.PublishViewContextRequest{UserID: userID, View: homeView(view)}
	return relayerrors.Retry(ctx, c.retry, func(ctx context.Context) error {
		if _, err := c.api.PublishViewContext(ctx, req); err != nil {
			return classify("views.publish", err)
		}
		return nil
	})
}

// PostEphemeral shows text to userID only.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	return relayerrors.Retry(ctx, c.retry, func(ctx context.Context) error {
		if _, err := c.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false)); err != nil {
			return classify("chat.postEphemeral", err)
		}
		return nil
	})
}

// OpenPhoneModal opens the sender identity form. Trigger ids expire after a
// few seconds, so this is not retried.
func (c *Client) OpenPhoneModal(ctx context.Context, triggerID string) error {
	if _, err := c.api.OpenViewContext(ctx, triggerID, phoneNumberModal()); err != nil {
		c.logger.Warn("Slack views.open failed: %v", err)
		return classify("views.open", err)
	}
	return nil
}

// classify maps slack-go errors onto transient and permanent failures.
func classify(method string, err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &relayerrors.TransientError{Err: fmt.Errorf("slack %s: %w", method, err), StatusCode: 429}
	}
	var status slack.StatusCodeError
	if errors.As(err, &status) {
		if classified := relayerrors.FromHTTPStatus(status.Code, method); classified != nil {
			return classified
		}
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return &relayerrors.PermanentError{Err: fmt.Errorf("slack %s: %s", method, apiErr.Err)}
	}
	if relayerrors.IsTransient(err) {
		return err
	}
	return &relayerrors.PermanentError{Err: fmt.Errorf("slack %s: %w", method, err)}
}

var _ relay.Chat = (*Client)(nil)
