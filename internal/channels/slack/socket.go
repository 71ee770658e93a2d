package slack

import (
	"context"
	"errors"

	"smsrelay/internal/logging"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SocketRunner receives Slack deliveries over a Socket Mode websocket instead
// of public HTTP endpoints.
type SocketRunner struct {
	client  *socketmode.Client
	ingress *Ingress
	logger  logging.Logger
}

// NewSocketRunner requires a client built with an app-level token.
func NewSocketRunner(client *Client, ingress *Ingress, logger logging.Logger) (*SocketRunner, error) {
	if client == nil || ingress == nil {
		return nil, errors.New("slack socket mode requires a client and an ingress")
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SlackSocketMode")
	}
	return &SocketRunner{
		client:  socketmode.New(client.API()),
		ingress: ingress,
		logger:  logger,
	}, nil
}

// Run connects and serves events until ctx is done.
func (r *SocketRunner) Run(ctx context.Context) error {
	go r.loop(ctx)
	err := r.client.RunContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *SocketRunner) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.client.Events:
			if !ok {
				return
			}
			r.handle(ctx, evt)
		}
	}
}

func (r *SocketRunner) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		r.logger.Info("Connecting to Slack Socket Mode")
	case socketmode.EventTypeConnected:
		r.logger.Info("Connected to Slack Socket Mode")
	case socketmode.EventTypeConnectionError:
		r.logger.Warn("Slack Socket Mode connection error")
	case socketmode.EventTypeEventsAPI:
		r.ack(evt)
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if err := r.ingress.HandleEvent(ctx, event); err != nil && !errors.Is(err, ErrUnsupported) {
			r.logger.Warn("Slack event %s failed: %v", event.InnerEvent.Type, err)
		}
	case socketmode.EventTypeInteractive:
		r.ack(evt)
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if err := r.ingress.HandleInteraction(ctx, cb); err != nil && !errors.Is(err, ErrUnsupported) {
			r.logger.Warn("Slack interaction %s failed: %v", describeInteraction(cb), err)
		}
	case socketmode.EventTypeSlashCommand:
		r.ack(evt)
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		if err := r.ingress.HandleCommand(ctx, cmd); err != nil {
			r.logger.Warn("Slack command %s failed: %v", cmd.Command, err)
		}
	}
}

// ack confirms receipt before the handler runs.
func (r *SocketRunner) ack(evt socketmode.Event) {
	if evt.Request != nil {
		r.client.Ack(*evt.Request)
	}
}
