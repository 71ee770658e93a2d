package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smsrelay/internal/app/relay"
	"smsrelay/internal/logging"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Dispatcher schedules relay operations. Implementations return once the work
// is accepted, not when it completes.
type Dispatcher interface {
	PublishHome(ctx context.Context, agentID string) error
	ThreadReply(ctx context.Context, reply relay.ThreadReply) error
	Open(ctx context.Context, req relay.OpenRequest) error
	LogToCase(ctx context.Context, req relay.LogRequest) error
	SetSenderIdentity(ctx context.Context, agentID, phone string) error
	SendDirect(ctx context.Context, req relay.DirectSend) error
}

// Surface is the synchronous part of the chat client used by the ingress.
type Surface interface {
	OpenPhoneModal(ctx context.Context, triggerID string) error
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
}

var (
	// ErrUnsupported marks payloads the ingress does not handle.
	ErrUnsupported = errors.New("slack: unsupported payload")
	// ErrNotAccepted marks deliveries whose work could not be scheduled. The
	// acting agent has been told and an event may be redelivered.
	ErrNotAccepted = errors.New("slack: request not accepted")
)

const notAcceptedText = "❌ Your request could not be processed right now. Please try again in a moment."

// Ingress translates Slack payloads into relay operations.
type Ingress struct {
	dispatch Dispatcher
	surface  Surface
	dedup    *deduper
	logger   logging.Logger
}

// NewIngress wires an ingress onto dispatch and surface.
func NewIngress(dispatch Dispatcher, surface Surface, logger logging.Logger) (*Ingress, error) {
	if dispatch == nil || surface == nil {
		return nil, errors.New("slack ingress requires a dispatcher and a surface")
	}
	dedup, err := newDeduper(eventDedupCacheSize, eventDedupTTL)
	if err != nil {
		return nil, err
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SlackIngress")
	}
	return &Ingress{dispatch: dispatch, surface: surface, dedup: dedup, logger: logger}, nil
}

// HandleEvent routes an Events API callback.
func (in *Ingress) HandleEvent(ctx context.Context, event slackevents.EventsAPIEvent) error {
	if event.Type != slackevents.CallbackEvent {
		return ErrUnsupported
	}
	key := eventKey(event)
	if in.dedup.seen(key) {
		in.logger.Debug("Dropping duplicate Slack event")
		return nil
	}
	err := in.routeEvent(ctx, event)
	if err != nil {
		// Let the redelivery through.
		in.dedup.forget(key)
	}
	return err
}

func (in *Ingress) routeEvent(ctx context.Context, event slackevents.EventsAPIEvent) error {
	switch inner := event.InnerEvent.Data.(type) {
	case *slackevents.AppHomeOpenedEvent:
		if inner.Tab != "" && inner.Tab != "home" {
			return nil
		}
		if err := in.dispatch.PublishHome(ctx, inner.User); err != nil {
			return fmt.Errorf("%w: %w", ErrNotAccepted, err)
		}
		return nil
	case *slackevents.MessageEvent:
		return in.handleMessage(ctx, inner)
	default:
		in.logger.Debug("Ignoring Slack event %s", event.InnerEvent.Type)
		return nil
	}
}

// handleMessage forwards human replies posted inside a thread.
func (in *Ingress) handleMessage(ctx context.Context, msg *slackevents.MessageEvent) error {
	if msg.ThreadTimeStamp == "" || msg.ThreadTimeStamp == msg.TimeStamp {
		return nil
	}
	if msg.BotID != "" || msg.SubType != "" || msg.User == "" {
		return nil
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	err := in.dispatch.ThreadReply(ctx, relay.ThreadReply{
		ChannelID:     msg.Channel,
		ThreadID:      msg.ThreadTimeStamp,
		AgentID:       msg.User,
		Text:          msg.Text,
		ChatMessageID: msg.TimeStamp,
	})
	if err != nil {
		return in.notAccepted(ctx, msg.Channel, msg.User, err)
	}
	return nil
}

// notAccepted tells the agent the request was dropped and wraps err in
// ErrNotAccepted.
func (in *Ingress) notAccepted(ctx context.Context, channelID, userID string, err error) error {
	if channelID == "" {
		channelID = userID
	}
	if postErr := in.surface.PostEphemeral(ctx, channelID, userID, notAcceptedText); postErr != nil {
		in.logger.Warn("Notify %s of rejected request: %v", userID, postErr)
	}
	return fmt.Errorf("%w: %w", ErrNotAccepted, err)
}

func eventKey(event slackevents.EventsAPIEvent) string {
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok && cb.EventID != "" {
		return cb.EventID
	}
	if msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok && msg.TimeStamp != "" {
		return msg.Channel + ":" + msg.TimeStamp
	}
	return ""
}

// HandleInteraction routes block actions and modal submissions.
func (in *Ingress) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error {
	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		for _, action := range cb.ActionCallback.BlockActions {
			if action == nil {
				continue
			}
			if err := in.handleAction(ctx, cb, *action); err != nil {
				return err
			}
		}
		return nil
	case slack.InteractionTypeViewSubmission:
		if cb.View.CallbackID != CallbackPhoneModal {
			return ErrUnsupported
		}
		if err := in.dispatch.SetSenderIdentity(ctx, cb.User.ID, submittedPhone(cb.View)); err != nil {
			return in.notAccepted(ctx, "", cb.User.ID, err)
		}
		return nil
	default:
		return ErrUnsupported
	}
}

func (in *Ingress) handleAction(ctx context.Context, cb slack.InteractionCallback, action slack.BlockAction) error {
	agentID := cb.User.ID
	switch action.ActionID {
	case ActionOpenConversation:
		if err := in.dispatch.Open(ctx, relay.OpenRequest{ConversationID: action.Value, AgentID: agentID}); err != nil {
			return in.notAccepted(ctx, responseChannel(cb), agentID, err)
		}
		return nil
	case ActionLogToCase:
		err := in.dispatch.LogToCase(ctx, relay.LogRequest{
			ConversationID:  action.Value,
			AgentID:         agentID,
			ResponseChannel: responseChannel(cb),
		})
		if err != nil {
			return in.notAccepted(ctx, responseChannel(cb), agentID, err)
		}
		return nil
	case ActionSetPhoneNumber:
		return in.surface.OpenPhoneModal(ctx, cb.TriggerID)
	case ActionQuickReply:
		channel := responseChannel(cb)
		if channel == "" {
			channel = agentID
		}
		return in.surface.PostEphemeral(ctx, channel, agentID, quickReplyText)
	default:
		in.logger.Debug("Ignoring Slack action %s", action.ActionID)
		return nil
	}
}

func responseChannel(cb slack.InteractionCallback) string {
	if cb.Container.ChannelID != "" {
		return cb.Container.ChannelID
	}
	return cb.Channel.ID
}

func submittedPhone(view slack.View) string {
	if view.State == nil {
		return ""
	}
	block, ok := view.State.Values[BlockPhoneInput]
	if !ok {
		return ""
	}
	return strings.TrimSpace(block[ActionPhoneInput].Value)
}

// HandleCommand routes the /sms slash command.
func (in *Ingress) HandleCommand(ctx context.Context, cmd slack.SlashCommand) error {
	action, to, text := splitCommand(cmd.Text)
	if action != "send" || to == "" || text == "" {
		return in.surface.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, relay.UsageText())
	}
	err := in.dispatch.SendDirect(ctx, relay.DirectSend{
		AgentID:         cmd.UserID,
		To:              to,
		Text:            text,
		ResponseChannel: cmd.ChannelID,
	})
	if err != nil {
		return in.notAccepted(ctx, cmd.ChannelID, cmd.UserID, err)
	}
	return nil
}

// splitCommand parses "send <phone> <message...>".
func splitCommand(text string) (action, to, message string) {
	fields := strings.Fields(text)
	if len(fields) > 0 {
		action = strings.ToLower(fields[0])
	}
	if len(fields) > 1 {
		to = fields[1]
	}
	if len(fields) > 2 {
		rest := strings.TrimSpace(text)
		for _, f := range fields[:2] {
			rest = strings.TrimSpace(strings.TrimPrefix(rest, f))
		}
		message = rest
	}
	return action, to, message
}

// describeInteraction summarizes an interaction for logs.
func describeInteraction(cb slack.InteractionCallback) string {
	ids := make([]string, 0, len(cb.ActionCallback.BlockActions))
	for _, action := range cb.ActionCallback.BlockActions {
		if action != nil {
			ids = append(ids, action.ActionID)
		}
	}
	if cb.View.CallbackID != "" {
		ids = append(ids, cb.View.CallbackID)
	}
	return fmt.Sprintf("%s[%s]", cb.Type, strings.Join(ids, ","))
}
