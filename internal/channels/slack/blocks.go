package slack

import (
	"fmt"

	"smsrelay/internal/app/relay"
	"smsrelay/internal/domain/conversation"

	"github.com/slack-go/slack"
)

// Block Kit identifiers shared by the renderers and the ingress.
const (
	ActionOpenConversation = "open_conversation"
	ActionLogToCase        = "log_to_case"
	ActionSetPhoneNumber   = "set_phone_number"
	ActionQuickReply       = "quick_reply"

	CallbackPhoneModal = "phone_number_modal"
	BlockPhoneInput    = "phone_number_input"
	ActionPhoneInput   = "phone_number"
)

const (
	homeTitle      = "📱 SMS Conversations"
	homeHint       = "💬 *Hybrid Mode*: Type directly in threads OR use Quick Reply buttons"
	homeSetup      = "⚠️ *Setup Required*: You need to set your phone number to send SMS replies."
	homeEmpty      = "No SMS conversations yet. Send an SMS to get started!"
	quickReplyText = "💬 *Quick Reply Mode*\n\nJust type your message below and press Enter to send as SMS to the customer."
	modalIntro     = "Enter the phone number you want to use for sending SMS replies. This should be a Twilio-enabled phone number."
)

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

func button(actionID, value, label string, style slack.Style) *slack.ButtonBlockElement {
	btn := slack.NewButtonBlockElement(actionID, value, plain(label))
	if style != "" {
		btn = btn.WithStyle(style)
	}
	return btn
}

// renderPost returns the fallback text and blocks for a relay post. Plain
// texts and notices carry no blocks.
func renderPost(post relay.ChatPost) (string, []slack.Block) {
	switch post.Kind {
	case relay.PostHeader:
		details := fmt.Sprintf("%d messages • Conversation ID: `%s`", post.MessageCount, post.ConversationID)
		if post.SenderPhone != "" {
			details += fmt.Sprintf(" • Replies go out from %s", post.SenderPhone)
		}
		return post.Text, []slack.Block{
			slack.NewHeaderBlock(plain(post.Text)),
			slack.NewContextBlock("", mrkdwn(details)),
		}
	case relay.PostHistory:
		return post.Text, []slack.Block{slack.NewSectionBlock(mrkdwn(post.Text), nil, nil)}
	case relay.PostInstructions:
		return post.Text, []slack.Block{
			slack.NewContextBlock("", mrkdwn(post.Text)),
			slack.NewActionBlock("conversation_actions",
				button(ActionQuickReply, post.ConversationID, "Quick Reply", slack.StylePrimary),
				button(ActionLogToCase, post.ConversationID, "Log to Salesforce", slack.StyleDanger),
			),
		}
	default:
		return post.Text, nil
	}
}

// homeView renders the App Home tab.
func homeView(view relay.HomeView) slack.HomeTabViewRequest {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(homeTitle)),
		slack.NewContextBlock("", mrkdwn(homeHint)),
		slack.NewDividerBlock(),
	}
	if view.SetupRequired() {
		blocks = append(blocks,
			slack.NewSectionBlock(mrkdwn(homeSetup), nil,
				slack.NewAccessory(button(ActionSetPhoneNumber, "", "Set Phone Number", slack.StylePrimary))),
			slack.NewDividerBlock(),
		)
	} else {
		blocks = append(blocks,
			slack.NewSectionBlock(mrkdwn(fmt.Sprintf("✅ *Your SMS Phone Number:* %s", view.SenderPhone)), nil,
				slack.NewAccessory(button(ActionSetPhoneNumber, "", "Change", ""))),
			slack.NewDividerBlock(),
		)
	}

	if len(view.Conversations) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(homeEmpty), nil, nil))
	}
	for _, conv := range view.Conversations {
		blocks = append(blocks,
			slack.NewSectionBlock(mrkdwn(conversationSummary(conv)), nil,
				slack.NewAccessory(button(ActionLogToCase, conv.ID, "Log to Salesforce", ""))),
			slack.NewActionBlock("",
				button(ActionOpenConversation, conv.ID, "Open Conversation", slack.StylePrimary)),
			slack.NewDividerBlock(),
		)
	}
	return slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}

func conversationSummary(conv conversation.ConversationWithMessages) string {
	summary := fmt.Sprintf("*%s*", conv.Phone)
	if n := len(conv.Messages); n > 0 {
		last := conv.Messages[n-1]
		summary += fmt.Sprintf("\nLast message: %s\n_<!date^%d^{date_short_pretty} {time}|%s>_ • %d messages",
			last.Content, last.CreatedAt.Unix(), last.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"), n)
	}
	if conv.LoggedToCase {
		summary += fmt.Sprintf(" • Case %s", conv.CaseReference)
	}
	return summary
}

// phoneNumberModal is the sender identity form.
func phoneNumberModal() slack.ModalViewRequest {
	input := slack.NewPlainTextInputBlockElement(plain("+1234567890"), ActionPhoneInput)
	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: CallbackPhoneModal,
		Title:      plain("Set SMS Phone Number"),
		Submit:     plain("Save"),
		Close:      plain("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn(modalIntro), nil, nil),
			slack.NewInputBlock(BlockPhoneInput, plain("Phone Number"), nil, input),
		}},
	}
}
