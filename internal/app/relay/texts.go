package relay

import (
	"fmt"

	"smsrelay/internal/domain/conversation"
)

const (
	textInstructions       = "💬 *How to reply:* Just type your message in this thread and press Enter!"
	textConversationGone   = "Conversation not found."
	textOpenFailed         = "❌ Error opening conversation. Please try again."
	textReplySetupRequired = "⚠️ You need to set your phone number first to send SMS replies. Use the \"Set Phone Number\" button in the App Home."
	textSetupRequired      = "⚠️ You need to set your phone number first. Use the \"Set Phone Number\" button in the App Home."
	textInvalidPhone       = "❌ Please enter a valid phone number."
	textIdentityFailed     = "❌ Error saving phone number. Please try again."
	textRecordFailed       = "❌ The SMS was sent but could not be recorded."
	textCaseFailed         = "❌ Error logging to Salesforce. Please try again."
	textUsage              = "Usage: `/sms send <phone_number> <message>`"
)

func headerText(phone string) string {
	return fmt.Sprintf("📱 SMS Conversation with %s", phone)
}

func alreadyOpenText(phone string) string {
	return fmt.Sprintf("📱 Conversation with %s is already open in this thread.", phone)
}

func inboundText(phone, body string) string {
	return fmt.Sprintf("📱 New SMS from %s: %s", phone, body)
}

func historyText(phone string, msg conversation.Message) string {
	if msg.Direction == conversation.DirectionInbound {
		return fmt.Sprintf("📨 *From %s:* %s", phone, msg.Content)
	}
	return fmt.Sprintf("📤 *To %s:* %s", phone, msg.Content)
}

func openedText(phone string) string {
	return fmt.Sprintf("✅ Conversation opened! Check your DMs with the bot to continue the SMS conversation with %s.", phone)
}

func sentText(to, from string) string {
	return fmt.Sprintf("✅ SMS sent to %s from %s", to, from)
}

func sendFailedText(err error) string {
	return fmt.Sprintf("❌ Failed to send SMS: %v", err)
}

func alreadyLoggedText(caseRef string) string {
	return fmt.Sprintf("This conversation has already been logged to Salesforce as Case %s.", caseRef)
}

func caseLoggedText(caseRef string) string {
	return fmt.Sprintf("✅ Conversation logged to Salesforce as Case %s.", caseRef)
}

func caseErrorText(err error) string {
	return fmt.Sprintf("❌ Error logging to Salesforce: %v", err)
}

func identitySavedText(phone string) string {
	return fmt.Sprintf("✅ Phone number %s saved! You can now send SMS replies.", phone)
}

func deliveryFailedText(status, code string) string {
	if code == "" {
		code = "no error code"
	}
	return fmt.Sprintf("⚠️ SMS delivery failed (%s, %s)", status, code)
}

// UsageText is the slash command help line.
func UsageText() string {
	return textUsage
}
