package salesforce

import (
	"fmt"
	"strings"
	"time"

	"smsrelay/internal/domain/conversation"
)

const transcriptTimeLayout = "2006-01-02 15:04:05 MST"

// caseRecord is the Case sObject body.
type caseRecord struct {
	Subject     string `json:"Subject"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Origin      string `json:"Origin"`
	Priority    string `json:"Priority"`
	Type        string `json:"Type"`
	Phone       string `json:"SuppliedPhone"`
}

func newCaseRecord(conv conversation.Conversation, messages []conversation.Message) caseRecord {
	return caseRecord{
		Subject:     fmt.Sprintf("SMS Conversation with %s", conv.Phone),
		Description: Transcript(conv, messages),
		Status:      "New",
		Origin:      "SMS",
		Priority:    "Medium",
		Type:        "Question",
		Phone:       conv.Phone,
	}
}

// Transcript renders the conversation as the Case description.
func Transcript(conv conversation.Conversation, messages []conversation.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SMS Conversation with %s\n\n", conv.Phone)
	fmt.Fprintf(&b, "Conversation started: %s\n", formatTime(conv.CreatedAt))
	fmt.Fprintf(&b, "Last updated: %s\n", formatTime(conv.UpdatedAt))
	fmt.Fprintf(&b, "Total messages: %d\n", len(messages))
	if conv.Thread != nil && !conv.Thread.IsZero() {
		fmt.Fprintf(&b, "Slack Thread: %s (%s)\n", conv.Thread.ChannelID, conv.Thread.ThreadID)
	}
	b.WriteString("\nMessages:\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	for i, msg := range messages {
		direction := "TO CUSTOMER"
		if msg.Direction == conversation.DirectionInbound {
			direction = "FROM CUSTOMER"
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, direction, formatTime(msg.CreatedAt), msg.Content)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(transcriptTimeLayout)
}
