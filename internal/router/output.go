package router

import "strings"

// MaxReplyChars is the transport-facing reply bound.
const MaxReplyChars = 2000

// Dispatch asks the transport to deliver to a different recipient while
// acknowledging the sender. Serialized as-is when router and transport
// are separate processes.
type Dispatch struct {
	SendTo           string `json:"sendTo"`
	SendBody         string `json:"sendBody"`
	ReplyToSender    string `json:"replyToSender"`
	SendToTelegramID string `json:"sendToTelegramId,omitempty"`
	SendToGroup      string `json:"sendToGroup,omitempty"`
}

// Output is the router's result for one inbound message. Exactly one of
// Reply or Dispatch is the primary outcome; Notification optionally
// rides along (todo changes made for another member).
type Output struct {
	Reply        string
	Dispatch     *Dispatch
	Notification *Dispatch
}

// Truncate bounds text to limit characters, marking the cut with "...".
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}

// SanitizeReply prefixes replies that start with "Bo" so the self-chat
// observer never mistakes our own output for a trigger.
func SanitizeReply(text string) string {
	if len(text) >= 2 && strings.EqualFold(text[:2], "bo") {
		return "→ " + text
	}
	return text
}
