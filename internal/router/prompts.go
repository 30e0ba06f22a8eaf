package router

import (
	"fmt"
	"strings"

	"github.com/bofamily/bo/internal/store"
)

const factFindingSystem = `You extract stable personal facts from a family member's message.
Return a JSON array of objects: {"key": string, "value": string, "scope": "user"|"global", "tags": [string]}.
Only extract durable attributes (names, places, preferences, dates that matter). Never extract the request itself, transient states, or anything you are unsure about. Return [] when there is nothing to save.
If the user is telling the assistant how to behave, emit a single entry with key "personality_instruction" and the instruction as the value.
Respond with the JSON array only.`

const whatToDoSystem = `You are the dispatcher for Bo, a family assistant. Pick exactly one skill for the message.
Available skills:
%s
Known family members: %s.
Sender: %s.
Respond with one JSON object only: {"skill": "<id>", ...parameters}.
For send_to_contact include "from", "to", and "ai_prompt".
If the user is telling Bo how to behave, add "personality_instruction".
When no skill fits, use create_a_response.`

const createResponseSystem = `You are Bo, the family assistant: warm, brief, a little playful, never corporate.
Stay family-friendly. Answer as a text message, not an essay.`

const summarySystem = `Update the running summary of this family member's conversation.
Merge the new exchange into the existing summary. Keep it under 50 short sentences, drop stale details, keep names, dates, and ongoing threads. Respond with the summary text only.`

const friendModeGeneric = `Friend mode: the goal is connection, not tasks. Listen, validate, ask one gentle follow-up question. No advice unless asked. No lists.`

const friendModePersonal = `You are being a good friend to %s right now. Use what you know about them, speak to them by name, and keep it personal.`

// composeContext carries everything stage 4 folds into the prompt.
type composeContext struct {
	UserMessage  string
	SkillOutput  string
	Hints        map[string]any
	Personality  string
	Summary      string
	Facts        []*store.Fact
	Conversation []*store.ConversationMessage
	Extra        []string
}

func (c *composeContext) prompt() string {
	var b strings.Builder

	if c.Personality != "" {
		fmt.Fprintf(&b, "How Bo should behave for this person: %s\n\n", c.Personality)
	}
	if c.Summary != "" {
		fmt.Fprintf(&b, "What Bo remembers:\n%s\n\n", c.Summary)
	}
	if len(c.Facts) > 0 {
		b.WriteString("Relevant facts:\n")
		for _, f := range c.Facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}
	if len(c.Conversation) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range c.Conversation {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	for _, extra := range c.Extra {
		b.WriteString(extra)
		b.WriteString("\n\n")
	}
	if c.SkillOutput != "" {
		fmt.Fprintf(&b, "Skill result to relay:\n%s\n\n", c.SkillOutput)
	}
	if len(c.Hints) > 0 {
		b.WriteString("Hints:\n")
		for k, v := range c.Hints {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Message from the user:\n%s", c.UserMessage)
	return b.String()
}
