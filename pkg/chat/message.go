// Package chat runs conversations against a hosted assistant: one Session
// per chat widget, a Turn shared with the stateless proxy, and a Manager
// for live sessions on the server.
package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
)

// Role identifies who produced a transcript message.
type Role string

const (
	RoleUser      Role = assistant.RoleUser
	RoleAssistant Role = assistant.RoleAssistant
)

// Fixed assistant-side texts shown in the transcript.
const (
	GreetingMessage           = "Hello! How can I assist you today?"
	ConnectFailureMessage     = "Sorry, I couldn't connect to the assistant."
	FailureMessage            = "Sorry, something went wrong. Please try again."
	UnsupportedContentMessage = "Unsupported content type"
)

// Message is one transcript entry. Messages are never mutated once appended.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// RunID is the run that produced an assistant reply. Empty for user
	// messages and for notices raised before a run existed.
	RunID string `json:"runId,omitempty"`
	// Notice marks a locally generated assistant message (greeting or
	// failure notice) that did not come from a run.
	Notice    bool      `json:"notice,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserMessage(text string) Message {
	return Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
}

func newNotice(text, runID string) Message {
	return Message{
		ID:        "notice_" + uuid.NewString(),
		Role:      RoleAssistant,
		Content:   text,
		RunID:     runID,
		Notice:    true,
		CreatedAt: time.Now().UTC(),
	}
}

// RepliesForRun keeps the assistant messages produced by runID, in the order
// given, and maps their first content item to text. msgs must be oldest
// first.
func RepliesForRun(msgs []assistant.ThreadMessage, runID string) []Message {
	now := time.Now().UTC()
	var out []Message
	for _, m := range msgs {
		if m.Role != assistant.RoleAssistant || m.RunID != runID {
			continue
		}
		out = append(out, Message{
			ID:        m.ID,
			Role:      RoleAssistant,
			Content:   contentText(m.Content),
			RunID:     runID,
			CreatedAt: now,
		})
	}
	return out
}

func contentText(items []assistant.ContentItem) string {
	if len(items) == 0 || items[0].Type != assistant.ContentTypeText {
		return UnsupportedContentMessage
	}
	return items[0].Text
}
