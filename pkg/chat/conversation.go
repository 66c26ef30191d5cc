package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultTitle = "Untitled chat"

// ErrBadTerminalRole reports a conversation that ends in a role generation
// cannot continue from. A turn must start after user input or a tool result.
var ErrBadTerminalRole = errors.New("chat: conversation must end in a user or tool message")

// ErrEmptyConversation reports a conversation with no messages at all.
var ErrEmptyConversation = errors.New("chat: conversation is empty")

// Conversation is an ordered turn history with a stable identity. The core
// only ever works on snapshots; the caller owns the stored copy.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// NewConversation allocates an empty conversation with a fresh identity.
func NewConversation(title string) *Conversation {
	if strings.TrimSpace(title) == "" {
		title = defaultTitle
	}
	return &Conversation{ID: uuid.NewString(), Title: title}
}

// Append adds a message, stamping it if the caller did not.
func (c *Conversation) Append(msg Message) Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	return msg
}

// Snapshot returns a deep copy safe to hand to a running turn.
func (c *Conversation) Snapshot() []Message {
	if len(c.Messages) == 0 {
		return nil
	}
	out := make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		out[i] = msg.Clone()
	}
	return out
}

// Validate enforces the entry invariant for generation: the history must be
// non-empty and end in a user or tool message, never an assistant one.
func (c *Conversation) Validate() error {
	if len(c.Messages) == 0 {
		return ErrEmptyConversation
	}
	switch c.Messages[len(c.Messages)-1].Role {
	case RoleUser, RoleTool:
		return nil
	default:
		return ErrBadTerminalRole
	}
}

// LastAttachment walks the history backwards and returns the most recent
// image reference, if any. Models routinely omit a path that is already
// visible in context; this is the documented default they fall back to.
func LastAttachment(messages []Message) (Attachment, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if n := len(messages[i].Attachments); n > 0 {
			return messages[i].Attachments[n-1], true
		}
	}
	return Attachment{}, false
}

// ShortSummary renders a one-line preview of the latest message for list
// views, truncated to maxLen runes.
func (c *Conversation) ShortSummary(maxLen int) string {
	if len(c.Messages) == 0 {
		return "(empty)"
	}
	last := strings.ReplaceAll(c.Messages[len(c.Messages)-1].Content, "\n", " ")
	runes := []rune(last)
	if maxLen > 0 && len(runes) > maxLen {
		return string(runes[:maxLen]) + "…"
	}
	return last
}
