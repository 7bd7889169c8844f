package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status of a conversation.
type Status string

const (
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MutatingTools are the tool names whose invocations produce change records.
var MutatingTools = map[string]bool{
	"Edit":         true,
	"MultiEdit":    true,
	"Write":        true,
	"NotebookEdit": true,
}

// Identity is the user a session is attributed to.
type Identity struct {
	ID    string `json:"user_id"`
	Email string `json:"user_email"`
}

// Message is one prompt or response in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Change is one recorded file mutation. Content is nil when the file could
// not be read after the tool ran.
type Change struct {
	Tool        string          `json:"tool"`
	FilePath    string          `json:"file_path"`
	ContentHash string          `json:"content_hash"`
	Content     *string         `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	ToolResult  json.RawMessage `json:"tool_result,omitempty"`
}

// Conversation is one exchange from the first prompt to the end of the
// session.
type Conversation struct {
	ID        string              `json:"id"`
	StartTime time.Time           `json:"start_time"`
	EndTime   *time.Time          `json:"end_time"`
	Prompt    string              `json:"prompt"`
	Messages  []Message           `json:"messages"`
	Changes   map[string][]Change `json:"changes"`
	UserID    string              `json:"user_id"`
	UserEmail string              `json:"user_email"`
	Status    Status              `json:"status"`
}

// Finish marks the conversation complete at t. A conversation already
// finished keeps its end time.
func (c *Conversation) Finish(t time.Time) {
	if c.EndTime == nil {
		c.EndTime = &t
	}
	c.Status = StatusComplete
}

// Number returns the numeric part of the conversation ID, or 0.
func (c *Conversation) Number() int {
	return ParseID(c.ID, "conv_")
}

// Responses returns the assistant message texts in order.
func (c *Conversation) Responses() []string {
	var out []string
	for _, m := range c.Messages {
		if m.Role == RoleAssistant {
			out = append(out, m.Content)
		}
	}
	return out
}

// LastResponse returns the most recent assistant message text.
func (c *Conversation) LastResponse() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i].Content
		}
	}
	return ""
}

// State is the ephemeral per-session state backing file.
type State struct {
	SessionID           string        `json:"session_id"`
	UserID              string        `json:"user_id"`
	UserEmail           string        `json:"user_email"`
	CurrentConversation *Conversation `json:"current_conversation"`
	ConversationCounter int           `json:"conversation_counter"`
	MessageCounter      int           `json:"message_counter"`
	StartTime           time.Time     `json:"start_time"`

	// Pending holds closed conversations whose processing failed, kept for
	// a retry.
	Pending []*Conversation `json:"pending_conversations,omitempty"`
}

// FormatID renders n with prefix, zero-padded to three digits.
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// ParseID extracts the number from an ID produced by FormatID. It returns 0
// when id does not carry prefix or the suffix is not a number.
func ParseID(id, prefix string) int {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
