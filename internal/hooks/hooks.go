// Package hooks turns editor hook events into session state changes and,
// when a conversation ends, into durable history.
//
// Tracking must never get in the developer's way: handlers report what
// happened through a Result and leave it to the caller to log it.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event names a hook.
type Event string

const (
	SessionStart     Event = "SessionStart"
	UserPromptSubmit Event = "UserPromptSubmit"
	PostToolUse      Event = "PostToolUse"
	Stop             Event = "Stop"
	SessionEnd       Event = "SessionEnd"
)

// Events lists every supported hook.
var Events = []Event{SessionStart, UserPromptSubmit, PostToolUse, Stop, SessionEnd}

// ParseEvent matches name case-insensitively; kebab-case names such as
// "session-start" are accepted too.
func ParseEvent(name string) (Event, error) {
	normalized := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	for _, e := range Events {
		if strings.ToLower(string(e)) == normalized {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown hook event %q", name)
}

// Payload is the JSON document a hook receives on stdin.
type Payload struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path"`
	Cwd            string          `json:"cwd"`
	HookEventName  string          `json:"hook_event_name"`
	Prompt         string          `json:"prompt"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse   json.RawMessage `json:"tool_response,omitempty"`
}

// ReadPayload decodes a payload from r. Empty input yields an empty payload.
func ReadPayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook payload: %w", err)
	}

	p := &Payload{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode hook payload: %w", err)
	}
	return p, nil
}

// FilePath returns the file a tool acted on, looking at the input keys the
// mutating tools use.
func (p *Payload) FilePath() string {
	if len(p.ToolInput) == 0 {
		return ""
	}
	var input map[string]any
	if err := json.Unmarshal(p.ToolInput, &input); err != nil {
		return ""
	}
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Status classifies a handler outcome.
type Status int

const (
	// Tracked means the event changed state.
	Tracked Status = iota
	// Unavailable means there was nothing to do: tig is not set up, no
	// conversation is open, or the tool does not mutate files.
	Unavailable
	// Failed means an unexpected error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Tracked:
		return "tracked"
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of one hook invocation.
type Result struct {
	Event   Event
	Status  Status
	Message string
	Err     error
	// Output, when set, is written to stdout as JSON.
	Output any
}

func tracked(event Event, format string, args ...any) *Result {
	return &Result{Event: event, Status: Tracked, Message: fmt.Sprintf(format, args...)}
}

func unavailable(event Event, message string) *Result {
	return &Result{Event: event, Status: Unavailable, Message: message}
}

func failed(event Event, err error) *Result {
	return &Result{Event: event, Status: Failed, Message: err.Error(), Err: err}
}

// SessionStartOutput is the document printed by the session start hook.
type SessionStartOutput struct {
	HookSpecificOutput HookSpecificOutput `json:"hookSpecificOutput"`
}

type HookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

func sessionStartOutput(context string) *SessionStartOutput {
	return &SessionStartOutput{HookSpecificOutput: HookSpecificOutput{
		HookEventName:     string(SessionStart),
		AdditionalContext: context,
	}}
}
