package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoConversation is returned when an operation needs an open conversation.
var ErrNoConversation = errors.New("no conversation is open")

// Store handles persistence of the session state file. It is read fully,
// mutated in memory and written fully back; concurrent writers are not
// guarded against.
type Store struct {
	path  string
	state *State
	now   func() time.Time
}

// NewStore creates a store backed by the file at path. Call Load before use.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		state: &State{},
		now:   time.Now,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// State returns the in-memory state.
func (s *Store) State() *State {
	return s.state
}

// Load reads the backing file. A missing file yields an empty state.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = &State{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	s.state = &state
	return nil
}

// Save writes the in-memory state to the backing file.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

// TakeStale detaches and returns a conversation left open by a session other
// than sessionID, so the caller can process it instead of losing it.
func (s *Store) TakeStale(sessionID string) *Conversation {
	conv := s.state.CurrentConversation
	if conv == nil || s.state.SessionID == sessionID {
		return nil
	}
	s.state.CurrentConversation = nil
	return conv
}

// Start initialises the state for a new session. The conversation counter is
// seeded from lastConversationID+1 when the durable index could be read
// (indexed), else preserved from the prior state, else 1. It never drops to
// or below a conversation that is still open or pending, which happens when
// the same session starts again before its conversation was processed.
func (s *Store) Start(sessionID string, identity Identity, lastConversationID int, indexed bool) {
	counter := s.state.ConversationCounter
	switch {
	case indexed:
		counter = lastConversationID + 1
	case counter < 1:
		counter = 1
	}
	for _, conv := range s.unprocessed() {
		if counter <= conv.Number() {
			counter = conv.Number() + 1
		}
	}

	s.state.SessionID = sessionID
	s.state.UserID = identity.ID
	s.state.UserEmail = identity.Email
	s.state.ConversationCounter = counter
	s.state.StartTime = s.now()
}

func (s *Store) unprocessed() []*Conversation {
	convs := append([]*Conversation{}, s.state.Pending...)
	if s.state.CurrentConversation != nil {
		convs = append(convs, s.state.CurrentConversation)
	}
	return convs
}

// Defer keeps a closed conversation whose processing failed.
func (s *Store) Defer(conv *Conversation) {
	if conv != nil {
		s.state.Pending = append(s.state.Pending, conv)
	}
}

// TakePending detaches and returns the deferred conversations.
func (s *Store) TakePending() []*Conversation {
	pending := s.state.Pending
	s.state.Pending = nil
	return pending
}

// Current returns the open conversation, or nil.
func (s *Store) Current() *Conversation {
	return s.state.CurrentConversation
}

// OpenOrContinue returns the open conversation, allocating a new one from the
// conversation counter when none is open. created reports whether a new
// conversation was allocated.
func (s *Store) OpenOrContinue(prompt string) (conv *Conversation, created bool) {
	if s.state.CurrentConversation != nil {
		return s.state.CurrentConversation, false
	}

	if s.state.ConversationCounter < 1 {
		s.state.ConversationCounter = 1
	}

	conv = &Conversation{
		ID:        FormatID("conv_", s.state.ConversationCounter),
		StartTime: s.now(),
		Prompt:    prompt,
		Messages:  []Message{},
		Changes:   map[string][]Change{},
		UserID:    s.state.UserID,
		UserEmail: s.state.UserEmail,
		Status:    StatusActive,
	}
	s.state.ConversationCounter++
	s.state.CurrentConversation = conv
	return conv, true
}

// AppendMessage appends a message with the next message ID.
func (s *Store) AppendMessage(conv *Conversation, role, content string) (Message, error) {
	if conv == nil {
		return Message{}, ErrNoConversation
	}

	s.state.MessageCounter++
	msg := Message{
		ID:        FormatID("msg_", s.state.MessageCounter),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	conv.Messages = append(conv.Messages, msg)
	return msg, nil
}

// RecordChange appends change to the list for path, keeping chronological
// order. A zero timestamp is stamped with the current time.
func (s *Store) RecordChange(conv *Conversation, path string, change Change) error {
	if conv == nil {
		return ErrNoConversation
	}
	if conv.Changes == nil {
		conv.Changes = map[string][]Change{}
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = s.now()
	}
	change.FilePath = path
	conv.Changes[path] = append(conv.Changes[path], change)
	return nil
}

// Close marks the open conversation complete and detaches it from the state.
// It does not persist anything.
func (s *Store) Close() *Conversation {
	conv := s.state.CurrentConversation
	if conv == nil {
		return nil
	}
	conv.Finish(s.now())
	s.state.CurrentConversation = nil
	return conv
}

// ReadContent reads path and returns its content and sha256 fingerprint. Both
// are empty when the file cannot be read.
func ReadContent(path string) (*string, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ""
	}
	content := string(data)
	return &content, Hash(data)
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
