// Package shadow keeps one history document per tracked source file under
// the nested repository's shadow area.
package shadow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrepeneur4lyf/tig/internal/session"
)

// Suffix is appended to the mirrored source path to form the history path.
const Suffix = ".history.json"

// ToolOperation is one tool invocation that touched the history's file.
type ToolOperation struct {
	Tool        string          `json:"tool"`
	Timestamp   time.Time       `json:"timestamp"`
	ContentHash string          `json:"content_hash"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
}

// Entry links one conversation to the snapshots it produced for the file.
type Entry struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Snapshots      []string        `json:"snapshots"`
	Timestamp      time.Time       `json:"timestamp"`
	Prompt         string          `json:"prompt"`
	ToolOperations []ToolOperation `json:"tool_operations"`
	Response       string          `json:"response"`
	Commit         *string         `json:"commit"`
	CommitHash     string          `json:"commit_hash,omitempty"`
}

// History is the per-file ledger document.
type History struct {
	FilePath string  `json:"file_path"`
	Entries  []Entry `json:"history"`
}

// Store resolves history files under a shadow directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir (normally .tig/shadow).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// PathFor returns the history file path mirroring the relative source path.
func (s *Store) PathFor(relPath string) string {
	return filepath.Join(s.dir, filepath.FromSlash(relPath)+Suffix)
}

// Load reads the history for relPath. A missing file yields an empty history.
func (s *Store) Load(relPath string) (*History, error) {
	data, err := os.ReadFile(s.PathFor(relPath))
	if os.IsNotExist(err) {
		return &History{FilePath: relPath, Entries: []Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shadow history for %s: %w", relPath, err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shadow history for %s: %w", relPath, err)
	}
	if h.FilePath == "" {
		h.FilePath = relPath
	}
	return &h, nil
}

// Save writes the history for its file.
func (s *Store) Save(h *History) error {
	path := s.PathFor(h.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create shadow directory: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal shadow history: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write shadow history: %w", err)
	}
	return nil
}

// Append assigns entry the next contiguous entry ID and adds it.
func (h *History) Append(entry Entry) Entry {
	entry.ID = session.FormatID("entry_", len(h.Entries)+1)
	if entry.Snapshots == nil {
		entry.Snapshots = []string{}
	}
	h.Entries = append(h.Entries, entry)
	return entry
}

// AppendEntry loads the history for relPath, appends entry and saves it.
func (s *Store) AppendEntry(relPath string, entry Entry) (Entry, error) {
	h, err := s.Load(relPath)
	if err != nil {
		return Entry{}, err
	}
	stored := h.Append(entry)
	if err := s.Save(h); err != nil {
		return Entry{}, err
	}
	return stored, nil
}

// Operations converts the change records of one file into tool operations.
func Operations(changes []session.Change) []ToolOperation {
	ops := make([]ToolOperation, 0, len(changes))
	for _, c := range changes {
		ops = append(ops, ToolOperation{
			Tool:        c.Tool,
			Timestamp:   c.Timestamp,
			ContentHash: c.ContentHash,
			ToolInput:   c.ToolInput,
		})
	}
	return ops
}
