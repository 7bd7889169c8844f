// Package index maintains the micro-index: the durable catalog tying
// conversations, snapshots and files together.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrepeneur4lyf/tig/internal/session"
)

// FileName is the index file name inside the nested repository.
const FileName = "micro_index.json"

// Snapshot is one committed version of a file tied to one change record.
type Snapshot struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Description    string    `json:"description"`
	FilePath       string    `json:"file_path"`
	Commit         string    `json:"commit"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int       `json:"sequence_number"`
}

// ConversationSummary is the index record for one processed conversation.
type ConversationSummary struct {
	ID                 string         `json:"id"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            *time.Time     `json:"end_time"`
	Prompt             string         `json:"prompt"`
	UserID             string         `json:"user_id"`
	UserEmail          string         `json:"user_email"`
	Status             session.Status `json:"status"`
	Files              []string       `json:"files"`
	Snapshots          []string       `json:"snapshots"`
	Response           string         `json:"response"`
	ConversationCommit *string        `json:"conversation_commit"`
	MessageCount       int            `json:"message_count"`
}

// Index is the in-memory form of the micro-index document.
type Index struct {
	Conversations      map[string]*ConversationSummary `json:"conversations"`
	Snapshots          map[string]*Snapshot            `json:"snapshots"`
	LastConversationID int                             `json:"last_conversation_id"`
	LastSnapshotID     int                             `json:"last_snapshot_id"`
	FileIndex          map[string][]string             `json:"file_index"`
}

// New returns an empty index.
func New() *Index {
	return &Index{
		Conversations: map[string]*ConversationSummary{},
		Snapshots:     map[string]*Snapshot{},
		FileIndex:     map[string][]string{},
	}
}

// Load reads the index at path. A missing file yields an empty index and
// os.ErrNotExist so callers can tell the two apart.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(), fmt.Errorf("failed to read index: %w", err)
	}

	idx := New()
	if err := json.Unmarshal(data, idx); err != nil {
		return New(), fmt.Errorf("failed to unmarshal index: %w", err)
	}
	idx.ensureMaps()
	return idx, nil
}

// Save writes the whole index to path.
func (idx *Index) Save(path string) error {
	idx.ensureMaps()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func (idx *Index) ensureMaps() {
	if idx.Conversations == nil {
		idx.Conversations = map[string]*ConversationSummary{}
	}
	if idx.Snapshots == nil {
		idx.Snapshots = map[string]*Snapshot{}
	}
	if idx.FileIndex == nil {
		idx.FileIndex = map[string][]string{}
	}
}

// AllocateSnapshot assigns the next global snapshot ID to snap and stores
// it. IDs are never reused.
func (idx *Index) AllocateSnapshot(snap Snapshot) *Snapshot {
	idx.ensureMaps()
	idx.LastSnapshotID++
	snap.ID = session.FormatID("snap_", idx.LastSnapshotID)
	stored := snap
	idx.Snapshots[stored.ID] = &stored
	return &stored
}

// PutConversation stores summary and raises last_conversation_id to its
// number if needed. The counter never decreases.
func (idx *Index) PutConversation(summary *ConversationSummary) {
	idx.ensureMaps()
	idx.Conversations[summary.ID] = summary
	if n := session.ParseID(summary.ID, "conv_"); n > idx.LastConversationID {
		idx.LastConversationID = n
	}
}

// AddFileConversation appends conversationID to the inverted index for path
// unless it is already present.
func (idx *Index) AddFileConversation(path, conversationID string) {
	idx.ensureMaps()
	for _, id := range idx.FileIndex[path] {
		if id == conversationID {
			return
		}
	}
	idx.FileIndex[path] = append(idx.FileIndex[path], conversationID)
}

// Snapshot returns the snapshot with id, or nil.
func (idx *Index) Snapshot(id string) *Snapshot {
	return idx.Snapshots[id]
}

// Validate checks that every snapshot referenced by a conversation summary
// exists.
func (idx *Index) Validate() error {
	var missing []string
	for _, conv := range idx.Conversations {
		for _, id := range conv.Snapshots {
			if _, ok := idx.Snapshots[id]; !ok {
				missing = append(missing, conv.ID+"/"+id)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("index references missing snapshots: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SnapshotFiles returns the unique snapshot file paths relative to root,
// sorted.
func (idx *Index) SnapshotFiles(root string) []string {
	seen := map[string]bool{}
	var files []string
	for _, snap := range idx.Snapshots {
		rel := Relative(root, snap.FilePath)
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		files = append(files, rel)
	}
	sort.Strings(files)
	return files
}

// Relative converts an absolute path under root to a slash-separated path
// relative to root. Relative inputs and paths outside root are returned
// cleaned but otherwise unchanged.
func Relative(root, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) && root != "" {
		if rel, ok := Within(root, path); ok {
			return rel
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// Within returns path relative to root in slash form, and whether path lies
// inside root. Names that merely start with "..", like "..env", are inside.
func Within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
