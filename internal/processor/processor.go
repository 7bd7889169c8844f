// Package processor converts a closed conversation into commits, index
// records and shadow history entries.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/tig/internal/commit"
	"github.com/entrepeneur4lyf/tig/internal/index"
	"github.com/entrepeneur4lyf/tig/internal/response"
	"github.com/entrepeneur4lyf/tig/internal/session"
	"github.com/entrepeneur4lyf/tig/internal/shadow"
)

// Committer synthesizes one commit per change. A nil result means the change
// is skipped.
type Committer interface {
	Commit(ctx context.Context, relPath string, conv *session.Conversation, change session.Change, changeIndex int) *commit.Ref
}

// Options configures a Processor.
type Options struct {
	// ProjectDir is the host repository root; snapshot paths are absolute
	// under it.
	ProjectDir string
	// IndexPath is the durable index file.
	IndexPath string
	// ShadowDir holds the per-file histories.
	ShadowDir string
	Committer Committer
	Selector  response.Selector
}

// Processor turns closed conversations into durable history.
type Processor struct {
	opts    Options
	shadows *shadow.Store
}

// New creates a processor.
func New(opts Options) *Processor {
	return &Processor{
		opts:    opts,
		shadows: shadow.NewStore(opts.ShadowDir),
	}
}

// Result describes one processed conversation.
type Result struct {
	Summary   *index.ConversationSummary
	Snapshots []*index.Snapshot
	// Files are the touched paths relative to the project root, sorted.
	Files []string
	// Reprocessed is true when the conversation was already indexed and
	// nothing was done.
	Reprocessed bool
}

// Process commits every change of conv, records snapshots, writes shadow
// entries and saves the index once. candidates are the responses to select
// from; when empty the conversation's own assistant messages are used.
func (p *Processor) Process(ctx context.Context, conv *session.Conversation, candidates []string) (*Result, error) {
	if conv == nil {
		return nil, session.ErrNoConversation
	}

	idx, err := index.Load(p.opts.IndexPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if existing, ok := idx.Conversations[conv.ID]; ok {
		log.Info("Conversation already indexed, skipping", "conversation", conv.ID)
		return &Result{Summary: existing, Files: existing.Files, Reprocessed: true}, nil
	}

	if len(candidates) == 0 {
		candidates = conv.Responses()
	}

	files := sortedFiles(conv)
	snapshots := p.commitChanges(ctx, idx, conv, files)

	summary := &index.ConversationSummary{
		ID:           conv.ID,
		StartTime:    conv.StartTime,
		EndTime:      conv.EndTime,
		Prompt:       conv.Prompt,
		UserID:       conv.UserID,
		UserEmail:    conv.UserEmail,
		Status:       conv.Status,
		Files:        files,
		Snapshots:    snapshotIDs(snapshots),
		Response:     p.opts.Selector.Best(candidates, conv.Prompt),
		MessageCount: len(conv.Messages),
	}
	if n := len(snapshots); n > 0 {
		last := snapshots[n-1].ID
		summary.ConversationCommit = &last
	}
	idx.PutConversation(summary)

	for _, file := range files {
		idx.AddFileConversation(file, conv.ID)
		if err := p.writeShadowEntry(conv, file, snapshots, candidates); err != nil {
			log.Warn("Failed to update shadow history", "file", file, "err", err)
		}
	}

	if err := idx.Save(p.opts.IndexPath); err != nil {
		return nil, err
	}

	log.Info("Processed conversation", "conversation", conv.ID, "files", len(files), "snapshots", len(snapshots))
	return &Result{Summary: summary, Snapshots: snapshots, Files: files}, nil
}

// commitChanges walks files in order and each file's changes chronologically,
// allocating a snapshot for every successful commit.
func (p *Processor) commitChanges(ctx context.Context, idx *index.Index, conv *session.Conversation, files []string) []*index.Snapshot {
	var snapshots []*index.Snapshot

	for _, file := range files {
		var previous *string
		for i, change := range conv.Changes[file] {
			ref := p.opts.Committer.Commit(ctx, file, conv, change, i+1)
			if ref == nil {
				if change.Content != nil {
					previous = change.Content
				}
				continue
			}

			snap := idx.AllocateSnapshot(index.Snapshot{
				ConversationID: conv.ID,
				Description:    commit.Describe(change, file, previous),
				FilePath:       p.absolute(file),
				Commit:         ref.Hash,
				Timestamp:      change.Timestamp,
				SequenceNumber: len(snapshots) + 1,
			})
			snapshots = append(snapshots, snap)
			previous = change.Content
		}
	}

	return snapshots
}

// writeShadowEntry appends the file's entry, restricted to the snapshots
// whose relativised path is this file.
func (p *Processor) writeShadowEntry(conv *session.Conversation, file string, snapshots []*index.Snapshot, candidates []string) error {
	var ids []string
	var last *index.Snapshot
	for _, snap := range snapshots {
		if index.Relative(p.opts.ProjectDir, snap.FilePath) != file {
			continue
		}
		ids = append(ids, snap.ID)
		last = snap
	}

	changes := conv.Changes[file]
	tools := make([]string, 0, len(changes))
	for _, c := range changes {
		tools = append(tools, c.Tool)
	}

	entry := shadow.Entry{
		ConversationID: conv.ID,
		Snapshots:      ids,
		Timestamp:      conv.StartTime,
		Prompt:         conv.Prompt,
		ToolOperations: shadow.Operations(changes),
		Response:       p.opts.Selector.BestForFile(candidates, conv.Prompt, file, tools),
	}
	if last != nil {
		id := last.ID
		entry.Commit = &id
		entry.CommitHash = last.Commit
	}

	if _, err := p.shadows.AppendEntry(file, entry); err != nil {
		return fmt.Errorf("failed to append shadow entry: %w", err)
	}
	return nil
}

func (p *Processor) absolute(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.opts.ProjectDir, filepath.FromSlash(rel))
}

func sortedFiles(conv *session.Conversation) []string {
	files := make([]string, 0, len(conv.Changes))
	for f := range conv.Changes {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func snapshotIDs(snapshots []*index.Snapshot) []string {
	ids := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		ids = append(ids, s.ID)
	}
	return ids
}
