// Package commit turns one recorded file change into one commit in the
// nested repository.
package commit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/session"
)

// FilesDir is the area of the nested repository mirroring source content.
const FilesDir = "files"

// Ref identifies a synthesized commit.
type Ref struct {
	Hash string
}

// Synthesizer writes change content into the nested repository and commits
// it there.
type Synthesizer struct {
	repo   *git.Repository
	tigDir string
}

// NewSynthesizer creates a synthesizer for the nested repository at tigDir.
func NewSynthesizer(tigDir string) *Synthesizer {
	return &Synthesizer{
		repo:   git.NewRepository(tigDir),
		tigDir: tigDir,
	}
}

// MirrorPath returns the path, relative to the nested repository, that holds
// content for the source file relPath.
func MirrorPath(relPath string) string {
	return filepath.Join(FilesDir, filepath.FromSlash(relPath))
}

// Commit records change, the changeIndex-th (1-based) change of relPath in
// conv. It returns nil on any failure; failures are logged, never returned.
func (s *Synthesizer) Commit(ctx context.Context, relPath string, conv *session.Conversation, change session.Change, changeIndex int) *Ref {
	ref, err := s.commit(ctx, relPath, conv, change, changeIndex)
	if err != nil {
		log.Warn("Skipping change", "conversation", conv.ID, "file", relPath, "change", changeIndex, "err", err)
		return nil
	}
	return ref
}

func (s *Synthesizer) commit(ctx context.Context, relPath string, conv *session.Conversation, change session.Change, changeIndex int) (*Ref, error) {
	if change.Content == nil {
		return nil, fmt.Errorf("no content recorded")
	}

	mirror := MirrorPath(relPath)
	full := filepath.Join(s.tigDir, mirror)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(*change.Content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write mirror: %w", err)
	}

	if err := s.repo.ForceAdd(ctx, filepath.ToSlash(mirror)); err != nil {
		return nil, err
	}
	if err := s.repo.Commit(ctx, Message(conv, change, relPath, changeIndex)); err != nil {
		return nil, err
	}

	hash, err := s.repo.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	log.Debug("Committed change", "conversation", conv.ID, "file", relPath, "commit", hash)
	return &Ref{Hash: hash}, nil
}
