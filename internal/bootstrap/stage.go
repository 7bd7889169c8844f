package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/index"
)

// ContextCommitMessage is the nested repository commit made after staging.
const ContextCommitMessage = "tig: Update conversation context"

// StageReport is the outcome of StageAfterConversation. Every step runs even
// when an earlier one failed.
type StageReport struct {
	Success          bool
	// Partial is set when some steps or files failed but others completed.
	Partial          bool
	Staged           int
	Skipped          int
	Failed           int
	ContextCommitted bool
	// HostStaged is everything staged in the host afterwards, including
	// changes staged before this run.
	HostStaged       []string
	Steps            []Step
	Err              error
}

func (r *StageReport) finish() {
	r.Success = r.Err == nil && r.Failed == 0
	if r.Success {
		return
	}
	completed := r.Staged > 0
	for _, s := range r.Steps {
		completed = completed || s.Err == nil
	}
	r.Partial = completed
}

func (r *StageReport) step(name string, err error) {
	r.Steps = append(r.Steps, Step{Name: name, Err: err})
	if err != nil && r.Err == nil {
		r.Err = err
	}
}

// StageAfterConversation stages the AI-modified files and the nested
// repository pointer in the host. It commits only inside the nested
// repository; the host commit is left to the developer.
func (m *Manager) StageAfterConversation(ctx context.Context, files []string) *StageReport {
	report := &StageReport{}
	if !m.IsConfigured() {
		report.Err = ErrNotConfigured
		return report
	}

	filter := NewIgnoreFilter(m.projectDir)
	for _, f := range files {
		rel := index.Relative(m.projectDir, f)
		if rel == "" || m.insideTig(rel) {
			report.Skipped++
			continue
		}
		if _, err := os.Stat(filepath.Join(m.projectDir, filepath.FromSlash(rel))); err != nil {
			log.Debug("Skipping missing file", "file", rel)
			report.Skipped++
			continue
		}
		if filter.IsIgnored(rel) {
			log.Debug("Skipping ignored file", "file", rel)
			report.Skipped++
			continue
		}
		if err := m.host.Add(ctx, rel); err != nil {
			log.Warn("Failed to stage file", "file", rel, "err", err)
			report.Failed++
			continue
		}
		report.Staged++
	}

	nested := git.NewRepository(m.TigDir())
	err := nested.AddAll(ctx)
	if err == nil {
		err = nested.Commit(ctx, ContextCommitMessage)
		switch {
		case err == nil:
			report.ContextCommitted = true
		case errors.Is(err, git.ErrNothingStaged):
			log.Debug("No context changes to commit")
			err = nil
		}
	}
	report.step("commit nested repository", err)

	report.step("stage nested repository pointer", m.host.Add(ctx, m.dirName))

	if status, err := m.host.GetStatus(ctx); err == nil {
		report.HostStaged = status.Staged
	} else {
		log.Warn("Failed to read host status", "err", err)
	}

	report.finish()
	log.Info("Staged conversation results",
		"staged", report.Staged, "skipped", report.Skipped, "failed", report.Failed,
		"context_committed", report.ContextCommitted)
	return report
}

func (m *Manager) insideTig(rel string) bool {
	return rel == m.dirName || strings.HasPrefix(rel, m.dirName+"/")
}

// DetectAIModifiedFiles lists the unique files, relative to the project
// root, that any snapshot in the durable index touched.
func (m *Manager) DetectAIModifiedFiles() ([]string, error) {
	idx, err := index.Load(m.IndexPath())
	if err != nil {
		return nil, err
	}
	return idx.SnapshotFiles(m.projectDir), nil
}
