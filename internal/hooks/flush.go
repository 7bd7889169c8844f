package hooks

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/tig/internal/cache"
	"github.com/entrepeneur4lyf/tig/internal/commit"
	"github.com/entrepeneur4lyf/tig/internal/processor"
	"github.com/entrepeneur4lyf/tig/internal/response"
	"github.com/entrepeneur4lyf/tig/internal/session"
)

// flush turns a closed conversation into history: commits and index records,
// then the query cache, then host staging. Only processing errors are
// returned; cache and staging problems are logged.
func (d *Dispatcher) flush(ctx context.Context, conv *session.Conversation, transcriptPath string) (*processor.Result, error) {
	var candidates []string
	if transcriptPath != "" {
		var err error
		candidates, err = response.Candidates(transcriptPath)
		if err != nil {
			log.Warn("Failed to read transcript, using recorded responses", "path", transcriptPath, "err", err)
		}
	}

	proc := processor.New(processor.Options{
		ProjectDir: d.cfg.WorkingDir,
		IndexPath:  d.manager.IndexPath(),
		ShadowDir:  d.cfg.ShadowDir(),
		Committer:  commit.NewSynthesizer(d.manager.TigDir()),
		Selector:   response.NewSelector(d.cfg.GreetingMarker),
	})
	res, err := proc.Process(ctx, conv, candidates)
	if err != nil {
		return nil, err
	}
	if res.Reprocessed {
		return res, nil
	}

	if err := cache.RebuildFromFile(ctx, d.manager.IndexPath(), d.cfg.DatabasePath()); err != nil {
		log.Warn("Failed to rebuild query cache", "err", err)
	}

	if !d.manager.IsConfigured() {
		log.Debug("Nested repository not linked, skipping staging")
		return res, nil
	}
	report := d.manager.StageAfterConversation(ctx, res.Files)
	if !report.Success {
		log.Warn("Staging finished with problems", "failed", report.Failed, "err", report.Err)
	}
	return res, nil
}
