package hooks

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/entrepeneur4lyf/tig/internal/bootstrap"
	"github.com/entrepeneur4lyf/tig/internal/config"
	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/index"
	"github.com/entrepeneur4lyf/tig/internal/response"
	"github.com/entrepeneur4lyf/tig/internal/session"
)

const (
	readyContext     = "Tig session initialized. Ready to capture development context."
	unconfiguredHint = "Tig is not set up for this repository; run `tig setup` to capture development context."
	unknownIdentity  = "unknown"
	userIDEnv        = "TIG_USER_ID"
	userEmailEnv     = "TIG_USER_EMAIL"
)

// Dispatcher routes hook events for one project.
type Dispatcher struct {
	cfg     *config.Config
	manager *bootstrap.Manager
	client  *http.Client
	now     func() time.Time
}

// NewDispatcher creates a dispatcher for the project at cfg.WorkingDir.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		manager: bootstrap.NewManager(cfg.WorkingDir, cfg.Dir, cfg.RemoteDir),
		client:  &http.Client{Timeout: cfg.Server.Timeout()},
		now:     time.Now,
	}
}

// Dispatch runs the handler for event. It never panics on bad input and
// never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, p *Payload) *Result {
	if p == nil {
		p = &Payload{}
	}

	var res *Result
	switch event {
	case SessionStart:
		res = d.sessionStart(ctx, p)
	case UserPromptSubmit:
		res = d.promptSubmit(ctx, p)
	case PostToolUse:
		res = d.postToolUse(p)
	case Stop:
		res = d.stop(ctx, p)
	case SessionEnd:
		res = d.sessionEnd(ctx, p)
	default:
		res = unavailable(event, "unsupported event")
	}
	res.Event = event
	return res
}

// available reports whether a .tig directory exists. State is tracked even
// when it is not linked yet; staging checks the link separately.
func (d *Dispatcher) available() bool {
	return d.manager.Inspect() != bootstrap.Absent
}

func (d *Dispatcher) openStore() (*session.Store, error) {
	store := session.NewStore(d.cfg.SessionStatePath())
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// beginSession initialises the state for sessionID. Pending conversations
// are retried and a conversation left open by another session is finished and
// flushed first, so the counter is seeded from an index that already includes
// them.
func (d *Dispatcher) beginSession(ctx context.Context, store *session.Store, sessionID string) {
	for _, conv := range store.TakePending() {
		log.Info("Retrying conversation processing", "conversation", conv.ID)
		if _, err := d.flush(ctx, conv, ""); err != nil {
			log.Warn("Failed to process pending conversation", "conversation", conv.ID, "err", err)
			store.Defer(conv)
		}
	}

	if stale := store.TakeStale(sessionID); stale != nil {
		stale.Finish(d.now())
		log.Info("Processing conversation left open by a previous session", "conversation", stale.ID)
		if _, err := d.flush(ctx, stale, ""); err != nil {
			log.Warn("Failed to process stale conversation", "conversation", stale.ID, "err", err)
			store.Defer(stale)
		}
	}

	last, indexed := 0, false
	if idx, err := index.Load(d.manager.IndexPath()); err == nil {
		last, indexed = idx.LastConversationID, true
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Durable index unreadable, keeping conversation counter", "err", err)
	}

	store.Start(sessionID, d.identity(ctx), last, indexed)
}

func (d *Dispatcher) sessionStart(ctx context.Context, p *Payload) *Result {
	if !d.available() {
		res := unavailable(SessionStart, "tig directory not found")
		res.Output = sessionStartOutput(unconfiguredHint)
		return res
	}

	res := d.startSession(ctx, p)
	additional := readyContext
	if d.cfg.Server.URL != "" {
		if d.probe(ctx) {
			additional += " History service available at " + d.cfg.Server.URL + "."
		} else {
			log.Warn("History service not reachable", "url", d.cfg.Server.URL)
		}
	}
	res.Output = sessionStartOutput(additional)
	return res
}

func (d *Dispatcher) startSession(ctx context.Context, p *Payload) *Result {
	store, err := d.openStore()
	if err != nil {
		return failed(SessionStart, err)
	}

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	d.beginSession(ctx, store, sessionID)
	if err := store.Save(); err != nil {
		return failed(SessionStart, err)
	}
	return tracked(SessionStart, "session %s started", sessionID)
}

// probe checks the optional history service with a bounded wait.
func (d *Dispatcher) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Server.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.Server.URL, nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (d *Dispatcher) promptSubmit(ctx context.Context, p *Payload) *Result {
	if !d.available() {
		return unavailable(UserPromptSubmit, "tig directory not found")
	}
	store, err := d.openStore()
	if err != nil {
		return failed(UserPromptSubmit, err)
	}

	// No session start seen: initialise now.
	if store.State().SessionID == "" {
		sessionID := p.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		d.beginSession(ctx, store, sessionID)
	}

	conv, created := store.OpenOrContinue(p.Prompt)
	if strings.TrimSpace(p.Prompt) != "" {
		if _, err := store.AppendMessage(conv, session.RoleUser, p.Prompt); err != nil {
			log.Warn("Failed to record prompt", "err", err)
		}
	}
	if err := store.Save(); err != nil {
		return failed(UserPromptSubmit, err)
	}

	if created {
		return tracked(UserPromptSubmit, "opened %s", conv.ID)
	}
	return tracked(UserPromptSubmit, "continued %s", conv.ID)
}

func (d *Dispatcher) postToolUse(p *Payload) *Result {
	if !session.MutatingTools[p.ToolName] {
		return unavailable(PostToolUse, "tool does not modify files")
	}
	if !d.available() {
		return unavailable(PostToolUse, "tig directory not found")
	}

	target := p.FilePath()
	if target == "" {
		return unavailable(PostToolUse, "tool input has no file path")
	}
	abs := d.absolute(target, p.Cwd)
	rel, ok := d.trackable(abs)
	if !ok {
		return unavailable(PostToolUse, "file is not tracked")
	}

	store, err := d.openStore()
	if err != nil {
		return failed(PostToolUse, err)
	}
	conv := store.Current()
	if conv == nil {
		return unavailable(PostToolUse, "no conversation is open")
	}

	content, hash := session.ReadContent(abs)
	if content == nil {
		log.Warn("Could not read modified file", "file", rel)
	}
	change := session.Change{
		Tool:        p.ToolName,
		ContentHash: hash,
		Content:     content,
		ToolInput:   p.ToolInput,
		ToolResult:  p.ToolResponse,
	}
	if err := store.RecordChange(conv, rel, change); err != nil {
		return failed(PostToolUse, err)
	}
	if err := store.Save(); err != nil {
		return failed(PostToolUse, err)
	}
	return tracked(PostToolUse, "recorded %s %s", p.ToolName, rel)
}

func (d *Dispatcher) absolute(path, cwd string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if cwd == "" {
		cwd = d.cfg.WorkingDir
	}
	return filepath.Join(cwd, path)
}

// trackable relativises abs against the project and applies the exclusion
// rules: files outside the project, inside the nested repository or matching
// a track.exclude pattern are never recorded.
func (d *Dispatcher) trackable(abs string) (string, bool) {
	rel, ok := index.Within(d.cfg.WorkingDir, abs)
	if !ok || rel == "." {
		return "", false
	}
	if rel == d.cfg.Dir || strings.HasPrefix(rel, d.cfg.Dir+"/") {
		return "", false
	}

	for _, pattern := range d.cfg.Track.Exclude {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			log.Warn("Invalid exclude pattern", "pattern", pattern, "err", err)
			continue
		}
		if matched {
			log.Debug("Excluded from tracking", "file", rel, "pattern", pattern)
			return "", false
		}
	}
	return rel, true
}

func (d *Dispatcher) stop(ctx context.Context, p *Payload) *Result {
	if !d.available() {
		return unavailable(Stop, "tig directory not found")
	}
	store, err := d.openStore()
	if err != nil {
		return failed(Stop, err)
	}
	conv := store.Current()
	if conv == nil {
		return unavailable(Stop, "no conversation is open")
	}

	if p.TranscriptPath != "" {
		text, err := response.Latest(p.TranscriptPath)
		if err != nil {
			log.Warn("Failed to read transcript", "path", p.TranscriptPath, "err", err)
		}
		if text != "" && text != conv.LastResponse() {
			if _, err := store.AppendMessage(conv, session.RoleAssistant, text); err != nil {
				log.Warn("Failed to record response", "err", err)
			}
		}
	}

	if !d.cfg.ProcessOnStop() {
		if err := store.Save(); err != nil {
			return failed(Stop, err)
		}
		return tracked(Stop, "updated %s", conv.ID)
	}
	return d.closeAndFlush(ctx, Stop, store, p.TranscriptPath)
}

func (d *Dispatcher) sessionEnd(ctx context.Context, p *Payload) *Result {
	if !d.available() {
		return unavailable(SessionEnd, "tig directory not found")
	}
	store, err := d.openStore()
	if err != nil {
		return failed(SessionEnd, err)
	}
	if store.Current() == nil {
		return unavailable(SessionEnd, "no conversation is open")
	}
	return d.closeAndFlush(ctx, SessionEnd, store, p.TranscriptPath)
}

// closeAndFlush closes the open conversation and turns it into history. A
// conversation that fails to process stays in the state as pending and is
// retried by the next session start.
func (d *Dispatcher) closeAndFlush(ctx context.Context, event Event, store *session.Store, transcriptPath string) *Result {
	conv := store.Close()

	res, err := d.flush(ctx, conv, transcriptPath)
	if err != nil {
		store.Defer(conv)
		if saveErr := store.Save(); saveErr != nil {
			log.Error("Failed to keep unprocessed conversation", "conversation", conv.ID, "err", saveErr)
		}
		return failed(event, err)
	}
	if err := store.Save(); err != nil {
		return failed(event, err)
	}
	return tracked(event, "processed %s: %d files, %d snapshots", conv.ID, len(res.Files), len(res.Snapshots))
}

// identity resolves who the session is attributed to: explicit environment
// first, then the host repository's git identity.
func (d *Dispatcher) identity(ctx context.Context) session.Identity {
	id := session.Identity{
		ID:    os.Getenv(userIDEnv),
		Email: os.Getenv(userEmailEnv),
	}
	repo := git.NewRepository(d.cfg.WorkingDir)
	if id.ID == "" {
		id.ID = repo.ConfigGet(ctx, "user.name")
	}
	if id.Email == "" {
		id.Email = repo.ConfigGet(ctx, "user.email")
	}
	if id.ID == "" {
		id.ID = unknownIdentity
	}
	if id.Email == "" {
		id.Email = unknownIdentity
	}
	return id
}
