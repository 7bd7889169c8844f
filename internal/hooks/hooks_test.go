package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/tig/internal/bootstrap"
	"github.com/entrepeneur4lyf/tig/internal/config"
	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/index"
	"github.com/entrepeneur4lyf/tig/internal/session"
	"github.com/entrepeneur4lyf/tig/internal/shadow"
)

func setIdentity(t *testing.T) {
	t.Helper()
	t.Setenv("TIG_USER_ID", "Test User")
	t.Setenv("TIG_USER_EMAIL", "test@example.com")
	t.Setenv("GIT_AUTHOR_NAME", "Test User")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test User")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
}

// newUnlinked returns a dispatcher for a project with a bare .tig directory
// that is not a git submodule.
func newUnlinked(t *testing.T) (*Dispatcher, *config.Config) {
	t.Helper()
	setIdentity(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".tig"), 0755))
	cfg := config.Default(dir)
	return NewDispatcher(cfg), cfg
}

// newLinked returns a dispatcher for a git host with tig set up.
func newLinked(t *testing.T) (*Dispatcher, *config.Config, *git.Repository) {
	t.Helper()
	if !git.IsGitInstalled() {
		t.Skip("git is not installed")
	}
	setIdentity(t)

	ctx := context.Background()
	dir := t.TempDir()
	host := git.NewRepository(dir)
	_, err := host.Run(ctx, "init", "--quiet")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# host\n"), 0644))
	require.NoError(t, host.Add(ctx, "README.md"))
	require.NoError(t, host.Commit(ctx, "initial"))

	report := bootstrap.NewManager(dir, "", "").Setup(ctx)
	require.NoError(t, report.Err)

	cfg := config.Default(dir)
	return NewDispatcher(cfg), cfg, host
}

func writeTranscript(t *testing.T, responses ...string) string {
	t.Helper()
	var lines []string
	for _, r := range responses {
		line, err := json.Marshal(map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"role":    "assistant",
				"content": []map[string]string{{"type": "text", "text": r}},
			},
		})
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func toolPayload(t *testing.T, tool, path string) *Payload {
	t.Helper()
	input, err := json.Marshal(map[string]string{"file_path": path})
	require.NoError(t, err)
	return &Payload{SessionID: "s1", ToolName: tool, ToolInput: input, ToolResponse: json.RawMessage(`{"success":true}`)}
}

func loadState(t *testing.T, cfg *config.Config) *session.State {
	t.Helper()
	store := session.NewStore(cfg.SessionStatePath())
	require.NoError(t, store.Load())
	return store.State()
}

func TestParseEvent(t *testing.T) {
	for name, want := range map[string]Event{
		"SessionStart":     SessionStart,
		"session-start":    SessionStart,
		"userpromptsubmit": UserPromptSubmit,
		"post-tool-use":    PostToolUse,
		"Stop":             Stop,
		"session-end":      SessionEnd,
	} {
		got, err := ParseEvent(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseEvent("pre-compact")
	assert.Error(t, err)
}

func TestReadPayload(t *testing.T) {
	p, err := ReadPayload(strings.NewReader(`{"session_id":"abc","cwd":"/work","tool_name":"NotebookEdit","tool_input":{"notebook_path":"nb.ipynb"}}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", p.SessionID)
	assert.Equal(t, "/work", p.Cwd)
	assert.Equal(t, "nb.ipynb", p.FilePath())

	p, err = ReadPayload(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Empty(t, p.FilePath())

	_, err = ReadPayload(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestSessionStartWithoutTig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	res := NewDispatcher(cfg).Dispatch(context.Background(), SessionStart, &Payload{SessionID: "s1"})

	assert.Equal(t, Unavailable, res.Status)
	out, ok := res.Output.(*SessionStartOutput)
	require.True(t, ok)
	assert.Equal(t, "SessionStart", out.HookSpecificOutput.HookEventName)
	assert.Contains(t, out.HookSpecificOutput.AdditionalContext, "tig setup")
	assert.NoFileExists(t, cfg.SessionStatePath())
}

func TestSessionStartOutputShape(t *testing.T) {
	d, _ := newUnlinked(t)
	res := d.Dispatch(context.Background(), SessionStart, &Payload{SessionID: "s1"})
	require.Equal(t, Tracked, res.Status, res.Message)

	data, err := json.Marshal(res.Output)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"hookSpecificOutput":{"hookEventName":"SessionStart","additionalContext":"Tig session initialized. Ready to capture development context."}}`,
		string(data))
}

func TestSessionStartProbesHistoryService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, cfg := newUnlinked(t)
	cfg.Server.URL = srv.URL
	res := d.Dispatch(context.Background(), SessionStart, &Payload{SessionID: "s1"})

	out := res.Output.(*SessionStartOutput)
	assert.Contains(t, out.HookSpecificOutput.AdditionalContext, "History service available at "+srv.URL)

	srv.Close()
	res = d.Dispatch(context.Background(), SessionStart, &Payload{SessionID: "s1"})
	out = res.Output.(*SessionStartOutput)
	assert.NotContains(t, out.HookSpecificOutput.AdditionalContext, "History service")
}

func TestTrackingLifecycle(t *testing.T) {
	ctx := context.Background()
	d, cfg := newUnlinked(t)
	cfg.Track.Exclude = []string{"**/*.lock"}
	root := cfg.WorkingDir

	require.Equal(t, Tracked, d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"}).Status)
	state := loadState(t, cfg)
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, "Test User", state.UserID)
	assert.Equal(t, 1, state.ConversationCounter)

	res := d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "add a main function"})
	require.Equal(t, Tracked, res.Status, res.Message)
	assert.Equal(t, "opened conv_001", res.Message)

	res = d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "and a test"})
	assert.Equal(t, "continued conv_001", res.Message)

	mainGo := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(mainGo, []byte("package main\n"), 0644))
	res = d.Dispatch(ctx, PostToolUse, toolPayload(t, "Write", mainGo))
	require.Equal(t, Tracked, res.Status, res.Message)

	require.NoError(t, os.WriteFile(filepath.Join(root, "go.lock"), []byte("x"), 0644))
	for _, p := range []*Payload{
		toolPayload(t, "Read", mainGo),
		toolPayload(t, "Write", filepath.Join(root, "go.lock")),
		toolPayload(t, "Write", filepath.Join(root, ".tig", "micro_index.json")),
		toolPayload(t, "Write", "/elsewhere/file.go"),
		{SessionID: "s1", ToolName: "Edit"},
	} {
		assert.Equal(t, Unavailable, d.Dispatch(ctx, PostToolUse, p).Status, p.ToolName)
	}

	// relative paths resolve against the payload cwd
	rel := toolPayload(t, "Edit", "main.go")
	rel.Cwd = root
	require.Equal(t, Tracked, d.Dispatch(ctx, PostToolUse, rel).Status)

	transcript := writeTranscript(t, "I see you've started a session", "Added main.go with a main function")
	res = d.Dispatch(ctx, Stop, &Payload{SessionID: "s1", TranscriptPath: transcript})
	require.Equal(t, Tracked, res.Status, res.Message)
	// the same response is not recorded twice
	d.Dispatch(ctx, Stop, &Payload{SessionID: "s1", TranscriptPath: transcript})

	state = loadState(t, cfg)
	conv := state.CurrentConversation
	require.NotNil(t, conv)
	require.Len(t, conv.Changes["main.go"], 2)
	assert.Equal(t, "Write", conv.Changes["main.go"][0].Tool)
	assert.Equal(t, session.Hash([]byte("package main\n")), conv.Changes["main.go"][0].ContentHash)
	assert.JSONEq(t, `{"success":true}`, string(conv.Changes["main.go"][0].ToolResult))
	assert.Equal(t, []string{"Added main.go with a main function"}, conv.Responses())
	assert.Len(t, conv.Messages, 3)

	res = d.Dispatch(ctx, SessionEnd, &Payload{SessionID: "s1", TranscriptPath: transcript})
	require.Equal(t, Tracked, res.Status, res.Message)

	state = loadState(t, cfg)
	assert.Nil(t, state.CurrentConversation)

	idx, err := index.Load(filepath.Join(cfg.TigDir(), index.FileName))
	require.NoError(t, err)
	summary := idx.Conversations["conv_001"]
	require.NotNil(t, summary)
	assert.Equal(t, []string{"main.go"}, summary.Files)
	assert.Equal(t, "Added main.go with a main function", summary.Response)
	assert.Equal(t, session.StatusComplete, summary.Status)
	assert.Equal(t, []string{"conv_001"}, idx.FileIndex["main.go"])
	assert.FileExists(t, cfg.DatabasePath())

	// nothing open any more
	assert.Equal(t, Unavailable, d.Dispatch(ctx, SessionEnd, &Payload{SessionID: "s1"}).Status)
}

func TestStaleConversationIsProcessed(t *testing.T) {
	ctx := context.Background()
	d, cfg := newUnlinked(t)

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "first"})

	res := d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s2"})
	require.Equal(t, Tracked, res.Status, res.Message)

	idx, err := index.Load(filepath.Join(cfg.TigDir(), index.FileName))
	require.NoError(t, err)
	require.Contains(t, idx.Conversations, "conv_001")
	assert.NotNil(t, idx.Conversations["conv_001"].EndTime)

	state := loadState(t, cfg)
	assert.Equal(t, "s2", state.SessionID)
	assert.Nil(t, state.CurrentConversation)
	assert.Equal(t, 2, state.ConversationCounter)

	res = d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s2", Prompt: "second"})
	assert.Equal(t, "opened conv_002", res.Message)
}

func TestPromptWithoutSessionStart(t *testing.T) {
	d, cfg := newUnlinked(t)
	res := d.Dispatch(context.Background(), UserPromptSubmit, &Payload{Prompt: "hello"})
	require.Equal(t, Tracked, res.Status, res.Message)

	state := loadState(t, cfg)
	assert.NotEmpty(t, state.SessionID)
	require.NotNil(t, state.CurrentConversation)
	assert.Equal(t, "conv_001", state.CurrentConversation.ID)
}

func TestProcessOnStop(t *testing.T) {
	ctx := context.Background()
	d, cfg := newUnlinked(t)
	cfg.Track.ProcessOn = config.ProcessOnStop

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "turn one"})
	res := d.Dispatch(ctx, Stop, &Payload{SessionID: "s1", TranscriptPath: writeTranscript(t, "Done with turn one")})
	require.Equal(t, Tracked, res.Status, res.Message)
	assert.Nil(t, loadState(t, cfg).CurrentConversation)

	idx, err := index.Load(filepath.Join(cfg.TigDir(), index.FileName))
	require.NoError(t, err)
	require.Contains(t, idx.Conversations, "conv_001")
	assert.Equal(t, "Done with turn one", idx.Conversations["conv_001"].Response)
}

func TestSessionEndStagesLinkedRepository(t *testing.T) {
	ctx := context.Background()
	d, cfg, host := newLinked(t)
	root := cfg.WorkingDir
	head, err := host.RevParse(ctx, "HEAD")
	require.NoError(t, err)

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "write the server"})

	server := filepath.Join(root, "server.go")
	require.NoError(t, os.WriteFile(server, []byte("package server\n"), 0644))
	d.Dispatch(ctx, PostToolUse, toolPayload(t, "Write", server))
	require.NoError(t, os.WriteFile(server, []byte("package server\n\nfunc Run() {}\n"), 0644))
	d.Dispatch(ctx, PostToolUse, toolPayload(t, "Edit", server))

	res := d.Dispatch(ctx, SessionEnd, &Payload{SessionID: "s1", TranscriptPath: writeTranscript(t, "Wrote the server")})
	require.Equal(t, Tracked, res.Status, res.Message)
	assert.Equal(t, "processed conv_001: 1 files, 2 snapshots", res.Message)

	idx, err := index.Load(filepath.Join(cfg.TigDir(), index.FileName))
	require.NoError(t, err)
	require.NoError(t, idx.Validate())
	summary := idx.Conversations["conv_001"]
	require.NotNil(t, summary)
	assert.Equal(t, []string{"snap_001", "snap_002"}, summary.Snapshots)
	require.NotNil(t, summary.ConversationCommit)
	assert.Equal(t, "snap_002", *summary.ConversationCommit)

	history, err := shadow.NewStore(cfg.ShadowDir()).Load("server.go")
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, "entry_001", history.Entries[0].ID)
	assert.Equal(t, "Wrote the server", history.Entries[0].Response)

	// staged in the host, never committed there
	after, err := host.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, head, after)
	staged, err := host.Run(ctx, "diff", "--cached", "--name-only")
	require.NoError(t, err)
	assert.Contains(t, staged, "server.go")
	assert.Contains(t, staged, ".tig")
}

func TestStaleConversationKeepsIDsUnique(t *testing.T) {
	ctx := context.Background()
	d, cfg, _ := newLinked(t)

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "first"})
	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s2"})

	res := d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s2", Prompt: "second"})
	assert.Equal(t, "opened conv_002", res.Message)

	idx, err := index.Load(filepath.Join(cfg.TigDir(), index.FileName))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.LastConversationID)
}

func TestFilesMatchingNestedIgnoreNamesAreCommitted(t *testing.T) {
	ctx := context.Background()
	d, cfg, _ := newLinked(t)
	root := cfg.WorkingDir

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "add the cache layer"})

	for _, rel := range []string{"internal/cache/cache.go", "testdata/session_state.json", "..env"} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(rel+"\n"), 0644))
		res := d.Dispatch(ctx, PostToolUse, toolPayload(t, "Write", path))
		require.Equal(t, Tracked, res.Status, res.Message)
	}

	res := d.Dispatch(ctx, SessionEnd, &Payload{SessionID: "s1", TranscriptPath: writeTranscript(t, "Added the cache")})
	require.Equal(t, Tracked, res.Status, res.Message)
	assert.Equal(t, "processed conv_001: 3 files, 3 snapshots", res.Message)

	for _, rel := range []string{"internal/cache/cache.go", "testdata/session_state.json", "..env"} {
		history, err := shadow.NewStore(cfg.ShadowDir()).Load(rel)
		require.NoError(t, err)
		require.Len(t, history.Entries, 1, rel)
		assert.Len(t, history.Entries[0].Snapshots, 1, rel)
		assert.NotEmpty(t, history.Entries[0].CommitHash, rel)
	}
}

func TestSessionRestartKeepsIDsUnique(t *testing.T) {
	ctx := context.Background()
	d, cfg, _ := newLinked(t)
	cfg.Track.ProcessOn = config.ProcessOnStop

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	res := d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "turn one"})
	assert.Equal(t, "opened conv_001", res.Message)

	// resumed or compacted: the same session starts again
	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	res = d.Dispatch(ctx, Stop, &Payload{SessionID: "s1", TranscriptPath: writeTranscript(t, "Done with turn one")})
	require.Equal(t, Tracked, res.Status, res.Message)

	res = d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "turn two"})
	assert.Equal(t, "opened conv_002", res.Message)
	res = d.Dispatch(ctx, Stop, &Payload{SessionID: "s1", TranscriptPath: writeTranscript(t, "Done with turn two")})
	require.Equal(t, Tracked, res.Status, res.Message)

	idx, err := index.Load(filepath.Join(cfg.TigDir(), index.FileName))
	require.NoError(t, err)
	assert.Len(t, idx.Conversations, 2)
	require.Contains(t, idx.Conversations, "conv_002")
	assert.Equal(t, "turn two", idx.Conversations["conv_002"].Prompt)
}

func TestFailedProcessingKeepsConversation(t *testing.T) {
	ctx := context.Background()
	d, cfg := newUnlinked(t)
	indexPath := filepath.Join(cfg.TigDir(), index.FileName)

	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s1"})
	d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s1", Prompt: "first"})

	require.NoError(t, os.WriteFile(indexPath, []byte("{corrupt"), 0644))
	res := d.Dispatch(ctx, SessionEnd, &Payload{SessionID: "s1"})
	assert.Equal(t, Failed, res.Status)

	state := loadState(t, cfg)
	assert.Nil(t, state.CurrentConversation)
	require.Len(t, state.Pending, 1)
	assert.Equal(t, "conv_001", state.Pending[0].ID)

	// still broken: the retry keeps it
	d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s2"})
	require.Len(t, loadState(t, cfg).Pending, 1)

	require.NoError(t, os.Remove(indexPath))
	res = d.Dispatch(ctx, SessionStart, &Payload{SessionID: "s3"})
	require.Equal(t, Tracked, res.Status, res.Message)
	assert.Empty(t, loadState(t, cfg).Pending)

	idx, err := index.Load(indexPath)
	require.NoError(t, err)
	require.Contains(t, idx.Conversations, "conv_001")
	assert.Equal(t, "first", idx.Conversations["conv_001"].Prompt)

	res = d.Dispatch(ctx, UserPromptSubmit, &Payload{SessionID: "s3", Prompt: "second"})
	assert.Equal(t, "opened conv_002", res.Message)
}
