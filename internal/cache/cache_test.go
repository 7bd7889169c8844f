package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/tig/internal/index"
	"github.com/entrepeneur4lyf/tig/internal/session"
)

func sampleIndex(root string) *index.Index {
	idx := index.New()
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	add := func(id, prompt, response string, files ...string) {
		var snaps []string
		for _, f := range files {
			s := idx.AllocateSnapshot(index.Snapshot{
				ConversationID: id,
				Description:    "Edit " + f,
				FilePath:       filepath.Join(root, f),
				Commit:         "abc123",
				Timestamp:      start,
				SequenceNumber: len(snaps) + 1,
			})
			snaps = append(snaps, s.ID)
			idx.AddFileConversation(f, id)
		}
		idx.PutConversation(&index.ConversationSummary{
			ID:        id,
			StartTime: start,
			Prompt:    prompt,
			Response:  response,
			Status:    session.StatusComplete,
			Files:     files,
			Snapshots: snaps,
		})
	}

	add("conv_001", "add logging to the server", "Added structured logging", "server.go")
	add("conv_002", "fix the flaky test", "Stabilised the timing in server_test.go", "server_test.go", "server.go")
	add("conv_003", "explain the architecture", "It is layered")
	return idx
}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesSchema(t *testing.T) {
	store := openStore(t)

	rows, err := store.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"conversations", "file_conversations", "snapshots"}, tables)

	// reopening an existing database is a no-op
	path := filepath.Join(t.TempDir(), "index.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())
	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestRebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Rebuild(ctx, sampleIndex("/work")))

	matches, err := store.Search(ctx, "logging", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "conv_001", matches[0].ID)
	assert.Equal(t, 2026, matches[0].StartTime.Year())

	matches, err = store.Search(ctx, "server", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = store.Search(ctx, "e", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = store.Search(ctx, "zzzz", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRebuildReplacesContents(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Rebuild(ctx, sampleIndex("/work")))
	require.NoError(t, store.Rebuild(ctx, index.New()))

	matches, err := store.Search(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileConversations(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Rebuild(ctx, sampleIndex("/work")))

	convs, err := store.FileConversations(ctx, "server.go")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "conv_001", convs[0].ID)
	assert.Equal(t, "conv_002", convs[1].ID)

	convs, err = store.FileConversations(ctx, "missing.go")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Rebuild(ctx, sampleIndex("/work")))

	snaps, err := store.Snapshots(ctx, "conv_002")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "snap_002", snaps[0].ID)
	assert.Equal(t, 2, snaps[1].SequenceNumber)
	assert.Equal(t, "/work/server.go", snaps[1].FilePath)
}

func TestRebuildFromFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	indexPath := filepath.Join(dir, index.FileName)
	require.NoError(t, sampleIndex(dir).Save(indexPath))

	dbPath := filepath.Join(dir, "cache", "index.db")
	require.NoError(t, RebuildFromFile(ctx, indexPath, dbPath))

	store, err := Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	matches, err := store.Search(ctx, "architecture", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "conv_003", matches[0].ID)
}
