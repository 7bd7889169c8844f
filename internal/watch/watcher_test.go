package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIndexWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "micro_index.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	var calls atomic.Int32
	w, err := NewIndexWatcher(path, func(context.Context) { calls.Add(1) })
	require.NoError(t, err)
	w.SetDebounceDelay(200 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher a moment to start reading events
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"n":1}`), 0644))
		time.Sleep(20 * time.Millisecond)
	}
	// unrelated files never trigger
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewIndexWatcherMissingDirectory(t *testing.T) {
	_, err := NewIndexWatcher(filepath.Join(t.TempDir(), "missing", "micro_index.json"), func(context.Context) {})
	assert.Error(t, err)
}
