package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "tig.log")
	require.NoError(t, Setup("warn", path, false))
	defer Cleanup()

	assert.Equal(t, log.WarnLevel, log.GetLevel())
	log.Info("hidden")
	log.Warn("visible", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
	assert.Contains(t, string(data), "key=value")
	assert.NotContains(t, string(data), "hidden")
}

func TestSetupDebugKeepsStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tig.log")
	require.NoError(t, Setup("info", path, true))
	defer Cleanup()

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.NoFileExists(t, path)
}

func TestSetupUnknownLevel(t *testing.T) {
	require.NoError(t, Setup("loud", "", false))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
