package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return t.TempDir()
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	c, err := Load(dir, "", false)
	require.NoError(t, err)
	assert.Equal(t, ".tig", c.Dir)
	assert.Equal(t, ".tig-remote.git", c.RemoteDir)
	assert.Equal(t, "I see you've started", c.GreetingMarker)
	assert.Equal(t, ProcessOnSessionEnd, c.Track.ProcessOn)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 2*time.Second, c.Server.Timeout())
	assert.Equal(t, filepath.Join(dir, ".tig", "cache", "index.db"), c.DatabasePath())
	assert.Equal(t, filepath.Join(dir, ".tig", "cache", "tig.log"), c.LogPath())
}

func TestLoadProjectFileAndEnv(t *testing.T) {
	dir := isolate(t)
	content := `greeting_marker = "Hello"

[track]
exclude = ["**/*.lock"]
process_on = "stop"

[server]
url = "http://localhost:8000"
probe_timeout = "500ms"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	t.Setenv("TIG_LOG_LEVEL", "warn")

	c, err := Load(dir, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Hello", c.GreetingMarker)
	assert.Equal(t, []string{"**/*.lock"}, c.Track.Exclude)
	assert.True(t, c.ProcessOnStop())
	assert.Equal(t, "http://localhost:8000", c.Server.URL)
	assert.Equal(t, 500*time.Millisecond, c.Server.Timeout())
	assert.Equal(t, "warn", c.Log.Level)
}

func TestLoadDebugForcesLevel(t *testing.T) {
	dir := isolate(t)
	c, err := Load(dir, "", true)
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("dir = [unterminated"), 0644))

	_, err := Load(dir, "", false)
	assert.Error(t, err)
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, FileName)

	def := Default(dir)
	def.Server.URL = "http://history.local"
	require.NoError(t, WriteFile(path, def, false))
	assert.Error(t, WriteFile(path, def, false))
	require.NoError(t, WriteFile(path, def, true))

	c, err := Load(dir, path, false)
	require.NoError(t, err)
	assert.Equal(t, "http://history.local", c.Server.URL)
	assert.Equal(t, def.Dir, c.Dir)
	assert.Equal(t, def.Track.ProcessOn, c.Track.ProcessOn)
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Default("/work")))
	out := buf.String()
	assert.Contains(t, out, `dir = ".tig"`)
	assert.Contains(t, out, "[track]")
	assert.NotContains(t, out, "/work")
}

func TestLoadDotenv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TIG_GREETING_MARKER=Welcome back\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TIG_GREETING_MARKER") })

	c, err := Load(dir, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Welcome back", c.GreetingMarker)
}
