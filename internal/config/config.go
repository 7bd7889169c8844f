package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// When a conversation is flushed into history.
const (
	ProcessOnSessionEnd = "session_end"
	ProcessOnStop       = "stop"
)

// Application constants
const (
	appName = "tig"

	defaultDir            = ".tig"
	defaultRemoteDir      = ".tig-remote.git"
	defaultGreetingMarker = "I see you've started"
	defaultLogLevel       = "info"
	defaultProbeTimeout   = 2 * time.Second
)

// TrackConfig controls which tool uses are recorded and when they are
// processed.
type TrackConfig struct {
	// Exclude holds doublestar patterns, relative to the project root, of
	// files never recorded.
	Exclude   []string `mapstructure:"exclude" toml:"exclude"`
	ProcessOn string   `mapstructure:"process_on" toml:"process_on"`
}

// ServerConfig points at the optional history service probed at session
// start.
type ServerConfig struct {
	URL          string `mapstructure:"url" toml:"url"`
	ProbeTimeout string `mapstructure:"probe_timeout" toml:"probe_timeout"`
}

// Timeout parses ProbeTimeout, falling back to two seconds.
func (s ServerConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(s.ProbeTimeout)
	if err != nil || d <= 0 {
		return defaultProbeTimeout
	}
	return d
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	// File is relative to the nested repository unless absolute.
	File string `mapstructure:"file" toml:"file"`
}

// Config is the main configuration structure for the application
type Config struct {
	Dir            string       `mapstructure:"dir" toml:"dir"`
	RemoteDir      string       `mapstructure:"remote_dir" toml:"remote_dir"`
	GreetingMarker string       `mapstructure:"greeting_marker" toml:"greeting_marker"`
	Track          TrackConfig  `mapstructure:"track" toml:"track"`
	Server         ServerConfig `mapstructure:"server" toml:"server"`
	Log            LogConfig    `mapstructure:"log" toml:"log"`

	WorkingDir string `mapstructure:"-" toml:"-"`
	Debug      bool   `mapstructure:"debug" toml:"-"`
}

// Load reads configuration for the project at workingDir. An explicit
// configFile overrides the search path. A .env file in workingDir is loaded
// first; it never overrides variables already set.
func Load(workingDir, configFile string, debug bool) (*Config, error) {
	if err := loadDotenv(workingDir); err != nil {
		return nil, err
	}

	v := viper.New()
	configureViper(v, workingDir, configFile)
	setDefaults(v, debug)

	loaded := &Config{}
	if err := readConfig(v, v.ReadInConfig()); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	loaded.WorkingDir = workingDir
	if debug {
		loaded.Debug = true
		loaded.Log.Level = "debug"
	}

	return loaded, nil
}

func loadDotenv(workingDir string) error {
	path := filepath.Join(workingDir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// configureViper sets up viper's configuration paths and environment variables
func configureViper(v *viper.Viper, workingDir, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(fmt.Sprintf(".%s", appName))
		v.SetConfigType("toml")
		v.AddConfigPath(workingDir)
		v.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
		v.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
		v.AddConfigPath("$HOME")
	}
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults configures default values for configuration options
func setDefaults(v *viper.Viper, debug bool) {
	v.SetDefault("dir", defaultDir)
	v.SetDefault("remote_dir", defaultRemoteDir)
	v.SetDefault("greeting_marker", defaultGreetingMarker)
	v.SetDefault("track.exclude", []string{})
	v.SetDefault("track.process_on", ProcessOnSessionEnd)
	v.SetDefault("server.url", "")
	v.SetDefault("server.probe_timeout", defaultProbeTimeout.String())
	v.SetDefault("log.file", filepath.Join("cache", "tig.log"))
	v.SetDefault("debug", debug)

	if debug {
		v.Set("log.level", "debug")
	} else {
		v.SetDefault("log.level", defaultLogLevel)
	}
}

// readConfig tolerates a missing config file
func readConfig(v *viper.Viper, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	// an explicit file that does not exist surfaces as a plain not-exist error
	if os.IsNotExist(err) && v.ConfigFileUsed() != "" {
		return fmt.Errorf("config file %s not found: %w", v.ConfigFileUsed(), err)
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Default returns the configuration used when nothing is set.
func Default(workingDir string) *Config {
	return &Config{
		Dir:            defaultDir,
		RemoteDir:      defaultRemoteDir,
		GreetingMarker: defaultGreetingMarker,
		Track:          TrackConfig{Exclude: []string{}, ProcessOn: ProcessOnSessionEnd},
		Server:         ServerConfig{ProbeTimeout: defaultProbeTimeout.String()},
		Log:            LogConfig{Level: defaultLogLevel, File: filepath.Join("cache", "tig.log")},
		WorkingDir:     workingDir,
	}
}

// TigDir returns the nested repository path.
func (c *Config) TigDir() string {
	return filepath.Join(c.WorkingDir, c.Dir)
}

// SessionStatePath returns the session state file path.
func (c *Config) SessionStatePath() string {
	return filepath.Join(c.TigDir(), "session_state.json")
}

// ShadowDir returns the shadow history directory.
func (c *Config) ShadowDir() string {
	return filepath.Join(c.TigDir(), "shadow")
}

// CacheDir returns the git-ignored cache directory.
func (c *Config) CacheDir() string {
	return filepath.Join(c.TigDir(), "cache")
}

// DatabasePath returns the query cache database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.CacheDir(), "index.db")
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.TigDir(), c.Log.File)
}

// ProcessOnStop reports whether conversations are flushed at every turn.
func (c *Config) ProcessOnStop() bool {
	return c.Track.ProcessOn == ProcessOnStop
}
