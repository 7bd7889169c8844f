// Package logging configures the package-level charmbracelet logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

var logFile *os.File

// Setup sets the level and, when path is non-empty and debug is off,
// redirects output to the file at path. Hook invocations log to a file so
// their stdout and stderr stay clean for the caller.
func Setup(level, path string, debug bool) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if debug {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
	log.SetReportTimestamp(true)

	if debug || path == "" {
		log.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	Cleanup()
	logFile = f
	log.SetOutput(f)
	return nil
}

// Discard silences all logging.
func Discard() {
	log.SetOutput(io.Discard)
}

// Cleanup closes the log file if one was opened.
func Cleanup() {
	if logFile != nil {
		log.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
	}
}
