package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// FileName is the project-level configuration file.
const FileName = ".tig.toml"

// Encode writes c as TOML.
func Encode(w io.Writer, c *Config) error {
	writer := bufio.NewWriter(w)
	if err := toml.NewEncoder(writer).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writer.Flush()
}

// WriteFile writes c to filePath, refusing to replace an existing file
// unless force is set.
func WriteFile(filePath string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(filePath); err == nil {
			return fmt.Errorf("config file %s already exists", filePath)
		}
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create/open config file %s: %w", filePath, err)
	}
	defer file.Close()

	if err := Encode(file, c); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}

	log.Debug("Config saved to file", "file", filePath)
	return nil
}
