// Package response picks the single most representative model response for
// a conversation or one of its files.
package response

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultGreetingMarker prefixes generic session-opening responses that
	// say nothing about the work done.
	DefaultGreetingMarker = "I see you've started"

	// Placeholder is used when there is neither a response nor a prompt.
	Placeholder = "No response captured"
)

// Selector applies the selection policy. The zero value uses
// DefaultGreetingMarker.
type Selector struct {
	GreetingMarker string
}

// NewSelector creates a selector that skips responses starting with marker.
func NewSelector(marker string) Selector {
	return Selector{GreetingMarker: marker}
}

func (s Selector) marker() string {
	if s.GreetingMarker == "" {
		return DefaultGreetingMarker
	}
	return s.GreetingMarker
}

// Select scans candidates newest first and returns the first non-empty one
// that is not a generic greeting. When none qualifies it returns the last
// candidate. ok is false only for an empty list.
func (s Selector) Select(candidates []string) (text string, ok bool) {
	if len(candidates) == 0 {
		return "", false
	}
	marker := s.marker()
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if strings.TrimSpace(c) == "" || strings.HasPrefix(strings.TrimSpace(c), marker) {
			continue
		}
		return c, true
	}
	return candidates[len(candidates)-1], true
}

// Best selects from candidates, falling back to a text built from prompt.
func (s Selector) Best(candidates []string, prompt string) string {
	if text, ok := s.Select(candidates); ok {
		return text
	}
	return Fallback(prompt)
}

// BestForFile selects from the same candidate pool as Best; only the fallback
// is specific to the file, using the tools that touched it when the prompt is
// blank.
func (s Selector) BestForFile(candidates []string, prompt, file string, tools []string) string {
	if text, ok := s.Select(candidates); ok {
		return text
	}
	return FileFallback(prompt, file, tools)
}

// Fallback is the deterministic text used when no response was captured.
func Fallback(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Placeholder
	}
	return "Processed request: " + prompt
}

// FileFallback is Fallback for a single file's history entry.
func FileFallback(prompt, file string, tools []string) string {
	if strings.TrimSpace(prompt) != "" || len(tools) == 0 {
		return Fallback(prompt)
	}

	seen := map[string]bool{}
	var unique []string
	for _, t := range tools {
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}
	sort.Strings(unique)

	noun := "change"
	if len(tools) != 1 {
		noun = "changes"
	}
	return fmt.Sprintf("Applied %d %s to %s via %s", len(tools), noun, file, strings.Join(unique, ", "))
}
