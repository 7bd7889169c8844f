package response

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const maxTranscriptLine = 16 * 1024 * 1024

type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Candidates reads a JSON-lines transcript and returns the text of every
// assistant message in order. Lines that do not parse are skipped.
func Candidates(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxTranscriptLine)

	var out []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry transcriptLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "assistant" && entry.Message.Role != "assistant" {
			continue
		}
		if text := contentText(entry.Message.Content); text != "" {
			out = append(out, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to scan transcript: %w", err)
	}
	return out, nil
}

// contentText accepts either a plain string or a list of content blocks and
// joins the text blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n")
}

// Latest returns the last assistant text in the transcript, or "".
func Latest(path string) (string, error) {
	candidates, err := Candidates(path)
	if len(candidates) == 0 {
		return "", err
	}
	return candidates[len(candidates)-1], err
}
