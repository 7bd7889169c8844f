package commit

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aymanbagabas/go-udiff"

	"github.com/entrepeneur4lyf/tig/internal/session"
)

const (
	// Tag starts every synthesized commit subject.
	Tag = "tig"

	summaryLimit = 60
	ellipsis     = "..."
)

// Summarize collapses whitespace in prompt and truncates it to at most 60
// runes, ending in "..." when truncated.
func Summarize(prompt string) string {
	collapsed := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(collapsed)
	if len(runes) <= summaryLimit {
		return collapsed
	}
	return string(runes[:summaryLimit-len(ellipsis)]) + ellipsis
}

// Message renders the commit message for the changeIndex-th (1-based) change
// to relPath in conv.
func Message(conv *session.Conversation, change session.Change, relPath string, changeIndex int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s - %s\n\n", Tag, change.Tool, path.Base(relPath), Summarize(conv.Prompt))
	fmt.Fprintf(&b, "Conversation: %s\n", conv.ID)
	fmt.Fprintf(&b, "Prompt: %s\n", conv.Prompt)
	fmt.Fprintf(&b, "Tool: %s\n", change.Tool)
	fmt.Fprintf(&b, "File: %s\n", relPath)
	fmt.Fprintf(&b, "Timestamp: %s\n", change.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Change #%d in conversation", changeIndex)
	return b.String()
}

// Describe produces the snapshot description for change, with line counts
// against previous (the file's content before this change, nil if unknown).
func Describe(change session.Change, relPath string, previous *string) string {
	base := fmt.Sprintf("%s %s", change.Tool, path.Base(relPath))
	if change.Content == nil {
		return base + " (content unavailable)"
	}

	before := ""
	if previous != nil {
		before = *previous
	}
	added, removed := LineStats(before, *change.Content)
	return fmt.Sprintf("%s (+%d -%d)", base, added, removed)
}

// LineStats counts added and removed lines between two versions.
func LineStats(before, after string) (added, removed int) {
	if before == after {
		return 0, 0
	}
	diff := udiff.Unified("a", "b", before, after)
	inHunks := false
	for _, line := range strings.Split(diff, "\n") {
		if !inHunks {
			// skip the "--- a" / "+++ b" header
			inHunks = strings.HasPrefix(line, "+++")
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
