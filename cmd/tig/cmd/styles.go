package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D9FF"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(10)
)

func printStep(w io.Writer, name string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), name, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", successStyle.Render("✓"), name)
}

func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label), value)
}
