package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// StageTable renders the final per-stage console table.
func StageTable(s *Summary) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-18s %-9s %-10s %s", "STAGE", "STATE", "DURATION", "NOTES")))
	b.WriteByte('\n')
	for _, st := range s.ScanInfo.Stages {
		state := st.State
		switch state {
		case "ok":
			state = okStyle.Render(state)
		case "skipped":
			state = skippedStyle.Render(state)
		case "failed":
			state = failedStyle.Render(state)
		}
		b.WriteString(fmt.Sprintf("%-18s %-9s %-10s %s\n", st.Name, state, st.Duration, st.Reason))
	}
	return b.String()
}

// RenderMarkdown pretty-prints the executive summary to the terminal.
// Outside a TTY the raw markdown comes back unchanged.
func RenderMarkdown(md []byte) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return string(md)
	}
	out, err := glamour.Render(string(md), "auto")
	if err != nil {
		return string(md)
	}
	return out
}
