package tui

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pdai-labs/pdai/internal/theme"

	"github.com/charmbracelet/lipgloss"
)

var (
	activeTabStyle   = lipgloss.NewStyle().Foreground(theme.ColorBlue).Bold(true).Underline(true).Padding(0, 1)
	inactiveTabStyle = lipgloss.NewStyle().Foreground(theme.ColorOverlay1).Padding(0, 1)
	paneStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(theme.ColorSurface1).Padding(0, 1)
	cursorStyle      = lipgloss.NewStyle().Foreground(theme.ColorPeach).Bold(true)
)

func (m Model) View() string {
	var body string
	switch m.active {
	case tabModel:
		body = m.modelView()
	case tabSystem:
		body = m.systemView()
	default:
		body = m.mainView()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		body,
		m.help.View(m.keys),
	)
}

func (m Model) header() string {
	tabs := make([]string, 0, tabCount)
	for t := tab(0); t < tabCount; t++ {
		style := inactiveTabStyle
		if t == m.active {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(t.String()))
	}
	return theme.Accent.Render(Title) + "  " + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) mainView() string {
	var b strings.Builder
	b.WriteString(m.input.View() + "\n\n")

	b.WriteString(fmt.Sprintf("Heatmap: %s   DICOM tags: %s\n\n", onOff(m.heatmap), onOff(m.metadata)))

	if r := m.result; r != nil {
		b.WriteString("Prediction: " + theme.ClassStyle(r.positive).Render(r.label))
		b.WriteString(fmt.Sprintf(" (Confidence: %.2f%%)\n", r.confidence*100))
		if r.low {
			b.WriteString(theme.Warning.Render("Low confidence, the prediction may be wrong.") + "\n")
		}
		if r.heatmap != "" {
			b.WriteString("Heatmap: " + theme.Accent.Render(r.heatmap) + "\n")
		}
	}

	if img := m.s.Image(); m.metadata && img != nil && img.IsDICOM() {
		for _, f := range img.Metadata {
			b.WriteString(theme.Muted.Render(f.String()) + "\n")
		}
	}

	return b.String() + "\n" + m.logView()
}

func (m Model) logView() string {
	lines := make([]string, 0, len(m.log))
	for _, entry := range m.log {
		line := "> " + entry
		if strings.HasPrefix(entry, "ERROR") {
			line = theme.Error.Render(line)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, theme.Muted.Render("No messages."))
	}
	return paneStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) modelView() string {
	var b strings.Builder
	b.WriteString(theme.Accent.Render("Available models") + "\n")
	if len(m.models) == 0 {
		b.WriteString(theme.Muted.Render("  none (the release feed may be unreachable)") + "\n")
	}
	for i, name := range m.models {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		b.WriteString(prefix + name + "\n")
	}

	b.WriteString("\n" + theme.Accent.Render("Model info") + "\n")
	b.WriteString(m.info + "\n\n")
	return b.String() + m.logView()
}

func (m Model) systemView() string {
	cfg := m.s.Config()
	rows := []string{
		"Version:      " + theme.Version,
		"Go:           " + runtime.Version(),
		fmt.Sprintf("Platform:     %s/%s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("CPUs:         %d", runtime.NumCPU()),
		"Home:         " + cfg.PdaiHome,
		"Model:        " + cfg.ModelPath(),
		"Model format: " + cfg.ModelFormat,
		"Debug:        " + onOff(m.s.Debug()),
		"Session:      " + m.s.ID.String(),
		fmt.Sprintf("Log dropped:  %d", m.s.Queue().Dropped()),
	}
	return paneStyle.Render(strings.Join(rows, "\n"))
}

func onOff(v bool) string {
	if v {
		return theme.Success.Render("on")
	}
	return theme.Muted.Render("off")
}
