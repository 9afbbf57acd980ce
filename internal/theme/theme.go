// Package theme holds the colors and text styles shared by the line-mode
// and window front ends.
package theme

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	ColorRed      lipgloss.Color = "#f38ba8"
	ColorPeach    lipgloss.Color = "#fab387"
	ColorYellow   lipgloss.Color = "#f9e2af"
	ColorGreen    lipgloss.Color = "#a6e3a1"
	ColorBlue     lipgloss.Color = "#89b4fa"
	ColorText     lipgloss.Color = "#cdd6f4"
	ColorSubtext0 lipgloss.Color = "#a6adc8"
	ColorOverlay1 lipgloss.Color = "#7f849c"
	ColorSurface1 lipgloss.Color = "#45475a"
)

var (
	Error   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	Warning = lipgloss.NewStyle().Foreground(ColorYellow)
	Success = lipgloss.NewStyle().Foreground(ColorGreen)
	Accent  = lipgloss.NewStyle().Foreground(ColorBlue).Bold(true)
	Muted   = lipgloss.NewStyle().Foreground(ColorOverlay1)
	Body    = lipgloss.NewStyle().Foreground(ColorText)
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// ClassStyle colors a predicted class name.
func ClassStyle(positive bool) lipgloss.Style {
	if positive {
		return Error
	}
	return Success
}

// Banner is printed when a session starts and after clear.
func Banner(title string) string {
	var b strings.Builder
	b.WriteString(Accent.Render(title) + " " + Muted.Render("v"+Version) + "\n")
	b.WriteString(Muted.Render(fmt.Sprintf("%s %s/%s, %d CPUs", runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())))
	return b.String()
}
