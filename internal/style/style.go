package style

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorBlue      = lipgloss.Color("57")
	colorCyan      = lipgloss.Color("212")
	colorPurple    = lipgloss.Color("99")
	colorRed       = lipgloss.Color("196")
	colorGreen     = lipgloss.Color("42")
)

// --- General Purpose Styles ---
var (
	ErrorStyle = lipgloss.NewStyle().Foreground(colorRed)
	HelpStyle  = lipgloss.NewStyle().Faint(true)
	DocStyle   = lipgloss.NewStyle().Margin(1, 2)
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
)

// --- Call Screen Styles ---
var (
	HeaderStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StatusStyle    = lipgloss.NewStyle().Foreground(colorCyan)
	ConnectedStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	LocalStyle     = lipgloss.NewStyle().Foreground(colorLightGray)
	RemoteStyle    = lipgloss.NewStyle().Foreground(colorPurple)
	GestureStyle   = lipgloss.NewStyle().Foreground(colorCyan).Italic(true)
	PanelStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray).Padding(0, 1)
	ToastStyle     = lipgloss.NewStyle().Foreground(colorLightGray).Background(colorBlue).Padding(0, 1)
)

// --- Dialogs ---
var (
	PromptStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorPink).
			Padding(1, 2)
	FatalStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(colorRed).
			Padding(1, 2)
)

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

// Truncate cuts s to width terminal cells, ending in an ellipsis when it had
// to cut. A non-positive width leaves s alone.
func Truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// PadRight pads or truncates str to exactly width cells.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "…")
	}
	return str + strings.Repeat(" ", width-w)
}
