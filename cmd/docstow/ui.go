package main

import "github.com/charmbracelet/lipgloss"

var colorDisabled bool

var (
	boldStyle  = lipgloss.NewStyle().Bold(true)
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	cyanStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func render(style lipgloss.Style, s string) string {
	if colorDisabled {
		return s
	}
	return style.Render(s)
}

func bold(s string) string  { return render(boldStyle, s) }
func green(s string) string { return render(greenStyle, s) }
func red(s string) string   { return render(redStyle, s) }
func cyan(s string) string  { return render(cyanStyle, s) }
func dim(s string) string   { return render(dimStyle, s) }

func disableColor() { colorDisabled = true }
