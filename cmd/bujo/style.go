package main

import "github.com/charmbracelet/lipgloss"

// styles renders status words; on a non-terminal every style is plain.
type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	pass  lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	skip  lipgloss.Style
	faint lipgloss.Style
}

func newStyles(tty bool) styles {
	if !tty {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		label: lipgloss.NewStyle().Bold(true),
		pass:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		fail:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		skip:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		faint: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// status styles a doctor status word.
func (s styles) status(v string) string {
	switch v {
	case "PASS":
		return s.pass.Render(v)
	case "WARN":
		return s.warn.Render(v)
	case "FAIL":
		return s.fail.Render(v)
	default:
		return s.skip.Render(v)
	}
}
