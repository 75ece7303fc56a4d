package cli

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	// DangerStyle marks destructive actions
	DangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// MutedStyle marks secondary details
	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// RenderTable renders rows under headers with rounded borders
func RenderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

// Confirm asks a yes/no question unless the context was started with --yes
func (c *Context) Confirm(title, description string) (bool, error) {
	if c.Yes {
		return true, nil
	}
	ok := false
	confirm := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	confirm.WithTheme(huh.ThemeBase())
	if err := confirm.Run(); err != nil {
		return false, err
	}
	return ok, nil
}
