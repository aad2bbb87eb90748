package sidebar

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/plan"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	taskNameStyle = lipgloss.NewStyle().Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorAgent)).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Italic(true)
)

const (
	minCardWidth = 24
	maxCardWidth = 72
)

func dot(color string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("●")
}

// RenderTerminal renders the snapshot as bordered task cards. A width of zero
// or less uses the width of stdout.
func RenderTerminal(snap plan.Snapshot, width int) string {
	if width <= 0 {
		width = observability.TermWidth()
	}
	cardWidth := width - 2
	if cardWidth > maxCardWidth {
		cardWidth = maxCardWidth
	}
	if cardWidth < minCardWidth {
		cardWidth = minCardWidth
	}
	inner := cardWidth - 4

	var b strings.Builder
	title := "Plan"
	if snap.Plan.Overall != "" {
		title += " · " + snap.Plan.Overall
	}
	if snap.Iteration > 0 {
		title += fmt.Sprintf(" · iteration %d", snap.Iteration)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if len(snap.Plan.Tasks) == 0 {
		b.WriteString(mutedStyle.Render("  no plan yet"))
		b.WriteString("\n")
		return b.String()
	}

	for i, t := range snap.Plan.Tasks {
		banner := lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color(BannerColor(t.Status))).
			Width(inner).
			Align(lipgloss.Center).
			Render(fmt.Sprintf("Task %d", i+1))

		lines := []string{
			banner,
			dot(DotColor(t.DisplayStatus())) + " " + taskNameStyle.Width(inner-2).Render(orDefault(t.Description, "Unnamed Task")),
		}
		for _, st := range t.Subtasks {
			lines = append(lines,
				"  "+dot(DotColor(st.Status))+" "+agentStyle.Render(orDefault(st.AgentName, "No Agent")+":"),
				lipgloss.NewStyle().PaddingLeft(4).Width(inner).Render(orDefault(st.Description, "Unnamed Subtask")),
			)
		}
		if n := len(t.Subtasks); n > 0 && t.Subtasks[n-1].Observation != "" {
			lines = append(lines, mutedStyle.Width(inner).Render("memory: "+t.Subtasks[n-1].Observation))
		}

		b.WriteString(cardStyle.
			BorderForeground(lipgloss.Color(BannerColor(t.Status))).
			Width(cardWidth - 2).
			Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
		b.WriteString("\n")
	}
	return b.String()
}
