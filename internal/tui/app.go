// Package tui provides the live terminal view of a running session.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/plan"
	"github.com/rahul/conductor/internal/sidebar"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	mutedColor   = lipgloss.Color("#6B7280")
	successColor = lipgloss.Color("#28B463")
	errorColor   = lipgloss.Color("#C0392B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	phaseStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// maxFeed bounds the narration history kept on screen.
const maxFeed = 50

type snapshotMsg plan.Snapshot

type narrationMsg conductor.Narration

type doneMsg conductor.Result

// Model is the bubbletea model for one session.
type Model struct {
	cancel   context.CancelFunc
	scenario plan.Scenario
	snapshot plan.Snapshot
	feed     []conductor.Narration
	result   *conductor.Result
	width    int
	height   int
}

// NewModel returns a model that calls cancel when the user quits.
func NewModel(scenario plan.Scenario, cancel context.CancelFunc) *Model {
	return &Model{
		cancel:   cancel,
		scenario: scenario,
		width:    100,
		height:   30,
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case snapshotMsg:
		m.snapshot = plan.Snapshot(msg)
	case narrationMsg:
		m.feed = append(m.feed, conductor.Narration(msg))
		if len(m.feed) > maxFeed {
			m.feed = m.feed[len(m.feed)-maxFeed:]
		}
	case doneMsg:
		res := conductor.Result(msg)
		m.result = &res
		m.snapshot = res.Snapshot
		if res.Outcome == conductor.OutcomeCancelled {
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	var b strings.Builder

	header := titleStyle.Render("Conductor")
	if m.scenario.Query != "" {
		header += " " + lipgloss.NewStyle().Foreground(mutedColor).Render(m.scenario.Query)
	}
	b.WriteString(header + "\n")

	left := m.width * 3 / 5
	if left < 30 {
		left = m.width
	}
	plans := sidebar.RenderTerminal(m.snapshot, left)

	right := m.width - left - 4
	if right >= 20 {
		feed := panelStyle.Width(right).Render(m.renderFeed(right - 2))
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, plans, feed))
	} else {
		b.WriteString(plans)
	}
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderFeed(width int) string {
	if len(m.feed) == 0 {
		return helpStyle.Render("waiting for updates")
	}
	limit := m.height - 6
	if limit < 3 {
		limit = 3
	}
	items := m.feed
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	lines := make([]string, 0, len(items))
	for _, n := range items {
		lines = append(lines, lipgloss.NewStyle().Width(width).Render(
			phaseStyle.Render(fmt.Sprintf("[%s]", n.Phase))+" "+n.Text))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderStatus() string {
	if m.result == nil {
		return helpStyle.Render(fmt.Sprintf("iteration %d · q to stop", m.snapshot.Iteration))
	}
	if m.result.Outcome == conductor.OutcomeCompleted {
		out := lipgloss.NewStyle().Foreground(successColor).Bold(true).Render("plan completed")
		if m.result.Summary != "" {
			out += "\n" + lipgloss.NewStyle().Width(m.width).Render(m.result.Summary)
		}
		return out + "\n" + helpStyle.Render("q to exit")
	}
	msg := "could not continue the plan"
	if m.result.Err != nil {
		msg += ": " + m.result.Err.Error()
	}
	return lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render(msg) + "\n" + helpStyle.Render("q to exit")
}

// Result returns the session result once the run has finished.
func (m *Model) Result() (conductor.Result, bool) {
	if m.result == nil {
		return conductor.Result{}, false
	}
	return *m.result, true
}

// programObserver forwards session events into a running program.
type programObserver struct {
	p *tea.Program
}

func (o programObserver) OnSnapshot(snap plan.Snapshot) { o.p.Send(snapshotMsg(snap)) }

func (o programObserver) OnNarration(n conductor.Narration) { o.p.Send(narrationMsg(n)) }

// Run drives a session on c while showing the live view. Quitting the view
// cancels the session; Run waits for it to stop before returning. The session
// error is carried in Result.Err; the returned error is the program's.
func Run(ctx context.Context, c *conductor.Conductor, scenario plan.Scenario, observers ...conductor.Observer) (conductor.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(scenario, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan conductor.Result, 1)
	go func() {
		res, _ := c.Run(ctx, scenario, append(observers, programObserver{p: p})...)
		p.Send(doneMsg(res))
		done <- res
	}()

	_, err := p.Run()
	cancel()
	res := <-done
	if err != nil {
		return res, fmt.Errorf("run tui: %w", err)
	}
	return res, nil
}
