// Package tui renders a live view of a running solve.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

const historyCapacity = 600

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(2)
)

// Sample is one observed point of the tracked output variable.
type Sample struct {
	T    float64
	V    float64
	Done bool
	Err  error
}

// Model displays one tracked output while the solver runs in the background,
// feeding samples through the channel.
type Model struct {
	cell    string
	output  string
	samples <-chan Sample

	ts, vs []float64
	done   bool
	err    error
}

func NewModel(cell, output string, samples <-chan Sample) Model {
	return Model{
		cell:    cell,
		output:  output,
		samples: samples,
		ts:      make([]float64, 0, historyCapacity),
		vs:      make([]float64, 0, historyCapacity),
	}
}

func (m Model) Init() tea.Cmd {
	return m.wait()
}

func (m Model) wait() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.samples
		if !ok {
			return Sample{Done: true}
		}
		return s
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case Sample:
		if msg.Err != nil {
			m.err = msg.Err
			m.done = true
			return m, nil
		}
		if msg.Done {
			m.done = true
			return m, nil
		}
		m.ts = append(m.ts, msg.T)
		m.vs = append(m.vs, msg.V)
		if len(m.vs) > historyCapacity {
			m.ts = m.ts[1:]
			m.vs = m.vs[1:]
		}
		return m, m.wait()
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.cell)) + "\n")

	status := "SOLVING"
	if m.done {
		status = "DONE"
	}
	if m.err != nil {
		status = "FAILED"
	}
	s.WriteString(status + "\n")

	if len(m.vs) > 1 {
		chart := asciigraph.Plot(m.vs,
			asciigraph.Height(10),
			asciigraph.Width(60),
			asciigraph.Caption(m.output))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}

	if len(m.ts) > 0 {
		last := len(m.ts) - 1
		s.WriteString(labelStyle.Render("Time") + valueStyle.Render(fmt.Sprintf("%.2fs", m.ts[last])) + "\n")
		s.WriteString(labelStyle.Render(m.output) + valueStyle.Render(fmt.Sprintf("%.4f", m.vs[last])) + "\n")
	}

	if m.err != nil {
		s.WriteString(errStyle.Render(m.err.Error()) + "\n")
	}

	s.WriteString(helpStyle.Render("Q:Quit"))
	return s.String()
}
