package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ctc/forcemon/internal/grading"
	"github.com/ctc/forcemon/internal/manager"
	"github.com/ctc/forcemon/internal/session"
	"github.com/ctc/forcemon/pkg/force"
)

const barWidth = 30

var (
	colorAccent = lipgloss.Color("#00CC33")
	colorDim    = lipgloss.Color("#5F5F5F")
	colorWarn   = lipgloss.Color("#FFAA00")
	colorBad    = lipgloss.Color("#FF3300")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(0, 1)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	styleName  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleBar   = lipgloss.NewStyle().Foreground(colorAccent)
	styleEmpty = lipgloss.NewStyle().Foreground(colorDim)
	styleHelp  = lipgloss.NewStyle().Foreground(colorDim)

	styleReady = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleBusy  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	styleFail  = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
)

// pollMsg asks for a new round of readings
type pollMsg time.Time

// readingsMsg carries one round of readings, keyed by device name
type readingsMsg map[string]force.Readings

// connectedMsg reports the end of a connect attempt
type connectedMsg struct {
	name string
	ok   bool
}

type deviceRow struct {
	name       string
	readings   force.Readings
	peak       float64
	connecting bool
	failed     bool
}

// watchModel is the live view of every managed device
type watchModel struct {
	mgr      *manager.Manager
	grader   *grading.Grader
	refresh  time.Duration
	maxForce float64
	ctx      context.Context

	rows   []*deviceRow
	width  int
	status string
}

func newWatchModel(ctx context.Context, m *manager.Manager, refresh time.Duration) watchModel {
	cfg := m.Config()
	model := watchModel{
		mgr:      m,
		grader:   grading.New(cfg.Grading),
		refresh:  refresh,
		maxForce: cfg.Simulation.DualMax,
		ctx:      ctx,
	}
	for _, name := range m.Names() {
		model.rows = append(model.rows, &deviceRow{
			name:     name,
			readings: force.Readings{A: force.NA, B: force.NA},
		})
	}
	return model
}

func (m watchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.pollCmd()}
	for _, row := range m.rows {
		row.connecting = true
		cmds = append(cmds, m.connectCmd(row.name))
	}
	return tea.Batch(cmds...)
}

func (m watchModel) connectCmd(name string) tea.Cmd {
	return func() tea.Msg {
		h, ok := m.mgr.Handler(name)
		if !ok {
			return connectedMsg{name: name}
		}
		return connectedMsg{name: name, ok: h.Connect(m.ctx)}
	}
}

func (m watchModel) pollCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// readCmd collects readings off the UI goroutine; one-shot reads may wait up to the read timeout
func (m watchModel) readCmd() tea.Cmd {
	return func() tea.Msg {
		out := make(readingsMsg, len(m.rows))
		for _, h := range m.mgr.Handlers() {
			out[h.Name()] = h.GetBothReadings()
		}
		return out
	}
}

func (m watchModel) row(name string) *deviceRow {
	for _, r := range m.rows {
		if r.name == name {
			return r
		}
	}
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case connectedMsg:
		if row := m.row(msg.name); row != nil {
			row.connecting = false
			row.failed = !msg.ok
		}
		return m, nil

	case pollMsg:
		return m, m.readCmd()

	case readingsMsg:
		for name, r := range msg {
			row := m.row(name)
			if row == nil {
				continue
			}
			row.readings = r
			for _, v := range []force.Value{r.A, r.B} {
				if f, ok := v.Float(); ok && f > row.peak {
					row.peak = f
				}
			}
		}
		return m, m.pollCmd()
	}

	return m, nil
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c", "esc":
		return m, tea.Quit

	case "r", "R":
		for _, row := range m.rows {
			row.peak = 0
			if h, ok := m.mgr.Handler(row.name); ok {
				h.ResetReading()
			}
		}
		m.status = "peaks reset"

	case "c", "C":
		var cmds []tea.Cmd
		for _, row := range m.rows {
			if h, ok := m.mgr.Handler(row.name); ok && !h.IsConnected() && !row.connecting {
				row.connecting = true
				row.failed = false
				cmds = append(cmds, m.connectCmd(row.name))
			}
		}
		m.status = "reconnecting"
		return m, tea.Batch(cmds...)

	case "m", "M":
		for _, h := range m.mgr.Handlers() {
			next := force.Continuous
			if h.Mode() == force.Continuous {
				next = force.OneShot
			}
			if err := h.SetMode(next); err != nil {
				m.status = fmt.Sprintf("%s: mode change failed: %v", h.Name(), err)
				return m, nil
			}
			m.status = "mode " + next.String()
		}
	}

	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	title := "forcemon"
	if m.mgr.Simulated() {
		title += " (simulated)"
	}
	b.WriteString(styleTitle.Render(title))
	b.WriteString("\n")

	panels := make([]string, 0, len(m.rows))
	for _, row := range m.rows {
		panels = append(panels, stylePanel.Render(m.renderRow(row)))
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, panels...)
	if m.width > 0 && lipgloss.Width(body) > m.width {
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	}
	b.WriteString(body)
	b.WriteString("\n")

	help := "q quit · r reset peaks · c reconnect · m toggle mode"
	if m.status != "" {
		help += " · " + m.status
	}
	b.WriteString(styleHelp.Render(help))
	return b.String()
}

func (m watchModel) renderRow(row *deviceRow) string {
	var b strings.Builder

	b.WriteString(styleName.Render(row.name))
	b.WriteString("  ")
	b.WriteString(m.renderState(row))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "A %s %s\n", m.renderBar(row.readings.A), row.readings.A)
	fmt.Fprintf(&b, "B %s %s\n", m.renderBar(row.readings.B), row.readings.B)

	if _, ok := row.readings.A.Float(); ok {
		fmt.Fprintf(&b, "tx %dms  det %dms\n", row.readings.MsSinceTransmit, row.readings.MsSinceDetection)
	} else {
		b.WriteString("\n")
	}

	acc, letter := m.grader.Score(row.peak)
	fmt.Fprintf(&b, "peak %.1f  accuracy %.0f%%  grade %s", row.peak, acc, letter)
	return b.String()
}

func (m watchModel) renderState(row *deviceRow) string {
	h, ok := m.mgr.Handler(row.name)
	switch {
	case !ok:
		return styleFail.Render("unknown")
	case row.connecting:
		return styleBusy.Render("connecting")
	case h.IsConnected():
		return styleReady.Render(h.Mode().String())
	case row.failed || h.State() == session.Failed:
		return styleFail.Render("Connection Failed")
	default:
		return styleBusy.Render(h.State().String())
	}
}

// renderBar draws v on a 0..maxForce scale
func (m watchModel) renderBar(v force.Value) string {
	f, ok := v.Float()
	filled := 0
	if ok && m.maxForce > 0 {
		filled = int(f / m.maxForce * barWidth)
		filled = max(0, min(barWidth, filled))
	}
	return styleBar.Render(strings.Repeat("█", filled)) +
		styleEmpty.Render(strings.Repeat("░", barWidth-filled))
}
