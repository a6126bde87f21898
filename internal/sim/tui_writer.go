package sim

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"markovsim/internal/record"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// stepMsg carries a recorded step to the model.
type stepMsg struct{ record.StepRow }

// simulationMsg reports a finished simulation.
type simulationMsg struct{ record.Simulation }

// TUIWriter renders steps and per-agent statistics using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(title string) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(title), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteStep implements StepWriter.
func (w *TUIWriter) WriteStep(row record.StepRow) error {
	w.program.Send(stepMsg{row})
	return nil
}

// WriteSimulation implements SimulationWriter.
func (w *TUIWriter) WriteSimulation(sim record.Simulation) error {
	w.program.Send(simulationMsg{sim})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	title        string
	table        table.Model
	vp           viewport.Model
	logs         []string
	stats        statsCollector
	steps        int
	finished     int
	wrap         bool
	autoscroll   bool
	help         bool
	header       string
	headerHeight int
	height       int
}

var (
	tuiTitleStyle  = lipgloss.NewStyle().Bold(true)
	tuiDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	tuiFailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	tuiFinishStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
)

func newTUIModel(title string) tuiModel {
	cols := []table.Column{
		{Title: "Agent", Width: 20},
		{Title: "Resp", Width: 6},
		{Title: "Fail", Width: 6},
		{Title: "T/O", Width: 5},
		{Title: "Avg ms", Width: 8},
		{Title: "Statuses", Width: 18},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(5))
	m := tuiModel{
		title:      title,
		table:      t,
		vp:         viewport.New(0, 0),
		stats:      statsCollector{},
		autoscroll: true,
	}
	m.header = m.renderHeader()
	m.headerHeight = lipgloss.Height(m.header)
	return m
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "h", "?", "esc":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "h", "?":
			m.help = true
		default:
			if !m.autoscroll {
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
	case stepMsg:
		m.steps++
		m.stats.add(msg.Step)
		m.logs = append(m.logs, formatStepLine(msg.StepRow))
		m.refreshTable()
		m.refreshViewport()
	case simulationMsg:
		m.finished++
		line := fmt.Sprintf("simulation %s finished: %d steps", shortID(msg.ID), msg.TotalSteps())
		if d := msg.Duration(); d != nil {
			line += " in " + d.Round(time.Millisecond).String()
		}
		m.logs = append(m.logs, tuiFinishStyle.Render(line))
		m.refreshViewport()
	}
	return m, nil
}

func formatStepLine(row record.StepRow) string {
	st := row.Step
	line := fmt.Sprintf("%s sim=%s #%04d %s %s responses=%d avg=%.1fms",
		tuiDimStyle.Render(st.Timestamp.Format("15:04:05")),
		shortID(row.SimulationID), row.Index, st.StateName, st.Method,
		len(st.Responses), avgLatency(st))
	if len(st.Failures) > 0 {
		line += " " + tuiFailStyle.Render(fmt.Sprintf("failures=%d", len(st.Failures)))
	}
	return line
}

func (m *tuiModel) refreshTable() {
	stats := m.stats.sorted()
	rows := make([]table.Row, 0, len(stats))
	for _, a := range stats {
		rows = append(rows, table.Row{
			a.AgentName,
			fmt.Sprintf("%d", a.Responses),
			fmt.Sprintf("%d", a.Failures),
			fmt.Sprintf("%d", a.Timeouts),
			fmt.Sprintf("%.1f", a.AvgLatencyMS()),
			a.Statuses(),
		})
	}
	m.table.SetRows(rows)
	m.header = m.renderHeader()
	m.headerHeight = lipgloss.Height(m.header)
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - m.headerHeight - lipgloss.Height(m.renderBottom()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{m.header, divider, m.vp.View(), divider, m.renderBottom()}, "\n")
}

func (m tuiModel) renderHeader() string {
	return tuiTitleStyle.Render(m.title) + "\n" + m.table.View()
}

func (m tuiModel) renderBottom() string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return tuiDimStyle.Render(fmt.Sprintf("steps=%d simulations=%d agents=%d wrap=%s autoscroll=%s  h: help",
		m.steps, m.finished, len(m.stats), onOff(m.wrap), onOff(m.autoscroll)))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for step lines",
		" s  toggle auto-scroll",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
