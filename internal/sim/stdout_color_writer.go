// ColorStdoutWriter prints human-friendly, colorized steps to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"markovsim/internal/markov"
	"markovsim/internal/record"
)

var simPalette = []lipgloss.Color{"1", "2", "3", "4", "5", "6"}

var methodColors = map[markov.Method]lipgloss.Color{
	markov.MethodGet:    "2",
	markov.MethodPost:   "4",
	markov.MethodPut:    "3",
	markov.MethodDelete: "1",
	markov.MethodPatch:  "5",
}

// ColorStdoutWriter prints one styled line per step and a per-agent table
// when a simulation completes.
type ColorStdoutWriter struct {
	mu        sync.Mutex
	out       io.Writer
	r         *lipgloss.Renderer
	simColors map[string]lipgloss.Style
	colorIdx  int
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter() *ColorStdoutWriter {
	return newColorWriter(os.Stdout)
}

func newColorWriter(out io.Writer) *ColorStdoutWriter {
	return &ColorStdoutWriter{
		out:       out,
		r:         lipgloss.NewRenderer(out),
		simColors: make(map[string]lipgloss.Style),
	}
}

func (w *ColorStdoutWriter) simStyle(id string) lipgloss.Style {
	if s, ok := w.simColors[id]; ok {
		return s
	}
	s := w.r.NewStyle().Foreground(simPalette[w.colorIdx%len(simPalette)])
	w.simColors[id] = s
	w.colorIdx++
	return s
}

func (w *ColorStdoutWriter) methodStyle(m markov.Method) lipgloss.Style {
	return w.r.NewStyle().Bold(true).Foreground(methodColors[m])
}

// WriteStep outputs a single step in colorized format.
func (w *ColorStdoutWriter) WriteStep(row record.StepRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	gray := w.r.NewStyle().Foreground(lipgloss.Color("8"))
	st := row.Step
	fmt.Fprintf(w.out, "%s %s %s %s %s",
		gray.Render("["+st.Timestamp.Format(time.RFC3339)+"]"),
		w.simStyle(row.SimulationID).Render("sim="+shortID(row.SimulationID)),
		gray.Render(fmt.Sprintf("#%04d", row.Index)),
		w.r.NewStyle().Bold(true).Render(st.StateName),
		w.methodStyle(st.Method).Render(string(st.Method)),
	)
	fmt.Fprintf(w.out, " %s", w.r.NewStyle().Foreground(lipgloss.Color("6")).Render(fmt.Sprintf("responses=%d", len(st.Responses))))
	if len(st.Failures) > 0 {
		fmt.Fprintf(w.out, " %s", w.r.NewStyle().Foreground(lipgloss.Color("1")).Render(fmt.Sprintf("failures=%d", len(st.Failures))))
	}
	fmt.Fprintf(w.out, " %s\n", w.r.NewStyle().Foreground(lipgloss.Color("3")).Render(fmt.Sprintf("avg=%.1fms", avgLatency(st))))
	return nil
}

// WriteSimulation prints the run summary and per-agent statistics.
func (w *ColorStdoutWriter) WriteSimulation(sim record.Simulation) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	title := w.r.NewStyle().Bold(true).Underline(true)
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, title.Render("Simulation "+sim.ID))
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Chain:\t%s\n", sim.ChainID)
	fmt.Fprintf(tw, "Steps:\t%d\n", sim.TotalSteps())
	if d := sim.Duration(); d != nil {
		fmt.Fprintf(tw, "Duration:\t%s\n", d.Round(time.Millisecond))
	}
	tw.Flush()

	stats := SummarizeAgents(sim)
	if len(stats) == 0 {
		fmt.Fprintln(w.out, "\nNo agents were notified.")
		return nil
	}
	fmt.Fprintln(w.out, "\nAgents:")
	tw = tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Agent\tResponses\tFailures\tTimeouts\tAvg Latency\tStatuses\n")
	for _, a := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1fms\t%s\n",
			a.AgentName, a.Responses, a.Failures, a.Timeouts, a.AvgLatencyMS(), a.Statuses())
	}
	tw.Flush()
	return nil
}
