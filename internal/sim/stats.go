package sim

import (
	"fmt"
	"sort"
	"strings"

	"markovsim/internal/record"
)

// AgentStats aggregates one agent's results over a set of steps.
type AgentStats struct {
	AgentID     string
	AgentName   string
	Responses   int
	Failures    int
	Timeouts    int
	TotalMS     float64
	StatusCount map[int]int
}

// AvgLatencyMS returns the mean latency of successful notifications.
func (a AgentStats) AvgLatencyMS() float64 {
	if a.Responses == 0 {
		return 0
	}
	return a.TotalMS / float64(a.Responses)
}

// Statuses renders the status histogram as "200x3 500x1".
func (a AgentStats) Statuses() string {
	codes := make([]int, 0, len(a.StatusCount))
	for c := range a.StatusCount {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, fmt.Sprintf("%dx%d", c, a.StatusCount[c]))
	}
	return strings.Join(parts, " ")
}

// statsCollector accumulates AgentStats keyed by agent id.
type statsCollector map[string]*AgentStats

func (c statsCollector) entry(id, name string) *AgentStats {
	s, ok := c[id]
	if !ok {
		s = &AgentStats{AgentID: id, AgentName: name, StatusCount: make(map[int]int)}
		c[id] = s
	}
	return s
}

func (c statsCollector) add(step record.Step) {
	for _, r := range step.Responses {
		s := c.entry(r.AgentID, r.AgentName)
		s.Responses++
		s.TotalMS += r.LatencyMS
		s.StatusCount[r.HTTPStatus]++
	}
	for _, f := range step.Failures {
		s := c.entry(f.AgentID, f.AgentName)
		s.Failures++
		if f.Timeout {
			s.Timeouts++
		}
	}
}

func (c statsCollector) sorted() []AgentStats {
	out := make([]AgentStats, 0, len(c))
	for _, s := range c {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentName == out[j].AgentName {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].AgentName < out[j].AgentName
	})
	return out
}

// SummarizeAgents computes per-agent statistics for a simulation.
func SummarizeAgents(sim record.Simulation) []AgentStats {
	c := statsCollector{}
	for _, st := range sim.Steps {
		c.add(st)
	}
	return c.sorted()
}

func avgLatency(step record.Step) float64 {
	if len(step.Responses) == 0 {
		return 0
	}
	var total float64
	for _, r := range step.Responses {
		total += r.LatencyMS
	}
	return total / float64(len(step.Responses))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
