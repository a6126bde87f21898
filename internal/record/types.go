// Package record holds the run records produced by a simulation.
package record

import (
	"encoding/json"
	"time"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
)

// Failure notes an agent that produced no response during a step.
type Failure struct {
	AgentID   string  `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	Error     string  `json:"error"`
	Timeout   bool    `json:"timeout"`
	LatencyMS float64 `json:"latency_ms"`
}

// Step is one visited state: the broadcast action and what came back.
// Responses are in completion order.
type Step struct {
	StateName string           `json:"state_name"`
	Method    markov.Method    `json:"http_method"`
	Payload   map[string]any   `json:"payload"`
	Responses []agent.Response `json:"agent_responses"`
	Failures  []Failure        `json:"agent_failures,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Clone returns a copy that shares no slices with s.
func (s Step) Clone() Step {
	cp := s
	cp.Payload = markov.ClonePayload(s.Payload)
	cp.Responses = append([]agent.Response(nil), s.Responses...)
	if cp.Responses == nil {
		cp.Responses = []agent.Response{}
	}
	cp.Failures = append([]Failure(nil), s.Failures...)
	return cp
}

// Simulation is one run over a chain. EndTime stays nil until finalized.
type Simulation struct {
	ID        string     `json:"id"`
	ChainID   string     `json:"chain_id"`
	Steps     []Step     `json:"steps"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

// TotalSteps returns the number of recorded steps.
func (s *Simulation) TotalSteps() int { return len(s.Steps) }

// Finalized reports whether the run has completed.
func (s *Simulation) Finalized() bool { return s.EndTime != nil }

// Duration returns the run length, or nil until finalized.
func (s *Simulation) Duration() *time.Duration {
	if s.EndTime == nil {
		return nil
	}
	d := s.EndTime.Sub(s.StartTime)
	return &d
}

// Clone returns a deep copy.
func (s *Simulation) Clone() *Simulation {
	cp := *s
	cp.Steps = make([]Step, len(s.Steps))
	for i, st := range s.Steps {
		cp.Steps[i] = st.Clone()
	}
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// Summary returns the list view of the run.
func (s *Simulation) Summary() Summary {
	sum := Summary{
		ID:         s.ID,
		ChainID:    s.ChainID,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		TotalSteps: len(s.Steps),
	}
	if d := s.Duration(); d != nil {
		secs := d.Seconds()
		sum.DurationSeconds = &secs
	}
	return sum
}

type simulationJSON struct {
	ID              string     `json:"id"`
	ChainID         string     `json:"chain_id"`
	Steps           []Step     `json:"steps"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TotalSteps      int        `json:"total_steps"`
	DurationSeconds *float64   `json:"duration_seconds"`
}

// MarshalJSON adds the derived total_steps and duration_seconds fields.
func (s Simulation) MarshalJSON() ([]byte, error) {
	steps := s.Steps
	if steps == nil {
		steps = []Step{}
	}
	out := simulationJSON{
		ID:         s.ID,
		ChainID:    s.ChainID,
		Steps:      steps,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		TotalSteps: len(s.Steps),
	}
	if d := s.Duration(); d != nil {
		secs := d.Seconds()
		out.DurationSeconds = &secs
	}
	return json.Marshal(out)
}

// Summary is a simulation without its steps.
type Summary struct {
	ID              string     `json:"id"`
	ChainID         string     `json:"chain_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TotalSteps      int        `json:"total_steps"`
	DurationSeconds *float64   `json:"duration_seconds"`
}

// StepRow is a step tagged with its run, as handed to output writers.
type StepRow struct {
	SimulationID string `json:"simulation_id"`
	ChainID      string `json:"chain_id"`
	Index        int    `json:"index"`
	Step         Step   `json:"step"`
}
