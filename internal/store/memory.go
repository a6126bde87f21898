package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
	"markovsim/internal/record"
)

var _ Store = (*Memory)(nil)

// Memory implements Store in process memory for tests and ephemeral runs.
type Memory struct {
	mu          sync.RWMutex
	chains      map[string]*markov.Chain
	chainOrder  []string
	agents      map[string]agent.Agent
	agentOrder  []string
	simulations map[string]*record.Simulation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chains:      make(map[string]*markov.Chain),
		agents:      make(map[string]agent.Agent),
		simulations: make(map[string]*record.Simulation),
	}
}

// CreateChain stores c. Chains are immutable so the pointer is shared.
func (m *Memory) CreateChain(ctx context.Context, c *markov.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chains[c.ID()]; exists {
		return fmt.Errorf("chain %s: %w", c.ID(), ErrDuplicateID)
	}
	m.chains[c.ID()] = c
	m.chainOrder = append(m.chainOrder, c.ID())
	return nil
}

// GetChain returns the chain or nil.
func (m *Memory) GetChain(ctx context.Context, id string) (*markov.Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chains[id], nil
}

// ListChains returns chains in creation order.
func (m *Memory) ListChains(ctx context.Context) ([]*markov.Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*markov.Chain, 0, len(m.chainOrder))
	for _, id := range m.chainOrder {
		out = append(out, m.chains[id])
	}
	return out, nil
}

// DeleteChain removes a chain.
func (m *Memory) DeleteChain(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[id]; !ok {
		return false, nil
	}
	delete(m.chains, id)
	m.chainOrder = removeID(m.chainOrder, id)
	return true, nil
}

// CreateAgent stores a.
func (m *Memory) CreateAgent(ctx context.Context, a agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[a.ID]; exists {
		return fmt.Errorf("agent %s: %w", a.ID, ErrDuplicateID)
	}
	m.agents[a.ID] = a
	m.agentOrder = append(m.agentOrder, a.ID)
	return nil
}

// GetAgent returns the agent or nil.
func (m *Memory) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// ListAgents returns every agent in registration order.
func (m *Memory) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	return m.listAgents(false), nil
}

// ListActiveAgents returns active agents in registration order.
func (m *Memory) ListActiveAgents(ctx context.Context) ([]agent.Agent, error) {
	return m.listAgents(true), nil
}

func (m *Memory) listAgents(activeOnly bool) []agent.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]agent.Agent, 0, len(m.agentOrder))
	for _, id := range m.agentOrder {
		a := m.agents[id]
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	return out
}

// UpdateAgent applies u and returns the result, or nil when absent.
func (m *Memory) UpdateAgent(ctx context.Context, id string, u agent.Update) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	updated, err := u.Apply(a)
	if err != nil {
		return nil, err
	}
	m.agents[id] = updated
	return &updated, nil
}

// DeleteAgent removes an agent.
func (m *Memory) DeleteAgent(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return false, nil
	}
	delete(m.agents, id)
	m.agentOrder = removeID(m.agentOrder, id)
	return true, nil
}

// CreateSimulation stores a copy of sim.
func (m *Memory) CreateSimulation(ctx context.Context, sim *record.Simulation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.simulations[sim.ID]; exists {
		return fmt.Errorf("simulation %s: %w", sim.ID, ErrDuplicateID)
	}
	m.simulations[sim.ID] = sim.Clone()
	return nil
}

// GetSimulation returns a copy of the simulation or nil.
func (m *Memory) GetSimulation(ctx context.Context, id string) (*record.Simulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sim, ok := m.simulations[id]
	if !ok {
		return nil, nil
	}
	return sim.Clone(), nil
}

// ListSimulations returns summaries, newest first.
func (m *Memory) ListSimulations(ctx context.Context) ([]record.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]record.Summary, 0, len(m.simulations))
	for _, sim := range m.simulations {
		out = append(out, sim.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

// AppendStep adds step to the end of the simulation.
func (m *Memory) AppendStep(ctx context.Context, id string, step record.Step) (*record.Simulation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sim, ok := m.simulations[id]
	if !ok {
		return nil, nil
	}
	if sim.Finalized() {
		return nil, fmt.Errorf("simulation %s: %w", id, ErrSimulationFinalized)
	}
	sim.Steps = append(sim.Steps, step.Clone())
	return sim.Clone(), nil
}

// FinalizeSimulation sets the end time.
func (m *Memory) FinalizeSimulation(ctx context.Context, id string, end time.Time) (*record.Simulation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sim, ok := m.simulations[id]
	if !ok {
		return nil, nil
	}
	if sim.Finalized() {
		return nil, fmt.Errorf("simulation %s: %w", id, ErrSimulationFinalized)
	}
	sim.EndTime = &end
	return sim.Clone(), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
