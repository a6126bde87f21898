// Package store persists chains, agents and simulations.
//
// Every implementation must make AppendStep and FinalizeSimulation atomic
// per simulation id: steps from concurrent runs never interleave within
// one simulation, and a finalized simulation is never mutated again.
// Lookups return nil with a nil error when the record does not exist.
package store

import (
	"context"
	"errors"
	"time"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
	"markovsim/internal/record"
)

var (
	ErrChainNotFound       = errors.New("chain not found")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrSimulationNotFound  = errors.New("simulation not found")
	ErrSimulationFinalized = errors.New("simulation already finalized")
	ErrDuplicateID         = errors.New("duplicate id")
)

// ChainStore holds validated chains.
type ChainStore interface {
	CreateChain(ctx context.Context, c *markov.Chain) error
	GetChain(ctx context.Context, id string) (*markov.Chain, error)
	ListChains(ctx context.Context) ([]*markov.Chain, error)
	DeleteChain(ctx context.Context, id string) (bool, error)
}

// AgentStore holds registered agents.
type AgentStore interface {
	CreateAgent(ctx context.Context, a agent.Agent) error
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	ListActiveAgents(ctx context.Context) ([]agent.Agent, error)
	UpdateAgent(ctx context.Context, id string, u agent.Update) (*agent.Agent, error)
	DeleteAgent(ctx context.Context, id string) (bool, error)
}

// SimulationStore holds run records.
type SimulationStore interface {
	CreateSimulation(ctx context.Context, sim *record.Simulation) error
	GetSimulation(ctx context.Context, id string) (*record.Simulation, error)
	ListSimulations(ctx context.Context) ([]record.Summary, error)
	AppendStep(ctx context.Context, id string, step record.Step) (*record.Simulation, error)
	FinalizeSimulation(ctx context.Context, id string, end time.Time) (*record.Simulation, error)
}

// Store is the full persistence contract.
type Store interface {
	ChainStore
	AgentStore
	SimulationStore
	Close() error
}

// Config selects the store implementation.
type Config struct {
	Driver string
	Path   string
}

// Open returns the store named by cfg.Driver ("memory" or "sqlite").
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	}
	return nil, errors.New("unknown store driver " + cfg.Driver)
}
