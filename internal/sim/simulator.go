// Simulator driving probabilistic walks over Markov chains
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"markovsim/internal/markov"
	"markovsim/internal/record"
	"markovsim/internal/store"
)

// ErrInvalidStepCount is returned when a run asks for fewer than one step
// or more than the configured maximum.
var ErrInvalidStepCount = errors.New("invalid step count")

// Simulator walks a stored chain for a fixed number of steps, broadcasting
// every visited state to the active agents and persisting each step.
type Simulator struct {
	store    store.Store
	executor *StepExecutor
	writer   StepWriter

	// MaxSteps caps numSteps when positive.
	MaxSteps int
	// Seed makes every run reproducible when non-zero.
	Seed   int64
	Logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewSimulator creates a Simulator. writer may be nil.
func NewSimulator(st store.Store, exec *StepExecutor, writer StepWriter) *Simulator {
	return &Simulator{
		store:    st,
		executor: exec,
		writer:   writer,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetWriter replaces the step writer. It must not be called while runs are
// in progress.
func (s *Simulator) SetWriter(w StepWriter) { s.writer = w }

func (s *Simulator) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Simulator) newRand() *rand.Rand {
	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Run executes numSteps steps of the chain and returns the finalized
// simulation. Once the simulation record exists the run completes even if
// ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, chainID string, numSteps int) (*record.Simulation, error) {
	if numSteps < 1 || (s.MaxSteps > 0 && numSteps > s.MaxSteps) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStepCount, numSteps)
	}

	chain, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", chainID, err)
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrChainNotFound, chainID)
	}

	agents, err := s.store.ListActiveAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}

	runCtx := context.WithoutCancel(ctx)
	sim := &record.Simulation{
		ID:        s.newID(),
		ChainID:   chain.ID(),
		Steps:     []record.Step{},
		StartTime: s.now().UTC(),
	}
	if err := s.store.CreateSimulation(runCtx, sim); err != nil {
		return nil, fmt.Errorf("create simulation: %w", err)
	}

	logger := s.logger().With("simulation_id", sim.ID, "chain_id", chain.ID())
	logger.Info("simulation started", "steps", numSteps, "agents", len(agents), "initial_state", chain.InitialState())

	rng := s.newRand()
	current := chain.InitialState()
	for i := 0; i < numSteps; i++ {
		state, ok := chain.State(current)
		if !ok {
			log.Panicf("chain %s has no state %q", chain.ID(), current)
		}

		step := s.executor.Execute(runCtx, state, agents)
		updated, err := s.store.AppendStep(runCtx, sim.ID, step)
		if err != nil {
			return nil, fmt.Errorf("append step %d: %w", i, err)
		}
		if updated == nil {
			log.Panicf("simulation %s vanished while appending step %d", sim.ID, i)
		}
		logger.Debug("step recorded", "index", i, "state", step.StateName,
			"responses", len(step.Responses), "failures", len(step.Failures))

		if s.writer != nil {
			row := record.StepRow{SimulationID: sim.ID, ChainID: chain.ID(), Index: i, Step: step}
			if err := s.writer.WriteStep(row); err != nil {
				logger.Warn("step writer failed", "index", i, "err", err)
			}
		}

		current = markov.NextState(state, rng)
	}

	final, err := s.store.FinalizeSimulation(runCtx, sim.ID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("finalize simulation: %w", err)
	}
	if final == nil {
		log.Panicf("simulation %s vanished before finalize", sim.ID)
	}

	if sw, ok := s.writer.(SimulationWriter); ok {
		if err := sw.WriteSimulation(*final); err != nil {
			logger.Warn("simulation writer failed", "err", err)
		}
	}
	logger.Info("simulation finished", "steps", final.TotalSteps(), "duration", *final.Duration())
	return final, nil
}
