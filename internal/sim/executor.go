package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
	"markovsim/internal/record"
)

// Notifier delivers one state action to one agent.
type Notifier interface {
	Notify(ctx context.Context, a agent.Agent, method markov.Method, payload map[string]any, timeout time.Duration) (agent.Response, error)
}

// StepExecutor broadcasts a state's action to a set of agents and gathers
// the responses into a step record.
type StepExecutor struct {
	Notifier Notifier
	// Timeout bounds each notification. Zero means agent.DefaultTimeout.
	Timeout time.Duration
	// MaxConcurrency caps in-flight notifications. Zero means one goroutine
	// per agent with no cap.
	MaxConcurrency int
	Logger         *slog.Logger

	now func() time.Time
}

// NewStepExecutor returns an executor using n with the default timeout.
func NewStepExecutor(n Notifier) *StepExecutor {
	return &StepExecutor{Notifier: n, Timeout: agent.DefaultTimeout}
}

type notifyResult struct {
	agent agent.Agent
	resp  agent.Response
	err   error
}

// Execute notifies every agent concurrently and waits for all of them.
// Successful responses are recorded in completion order; failed agents are
// logged and listed in Step.Failures, never in Step.Responses.
func (e *StepExecutor) Execute(ctx context.Context, state *markov.State, agents []agent.Agent) record.Step {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = agent.DefaultTimeout
	}

	step := record.Step{
		StateName: state.Name,
		Method:    state.Method,
		Payload:   markov.ClonePayload(state.Payload),
		Responses: make([]agent.Response, 0, len(agents)),
		Timestamp: now().UTC(),
	}
	if len(agents) == 0 {
		return step
	}

	var sem *semaphore.Weighted
	if e.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(e.MaxConcurrency))
	}

	results := make(chan notifyResult, len(agents))
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a agent.Agent) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					results <- notifyResult{agent: a, err: err}
					return
				}
				defer sem.Release(1)
			}
			resp, err := e.Notifier.Notify(ctx, a, step.Method, step.Payload, timeout)
			results <- notifyResult{agent: a, resp: resp, err: err}
		}(a)
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err == nil {
			step.Responses = append(step.Responses, r.resp)
			continue
		}
		f := record.Failure{
			AgentID:   r.agent.ID,
			AgentName: r.agent.Name,
			Error:     r.err.Error(),
			Timeout:   isTimeout(r.err),
			LatencyMS: failureLatency(r.err),
		}
		step.Failures = append(step.Failures, f)
		logger.Warn("agent notification failed",
			"agent_id", f.AgentID,
			"agent_name", f.AgentName,
			"state", step.StateName,
			"timeout", f.Timeout,
			"latency_ms", f.LatencyMS,
			"err", r.err)
	}
	return step
}

func isTimeout(err error) bool {
	var ne *agent.NotificationError
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func failureLatency(err error) float64 {
	var ne *agent.NotificationError
	if errors.As(err, &ne) {
		return ne.LatencyMS
	}
	return 0
}
