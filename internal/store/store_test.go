package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
	"markovsim/internal/record"
)

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "markovsim.db"))
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func testChain(t *testing.T, name string) *markov.Chain {
	t.Helper()
	c, err := markov.New(markov.Draft{
		Name:         name,
		InitialState: "home",
		States: map[string]markov.StateDraft{
			"home": {Method: "GET", Payload: map[string]any{"page": "home"}, Transitions: markov.Transitions{
				{Target: "cart", Weight: 0.4}, {Target: "home", Weight: 0.6},
			}},
			"cart": {Method: "POST", Payload: map[string]any{"qty": float64(2)}, Transitions: markov.Transitions{
				{Target: "home", Weight: 1},
			}},
		},
	})
	if err != nil {
		t.Fatalf("markov.New: %v", err)
	}
	return c
}

func TestChainCRUD(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, b := testChain(t, "a"), testChain(t, "b")
		for _, c := range []*markov.Chain{a, b} {
			if err := s.CreateChain(ctx, c); err != nil {
				t.Fatalf("CreateChain: %v", err)
			}
		}
		if err := s.CreateChain(ctx, a); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("expected ErrDuplicateID, got %v", err)
		}

		got, err := s.GetChain(ctx, a.ID())
		if err != nil || got == nil {
			t.Fatalf("GetChain: %v %v", got, err)
		}
		home, _ := got.State("home")
		if w, _ := home.Transitions.Weight("cart"); w != 0.4 {
			t.Fatalf("cart weight = %v", w)
		}
		if home.Transitions[0].Target != "cart" {
			t.Fatalf("edge order lost: %+v", home.Transitions)
		}

		list, err := s.ListChains(ctx)
		if err != nil || len(list) != 2 || list[0].ID() != a.ID() {
			t.Fatalf("ListChains: %v %v", list, err)
		}

		missing, err := s.GetChain(ctx, "nope")
		if err != nil || missing != nil {
			t.Fatalf("expected nil for missing chain, got %v %v", missing, err)
		}

		ok, err := s.DeleteChain(ctx, a.ID())
		if err != nil || !ok {
			t.Fatalf("DeleteChain: %v %v", ok, err)
		}
		ok, _ = s.DeleteChain(ctx, a.ID())
		if ok {
			t.Fatalf("second delete should report false")
		}
	})
}

func TestStoredChainSurvivesReaderEdits(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := testChain(t, "a")
		if err := s.CreateChain(ctx, c); err != nil {
			t.Fatalf("CreateChain: %v", err)
		}
		got, _ := s.GetChain(ctx, c.ID())
		home, _ := got.State("home")
		home.Transitions[0].Weight = 7
		home.Transitions = append(home.Transitions, markov.Transition{Target: "nowhere", Weight: 1})
		home.Payload["page"] = "changed"

		again, _ := s.GetChain(ctx, c.ID())
		h, _ := again.State("home")
		if w, _ := h.Transitions.Weight("cart"); w != 0.4 || len(h.Transitions) != 2 {
			t.Fatalf("stored transitions changed: %+v", h.Transitions)
		}
		if h.Payload["page"] != "home" {
			t.Fatalf("stored payload changed: %v", h.Payload)
		}
	})
}

func TestAgentCRUD(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a1, _ := agent.New("http://localhost:9001", "one", "first")
		a2, _ := agent.New("http://localhost:9002", "two", "")
		for _, a := range []agent.Agent{a1, a2} {
			if err := s.CreateAgent(ctx, a); err != nil {
				t.Fatalf("CreateAgent: %v", err)
			}
		}

		inactive := false
		updated, err := s.UpdateAgent(ctx, a2.ID, agent.Update{Active: &inactive})
		if err != nil || updated == nil || updated.Active {
			t.Fatalf("UpdateAgent: %+v %v", updated, err)
		}
		active, err := s.ListActiveAgents(ctx)
		if err != nil || len(active) != 1 || active[0].ID != a1.ID {
			t.Fatalf("ListActiveAgents: %+v %v", active, err)
		}
		all, _ := s.ListAgents(ctx)
		if len(all) != 2 {
			t.Fatalf("ListAgents returned %d", len(all))
		}

		got, _ := s.GetAgent(ctx, a1.ID)
		if got == nil || got.Description != "first" || !got.CreatedAt.Equal(a1.CreatedAt) {
			t.Fatalf("GetAgent: %+v", got)
		}

		none, err := s.UpdateAgent(ctx, "missing", agent.Update{Active: &inactive})
		if err != nil || none != nil {
			t.Fatalf("expected nil update for missing agent, got %v %v", none, err)
		}
		ok, _ := s.DeleteAgent(ctx, a1.ID)
		if !ok {
			t.Fatalf("DeleteAgent reported false")
		}
	})
}

func TestSimulationLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		start := time.Now().UTC()
		sim := &record.Simulation{ID: "sim-1", ChainID: "chain-1", StartTime: start}
		if err := s.CreateSimulation(ctx, sim); err != nil {
			t.Fatalf("CreateSimulation: %v", err)
		}

		step := record.Step{
			StateName: "home",
			Method:    markov.MethodGet,
			Payload:   map[string]any{"page": "home"},
			Responses: []agent.Response{{AgentID: "a", AgentName: "one", Data: map[string]any{"ok": true}, HTTPStatus: 200, LatencyMS: 1.5}},
			Timestamp: start,
		}
		for i := 0; i < 3; i++ {
			got, err := s.AppendStep(ctx, sim.ID, step)
			if err != nil {
				t.Fatalf("AppendStep: %v", err)
			}
			if got.TotalSteps() != i+1 {
				t.Fatalf("total steps = %d, want %d", got.TotalSteps(), i+1)
			}
		}

		end := start.Add(2 * time.Second)
		final, err := s.FinalizeSimulation(ctx, sim.ID, end)
		if err != nil || final == nil {
			t.Fatalf("FinalizeSimulation: %v %v", final, err)
		}
		if d := final.Duration(); d == nil || *d != 2*time.Second {
			t.Fatalf("duration = %v", d)
		}
		if final.Steps[0].Responses[0].Data["ok"] != true {
			t.Fatalf("response data lost: %+v", final.Steps[0])
		}

		if _, err := s.AppendStep(ctx, sim.ID, step); !errors.Is(err, ErrSimulationFinalized) {
			t.Fatalf("expected ErrSimulationFinalized on append, got %v", err)
		}
		if _, err := s.FinalizeSimulation(ctx, sim.ID, end); !errors.Is(err, ErrSimulationFinalized) {
			t.Fatalf("expected ErrSimulationFinalized on finalize, got %v", err)
		}

		missing, err := s.AppendStep(ctx, "none", step)
		if err != nil || missing != nil {
			t.Fatalf("expected nil for missing simulation, got %v %v", missing, err)
		}

		sums, err := s.ListSimulations(ctx)
		if err != nil || len(sums) != 1 || sums[0].TotalSteps != 3 || sums[0].DurationSeconds == nil {
			t.Fatalf("ListSimulations: %+v %v", sums, err)
		}
	})
}

func TestListSimulationsNewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC()
		for i, id := range []string{"old", "mid", "new"} {
			sim := &record.Simulation{ID: id, ChainID: "c", StartTime: base.Add(time.Duration(i) * time.Minute)}
			if err := s.CreateSimulation(ctx, sim); err != nil {
				t.Fatalf("CreateSimulation: %v", err)
			}
		}
		sums, _ := s.ListSimulations(ctx)
		if len(sums) != 3 || sums[0].ID != "new" || sums[2].ID != "old" {
			t.Fatalf("unexpected order: %+v", sums)
		}
	})
}

func TestConcurrentAppendsStayOrdered(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ids := []string{"x", "y"}
		for _, id := range ids {
			if err := s.CreateSimulation(ctx, &record.Simulation{ID: id, ChainID: "c", StartTime: time.Now()}); err != nil {
				t.Fatalf("CreateSimulation: %v", err)
			}
		}
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					st := record.Step{StateName: id, Method: markov.MethodGet, Payload: map[string]any{"i": float64(i)}, Timestamp: time.Now()}
					if _, err := s.AppendStep(ctx, id, st); err != nil {
						t.Errorf("AppendStep: %v", err)
						return
					}
				}
			}(id)
		}
		wg.Wait()
		for _, id := range ids {
			sim, _ := s.GetSimulation(ctx, id)
			if sim.TotalSteps() != 10 {
				t.Fatalf("%s: %d steps", id, sim.TotalSteps())
			}
			for i, st := range sim.Steps {
				if st.StateName != id || st.Payload["i"] != float64(i) {
					t.Fatalf("%s step %d out of order: %+v", id, i, st)
				}
			}
		}
	})
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	s.Close()
	if _, err := Open(Config{Driver: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}); err == nil {
		t.Fatalf("expected error for sqlite without path")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.CreateSimulation(ctx, &record.Simulation{ID: "s", ChainID: "c", StartTime: time.Now()})
	_, _ = m.AppendStep(ctx, "s", record.Step{StateName: "a", Payload: map[string]any{"k": "v"}})
	got, _ := m.GetSimulation(ctx, "s")
	got.Steps[0].Payload["k"] = "mutated"
	again, _ := m.GetSimulation(ctx, "s")
	if again.Steps[0].Payload["k"] != "v" {
		t.Fatalf("stored step was mutated through a returned copy")
	}
}
