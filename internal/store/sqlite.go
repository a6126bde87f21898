package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"markovsim/internal/agent"
	"markovsim/internal/markov"
	"markovsim/internal/record"

	_ "modernc.org/sqlite" // SQLite driver
)

var _ Store = (*SQLite)(nil)

// SQLite implements Store on a single SQLite database file. Writes go
// through one connection and one transaction per operation, which gives
// the per-simulation atomicity the Store contract asks for.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens (and creates if needed) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateChain stores the chain definition.
func (s *SQLite) CreateChain(ctx context.Context, c *markov.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode chain: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chains (id, name, definition, created_at) VALUES (?, ?, ?, ?)`,
		c.ID(), c.Name(), string(def), formatTime(time.Now()))
	if isUniqueViolation(err) {
		return fmt.Errorf("chain %s: %w", c.ID(), ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert chain: %w", err)
	}
	return nil
}

func decodeChain(def string) (*markov.Chain, error) {
	var d markov.Draft
	if err := json.Unmarshal([]byte(def), &d); err != nil {
		return nil, fmt.Errorf("failed to decode chain: %w", err)
	}
	c, err := markov.New(d)
	if err != nil {
		return nil, fmt.Errorf("stored chain %s is invalid: %w", d.ID, err)
	}
	return c, nil
}

// GetChain returns the chain or nil.
func (s *SQLite) GetChain(ctx context.Context, id string) (*markov.Chain, error) {
	var def string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM chains WHERE id = ?`, id).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}
	return decodeChain(def)
}

// ListChains returns chains in creation order.
func (s *SQLite) ListChains(ctx context.Context) ([]*markov.Chain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM chains ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chains: %w", err)
	}
	defer rows.Close()
	var out []*markov.Chain
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		c, err := decodeChain(def)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChain removes a chain.
func (s *SQLite) DeleteChain(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM chains WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chain: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateAgent stores a.
func (s *SQLite) CreateAgent(ctx context.Context, a agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, url, name, description, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Name, a.Description, a.Active, formatTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("agent %s: %w", a.ID, ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

const agentColumns = `id, url, name, COALESCE(description, ''), active, created_at`

func scanAgent(scan func(dest ...any) error) (agent.Agent, error) {
	var a agent.Agent
	var created string
	if err := scan(&a.ID, &a.URL, &a.Name, &a.Description, &a.Active, &created); err != nil {
		return a, err
	}
	t, err := parseTime(created)
	if err != nil {
		return a, fmt.Errorf("agent %s: bad created_at: %w", a.ID, err)
	}
	a.CreatedAt = t
	return a, nil
}

func getAgent(ctx context.Context, q querier, id string) (*agent.Agent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return &a, nil
}

// GetAgent returns the agent or nil.
func (s *SQLite) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	return getAgent(ctx, s.db, id)
}

// ListAgents returns every agent in registration order.
func (s *SQLite) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	return s.listAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY rowid`)
}

// ListActiveAgents returns active agents in registration order.
func (s *SQLite) ListActiveAgents(ctx context.Context) ([]agent.Agent, error) {
	return s.listAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE active = 1 ORDER BY rowid`)
}

func (s *SQLite) listAgents(ctx context.Context, query string) ([]agent.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()
	out := make([]agent.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgent applies u and returns the result, or nil when absent.
func (s *SQLite) UpdateAgent(ctx context.Context, id string, u agent.Update) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := getAgent(ctx, tx, id)
	if err != nil || current == nil {
		return nil, err
	}
	updated, err := u.Apply(*current)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET url = ?, name = ?, description = ?, active = ? WHERE id = ?`,
		updated.URL, updated.Name, updated.Description, updated.Active, id); err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteAgent removes an agent.
func (s *SQLite) DeleteAgent(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateSimulation stores sim and any steps it already carries.
func (s *SQLite) CreateSimulation(ctx context.Context, sim *record.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var end any
	if sim.EndTime != nil {
		end = formatTime(*sim.EndTime)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO simulations (id, chain_id, start_time, end_time) VALUES (?, ?, ?, ?)`,
		sim.ID, sim.ChainID, formatTime(sim.StartTime), end)
	if isUniqueViolation(err) {
		return fmt.Errorf("simulation %s: %w", sim.ID, ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert simulation: %w", err)
	}
	for i, st := range sim.Steps {
		if err := insertStep(ctx, tx, sim.ID, i, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertStep(ctx context.Context, tx *sql.Tx, simID string, seq int, st record.Step) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode step: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO simulation_steps (simulation_id, seq, step) VALUES (?, ?, ?)`,
		simID, seq, string(doc)); err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}
	return nil
}

func loadSimulation(ctx context.Context, q querier, id string) (*record.Simulation, error) {
	var chainID, start string
	var end sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT chain_id, start_time, end_time FROM simulations WHERE id = ?`, id).Scan(&chainID, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query simulation: %w", err)
	}
	sim := &record.Simulation{ID: id, ChainID: chainID, Steps: []record.Step{}}
	if sim.StartTime, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("simulation %s: bad start_time: %w", id, err)
	}
	if end.Valid {
		t, err := parseTime(end.String)
		if err != nil {
			return nil, fmt.Errorf("simulation %s: bad end_time: %w", id, err)
		}
		sim.EndTime = &t
	}

	rows, err := q.QueryContext(ctx,
		`SELECT step FROM simulation_steps WHERE simulation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var st record.Step
		if err := json.Unmarshal([]byte(doc), &st); err != nil {
			return nil, fmt.Errorf("simulation %s: bad step: %w", id, err)
		}
		sim.Steps = append(sim.Steps, st)
	}
	return sim, rows.Err()
}

// GetSimulation returns the simulation or nil.
func (s *SQLite) GetSimulation(ctx context.Context, id string) (*record.Simulation, error) {
	return loadSimulation(ctx, s.db, id)
}

// ListSimulations returns summaries, newest first.
func (s *SQLite) ListSimulations(ctx context.Context) ([]record.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.chain_id, s.start_time, s.end_time,
       (SELECT COUNT(*) FROM simulation_steps st WHERE st.simulation_id = s.id)
FROM simulations s
ORDER BY s.start_time DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query simulations: %w", err)
	}
	defer rows.Close()
	out := make([]record.Summary, 0)
	for rows.Next() {
		var sum record.Summary
		var start string
		var end sql.NullString
		if err := rows.Scan(&sum.ID, &sum.ChainID, &start, &end, &sum.TotalSteps); err != nil {
			return nil, err
		}
		if sum.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if end.Valid {
			t, err := parseTime(end.String)
			if err != nil {
				return nil, err
			}
			sum.EndTime = &t
			secs := t.Sub(sum.StartTime).Seconds()
			sum.DurationSeconds = &secs
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// lockOpen checks that id exists and is still open inside tx.
func lockOpen(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var end sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT end_time FROM simulations WHERE id = ?`, id).Scan(&end)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query simulation: %w", err)
	}
	if end.Valid {
		return false, fmt.Errorf("simulation %s: %w", id, ErrSimulationFinalized)
	}
	return true, nil
}

// AppendStep adds step to the end of the simulation.
func (s *SQLite) AppendStep(ctx context.Context, id string, step record.Step) (*record.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ok, err := lockOpen(ctx, tx, id)
	if err != nil || !ok {
		return nil, err
	}
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM simulation_steps WHERE simulation_id = ?`, id).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to query step sequence: %w", err)
	}
	if err := insertStep(ctx, tx, id, next, step); err != nil {
		return nil, err
	}
	sim, err := loadSimulation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sim, nil
}

// FinalizeSimulation sets the end time.
func (s *SQLite) FinalizeSimulation(ctx context.Context, id string, end time.Time) (*record.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ok, err := lockOpen(ctx, tx, id)
	if err != nil || !ok {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE simulations SET end_time = ? WHERE id = ?`, formatTime(end), id); err != nil {
		return nil, fmt.Errorf("failed to finalize simulation: %w", err)
	}
	sim, err := loadSimulation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sim, nil
}
