package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
)

type mockGreptimeClient struct {
	tables []*table.Table
	err    error
	hang   bool
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	if m.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.tables = append(m.tables, tables...)
	return &gpb.GreptimeResponse{}, m.err
}

func TestGreptimeWriterStep(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, stepTable: "steps", responseTable: "responses"}

	if err := w.WriteStep(sampleRow(3, time.Unix(0, 0).UTC())); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}
	if len(m.tables) != 2 {
		t.Fatalf("expected step and response tables, got %d", len(m.tables))
	}

	steps := m.tables[0].GetRows()
	if len(steps.Schema) != 10 {
		t.Fatalf("unexpected step schema length: %d", len(steps.Schema))
	}
	if steps.Schema[0].ColumnName != "simulation_id" || steps.Schema[0].SemanticType != gpb.SemanticType_TAG {
		t.Fatalf("first column = %+v", steps.Schema[0])
	}
	vals := steps.Rows[0].Values
	if got := vals[2].GetStringValue(); got != "homepage" {
		t.Fatalf("state_name = %s", got)
	}
	if got := vals[4].GetI64Value(); got != 3 {
		t.Fatalf("step_index = %d", got)
	}
	if got := vals[5].GetStringValue(); got != `{"page":3}` {
		t.Fatalf("payload = %s", got)
	}
	if got := vals[7].GetI64Value(); got != 1 {
		t.Fatalf("failures = %d", got)
	}

	resp := m.tables[1].GetRows()
	if len(resp.Rows) != 1 {
		t.Fatalf("expected one response row, got %d", len(resp.Rows))
	}
	if got := resp.Rows[0].Values[1].GetStringValue(); got != "a1" {
		t.Fatalf("agent_id = %s", got)
	}
	if got := resp.Rows[0].Values[4].GetI64Value(); got != 200 {
		t.Fatalf("http_status = %d", got)
	}
	if got := resp.Rows[0].Values[5].GetF64Value(); got != 3.5 {
		t.Fatalf("latency_ms = %v", got)
	}
}

func TestGreptimeWriterStepWithoutResponses(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m}
	row := sampleRow(0, time.Unix(0, 0).UTC())
	row.Step.Responses = nil
	if err := w.WriteStep(row); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}
	if len(m.tables) != 1 {
		t.Fatalf("expected only the step table, got %d", len(m.tables))
	}
}

func TestGreptimeWriterError(t *testing.T) {
	m := &mockGreptimeClient{err: errors.New("unavailable")}
	w := &GreptimeDBWriter{client: m}
	if err := w.WriteStep(sampleRow(0, time.Unix(0, 0).UTC())); err == nil {
		t.Fatalf("expected client error to propagate")
	}
}

func TestGreptimeWriterTimesOut(t *testing.T) {
	m := &mockGreptimeClient{hang: true}
	w := &GreptimeDBWriter{client: m, timeout: 50 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- w.WriteStep(sampleRow(0, time.Unix(0, 0).UTC())) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WriteStep did not give up on a hung server")
	}
}
