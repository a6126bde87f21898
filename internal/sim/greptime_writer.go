package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"markovsim/internal/record"
)

const (
	defaultStepTable     = "markov_steps"
	defaultResponseTable = "markov_agent_responses"
	defaultWriteTimeout  = 5 * time.Second
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes one row per step and one row per agent response
// to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client        greptimeClient
	stepTable     string
	responseTable string
	timeout       time.Duration
	logger        *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port := endpoint, 0
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: bad port: %w", endpoint, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if port != 0 {
		cfg = cfg.WithPort(port)
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &GreptimeDBWriter{
		client:        client,
		stepTable:     defaultStepTable,
		responseTable: defaultResponseTable,
		timeout:       defaultWriteTimeout,
		logger:        slog.Default(),
	}, nil
}

func (w *GreptimeDBWriter) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

func (w *GreptimeDBWriter) stepRows(row record.StepRow) (*table.Table, error) {
	name := w.stepTable
	if name == "" {
		name = defaultStepTable
	}
	tbl, err := table.New(name)
	if err != nil {
		return nil, err
	}
	tbl.AddTagColumn("simulation_id", types.STRING)
	tbl.AddTagColumn("chain_id", types.STRING)
	tbl.AddTagColumn("state_name", types.STRING)
	tbl.AddTagColumn("http_method", types.STRING)
	tbl.AddFieldColumn("step_index", types.INT64)
	tbl.AddFieldColumn("payload", types.STRING)
	tbl.AddFieldColumn("responses", types.INT64)
	tbl.AddFieldColumn("failures", types.INT64)
	tbl.AddFieldColumn("avg_latency_ms", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	payload, err := json.Marshal(row.Step.Payload)
	if err != nil {
		return nil, err
	}
	st := row.Step
	if err := tbl.AddRow(row.SimulationID, row.ChainID, st.StateName, string(st.Method),
		int64(row.Index), string(payload), int64(len(st.Responses)), int64(len(st.Failures)),
		avgLatency(st), st.Timestamp); err != nil {
		return nil, err
	}
	return tbl, nil
}

func (w *GreptimeDBWriter) responseRows(row record.StepRow) (*table.Table, error) {
	name := w.responseTable
	if name == "" {
		name = defaultResponseTable
	}
	tbl, err := table.New(name)
	if err != nil {
		return nil, err
	}
	tbl.AddTagColumn("simulation_id", types.STRING)
	tbl.AddTagColumn("agent_id", types.STRING)
	tbl.AddTagColumn("agent_name", types.STRING)
	tbl.AddTagColumn("state_name", types.STRING)
	tbl.AddFieldColumn("http_status", types.INT64)
	tbl.AddFieldColumn("latency_ms", types.FLOAT64)
	tbl.AddFieldColumn("data", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	for _, r := range row.Step.Responses {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		if err := tbl.AddRow(row.SimulationID, r.AgentID, r.AgentName, row.Step.StateName,
			int64(r.HTTPStatus), r.LatencyMS, string(data), row.Step.Timestamp); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// WriteStep inserts the step row and its agent responses. The write is
// abandoned after the writer's timeout.
func (w *GreptimeDBWriter) WriteStep(row record.StepRow) error {
	steps, err := w.stepRows(row)
	if err != nil {
		return err
	}
	tables := []*table.Table{steps}
	if len(row.Step.Responses) > 0 {
		resp, err := w.responseRows(row)
		if err != nil {
			return err
		}
		tables = append(tables, resp)
	}
	timeout := w.timeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tables...); err != nil {
		w.log().Error("greptime write failed", "simulation_id", row.SimulationID, "index", row.Index, "err", err)
		return err
	}
	w.log().Debug("greptime wrote step", "simulation_id", row.SimulationID, "index", row.Index, "responses", len(row.Step.Responses))
	return nil
}
