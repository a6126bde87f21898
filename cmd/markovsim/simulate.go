package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"markovsim/internal/agent"
	"markovsim/internal/chains"
	"markovsim/internal/logging"
	"markovsim/internal/store"
)

var (
	simChain   string
	simAll     bool
	simSteps   int
	simAgents  []string
	simOutput  string
	simLogFile string
	simSeed    int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulations from the command line",
	Long: "simulate walks a default chain (by key) or a chain file and notifies " +
		"the given agents, printing every step as it is recorded.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !simAll && simChain == "" {
			return fmt.Errorf("either --chain or --all is required")
		}
		if simOutput == outputTUI {
			if _, err := setLogger(io.Discard); err != nil {
				return err
			}
		}
		logger := slog.Default()
		if simSeed != 0 {
			cfg.Simulation.Seed = simSeed
		}
		steps := simSteps
		if steps == 0 {
			steps = cfg.Simulation.DefaultSteps
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)

		st, err := store.Open(store.Config{Driver: cfg.Store.Driver, Path: cfg.Store.Path})
		if err != nil {
			return err
		}
		defer st.Close()

		reg := chains.NewRegistry()
		if err := chains.SeedDefaults(ctx, st, reg); err != nil {
			return err
		}
		for i, u := range simAgents {
			a, err := agent.New(u, fmt.Sprintf("agent-%d", i+1), "registered by markovsim simulate")
			if err != nil {
				return err
			}
			if err := st.CreateAgent(ctx, a); err != nil {
				return err
			}
		}

		ids, err := resolveChains(ctx, st, reg)
		if err != nil {
			return err
		}

		writer, cleanup, err := newWriters(writerOptions{
			Output:   simOutput,
			LogFile:  simLogFile,
			Greptime: cfg.Greptime,
			Title:    "markovsim " + strings.Join(reg.Keys(), ", "),
		})
		if err != nil {
			return err
		}
		defer cleanup()

		simulator := newSimulator(cfg, st, writer, logger)
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			if _, err := simulator.Run(ctx, id, steps); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simChain, "chain", "", "Default chain key or path to a chain file")
	simulateCmd.Flags().BoolVar(&simAll, "all", false, "Run every default chain")
	simulateCmd.Flags().IntVar(&simSteps, "steps", 0, "Steps per simulation (defaults to simulation.default_steps)")
	simulateCmd.Flags().StringSliceVar(&simAgents, "agent", nil, "Agent URL to notify (repeatable)")
	simulateCmd.Flags().StringVar(&simOutput, "output", outputAuto, "Step output: auto, json, color, tui or none")
	simulateCmd.Flags().StringVar(&simLogFile, "log-file", "", "Path to export step logs (JSONL)")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Random seed for reproducible walks (0 uses the clock)")
}

// resolveChains returns the chain ids selected by --all or --chain. A
// --chain value that is not a registered key is loaded as a file.
func resolveChains(ctx context.Context, st store.ChainStore, reg *chains.Registry) ([]string, error) {
	if simAll {
		var ids []string
		for _, key := range reg.Keys() {
			id, _ := reg.Lookup(key)
			ids = append(ids, id)
		}
		return ids, nil
	}
	if id, ok := reg.Lookup(simChain); ok {
		return []string{id}, nil
	}
	if _, err := os.Stat(simChain); err != nil {
		return nil, fmt.Errorf("chain %q is neither a default key (%s) nor a readable file",
			simChain, strings.Join(reg.Keys(), ", "))
	}
	c, err := chains.LoadFile(simChain)
	if err != nil {
		return nil, err
	}
	if err := st.CreateChain(ctx, c); err != nil {
		return nil, err
	}
	reg.Set(chains.Key(simChain), c.ID())
	return []string{c.ID()}, nil
}
