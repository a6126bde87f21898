package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"markovsim/internal/agent"
	"markovsim/internal/api"
	"markovsim/internal/chains"
	"markovsim/internal/config"
	"markovsim/internal/logging"
	"markovsim/internal/sim"
	"markovsim/internal/store"
)

var (
	serveAddr    string
	serveOutput  string
	serveLogFile string
	serveWatch   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation HTTP service",
	Long: "serve exposes chains, agents and simulations over HTTP and streams " +
		"recorded steps on /simulations/stream.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		if serveAddr != "" {
			cfg.Server.ListenAddr = serveAddr
		}
		if serveWatch != "" {
			cfg.Chains.WatchDir = serveWatch
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)

		st, err := store.Open(store.Config{Driver: cfg.Store.Driver, Path: cfg.Store.Path})
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("store opened", "driver", cfg.Store.Driver)

		reg := chains.NewRegistry()
		if cfg.Chains.SeedDefaults {
			if err := chains.SeedDefaults(ctx, st, reg); err != nil {
				return err
			}
		}
		if cfg.Chains.WatchDir != "" {
			w := &chains.Watcher{
				Dir:      cfg.Chains.WatchDir,
				Store:    st,
				Registry: reg,
				Logger:   logger,
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stop()
				w.Wait()
			}()
		}

		hub := api.NewHub(logger)
		writer, cleanup, err := newWriters(writerOptions{
			Output:   serveOutput,
			LogFile:  serveLogFile,
			Greptime: cfg.Greptime,
		}, hub)
		if err != nil {
			return err
		}
		defer cleanup()

		simulator := newSimulator(cfg, st, writer, logger)
		gin.SetMode(gin.ReleaseMode)
		srv := api.NewServer(st, simulator, reg, hub)
		srv.MaxSteps = cfg.Simulation.MaxSteps
		srv.DefaultSteps = cfg.Simulation.DefaultSteps
		srv.Logger = logger

		if err := srv.Start(ctx, cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("markovsim stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.listen_addr)")
	serveCmd.Flags().StringVar(&serveOutput, "output", outputNone, "Console step output: auto, json, color or none")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Path to export step logs (JSONL)")
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "Directory of chain files to load and watch")
}

// newSimulator wires the notifier, executor and simulator from c.
func newSimulator(c *config.Config, st store.Store, writer sim.StepWriter, logger *slog.Logger) *sim.Simulator {
	n := agent.NewNotifier(&http.Client{})
	n.MarkerHeader = c.Notify.MarkerHeader
	n.MaxResponseBytes = c.Notify.MaxResponseBytes

	exec := sim.NewStepExecutor(n)
	exec.Timeout = c.Notify.Timeout.Std()
	exec.MaxConcurrency = c.Notify.MaxConcurrency
	exec.Logger = logger

	s := sim.NewSimulator(st, exec, writer)
	s.MaxSteps = c.Simulation.MaxSteps
	s.Seed = c.Simulation.Seed
	s.Logger = logger
	return s
}
