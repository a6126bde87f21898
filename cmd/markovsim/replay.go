package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"markovsim/internal/sim"
)

var (
	replayInput  string
	replaySpeed  float64
	replayOutput string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a step log file",
	Long:  "replay feeds step rows from a JSONL log back into the console, GreptimeDB or both.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		writer, cleanup, err := newWriters(writerOptions{
			Output:   replayOutput,
			Greptime: cfg.Greptime,
			Title:    "markovsim replay " + replayInput,
		})
		if err != nil {
			return err
		}
		defer cleanup()
		if writer == nil {
			return fmt.Errorf("no output selected")
		}
		return sim.ReplayLogFile(replayInput, writer, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to step log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().StringVar(&replayOutput, "output", outputAuto, "Step output: auto, json, color, tui or none")
	replayCmd.MarkFlagRequired("input")
}
