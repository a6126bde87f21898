package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"markovsim/internal/config"
	"markovsim/internal/sim"
)

// Output modes for step rows.
const (
	outputAuto  = "auto"
	outputJSON  = "json"
	outputColor = "color"
	outputTUI   = "tui"
	outputNone  = "none"
)

type writerOptions struct {
	// Output selects the console writer. auto picks color on a terminal
	// and JSON lines otherwise.
	Output string
	// LogFile, when set, also records steps as JSONL and finalized
	// simulations to LogFile + ".simulations".
	LogFile  string
	Greptime config.GreptimeConfig
	Title    string
}

var isTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// consoleWriter returns the writer for opts.Output, or nil for none.
func consoleWriter(opts writerOptions) (sim.StepWriter, error) {
	mode := opts.Output
	if mode == "" || mode == outputAuto {
		mode = outputJSON
		if isTerminal() {
			mode = outputColor
		}
	}
	switch mode {
	case outputJSON:
		return sim.NewJSONStdoutWriter(), nil
	case outputColor:
		return sim.NewColorStdoutWriter(), nil
	case outputTUI:
		return sim.NewTUIWriter(opts.Title), nil
	case outputNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown output %q (want auto, json, color, tui or none)", opts.Output)
}

// newWriters assembles the step writers for opts. extra writers, such as
// the websocket hub, are added first. A single writer is returned as is;
// several are wrapped in a MultiWriter. The cleanup function closes every
// writer that holds resources.
func newWriters(opts writerOptions, extra ...sim.StepWriter) (sim.StepWriter, func(), error) {
	mw := sim.NewMultiWriter(extra...)
	cleanup := func() { mw.Close() }

	cw, err := consoleWriter(opts)
	if err != nil {
		return nil, nil, err
	}
	mw.Add(cw)

	if opts.LogFile != "" {
		fw, err := sim.NewFileWriter(opts.LogFile, opts.LogFile+".simulations")
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		mw.Add(fw)
	}

	if opts.Greptime.Endpoint != "" {
		gw, err := sim.NewGreptimeDBWriter(opts.Greptime.Endpoint, opts.Greptime.Database)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init greptime writer: %w", err)
		}
		mw.Add(gw)
	}

	switch mw.Len() {
	case 0:
		return nil, cleanup, nil
	case 1:
		return mw.Writers()[0], cleanup, nil
	}
	return mw, cleanup, nil
}
