package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestServeLogsStayOffStdout(t *testing.T) {
	prevOut, prevStdout, prevDefault, prevCfg := logOutput, os.Stdout, slog.Default(), cfg
	prevConfig, prevSchema, prevLevel, prevEnv := configPath, schemaPath, logLevel, envFile
	t.Cleanup(func() {
		logOutput, os.Stdout, cfg = prevOut, prevStdout, prevCfg
		configPath, schemaPath, logLevel, envFile = prevConfig, prevSchema, prevLevel, prevEnv
		slog.SetDefault(prevDefault)
	})

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	var logs bytes.Buffer
	logOutput = &logs
	os.Stdout = w
	configPath, schemaPath, logLevel, envFile = "", "", "info", ""

	if err := rootCmd.PersistentPreRunE(serveCmd, nil); err != nil {
		t.Fatalf("pre-run: %v", err)
	}
	slog.Default().Info("api server listening", "addr", ":0")
	w.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("log line written to stdout: %q", out)
	}
	if !strings.Contains(logs.String(), "api server listening") {
		t.Fatalf("log line missing from log output: %q", logs.String())
	}
}
