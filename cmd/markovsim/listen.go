package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"markovsim/internal/listener"
)

var (
	listenAddr     string
	listenRegister string
	listenURL      string
	listenName     string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the example counter agent",
	Long:  "listen serves an agent that counts the requests it receives per HTTP method.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gin.SetMode(gin.ReleaseMode)
		counter := listener.NewCounter()
		counter.Logger = logger
		srv := &http.Server{Addr: listenAddr, Handler: counter.Handler(), ReadHeaderTimeout: 10 * time.Second}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		logger.Info("counter agent listening", "addr", listenAddr)

		if listenRegister != "" {
			self := listenURL
			if self == "" {
				self = "http://localhost" + listenAddr
				if !strings.HasPrefix(listenAddr, ":") {
					self = "http://" + listenAddr
				}
			}
			id, err := registerAgent(ctx, listenRegister, self, listenName)
			if err != nil {
				srv.Close()
				return err
			}
			logger.Info("registered with simulator", "simulator", listenRegister, "agent_id", id, "url", self)
		}

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("counter agent stopped", "counters", counter.Snapshot())
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenAddr, "addr", ":8001", "Listen address")
	listenCmd.Flags().StringVar(&listenRegister, "register", "", "Simulator base URL to register with (e.g. http://localhost:8000)")
	listenCmd.Flags().StringVar(&listenURL, "url", "", "URL the simulator should call (defaults to the listen address)")
	listenCmd.Flags().StringVar(&listenName, "name", "counter", "Agent name used when registering")
}

// registerAgent registers self with the simulator at base and returns the
// assigned agent id.
func registerAgent(ctx context.Context, base, self, name string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"url":         self,
		"name":        name,
		"description": "request counter",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/agents/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("register agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("register agent: simulator answered %s", resp.Status)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("register agent: %w", err)
	}
	return out.ID, nil
}
