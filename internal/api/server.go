// Package api exposes chains, agents and simulations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"markovsim/internal/agent"
	"markovsim/internal/chains"
	"markovsim/internal/markov"
	"markovsim/internal/record"
	"markovsim/internal/sim"
	"markovsim/internal/store"
)

// Server routes HTTP requests to the store and the simulator.
type Server struct {
	Store    store.Store
	Sim      *sim.Simulator
	Registry *chains.Registry
	Hub      *Hub

	// MaxSteps bounds a run's step count; DefaultSteps applies when the
	// request omits it.
	MaxSteps     int
	DefaultSteps int
	Logger       *slog.Logger

	engine *gin.Engine
}

// NewServer builds the router. hub may be nil, which disables the stream.
func NewServer(st store.Store, simulator *sim.Simulator, reg *chains.Registry, hub *Hub) *Server {
	s := &Server{
		Store:        st,
		Sim:          simulator,
		Registry:     reg,
		Hub:          hub,
		MaxSteps:     100,
		DefaultSteps: 10,
	}
	s.routes()
	return s
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) routes() {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog)

	r.GET("/health", s.handleHealth)

	r.POST("/markov-chains", s.handleCreateChain)
	r.GET("/markov-chains", s.handleListChains)
	r.GET("/markov-chains/:id", s.handleGetChain)
	r.DELETE("/markov-chains/:id", s.handleDeleteChain)
	r.GET("/chains/defaults", s.handleDefaults)

	r.POST("/agents/register", s.handleRegisterAgent)
	r.GET("/agents", s.handleListAgents)
	r.GET("/agents/:id", s.handleGetAgent)
	r.PATCH("/agents/:id", s.handleUpdateAgent)
	r.DELETE("/agents/:id", s.handleDeleteAgent)

	r.POST("/simulations", s.handleCreateSimulation)
	r.GET("/simulations", s.handleListSimulations)
	r.GET("/simulations/stream", s.handleStream)
	r.GET("/simulations/:id", s.handleGetSimulation)
	r.POST("/simulations/default/:key", s.handleRunDefault)
	r.POST("/simulations/run-all-defaults", s.handleRunAllDefaults)

	s.engine = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger().Info("http server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger().Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger().Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
	abort(c, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// chain handlers

func (s *Server) handleCreateChain(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(body) {
		abort(c, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	chain, err := chains.Parse("request", body)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.Store.CreateChain(c.Request.Context(), chain); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			abort(c, http.StatusConflict, err.Error())
			return
		}
		s.internalError(c, err)
		return
	}
	s.logger().Info("chain created", "chain_id", chain.ID(), "name", chain.Name(), "states", chain.Len())
	c.JSON(http.StatusOK, chain)
}

func (s *Server) handleListChains(c *gin.Context) {
	list, err := s.Store.ListChains(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if list == nil {
		list = []*markov.Chain{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetChain(c *gin.Context) {
	id := c.Param("id")
	chain, err := s.Store.GetChain(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if chain == nil {
		abort(c, http.StatusNotFound, fmt.Sprintf("Markov chain with ID %s not found", id))
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (s *Server) handleDeleteChain(c *gin.Context) {
	id := c.Param("id")
	ok, err := s.Store.DeleteChain(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !ok {
		abort(c, http.StatusNotFound, fmt.Sprintf("Markov chain with ID %s not found", id))
		return
	}
	if s.Registry != nil {
		s.Registry.Forget(id)
	}
	c.JSON(http.StatusOK, true)
}

func (s *Server) handleDefaults(c *gin.Context) {
	entries := map[string]string{}
	if s.Registry != nil {
		entries = s.Registry.Entries()
	}
	c.JSON(http.StatusOK, entries)
}

// agent handlers

type registerRequest struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	a, err := agent.New(req.URL, req.Name, req.Description)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.Store.CreateAgent(c.Request.Context(), a); err != nil {
		s.internalError(c, err)
		return
	}
	s.logger().Info("agent registered", "agent_id", a.ID, "agent_name", a.Name, "url", a.URL)
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleListAgents(c *gin.Context) {
	list, err := s.Store.ListAgents(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if list == nil {
		list = []agent.Agent{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	id := c.Param("id")
	a, err := s.Store.GetAgent(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if a == nil {
		abort(c, http.StatusNotFound, fmt.Sprintf("Agent with ID %s not found", id))
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleUpdateAgent(c *gin.Context) {
	id := c.Param("id")
	var u agent.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	current, err := s.Store.GetAgent(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if current == nil {
		abort(c, http.StatusNotFound, fmt.Sprintf("Agent with ID %s not found", id))
		return
	}
	if _, err := u.Apply(*current); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	updated, err := s.Store.UpdateAgent(ctx, id, u)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if updated == nil {
		abort(c, http.StatusNotFound, fmt.Sprintf("Agent with ID %s not found", id))
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(c *gin.Context) {
	id := c.Param("id")
	ok, err := s.Store.DeleteAgent(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !ok {
		abort(c, http.StatusNotFound, fmt.Sprintf("Agent with ID %s not found", id))
		return
	}
	s.logger().Info("agent removed", "agent_id", id)
	c.JSON(http.StatusOK, true)
}

// simulation handlers

type simulationRequest struct {
	ChainID string `json:"chain_id"`
	Steps   *int   `json:"steps"`
}

func (s *Server) checkSteps(n int) error {
	if n < 1 || n > s.MaxSteps {
		return fmt.Errorf("steps must be between 1 and %d, got %d", s.MaxSteps, n)
	}
	return nil
}

// querySteps reads ?steps=, falling back to DefaultSteps.
func (s *Server) querySteps(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.Query("steps"))
	if raw == "" {
		return s.DefaultSteps, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("steps must be an integer, got %q", raw)
	}
	return n, s.checkSteps(n)
}

func (s *Server) run(c *gin.Context, chainID string, steps int) (*record.Simulation, bool) {
	result, err := s.Sim.Run(c.Request.Context(), chainID, steps)
	switch {
	case err == nil:
		return result, true
	case errors.Is(err, store.ErrChainNotFound):
		abort(c, http.StatusNotFound, fmt.Sprintf("Markov chain with ID %s not found", chainID))
	case errors.Is(err, sim.ErrInvalidStepCount):
		abort(c, http.StatusUnprocessableEntity, err.Error())
	default:
		s.internalError(c, err)
	}
	return nil, false
}

func (s *Server) handleCreateSimulation(c *gin.Context) {
	var req simulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChainID == "" {
		abort(c, http.StatusUnprocessableEntity, "chain_id is required")
		return
	}
	steps := s.DefaultSteps
	if req.Steps != nil {
		steps = *req.Steps
	}
	if err := s.checkSteps(steps); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if result, ok := s.run(c, req.ChainID, steps); ok {
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handleListSimulations(c *gin.Context) {
	list, err := s.Store.ListSimulations(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if list == nil {
		list = []record.Summary{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetSimulation(c *gin.Context) {
	id := c.Param("id")
	result, err := s.Store.GetSimulation(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if result == nil {
		abort(c, http.StatusNotFound, fmt.Sprintf("Simulation with ID %s not found", id))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRunDefault(c *gin.Context) {
	steps, err := s.querySteps(c)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.Registry == nil || len(s.Registry.Keys()) == 0 {
		abort(c, http.StatusNotFound, "No default chains have been initialized")
		return
	}
	key := c.Param("key")
	chainID, ok := s.Registry.Lookup(key)
	if !ok {
		abort(c, http.StatusNotFound, fmt.Sprintf("Default chain '%s' not found. Valid keys: %s",
			key, strings.Join(s.Registry.Keys(), ", ")))
		return
	}
	if result, ok := s.run(c, chainID, steps); ok {
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handleRunAllDefaults(c *gin.Context) {
	steps, err := s.querySteps(c)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.Registry == nil || len(s.Registry.Keys()) == 0 {
		abort(c, http.StatusNotFound, "No default chains have been initialized")
		return
	}
	results := make([]*record.Simulation, 0, len(s.Registry.Keys()))
	for _, key := range s.Registry.Keys() {
		chainID, ok := s.Registry.Lookup(key)
		if !ok {
			continue
		}
		result, ok := s.run(c, chainID, steps)
		if !ok {
			return
		}
		results = append(results, result)
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleStream(c *gin.Context) {
	if s.Hub == nil {
		abort(c, http.StatusNotFound, "step stream is disabled")
		return
	}
	s.Hub.handle(c)
}
