// Package listener is an example agent that counts the requests it
// receives from simulations.
package listener

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"markovsim/internal/markov"
)

// TotalKey is the counter summed over every method.
const TotalKey = "total"

// Reply is the body returned for every counted request.
type Reply struct {
	Counters map[string]int `json:"counters"`
	Method   string         `json:"method"`
	Path     string         `json:"path"`
	Payload  map[string]any `json:"payload"`
}

// Counter tallies requests per HTTP method.
type Counter struct {
	Logger *slog.Logger

	mu       sync.Mutex
	counters map[string]int
}

// NewCounter returns a Counter with every method at zero.
func NewCounter() *Counter {
	c := &Counter{}
	c.reset()
	return c
}

func (c *Counter) reset() {
	c.counters = map[string]int{TotalKey: 0}
	for _, m := range markov.Methods {
		c.counters[string(m)] = 0
	}
}

// Snapshot returns a copy of the counters.
func (c *Counter) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Counter) snapshot() map[string]int {
	out := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

func (c *Counter) count(method string) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[method]; ok {
		c.counters[method]++
	}
	c.counters[TotalKey]++
	return c.snapshot()
}

// Handler returns a router that counts requests on any path. GET /reset
// zeroes the counters.
func (c *Counter) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/reset", c.handleReset)
	r.NoRoute(c.handle)
	return r
}

func (c *Counter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Counter) handle(ctx *gin.Context) {
	method := ctx.Request.Method
	payload := map[string]any{}
	if method == http.MethodGet {
		for k := range ctx.Request.URL.Query() {
			payload[k] = ctx.Query(k)
		}
	} else if body, err := io.ReadAll(ctx.Request.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = map[string]any{}
		}
	}
	counters := c.count(method)
	c.logger().Info("request counted",
		"method", method,
		"path", ctx.Request.URL.Path,
		"simulation", ctx.GetHeader("X-Simulation"),
		"total", counters[TotalKey])
	ctx.JSON(http.StatusOK, Reply{
		Counters: counters,
		Method:   method,
		Path:     ctx.Request.URL.Path,
		Payload:  payload,
	})
}

func (c *Counter) handleReset(ctx *gin.Context) {
	c.mu.Lock()
	c.reset()
	counters := c.snapshot()
	c.mu.Unlock()
	ctx.JSON(http.StatusOK, gin.H{"message": "Counters reset", "counters": counters})
}
