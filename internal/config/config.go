// YAML config loader with CUE validation and environment overrides
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "5s", "750ms" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// NotifyConfig controls agent notification.
type NotifyConfig struct {
	Timeout          Duration `yaml:"timeout"`
	MaxConcurrency   int      `yaml:"max_concurrency"`
	MarkerHeader     string   `yaml:"marker_header"`
	MaxResponseBytes int64    `yaml:"max_response_bytes"`
}

// SimulationConfig bounds and seeds simulation runs.
type SimulationConfig struct {
	MaxSteps     int   `yaml:"max_steps"`
	DefaultSteps int   `yaml:"default_steps"`
	Seed         int64 `yaml:"seed"`
}

// ChainsConfig controls default chain seeding and the watched directory.
type ChainsConfig struct {
	SeedDefaults bool   `yaml:"seed_defaults"`
	WatchDir     string `yaml:"watch_dir"`
}

// LogConfig selects log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GreptimeConfig points the optional time-series writer at a database.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Notify     NotifyConfig     `yaml:"notify"`
	Simulation SimulationConfig `yaml:"simulation"`
	Chains     ChainsConfig     `yaml:"chains"`
	Log        LogConfig        `yaml:"log"`
	Greptime   GreptimeConfig   `yaml:"greptime"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":8000"},
		Store:  StoreConfig{Driver: "memory", Path: "data/markovsim.db"},
		Notify: NotifyConfig{
			Timeout:          Duration(5 * time.Second),
			MarkerHeader:     "X-Simulation",
			MaxResponseBytes: 1 << 20,
		},
		Simulation: SimulationConfig{MaxSteps: 100, DefaultSteps: 10},
		Chains:     ChainsConfig{SeedDefaults: true},
		Log:        LogConfig{Level: "info", Format: "text"},
		Greptime:   GreptimeConfig{Database: "public"},
	}
}

// Load reads the YAML file at path over the defaults, validates it against
// the embedded schema (and extraSchema when non-empty) and applies
// environment overrides. An empty path yields defaults plus environment.
func Load(path, extraSchema string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
		if err := Validate(path, data, extraSchema); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MARKOVSIM_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("MARKOVSIM_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("MARKOVSIM_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MARKOVSIM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("NOTIFY_TIMEOUT"); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("NOTIFY_TIMEOUT: %w", err)
		}
		c.Notify.Timeout = Duration(d)
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Greptime.Database = v
	}
	return nil
}

// parseTimeout accepts a Go duration or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func (c *Config) check() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify timeout must be positive")
	}
	if c.Simulation.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1")
	}
	if c.Simulation.DefaultSteps < 1 || c.Simulation.DefaultSteps > c.Simulation.MaxSteps {
		return fmt.Errorf("default_steps must be within 1..%d", c.Simulation.MaxSteps)
	}
	return nil
}
