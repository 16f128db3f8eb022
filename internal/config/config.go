// Package config loads the ropseq configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ib-77/ropseq/pkg/seq/route"
	"github.com/ib-77/ropseq/pkg/seq/source"
)

const (
	EnvTimeout  = "ROPSEQ_TIMEOUT"
	EnvLogLevel = "ROPSEQ_LOG_LEVEL"
)

// Config holds all ropseq configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Stores  StoresConfig  `yaml:"stores"`
	Run     *RunConfig    `yaml:"run,omitempty"`
}

type EngineConfig struct {
	// Lanes maps a source kind name ("remote", "file", ...) to its worker count.
	Lanes   map[string]int `yaml:"lanes"`
	Timeout string         `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// StoresConfig enables the local store backends. An empty value leaves the
// kind unimplemented.
type StoresConfig struct {
	FileRoot     string `yaml:"file_root"`
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	lanes := make(map[string]int)
	for k, w := range route.DefaultWidths() {
		lanes[k.String()] = w
	}
	return &Config{
		Engine: EngineConfig{
			Lanes:   lanes,
			Timeout: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file gives the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvTimeout); v != "" {
		c.Engine.Timeout = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if _, err := c.Engine.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Engine.Widths(); err != nil {
		return err
	}
	if c.Run != nil {
		if _, err := c.Run.RunConfig(); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}
	return nil
}

func (e EngineConfig) TimeoutDuration() (time.Duration, error) {
	if e.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 0, fmt.Errorf("engine.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("engine.timeout: negative duration %s", d)
	}
	return d, nil
}

func (e EngineConfig) Widths() (route.Widths, error) {
	w := make(route.Widths, len(e.Lanes))
	for name, n := range e.Lanes {
		kind, err := source.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("engine.lanes: %w", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("engine.lanes.%s: width must be positive, got %d", name, n)
		}
		w[kind] = n
	}
	return w, nil
}

// Save writes c as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
