// Package config loads simulator configuration from YAML files and
// MANET_* environment variables.
//
// Precedence: defaults -> config file -> environment -> command-line flags
// (flags are applied by cmd/simulator).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full simulator configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Clock      ClockConfig      `yaml:"clock"`
	Logging    LoggingConfig    `yaml:"logging"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Server     ServerConfig     `yaml:"server"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// SimulationConfig holds the scalar parameters consumed by the core.
type SimulationConfig struct {
	MaxX  float64 `yaml:"max_x"`
	MaxY  float64 `yaml:"max_y"`
	Nodes int     `yaml:"nodes"`
	Ticks int     `yaml:"ticks"`

	// Range is the communication range threshold.
	Range float64 `yaml:"range"`
	// UnitStep is the distance unit scaled by 2×speed each tick.
	UnitStep float64 `yaml:"unit_step"`

	// Seed makes runs reproducible. When nil a seed is drawn at startup and
	// logged so the run can be replayed.
	Seed *uint64 `yaml:"seed,omitempty"`

	MovePhaseMax  int `yaml:"move_phase_max"`
	PausePhaseMax int `yaml:"pause_phase_max"`
	MaxRetries    int `yaml:"max_retries"`

	// CornerAnchors adds four fixed nodes on the area corners.
	CornerAnchors bool `yaml:"corner_anchors"`
	// ScanWorkers > 1 parallelises the proximity distance scan.
	ScanWorkers int `yaml:"scan_workers"`
	// Audit re-checks the edge set against a brute-force recomputation
	// after every refresh.
	Audit bool `yaml:"audit"`
}

// ClockConfig controls tick pacing.
type ClockConfig struct {
	// RealTime paces ticks with TickInterval; otherwise ticks run back to back.
	RealTime     bool          `yaml:"real_time"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RecorderConfig enables the SQLite frame recorder when Path is set.
type RecorderConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds optional listen addresses. Empty disables the listener.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration of the reference scenario: 100 nodes in
// a 1600×900 area for 1000 ticks with a 150-unit range.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			MaxX:          1600,
			MaxY:          900,
			Nodes:         100,
			Ticks:         1000,
			Range:         150,
			UnitStep:      3,
			MovePhaseMax:  60,
			PausePhaseMax: 20,
			MaxRetries:    1000,
			CornerAnchors: true,
		},
		Clock: ClockConfig{
			TickInterval: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "manet-simulator",
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
	}
}

// Load returns defaults, overlaid with the file at path (if non-empty) and
// then with environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML config on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays MANET_* environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	var errs []error

	setFloat := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	setFloat("MANET_MAX_X", &c.Simulation.MaxX)
	setFloat("MANET_MAX_Y", &c.Simulation.MaxY)
	setInt("MANET_NODES", &c.Simulation.Nodes)
	setInt("MANET_TICKS", &c.Simulation.Ticks)
	setFloat("MANET_RANGE", &c.Simulation.Range)
	setFloat("MANET_UNIT_STEP", &c.Simulation.UnitStep)
	setInt("MANET_SCAN_WORKERS", &c.Simulation.ScanWorkers)
	if v, ok := lookup("MANET_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MANET_SEED: %w", err))
		} else {
			c.Simulation.Seed = &seed
		}
	}
	setString("MANET_RECORD_PATH", &c.Recorder.Path)
	setString("MANET_GRPC_ADDR", &c.Server.GRPCAddr)
	setString("MANET_METRICS_ADDR", &c.Server.MetricsAddr)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	if v, ok := lookup("MANET_TRACING_ENABLED"); ok {
		c.Tracing.Enabled = strings.EqualFold(v, "true")
	}
	setString("MANET_TRACING_EXPORTER", &c.Tracing.Exporter)
	setString("MANET_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate rejects configurations the simulation cannot run with.
func (c *Config) Validate() error {
	s := c.Simulation
	var problems []string

	if !(s.MaxX > 0) || !(s.MaxY > 0) || math.IsInf(s.MaxX, 0) || math.IsInf(s.MaxY, 0) {
		problems = append(problems, fmt.Sprintf("bounds must be positive and finite, got %gx%g", s.MaxX, s.MaxY))
	}
	if s.Nodes <= 0 {
		problems = append(problems, fmt.Sprintf("nodes must be positive, got %d", s.Nodes))
	}
	if s.Ticks <= 0 {
		problems = append(problems, fmt.Sprintf("ticks must be positive, got %d", s.Ticks))
	}
	if !(s.Range > 0) {
		problems = append(problems, fmt.Sprintf("range must be positive, got %g", s.Range))
	}
	if s.UnitStep < 0 || math.IsNaN(s.UnitStep) {
		problems = append(problems, fmt.Sprintf("unit_step must be non-negative, got %g", s.UnitStep))
	}
	if s.MovePhaseMax <= 0 || s.PausePhaseMax <= 0 {
		problems = append(problems, "phase maxima must be positive")
	}
	if s.MaxRetries <= 0 {
		problems = append(problems, fmt.Sprintf("max_retries must be positive, got %d", s.MaxRetries))
	}
	if s.ScanWorkers < 0 {
		problems = append(problems, fmt.Sprintf("scan_workers must be non-negative, got %d", s.ScanWorkers))
	}
	if c.Clock.RealTime && c.Clock.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive in real-time mode")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, fmt.Sprintf("tracing sample_ratio must be within [0,1], got %g", c.Tracing.SampleRatio))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
