// Package config provides configuration loading and validation for
// advection runs.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrConfig marks configuration errors.
var ErrConfig = errors.New("invalid configuration")

// Config holds all run configuration parameters.
type Config struct {
	Seeds       SeedsConfig       `yaml:"seeds"`
	Integration IntegrationConfig `yaml:"integration"`
	Output      OutputConfig      `yaml:"output"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Termination TerminationConfig `yaml:"termination"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Domain      DomainConfig      `yaml:"domain"`
	Field       FieldConfig       `yaml:"field"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// Vec3 is a point or vector written as [x, y, z].
type Vec3 [3]float64

// Vec converts v to an r3.Vec.
func (v Vec3) Vec() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// BoxConfig is an axis-aligned box.
type BoxConfig struct {
	Min Vec3 `yaml:"min"`
	Max Vec3 `yaml:"max"`
}

// Box converts b to an r3.Box.
func (b BoxConfig) Box() r3.Box { return r3.Box{Min: b.Min.Vec(), Max: b.Max.Vec()} }

// SeedsConfig holds seeding parameters.
type SeedsConfig struct {
	Count    int       `yaml:"count"`
	Method   string    `yaml:"method"` // random, random_block, random_box, point
	RandSeed int64     `yaml:"rand_seed"`
	Box      BoxConfig `yaml:"box"`   // random_box only
	Point    Vec3      `yaml:"point"` // point only
}

// IntegrationConfig holds stepping parameters.
type IntegrationConfig struct {
	StepSize      float64 `yaml:"step_size"`
	MaxSteps      int     `yaml:"max_steps"`
	Scheme        string  `yaml:"scheme"`          // rk4 or euler
	StepsPerBatch int     `yaml:"steps_per_batch"` // 0 = until the particle leaves its block
	MinSpeed      float64 `yaml:"min_speed"`       // 0 = never stagnate
}

// OutputConfig holds result parameters.
type OutputConfig struct {
	Traces    bool `yaml:"traces"`     // keep full streamlines instead of terminal points
	DumpFiles bool `yaml:"dump_files"` // write terminal/streamline CSVs
}

// ScheduleConfig holds execution strategy parameters.
type ScheduleConfig struct {
	Strategy      string        `yaml:"strategy"` // serial, parallel, manager_worker
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"` // 0 = all particles of a block
	SleepInterval time.Duration `yaml:"sleep_interval"`
}

// TerminationConfig holds termination protocol parameters.
type TerminationConfig struct {
	Mode            string        `yaml:"mode"`       // collective or gossip
	MaxRounds       int           `yaml:"max_rounds"` // 0 = unlimited
	MaxWallTime     time.Duration `yaml:"max_wall_time"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ExchangeConfig holds envelope parameters.
type ExchangeConfig struct {
	Compress bool `yaml:"compress"`
}

// DomainConfig describes the block decomposition.
type DomainConfig struct {
	Ranks      int       `yaml:"ranks"`
	Bounds     BoxConfig `yaml:"bounds"`
	Blocks     [3]int    `yaml:"blocks"`     // grid split per axis
	Assignment string    `yaml:"assignment"` // round_robin or contiguous
	File       string    `yaml:"file"`       // gcfg decomposition; overrides the grid
}

// FieldConfig selects the analytic field.
type FieldConfig struct {
	Kind   string  `yaml:"kind"` // uniform, rotation, zero
	Vector Vec3    `yaml:"vector"`
	Center Vec3    `yaml:"center"`
	Omega  float64 `yaml:"omega"`
}

// TelemetryConfig holds diagnostics parameters.
type TelemetryConfig struct {
	DiagnosticsFile string `yaml:"diagnostics_file"`
	RoundWindow     int    `yaml:"round_window"`
	LogEvery        int    `yaml:"log_every"` // rounds between debug logs, 0 = never
	MetricsAddr     string `yaml:"metrics_addr"`
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	NumBlocks int
	GlobalBox r3.Box
	SeedBox   r3.Box
	SeedPoint r3.Vec
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.NumBlocks = c.Domain.Blocks[0] * c.Domain.Blocks[1] * c.Domain.Blocks[2]
	c.Derived.GlobalBox = c.Domain.Bounds.Box()
	c.Derived.SeedBox = c.Seeds.Box.Box()
	c.Derived.SeedPoint = c.Seeds.Point.Vec()
}

// Validate reports configuration errors. A run must not start when it
// fails.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	switch c.Seeds.Method {
	case "random", "random_block", "random_box", "point":
	default:
		bad("seeds.method %q", c.Seeds.Method)
	}
	if c.Seeds.Method != "point" && c.Seeds.Count <= 0 {
		bad("seeds.count must be positive, got %d", c.Seeds.Count)
	}
	if c.Seeds.Method == "random_box" && !ordered(c.Seeds.Box) {
		bad("seeds.box min %v exceeds max %v", c.Seeds.Box.Min, c.Seeds.Box.Max)
	}

	if c.Integration.StepSize <= 0 {
		bad("integration.step_size must be positive, got %g", c.Integration.StepSize)
	}
	if c.Integration.MaxSteps <= 0 {
		bad("integration.max_steps must be positive, got %d", c.Integration.MaxSteps)
	}
	switch c.Integration.Scheme {
	case "rk4", "euler":
	default:
		bad("integration.scheme %q", c.Integration.Scheme)
	}

	switch c.Schedule.Strategy {
	case "serial", "parallel":
	case "manager_worker":
		if c.Schedule.Workers <= 0 {
			bad("schedule.workers must be positive for manager_worker, got %d", c.Schedule.Workers)
		}
	default:
		bad("schedule.strategy %q", c.Schedule.Strategy)
	}
	if c.Schedule.SleepInterval <= 0 {
		bad("schedule.sleep_interval must be positive, got %v", c.Schedule.SleepInterval)
	}

	switch c.Termination.Mode {
	case "collective", "gossip":
	default:
		bad("termination.mode %q", c.Termination.Mode)
	}

	if c.Domain.Ranks <= 0 {
		bad("domain.ranks must be positive, got %d", c.Domain.Ranks)
	}
	if c.Domain.File == "" {
		if c.Derived.NumBlocks <= 0 {
			bad("domain.blocks must be positive, got %v", c.Domain.Blocks)
		}
		if !ordered(c.Domain.Bounds) {
			bad("domain.bounds min %v exceeds max %v", c.Domain.Bounds.Min, c.Domain.Bounds.Max)
		}
		switch c.Domain.Assignment {
		case "round_robin", "contiguous":
		default:
			bad("domain.assignment %q", c.Domain.Assignment)
		}
	}

	switch c.Field.Kind {
	case "uniform", "rotation", "zero":
	default:
		bad("field.kind %q", c.Field.Kind)
	}

	return errors.Join(errs...)
}

func ordered(b BoxConfig) bool {
	for i := range 3 {
		if !(b.Min[i] <= b.Max[i]) {
			return false
		}
	}
	return true
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
