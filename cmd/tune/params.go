package main

import (
	"math"
	"time"

	"github.com/pthm-cable/advect/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the scheduler parameters searched by the tuner.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "workers", Path: "schedule.workers", Min: 1, Max: 16, Default: 4},
			{Name: "batch_size", Path: "schedule.batch_size", Min: 0, Max: 2000, Default: 0},
			{Name: "sleep_us", Path: "schedule.sleep_interval", Min: 10, Max: 5000, Default: 100},
			{Name: "steps_per_batch", Path: "integration.steps_per_batch", Min: 0, Max: 500, Default: 0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Min(math.Max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.Schedule.Workers = int(math.Round(clamped[0]))
	cfg.Schedule.BatchSize = int(math.Round(clamped[1]))
	cfg.Schedule.SleepInterval = time.Duration(math.Round(clamped[2])) * time.Microsecond
	cfg.Integration.StepsPerBatch = int(math.Round(clamped[3]))
}

// BestConfig reloads the base config at path and applies strategy and
// values to it.
func (pv *ParamVector) BestConfig(path, strategy string, values []float64) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Schedule.Strategy = strategy
	pv.ApplyToConfig(cfg, values)
	return cfg, nil
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		float64(cfg.Schedule.Workers),
		float64(cfg.Schedule.BatchSize),
		float64(cfg.Schedule.SleepInterval / time.Microsecond),
		float64(cfg.Integration.StepsPerBatch),
	}
}
