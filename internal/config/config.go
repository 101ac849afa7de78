package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voltlab/celldyn/internal/dae"
)

const (
	DefaultCell    = "spm"
	DefaultTEnd    = 360.0
	DefaultSamples = 10
	DefaultPts     = 20
	DefaultRTol    = 1e-6
	DefaultATol    = 1e-6
	DefaultCurrent = 0.222
)

type Config struct {
	Cell    string             `yaml:"cell"`
	TEnd    float64            `yaml:"t_end"`
	Samples int                `yaml:"samples"`
	Points  map[string]int     `yaml:"points"`
	Inputs  map[string]float64 `yaml:"inputs"`
	Solver  SolverConfig       `yaml:"solver"`
	Outputs []string           `yaml:"outputs"`
}

type SolverConfig struct {
	RTol          float64 `yaml:"rtol"`
	ATol          float64 `yaml:"atol"`
	MaxNewton     int     `yaml:"max_newton"`
	InternalSteps int     `yaml:"internal_steps"`
}

func DefaultConfig() *Config {
	return &Config{
		Cell:    DefaultCell,
		TEnd:    DefaultTEnd,
		Samples: DefaultSamples,
		Points:  map[string]int{"particle": DefaultPts},
		Inputs:  map[string]float64{"Current function [A]": DefaultCurrent},
		Solver: SolverConfig{
			RTol: DefaultRTol,
			ATol: DefaultATol,
		},
		Outputs: []string{"Voltage [V]", "Current [A]", "Time [min]"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Cell == "" {
		return &dae.ConfigurationError{Reason: "cell name must be set"}
	}
	if c.TEnd <= 0 {
		return &dae.ConfigurationError{Reason: "t_end must be positive"}
	}
	if c.Samples < 2 {
		return &dae.ConfigurationError{Reason: "samples must be at least 2"}
	}
	for domain, n := range c.Points {
		if n <= 0 {
			return &dae.ConfigurationError{Domain: domain, Reason: "points must be positive"}
		}
	}
	return nil
}

// TEval returns the evaluation grid: Samples points evenly spaced on
// [0, TEnd].
func (c *Config) TEval() []float64 {
	ts := make([]float64, c.Samples)
	h := c.TEnd / float64(c.Samples-1)
	for i := range ts {
		ts[i] = float64(i) * h
	}
	ts[c.Samples-1] = c.TEnd
	return ts
}
