package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/loading"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
)

const (
	ModeThreshold = "threshold"
	ModeTime      = "time"

	DefaultModel = "battery"
	DefaultTime  = 3600.0
)

// Config describes one simulation run.
type Config struct {
	Model  string        `yaml:"model"`
	Params params.Values `yaml:"params,omitempty"`
	// Seed makes noise reproducible; nil draws a random seed.
	Seed *uint64 `yaml:"seed,omitempty"`
	Mode string  `yaml:"mode"`
	// Time is the time limit of a time-mode run.
	Time       float64         `yaml:"time,omitempty"`
	Thresholds []string        `yaml:"thresholds,omitempty"`
	Sim        sim.Config      `yaml:"sim"`
	Load       loading.Profile `yaml:"load,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: DefaultModel,
		Mode:  ModeThreshold,
		Time:  DefaultTime,
		Sim:   sim.DefaultConfig(),
	}
}

// Load reads a run file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a run file over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &dynamo.ConfigError{Field: "file", Err: err}
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

// Validate checks the fields that do not depend on the model.
func (c *Config) Validate() error {
	if c.Model == "" {
		return &dynamo.ConfigError{Field: "model", Reason: "required"}
	}
	switch c.Mode {
	case ModeThreshold:
	case ModeTime:
		if !(c.Time > 0) {
			return &dynamo.ConfigError{Field: "time", Reason: fmt.Sprintf("must be positive in time mode, got %g", c.Time)}
		}
	default:
		return &dynamo.ConfigError{Field: "mode", Reason: fmt.Sprintf("must be %q or %q, got %q", ModeThreshold, ModeTime, c.Mode)}
	}
	if c.Sim.Dt < 0 {
		return &dynamo.ConfigError{Field: "sim.dt", Reason: "must not be negative"}
	}
	if c.Sim.SaveFreq < 0 {
		return &dynamo.ConfigError{Field: "sim.save_freq", Reason: "must not be negative"}
	}
	if c.Sim.Horizon < 0 {
		return &dynamo.ConfigError{Field: "sim.horizon", Reason: "must not be negative"}
	}
	if c.Sim.MaxSteps < 0 {
		return &dynamo.ConfigError{Field: "sim.max_steps", Reason: "must not be negative"}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("config: clone: %v", err))
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("config: clone: %v", err))
	}
	return out
}
