// Package automation runs scripted sequences of simulations and parameter
// sweeps from YAML files.
package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/progsim/internal/config"
	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/experiment"
	"github.com/san-kum/progsim/internal/logging"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
	"github.com/san-kum/progsim/internal/storage"
)

// Scenario defines a scripted simulation sequence
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is a single run of a scenario. Preset names a preset of
// the step's model that the other fields override.
type ScenarioStep struct {
	Name   string `yaml:"name,omitempty"`
	Preset string `yaml:"preset,omitempty"`
	Save   bool   `yaml:"save,omitempty"`

	config.Config `yaml:",inline"`
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Name       string
	RunID      string
	Seed       uint64
	Trajectory *sim.Trajectory
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var raw struct {
		Name        string      `yaml:"name"`
		Description string      `yaml:"description,omitempty"`
		Steps       []yaml.Node `yaml:"steps"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, &dynamo.ConfigError{Field: "scenario", Err: err}
	}
	if len(raw.Steps) == 0 {
		return nil, &dynamo.ConfigError{Field: "steps", Reason: "scenario has no steps"}
	}

	sc := &Scenario{Name: raw.Name, Description: raw.Description}
	for i, node := range raw.Steps {
		step, err := decodeStep(&node)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

// decodeStep layers a step over its preset, or over the defaults.
func decodeStep(node *yaml.Node) (ScenarioStep, error) {
	var head struct {
		Model  string `yaml:"model"`
		Preset string `yaml:"preset"`
	}
	if err := node.Decode(&head); err != nil {
		return ScenarioStep{}, &dynamo.ConfigError{Field: "step", Err: err}
	}

	step := ScenarioStep{Config: *config.DefaultConfig()}
	if head.Preset != "" {
		p := config.GetPreset(head.Model, head.Preset)
		if p == nil {
			return ScenarioStep{}, &dynamo.ConfigError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q for model %q", head.Preset, head.Model)}
		}
		step.Config = *p
	}

	data, err := yaml.Marshal(node)
	if err != nil {
		return ScenarioStep{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&step); err != nil {
		return ScenarioStep{}, &dynamo.ConfigError{Field: "step", Err: err}
	}
	if err := step.Validate(); err != nil {
		return ScenarioStep{}, err
	}
	return step, nil
}

// RunScenario executes all steps in a scenario. When st is not nil, steps
// marked save are stored.
func RunScenario(ctx context.Context, scenario *Scenario, registry *experiment.Registry, st *storage.Store, log logr.Logger) ([]StepResult, error) {
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", step.Model, i+1)
		}
		log.Info("running step", "step", i+1, "of", len(scenario.Steps), "name", name, "model", step.Model)

		cfg := step.Config
		exp, err := experiment.New(registry, &cfg, experiment.WithLogger(log.WithValues("step", name)))
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}

		tr, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}

		res := StepResult{Name: name, Seed: exp.Seed(), Trajectory: tr}
		if step.Save && st != nil {
			res.RunID, err = st.Save(exp.Metadata(), tr)
			if err != nil {
				return results, fmt.Errorf("step %d save: %w", i+1, err)
			}
		}
		log.V(logging.DEBUG).Info("step finished", "name", name, "reason", tr.Reason, "t", tr.FinalTime(), "runID", res.RunID)
		results = append(results, res)
	}

	return results, nil
}

// ParameterSweep runs the same configuration for each value of one
// parameter. Param is a dotted path such as "x0.qb".
type ParameterSweep struct {
	Config config.Config
	Param  string
	Values []float64
}

// SweepResult holds results from a parameter sweep
type SweepResult struct {
	ParamValue float64
	// EventTime is the final time of a run that stopped on a threshold,
	// NaN otherwise.
	EventTime  float64
	Met        []string
	Reason     sim.StopReason
	FinalState dynamo.State
}

// RunSweep executes a parameter sweep
func RunSweep(ctx context.Context, sweep *ParameterSweep, registry *experiment.Registry, log logr.Logger) ([]SweepResult, error) {
	if sweep.Param == "" {
		return nil, &dynamo.ConfigError{Field: "param", Reason: "required"}
	}
	if len(sweep.Values) == 0 {
		return nil, &dynamo.ConfigError{Field: "values", Reason: "must not be empty"}
	}

	results := make([]SweepResult, 0, len(sweep.Values))
	for i, v := range sweep.Values {
		cfg := *sweep.Config.Clone()
		overrides := dynamo.NewParams(cfg.Params)
		if err := overrides.Overlay(nested(sweep.Param, v)); err != nil {
			return nil, &dynamo.ConfigError{Field: "param", Err: err}
		}
		cfg.Params = overrides.Snapshot()

		exp, err := experiment.New(registry, &cfg, experiment.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", sweep.Param, v, err)
		}
		tr, err := exp.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", sweep.Param, v, err)
		}

		res := SweepResult{
			ParamValue: v,
			EventTime:  math.NaN(),
			Met:        tr.Met,
			Reason:     tr.Reason,
			FinalState: tr.States[tr.Len()-1],
		}
		if tr.Reason == sim.StopThreshold {
			res.EventTime = tr.FinalTime()
		}
		results = append(results, res)

		log.Info("sweep", "run", i+1, "of", len(sweep.Values), sweep.Param, v, "reason", tr.Reason, "t", tr.FinalTime())
	}

	return results, nil
}

// nested turns "a.b" into {"a": {"b": v}}.
func nested(path string, v float64) params.Values {
	parts := strings.Split(path, ".")
	out := params.Values{parts[len(parts)-1]: v}
	for i := len(parts) - 2; i >= 0; i-- {
		out = params.Values{parts[i]: out}
	}
	return out
}
