package loading

import (
	"fmt"
	"slices"
	"strings"

	"github.com/san-kum/progsim/internal/dynamo"
)

// Profile types.
const (
	TypeConstant  = "constant"
	TypeZero      = "zero"
	TypePiecewise = "piecewise"
	TypeCycle     = "cycle"
	TypePID       = "pid"
)

// Profile describes a load function in a run file.
type Profile struct {
	Type     string         `yaml:"type" json:"type"`
	Values   dynamo.Input   `yaml:"values,omitempty" json:"values,omitempty"`
	Segments []Segment      `yaml:"segments,omitempty" json:"segments,omitempty"`
	Period   float64        `yaml:"period,omitempty" json:"period,omitempty"`
	Phases   []dynamo.Input `yaml:"phases,omitempty" json:"phases,omitempty"`
	PID      *PIDProfile    `yaml:"pid,omitempty" json:"pid,omitempty"`
}

type PIDProfile struct {
	Kp     float64  `yaml:"kp" json:"kp"`
	Ki     float64  `yaml:"ki" json:"ki"`
	Kd     float64  `yaml:"kd" json:"kd"`
	Target float64  `yaml:"target" json:"target"`
	State  string   `yaml:"state" json:"state"`
	Input  string   `yaml:"input" json:"input"`
	Min    *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Build returns the load function for a model with the given schema.
// Every input of the schema must be supplied. A pid profile keeps state,
// so build one function per run.
func (p Profile) Build(schema dynamo.Schema) (dynamo.LoadFunc, error) {
	switch strings.ToLower(p.Type) {
	case TypeZero:
		return Zero(schema.Inputs), nil
	case "", TypeConstant:
		if err := covers(schema, p.Values); err != nil {
			return nil, err
		}
		return Constant(p.Values), nil
	case TypePiecewise:
		for i, s := range p.Segments {
			if err := covers(schema, s.Values); err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
		}
		return Piecewise(p.Segments)
	case TypeCycle:
		for i, ph := range p.Phases {
			if err := covers(schema, ph); err != nil {
				return nil, fmt.Errorf("phase %d: %w", i, err)
			}
		}
		return Cycle(p.Period, p.Phases)
	case TypePID:
		return p.buildPID(schema)
	}
	return nil, &dynamo.ConfigError{Field: "load.type", Reason: fmt.Sprintf("unknown profile %q", p.Type)}
}

func (p Profile) buildPID(schema dynamo.Schema) (dynamo.LoadFunc, error) {
	c := p.PID
	if c == nil {
		return nil, &dynamo.ConfigError{Field: "load.pid", Reason: "required for pid profiles"}
	}
	if !slices.Contains(schema.States, c.State) {
		return nil, &dynamo.ConfigError{Field: "load.pid.state", Reason: fmt.Sprintf("%q is not a state", c.State)}
	}
	if !slices.Contains(schema.Inputs, c.Input) {
		return nil, &dynamo.ConfigError{Field: "load.pid.input", Reason: fmt.Sprintf("%q is not an input", c.Input)}
	}
	base := p.Values.Clone()
	if base == nil {
		base = dynamo.Input{}
	}
	if _, ok := base[c.Input]; !ok {
		base[c.Input] = 0
	}
	if err := covers(schema, base); err != nil {
		return nil, err
	}

	pid := NewPID(c.Kp, c.Ki, c.Kd, c.Target, c.State, c.Input, base)
	if c.Min != nil {
		pid.Min = *c.Min
	}
	if c.Max != nil {
		pid.Max = *c.Max
	}
	return pid.Func(), nil
}

func covers(schema dynamo.Schema, u dynamo.Input) error {
	if err := dynamo.CheckKeys("input", u, schema.Inputs); err != nil {
		return &dynamo.ConfigError{Field: "load.values", Err: err}
	}
	return nil
}
