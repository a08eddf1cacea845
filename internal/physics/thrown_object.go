package physics

import (
	"math"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/params"
)

var ThrownObjectSchema = dynamo.Schema{
	States:  []string{"x", "v"},
	Inputs:  []string{"a"},
	Outputs: []string{"x"},
	Events:  []string{"falling", "impact"},
}

func ThrownObjectDefaults() params.Values {
	return params.Values{
		"thrower_height": 1.83, // m
		"throwing_speed": 40.0, // m/s
		"g":              -9.81,

		dynamo.ParamProcessNoise:     0.0,
		dynamo.ParamMeasurementNoise: 0.0,
	}
}

// ThrownObject is an object thrown straight up from the thrower's height.
// The input a adds to gravity.
type ThrownObject struct {
	p *params.Store
}

func NewThrownObject(overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error) {
	p := dynamo.NewParams(ThrownObjectDefaults())
	if err := p.Overlay(overrides); err != nil {
		return nil, &dynamo.ConfigError{Field: "params", Err: err}
	}
	if err := p.Require("thrower_height", "throwing_speed", "g"); err != nil {
		return nil, &dynamo.ConfigError{Field: "params", Err: err}
	}
	if p.Float("g") >= 0 {
		return nil, &dynamo.ConfigError{Field: "params", Reason: "g must be negative"}
	}
	base := []dynamo.Option{
		dynamo.WithName("thrown_object"),
		dynamo.WithParams(p),
	}
	return dynamo.New(ThrownObjectSchema, &ThrownObject{p: p}, append(base, opts...)...)
}

func (o *ThrownObject) Initialize(dynamo.Input, dynamo.Output) dynamo.State {
	return dynamo.State{
		"x": o.p.Float("thrower_height"),
		"v": o.p.Float("throwing_speed"),
	}
}

func (o *ThrownObject) Dx(_ float64, x dynamo.State, u dynamo.Input) dynamo.State {
	return dynamo.State{
		"x": x["v"],
		"v": o.p.Float("g") + u["a"],
	}
}

func (o *ThrownObject) Output(_ float64, x dynamo.State) dynamo.Output {
	return dynamo.Output{"x": x["x"]}
}

// maxHeight is the apex reached without any extra acceleration.
func (o *ThrownObject) maxHeight() float64 {
	v0 := o.p.Float("throwing_speed")
	return o.p.Float("thrower_height") + v0*v0/(2*math.Abs(o.p.Float("g")))
}

func (o *ThrownObject) EventState(_ float64, x dynamo.State) dynamo.EventState {
	return dynamo.EventState{
		"falling": math.Max(x["v"]/o.p.Float("throwing_speed"), 0),
		"impact":  math.Max(x["x"]/o.maxHeight(), 0),
	}
}

func (o *ThrownObject) ThresholdMet(_ float64, x dynamo.State) dynamo.Thresholds {
	return dynamo.Thresholds{
		"falling": x["v"] < 0,
		"impact":  x["x"] <= 0,
	}
}
