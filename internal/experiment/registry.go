package experiment

import (
	"fmt"
	"slices"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/integrators"
	"github.com/san-kum/progsim/internal/loading"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/physics"
)

// ModelFactory builds a model from parameter overrides.
type ModelFactory func(overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error)

// Entry describes a registered model.
type Entry struct {
	Factory     ModelFactory
	Description string
	// Load is used when a run does not specify one.
	Load loading.Profile
}

type Registry struct {
	models map[string]Entry
}

var pumpNominal = dynamo.Input{
	"Tamb":   290,
	"V":      471.2389,
	"pdisch": 928654,
	"psuc":   239179,
	"wsync":  376.991,
}

func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]Entry)}

	r.Register("battery", Entry{
		Factory:     physics.NewBatteryCircuit,
		Description: "equivalent circuit battery discharging to end of discharge",
		Load:        loading.Profile{Type: loading.TypeConstant, Values: dynamo.Input{"i": 2}},
	})
	r.Register("pump", Entry{
		Factory:     physics.NewCentrifugalPumpBase,
		Description: "centrifugal pump, wear rates as parameters",
		Load:        loading.Profile{Type: loading.TypeConstant, Values: pumpNominal},
	})
	r.Register("pump_wear", Entry{
		Factory:     physics.NewCentrifugalPumpWithWear,
		Description: "centrifugal pump, wear rates as states",
		Load:        loading.Profile{Type: loading.TypeConstant, Values: pumpNominal},
	})
	r.Register("thrown_object", Entry{
		Factory:     physics.NewThrownObject,
		Description: "object thrown straight up, falling and impact events",
		Load:        loading.Profile{Type: loading.TypeZero},
	})

	return r
}

// Register adds or replaces a model.
func (r *Registry) Register(name string, e Entry) {
	r.models[name] = e
}

func (r *Registry) Get(name string) (Entry, error) {
	e, ok := r.models[name]
	if !ok {
		return Entry{}, &dynamo.ConfigError{Field: "model", Reason: fmt.Sprintf("unknown model %q", name)}
	}
	return e, nil
}

func (r *Registry) GetModel(name string, overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return e.Factory(overrides, opts...)
}

func (r *Registry) GetIntegrator(name string) (integrators.Integrator, error) {
	return integrators.ByName(name)
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) ListIntegrators() []string {
	return integrators.Names()
}
