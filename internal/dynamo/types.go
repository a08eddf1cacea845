package dynamo

import (
	"fmt"
	"maps"
	"math"
	"sort"
)

// EventTolerance is the event-state value at or below which an event is
// considered to have occurred when a model does not define its own
// threshold check.
const EventTolerance = 1e-6

type State map[string]float64

func (s State) Clone() State { return maps.Clone(s) }

// IsValid reports whether every value is finite.
func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type Input map[string]float64

func (u Input) Clone() Input { return maps.Clone(u) }

type Output map[string]float64

func (z Output) Clone() Output { return maps.Clone(z) }

// EventState holds, per event, the remaining fraction until the event
// occurs: 1 is healthy, 0 means the event has happened.
type EventState map[string]float64

func (es EventState) Clone() EventState { return maps.Clone(es) }

type Thresholds map[string]bool

// Met returns the sorted names of the events whose threshold is met.
func (th Thresholds) Met() []string {
	var met []string
	for k, v := range th {
		if v {
			met = append(met, k)
		}
	}
	sort.Strings(met)
	return met
}

// LoadFunc returns the input applied at time t in state x. x is nil when
// the load is evaluated before the model is initialized.
type LoadFunc func(t float64, x State) Input

// Form tells how a model advances its state.
type Form int

const (
	// FormDerivative models provide dx/dt and are integrated by the engine.
	FormDerivative Form = iota
	// FormDiscrete models compute the next state directly.
	FormDiscrete
)

func (f Form) String() string {
	if f == FormDiscrete {
		return "discrete"
	}
	return "derivative"
}

// Schema names the keys a model reads and produces.
type Schema struct {
	States  []string `yaml:"states" json:"states"`
	Inputs  []string `yaml:"inputs" json:"inputs"`
	Outputs []string `yaml:"outputs" json:"outputs"`
	Events  []string `yaml:"events" json:"events"`
}

// SchemaFromMap builds a schema from a loose description keyed by
// "states", "inputs", "outputs" and "events". Other keys are ignored.
func SchemaFromMap(m map[string][]string) Schema {
	clone := func(s []string) []string {
		if s == nil {
			return nil
		}
		return append([]string(nil), s...)
	}
	return Schema{
		States:  clone(m["states"]),
		Inputs:  clone(m["inputs"]),
		Outputs: clone(m["outputs"]),
		Events:  clone(m["events"]),
	}
}

// Validate checks that states, inputs and outputs are present and that no
// list repeats a name.
func (s Schema) Validate() error {
	lists := []struct {
		field    string
		names    []string
		required bool
	}{
		{"states", s.States, true},
		{"inputs", s.Inputs, true},
		{"outputs", s.Outputs, true},
		{"events", s.Events, false},
	}
	for _, l := range lists {
		if l.required && len(l.names) == 0 {
			return &ConfigError{Field: l.field, Reason: "must not be empty"}
		}
		seen := make(map[string]bool, len(l.names))
		for _, n := range l.names {
			if n == "" {
				return &ConfigError{Field: l.field, Reason: "empty name"}
			}
			if seen[n] {
				return &ConfigError{Field: l.field, Reason: fmt.Sprintf("duplicate name %q", n)}
			}
			seen[n] = true
		}
	}
	return nil
}

// HasEvent reports whether name is a declared event.
func (s Schema) HasEvent(name string) bool {
	for _, e := range s.Events {
		if e == name {
			return true
		}
	}
	return false
}

// CheckKeys reports, as a *SchemaError, how the keys of m differ from
// keys. It returns nil when they match exactly.
func CheckKeys(kind string, m map[string]float64, keys []string) error {
	missing := Missing(m, keys)
	var unknown []string
	if len(m) != len(keys)-len(missing) {
		declared := make(map[string]bool, len(keys))
		for _, k := range keys {
			declared[k] = true
		}
		for k := range m {
			if !declared[k] {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	return &SchemaError{Kind: kind, Missing: missing, Unknown: unknown}
}

// Missing returns the names in keys that m does not hold.
func Missing(m map[string]float64, keys []string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
