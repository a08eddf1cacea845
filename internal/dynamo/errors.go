package dynamo

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks a model or simulation that is set up incorrectly.
	ErrConfig = errors.New("dynamo: invalid configuration")

	// ErrInput marks an argument a simulation call cannot accept.
	ErrInput = errors.New("dynamo: invalid input")

	// ErrInvalidState indicates a state with NaN or Inf values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrSchema marks a state, input or output whose keys differ from the
	// model's declared schema.
	ErrSchema = errors.New("dynamo: keys do not match schema")
)

// ConfigError describes a configuration problem in a single field.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrConfig, e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func (e *ConfigError) Unwrap() error { return e.Err }

// InputError describes a rejected argument.
type InputError struct {
	Arg    string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrInput, e.Arg)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InputError) Is(target error) bool { return target == ErrInput }

func (e *InputError) Unwrap() error { return e.Err }

// SchemaError lists the keys by which a value of the given kind ("state",
// "input", "derivative") departs from the schema.
type SchemaError struct {
	Kind    string
	Missing []string
	Unknown []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", e.Missing))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("unknown %v", e.Unknown))
	}
	return fmt.Sprintf("%s: %s %s", ErrSchema, e.Kind, strings.Join(parts, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
