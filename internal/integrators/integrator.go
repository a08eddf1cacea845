// Package integrators advances derivative-form models over one time step.
package integrators

import (
	"fmt"

	"github.com/san-kum/progsim/internal/dynamo"
)

// DerivFunc returns dx/dt at time t.
type DerivFunc func(t float64, x dynamo.State, u dynamo.Input) dynamo.State

// Integrator advances x by dt with the input held constant. Implementations
// may keep scratch space and are not safe for concurrent use.
type Integrator interface {
	Step(f DerivFunc, t float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State
}

// ByName returns a new integrator. The empty name selects Euler.
func ByName(name string) (Integrator, error) {
	switch name {
	case "", "euler":
		return NewEuler(), nil
	case "rk4":
		return NewRK4(), nil
	case "rk45", "dopri":
		return NewRK45(), nil
	default:
		return nil, &dynamo.ConfigError{Field: "integrator", Reason: fmt.Sprintf("unknown integrator %q", name)}
	}
}

func Names() []string {
	return []string{"euler", "rk4", "rk45"}
}

// combine returns x + dt*sum(c[i]*k[i]) for every key of x, written into
// dst when it is not nil.
func combine(dst, x dynamo.State, dt float64, c []float64, k []dynamo.State) dynamo.State {
	if dst == nil {
		dst = make(dynamo.State, len(x))
	}
	for key, v := range x {
		sum := 0.0
		for i, ki := range k {
			if c[i] != 0 {
				sum += c[i] * ki[key]
			}
		}
		dst[key] = v + dt*sum
	}
	return dst
}
