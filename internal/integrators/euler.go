package integrators

import "github.com/san-kum/progsim/internal/dynamo"

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(f DerivFunc, t float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	dx := f(t, x, u)
	result := make(dynamo.State, len(x))
	for k, v := range x {
		result[k] = v + dt*dx[k]
	}
	return result
}
