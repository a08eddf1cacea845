package integrators

import "github.com/san-kum/progsim/internal/dynamo"

// RK4 is the classic fourth-order Runge-Kutta method.
type RK4 struct{}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) Step(f DerivFunc, t float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	k1 := f(t, x, u)
	k2 := f(t+dt*0.5, combine(nil, x, dt*0.5, []float64{1}, []dynamo.State{k1}), u)
	k3 := f(t+dt*0.5, combine(nil, x, dt*0.5, []float64{1}, []dynamo.State{k2}), u)
	k4 := f(t+dt, combine(nil, x, dt, []float64{1}, []dynamo.State{k3}), u)

	return combine(nil, x, dt/6.0, []float64{1, 2, 2, 1}, []dynamo.State{k1, k2, k3, k4})
}
