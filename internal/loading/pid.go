package loading

import (
	"math"

	"github.com/san-kum/progsim/internal/dynamo"
)

// PID drives one input so that a state tracks Target. The other inputs
// come from Base.
type PID struct {
	Kp     float64
	Ki     float64
	Kd     float64
	Target float64

	State string
	Input string
	Base  dynamo.Input
	// Min and Max bound the controlled input.
	Min float64
	Max float64

	integral float64
	prevErr  float64
	prevT    float64
	first    bool
}

func NewPID(kp, ki, kd, target float64, state, input string, base dynamo.Input) *PID {
	return &PID{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		State:  state,
		Input:  input,
		Base:   base.Clone(),
		Min:    math.Inf(-1),
		Max:    math.Inf(1),
		first:  true,
	}
}

// Reset clears the integral and derivative memory.
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.prevT = 0
	p.first = true
}

// Compute returns the input for time t. Before the first state is known
// the controlled input is taken from Base.
func (p *PID) Compute(t float64, x dynamo.State) dynamo.Input {
	u := p.Base.Clone()
	if u == nil {
		u = dynamo.Input{}
	}
	v, ok := x[p.State]
	if !ok {
		return u
	}

	err := p.Target - v
	out := p.Kp * err
	if p.first {
		p.first = false
	} else if dt := t - p.prevT; dt > 0 {
		p.integral += err * dt
		out += p.Ki*p.integral + p.Kd*(err-p.prevErr)/dt
	}
	p.prevErr = err
	p.prevT = t

	u[p.Input] = math.Max(p.Min, math.Min(p.Max, u[p.Input]+out))
	return u
}

// Func adapts the controller to a load function.
func (p *PID) Func() dynamo.LoadFunc {
	return p.Compute
}
