package integrators

import (
	"math"

	"github.com/san-kum/progsim/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b2 = []float64{1.0 / 5.0}
	b3 = []float64{3.0 / 40.0, 9.0 / 40.0}
	b4 = []float64{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0}
	b5 = []float64{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0}
	b6 = []float64{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0}

	c5th = []float64{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0}

	dc = []float64{
		35.0/384.0 - 5179.0/57600.0,
		0,
		500.0/1113.0 - 7571.0/16695.0,
		125.0/192.0 - 393.0/640.0,
		-2187.0/6784.0 - -92097.0/339200.0,
		11.0/84.0 - 187.0/2100.0,
		-1.0 / 40.0,
	}
)

// RK45 covers each step with adaptive Dormand-Prince substeps, so the
// caller still sees a fixed step of dt.
type RK45 struct {
	Tol      float64
	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		Tol:      1e-6,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

func (r *RK45) Step(f DerivFunc, t float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	cur := x.Clone()
	h := dt
	end := t + dt
	minH := dt * 1e-6
	for t < end {
		if t+h > end {
			h = end - t
		}
		next, hNew, ok := r.attempt(f, t, cur, u, h)
		if !ok && h > minH {
			h = math.Max(hNew, minH)
			continue
		}
		cur = next
		t += h
		h = hNew
		if end-t <= minH*1e-3 {
			break
		}
	}
	return cur
}

// attempt takes one embedded step of size h and proposes the next size.
func (r *RK45) attempt(f DerivFunc, t float64, x dynamo.State, u dynamo.Input, h float64) (dynamo.State, float64, bool) {
	k1 := f(t, x, u)
	k2 := f(t+a2*h, combine(nil, x, h, b2, []dynamo.State{k1}), u)
	k3 := f(t+a3*h, combine(nil, x, h, b3, []dynamo.State{k1, k2}), u)
	k4 := f(t+a4*h, combine(nil, x, h, b4, []dynamo.State{k1, k2, k3}), u)
	k5 := f(t+a5*h, combine(nil, x, h, b5, []dynamo.State{k1, k2, k3, k4}), u)
	k6 := f(t+h, combine(nil, x, h, b6, []dynamo.State{k1, k2, k3, k4, k5}), u)

	xNew := combine(nil, x, h, c5th, []dynamo.State{k1, k2, k3, k4, k5, k6})
	k7 := f(t+h, xNew, u)

	errMax := 0.0
	ks := []dynamo.State{k1, k2, k3, k4, k5, k6, k7}
	for key, v := range x {
		errEst := 0.0
		for i, k := range ks {
			errEst += dc[i] * k[key]
		}
		errEst *= h
		scale := math.Abs(v) + math.Abs(h*k1[key]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	errRatio := errMax / r.Tol

	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		return xNew, h * scale, false
	}
	if errRatio > 0 {
		return xNew, h * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2)), true
	}
	return xNew, h * r.maxScale, true
}
