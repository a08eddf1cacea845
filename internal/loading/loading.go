// Package loading provides loading profiles: functions of time and state
// that produce the input applied to a model at each step.
package loading

import (
	"fmt"
	"math"
	"slices"

	"github.com/san-kum/progsim/internal/dynamo"
)

// Constant applies u at all times.
func Constant(u dynamo.Input) dynamo.LoadFunc {
	u = u.Clone()
	return func(float64, dynamo.State) dynamo.Input { return u.Clone() }
}

// Zero applies 0 to every key.
func Zero(keys []string) dynamo.LoadFunc {
	u := make(dynamo.Input, len(keys))
	for _, k := range keys {
		u[k] = 0
	}
	return Constant(u)
}

// Segment holds Values until time Until.
type Segment struct {
	Until  float64      `yaml:"until" json:"until"`
	Values dynamo.Input `yaml:"values" json:"values"`
}

// Piecewise applies each segment until its end time. The last segment
// holds forever.
func Piecewise(segments []Segment) (dynamo.LoadFunc, error) {
	if len(segments) == 0 {
		return nil, &dynamo.ConfigError{Field: "segments", Reason: "must not be empty"}
	}
	segs := slices.Clone(segments)
	for i := 1; i < len(segs); i++ {
		if segs[i].Until <= segs[i-1].Until {
			return nil, &dynamo.ConfigError{Field: "segments", Reason: fmt.Sprintf("segment %d ends at %g, not after %g", i, segs[i].Until, segs[i-1].Until)}
		}
	}
	return func(t float64, _ dynamo.State) dynamo.Input {
		i, _ := slices.BinarySearchFunc(segs, t, func(s Segment, t float64) int {
			if s.Until <= t {
				return -1
			}
			return 1
		})
		if i >= len(segs) {
			i = len(segs) - 1
		}
		return segs[i].Values.Clone()
	}, nil
}

// Cycle repeats phases of equal length over period.
func Cycle(period float64, phases []dynamo.Input) (dynamo.LoadFunc, error) {
	if !(period > 0) || math.IsInf(period, 0) {
		return nil, &dynamo.ConfigError{Field: "period", Reason: fmt.Sprintf("must be positive, got %g", period)}
	}
	if len(phases) == 0 {
		return nil, &dynamo.ConfigError{Field: "phases", Reason: "must not be empty"}
	}
	ph := make([]dynamo.Input, len(phases))
	for i, p := range phases {
		ph[i] = p.Clone()
	}
	width := period / float64(len(ph))
	return func(t float64, _ dynamo.State) dynamo.Input {
		i := int(math.Mod(t, period) / width)
		if i < 0 {
			i = 0
		}
		if i >= len(ph) {
			i = len(ph) - 1
		}
		return ph[i].Clone()
	}, nil
}
