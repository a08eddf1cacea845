// Package limits clamps model states to their physical bounds.
package limits

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalidBounds = errors.New("limits: invalid bounds")

// Bound is a closed interval. Use math.Inf for an open side.
type Bound struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// AtLeast bounds a state from below only.
func AtLeast(low float64) Bound {
	return Bound{Low: low, High: math.Inf(1)}
}

// AtMost bounds a state from above only.
func AtMost(high float64) Bound {
	return Bound{Low: math.Inf(-1), High: high}
}

func Between(low, high float64) Bound {
	return Bound{Low: low, High: high}
}

// Bounds maps state names to their limits. States without an entry are
// unconstrained.
type Bounds map[string]Bound

// Clamp moves every out-of-range value of x onto its nearest bound, in
// place, and returns the sorted names of the values it changed.
func (b Bounds) Clamp(x map[string]float64) []string {
	var clamped []string
	for key, bound := range b {
		v, ok := x[key]
		if !ok {
			continue
		}
		switch {
		case v < bound.Low:
			x[key] = bound.Low
		case v > bound.High:
			x[key] = bound.High
		default:
			continue
		}
		clamped = append(clamped, key)
	}
	sort.Strings(clamped)
	return clamped
}

// Validate checks that every bounded key is a declared state and that no
// interval is empty.
func (b Bounds) Validate(states []string) error {
	declared := make(map[string]bool, len(states))
	for _, s := range states {
		declared[s] = true
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bound := b[key]
		if !declared[key] {
			return fmt.Errorf("%w: %q is not a declared state", ErrInvalidBounds, key)
		}
		if math.IsNaN(bound.Low) || math.IsNaN(bound.High) {
			return fmt.Errorf("%w: %q has a NaN bound", ErrInvalidBounds, key)
		}
		if bound.Low > bound.High {
			return fmt.Errorf("%w: %q low %g exceeds high %g", ErrInvalidBounds, key, bound.Low, bound.High)
		}
	}
	return nil
}

// Clone returns an independent copy of b.
func (b Bounds) Clone() Bounds {
	if b == nil {
		return nil
	}
	out := make(Bounds, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
