// Package noise perturbs named numeric vectors with configurable random
// noise drawn from gonum distributions.
package noise

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/progsim/internal/params"
)

var ErrInvalidSpec = errors.New("noise: invalid specification")

// Dist selects the distribution noise is drawn from.
type Dist int

const (
	Normal Dist = iota
	Uniform
	Triangular
)

func (d Dist) String() string {
	switch d {
	case Uniform:
		return "uniform"
	case Triangular:
		return "triangular"
	default:
		return "normal"
	}
}

// ParseDist maps a distribution name to a Dist. The empty string selects
// Normal.
func ParseDist(name string) (Dist, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "normal", "gaussian":
		return Normal, nil
	case "uniform":
		return Uniform, nil
	case "triangular":
		return Triangular, nil
	default:
		return Normal, fmt.Errorf("%w: unknown distribution %q", ErrInvalidSpec, name)
	}
}

// Func replaces the built-in perturbation entirely.
type Func func(m map[string]float64) map[string]float64

// Spec describes how much noise each key receives: one magnitude for all
// keys, one per key, or a custom function.
type Spec struct {
	Scalar float64
	PerKey map[string]float64
	Fn     Func
}

// IsZero reports whether applying s is a passthrough.
func (s Spec) IsZero() bool {
	if s.Fn != nil {
		return false
	}
	if s.Scalar != 0 {
		return false
	}
	for _, v := range s.PerKey {
		if v != 0 {
			return false
		}
	}
	return true
}

func (s Spec) magnitude(key string) float64 {
	if s.PerKey != nil {
		return s.PerKey[key]
	}
	return s.Scalar
}

// ParseSpec reads a noise specification from a parameter value.
func ParseSpec(v any) (Spec, error) {
	switch t := v.(type) {
	case nil:
		return Spec{}, nil
	case Func:
		return Spec{Fn: t}, nil
	case func(map[string]float64) map[string]float64:
		return Spec{Fn: t}, nil
	case float64:
		if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return Spec{}, fmt.Errorf("%w: magnitude %g", ErrInvalidSpec, t)
		}
		return Spec{Scalar: t}, nil
	case int:
		return ParseSpec(float64(t))
	case map[string]float64:
		return perKey(t)
	case params.Values:
		m := make(map[string]float64, len(t))
		for k, val := range t {
			f, ok := val.(float64)
			if !ok {
				return Spec{}, fmt.Errorf("%w: %q is %T, not a number", ErrInvalidSpec, k, val)
			}
			m[k] = f
		}
		return perKey(m)
	default:
		return Spec{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidSpec, v)
	}
}

func perKey(m map[string]float64) (Spec, error) {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Spec{}, fmt.Errorf("%w: %q magnitude %g", ErrInvalidSpec, k, v)
		}
		out[k] = v
	}
	return Spec{PerKey: out}, nil
}

// Validate checks that a per-key spec only names keys in keys.
func (s Spec) Validate(keys []string) error {
	declared := make(map[string]bool, len(keys))
	for _, k := range keys {
		declared[k] = true
	}
	var unknown []string
	for k := range s.PerKey {
		if !declared[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown keys %v", ErrInvalidSpec, unknown)
	}
	return nil
}

// Apply perturbs m according to spec and returns the result. Built-in
// noise is added in place, visiting keys in the given order so a seeded
// source reproduces the same draws; each draw is multiplied by scale. A
// custom function receives m and its result is returned as is.
func Apply(keys []string, m map[string]float64, spec Spec, dist Dist, scale float64, src rand.Source) map[string]float64 {
	if spec.Fn != nil {
		return spec.Fn(m)
	}
	if spec.IsZero() {
		return m
	}
	for _, k := range keys {
		w := spec.magnitude(k)
		if w == 0 {
			continue
		}
		v, ok := m[k]
		if !ok {
			continue
		}
		m[k] = v + scale*draw(dist, w, src)
	}
	return m
}

func draw(d Dist, w float64, src rand.Source) float64 {
	switch d {
	case Uniform:
		return distuv.Uniform{Min: -w, Max: w, Src: src}.Rand()
	case Triangular:
		return distuv.NewTriangle(-w, w, 0, src).Rand()
	default:
		return distuv.Normal{Mu: 0, Sigma: w, Src: src}.Rand()
	}
}
