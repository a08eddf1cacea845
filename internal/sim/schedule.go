package sim

import (
	"math"
	"slices"
)

// eps absorbs floating point drift when comparing times.
const eps = 1e-9

// schedule yields save times: multiples of freq merged with explicit
// points.
type schedule struct {
	freq float64
	k    int
	pts  []float64
	i    int
}

func newSchedule(freq float64, pts []float64) *schedule {
	sorted := make([]float64, 0, len(pts))
	for _, p := range pts {
		if p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p) {
			sorted = append(sorted, p)
		}
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return &schedule{freq: freq, pts: sorted}
}

// next returns the earliest pending save time, or +Inf.
func (s *schedule) next() float64 {
	n := math.Inf(1)
	if s.freq > 0 && !math.IsInf(s.freq, 0) {
		n = float64(s.k) * s.freq
	}
	if s.i < len(s.pts) && s.pts[s.i] < n {
		n = s.pts[s.i]
	}
	return n
}

// due reports whether a step ending at t reaches or passes the next save
// time.
func (s *schedule) due(t float64) bool {
	return t >= s.next()-eps
}

// advance consumes every save time up to t.
func (s *schedule) advance(t float64) {
	if s.freq > 0 && !math.IsInf(s.freq, 0) {
		for float64(s.k)*s.freq <= t+eps {
			s.k++
		}
	}
	for s.i < len(s.pts) && s.pts[s.i] <= t+eps {
		s.i++
	}
}
