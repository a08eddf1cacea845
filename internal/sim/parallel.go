package sim

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/progsim/internal/dynamo"
)

// Factory builds an independent model instance seeded with seed.
type Factory func(seed uint64) (*dynamo.Model, error)

// Ensemble runs the same scenario on many independently seeded models.
// The load function is shared by all runs and must be safe for concurrent
// use.
type Ensemble struct {
	factory   Factory
	numRuns   int
	seedStart uint64
	workers   int
	opts      []Option
}

func NewEnsemble(factory Factory, numRuns int, seedStart uint64, opts ...Option) *Ensemble {
	return &Ensemble{
		factory:   factory,
		numRuns:   numRuns,
		seedStart: seedStart,
		workers:   runtime.NumCPU(),
		opts:      opts,
	}
}

// SetWorkers caps the number of concurrent runs.
func (e *Ensemble) SetWorkers(n int) {
	if n > 0 {
		e.workers = n
	}
}

func (e *Ensemble) SimulateTo(ctx context.Context, timeLimit float64, load dynamo.LoadFunc, firstOutput dynamo.Output, cfg Config) ([]*Trajectory, error) {
	return e.run(ctx, func(ctx context.Context, s *Simulator) (*Trajectory, error) {
		return s.SimulateTo(ctx, timeLimit, load, firstOutput, cfg)
	})
}

func (e *Ensemble) SimulateToThreshold(ctx context.Context, load dynamo.LoadFunc, firstOutput dynamo.Output, cfg Config, keys ...string) ([]*Trajectory, error) {
	return e.run(ctx, func(ctx context.Context, s *Simulator) (*Trajectory, error) {
		return s.SimulateToThreshold(ctx, load, firstOutput, cfg, keys...)
	})
}

// run returns the trajectories in run order. The first failing run cancels
// the others.
func (e *Ensemble) run(ctx context.Context, fn func(context.Context, *Simulator) (*Trajectory, error)) ([]*Trajectory, error) {
	if e.numRuns <= 0 {
		return nil, &dynamo.InputError{Arg: "runs", Reason: fmt.Sprintf("must be positive, got %d", e.numRuns)}
	}
	if e.factory == nil {
		return nil, &dynamo.ConfigError{Field: "factory", Reason: "required"}
	}

	results := make([]*Trajectory, e.numRuns)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := 0; i < e.numRuns; i++ {
		g.Go(func() error {
			m, err := e.factory(e.seedStart + uint64(i))
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			tr, err := fn(ctx, New(m, e.opts...))
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = tr
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Stats summarizes a set of event times.
type Stats struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// EventTimes returns the final time of every run that stopped on a
// threshold.
func EventTimes(trs []*Trajectory) []float64 {
	var times []float64
	for _, tr := range trs {
		if tr != nil && tr.Reason == StopThreshold {
			times = append(times, tr.FinalTime())
		}
	}
	return times
}

func Summarize(times []float64) Stats {
	if len(times) == 0 {
		return Stats{}
	}
	st := Stats{
		N:    len(times),
		Mean: stat.Mean(times, nil),
		Min:  floats.Min(times),
		Max:  floats.Max(times),
	}
	if len(times) > 1 {
		st.StdDev = stat.StdDev(times, nil)
	}
	return st
}
