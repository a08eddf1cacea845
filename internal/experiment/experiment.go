// Package experiment turns a run configuration into a model, a load
// function and a simulation.
package experiment

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/go-logr/logr"

	"github.com/san-kum/progsim/internal/config"
	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/loading"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
	"github.com/san-kum/progsim/internal/storage"
)

type Experiment struct {
	cfg       *config.Config
	registry  *Registry
	seed      uint64
	model     *dynamo.Model
	simulator *sim.Simulator
	profile   loading.Profile
	logger    logr.Logger
}

type Option func(*Experiment)

func WithLogger(l logr.Logger) Option {
	return func(e *Experiment) { e.logger = l }
}

// New builds the model named by cfg. A nil cfg.Seed draws a seed, which
// is reported by Seed so the run can be repeated.
func New(reg *Registry, cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{
		cfg:      cfg,
		registry: reg,
		logger:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}

	entry, err := reg.Get(cfg.Model)
	if err != nil {
		return nil, err
	}
	e.profile = cfg.Load
	if e.profile.Type == "" && len(e.profile.Values) == 0 {
		e.profile = entry.Load
	}

	if cfg.Seed != nil {
		e.seed = *cfg.Seed
	} else {
		e.seed = rand.Uint64()
	}
	e.model, err = entry.Factory(cfg.Params, dynamo.WithSeed(e.seed))
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.Model, err)
	}
	return e, nil
}

func (e *Experiment) Model() *dynamo.Model { return e.model }
func (e *Experiment) Seed() uint64         { return e.seed }

// Setup creates the simulator. Observers see every run of the experiment.
func (e *Experiment) Setup(observers ...sim.Observer) {
	e.simulator = sim.New(e.model, sim.WithLogger(e.logger))
	for _, o := range observers {
		e.simulator.AddObserver(o)
	}
}

// Load builds a fresh load function for one run.
func (e *Experiment) Load() (dynamo.LoadFunc, error) {
	return e.profile.Build(e.model.Schema())
}

// FirstOutput is the noise-free output at the initial state, used to seed
// initialization.
func (e *Experiment) FirstOutput(load dynamo.LoadFunc) dynamo.Output {
	x := e.cfg.Sim.X
	if x == nil {
		x = e.model.Initialize(load(0, nil), nil)
	}
	return e.model.OutputNoiseFree(0, x)
}

func (e *Experiment) Run(ctx context.Context) (*sim.Trajectory, error) {
	if e.simulator == nil {
		e.Setup()
	}
	load, err := e.Load()
	if err != nil {
		return nil, err
	}
	first := e.FirstOutput(load)

	if e.cfg.Mode == config.ModeTime {
		return e.simulator.SimulateTo(ctx, e.cfg.Time, load, first, e.cfg.Sim)
	}
	return e.simulator.SimulateToThreshold(ctx, load, first, e.cfg.Sim, e.cfg.Thresholds...)
}

// Ensemble runs n copies of the experiment seeded Seed(), Seed()+1, ...
// Stateful loads such as pid profiles cannot be shared between runs and
// are rejected.
func (e *Experiment) Ensemble(ctx context.Context, n, workers int) ([]*sim.Trajectory, error) {
	if e.profile.Type == loading.TypePID {
		return nil, &dynamo.ConfigError{Field: "load.type", Reason: "pid loads cannot be used in an ensemble"}
	}
	load, err := e.Load()
	if err != nil {
		return nil, err
	}
	first := e.FirstOutput(load)

	entry, err := e.registry.Get(e.cfg.Model)
	if err != nil {
		return nil, err
	}
	overrides := e.cfg.Params
	factory := func(seed uint64) (*dynamo.Model, error) {
		return entry.Factory(params.New(overrides).Snapshot(), dynamo.WithSeed(seed))
	}

	ens := sim.NewEnsemble(factory, n, e.seed, sim.WithLogger(e.logger))
	ens.SetWorkers(workers)
	if e.cfg.Mode == config.ModeTime {
		return ens.SimulateTo(ctx, e.cfg.Time, load, first, e.cfg.Sim)
	}
	return ens.SimulateToThreshold(ctx, load, first, e.cfg.Sim, e.cfg.Thresholds...)
}

// Metadata describes the experiment for storage.
func (e *Experiment) Metadata() storage.RunMetadata {
	seed := e.seed
	meta := storage.RunMetadata{
		Model:      e.cfg.Model,
		Seed:       &seed,
		Mode:       e.cfg.Mode,
		Dt:         e.cfg.Sim.Dt,
		SaveFreq:   e.cfg.Sim.SaveFreq,
		Horizon:    e.cfg.Sim.Horizon,
		Integrator: e.cfg.Sim.Integrator,
		Thresholds: e.cfg.Thresholds,
		Schema:     e.model.Schema(),
		Params:     jsonParams(e.model.Params().Snapshot()),
	}
	if meta.Dt == 0 {
		meta.Dt = sim.DefaultDt
	}
	if meta.SaveFreq == 0 {
		meta.SaveFreq = sim.DefaultSaveFreq
	}
	if e.cfg.Mode == config.ModeTime {
		meta.TimeLimit = e.cfg.Time
	}
	return meta
}

// jsonParams drops values that cannot be written as JSON, such as noise
// functions.
func jsonParams(v params.Values) params.Values {
	out := make(params.Values, len(v))
	for k, val := range v {
		switch t := val.(type) {
		case params.Values:
			out[k] = jsonParams(t)
		case float64, string, bool, []float64:
			out[k] = t
		}
	}
	return out
}
