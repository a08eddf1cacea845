package sim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/go-logr/logr"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/integrators"
	"github.com/san-kum/progsim/internal/logging"
)

// Simulator runs a model forward in time under a load.
type Simulator struct {
	model      *dynamo.Model
	integrator integrators.Integrator
	logger     logr.Logger
	observers  []Observer
}

type Option func(*Simulator)

func WithLogger(l logr.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithIntegrator sets the integrator for derivative models. Config.Integrator
// overrides it per run.
func WithIntegrator(i integrators.Integrator) Option {
	return func(s *Simulator) { s.integrator = i }
}

func WithObserver(o Observer) Option {
	return func(s *Simulator) { s.observers = append(s.observers, o) }
}

func New(m *dynamo.Model, opts ...Option) *Simulator {
	s := &Simulator{
		model:      m,
		integrator: integrators.NewEuler(),
		logger:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) Model() *dynamo.Model { return s.model }

type runSpec struct {
	cfg         Config
	load        dynamo.LoadFunc
	firstOutput dynamo.Output
	integ       integrators.Integrator
	limit       float64
	limitReason StopReason
	keys        []string
}

// SimulateTo runs the model from t=0 until timeLimit. Event thresholds do
// not stop the run.
func (s *Simulator) SimulateTo(ctx context.Context, timeLimit float64, load dynamo.LoadFunc, firstOutput dynamo.Output, cfg Config) (*Trajectory, error) {
	if math.IsNaN(timeLimit) || math.IsInf(timeLimit, 0) || timeLimit <= 0 {
		return nil, &dynamo.InputError{Arg: "time", Reason: fmt.Sprintf("must be a positive finite number, got %g", timeLimit)}
	}
	r, err := s.prepare(load, firstOutput, cfg)
	if err != nil {
		return nil, err
	}
	r.limit, r.limitReason = timeLimit, StopTimeLimit
	if r.cfg.Horizon > 0 && r.cfg.Horizon < timeLimit {
		r.limit, r.limitReason = r.cfg.Horizon, StopHorizon
	}
	return s.run(ctx, r)
}

// SimulateToThreshold runs the model until any of the given events occurs,
// or any declared event when keys is empty. Config.Horizon and
// Config.MaxSteps bound the run.
func (s *Simulator) SimulateToThreshold(ctx context.Context, load dynamo.LoadFunc, firstOutput dynamo.Output, cfg Config, keys ...string) (*Trajectory, error) {
	schema := s.model.Schema()
	for _, k := range keys {
		if !schema.HasEvent(k) {
			return nil, &dynamo.InputError{Arg: "threshold_keys", Reason: fmt.Sprintf("%q is not an event of %s", k, s.model.Name())}
		}
	}
	r, err := s.prepare(load, firstOutput, cfg)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		keys = schema.Events
	}
	if (len(keys) == 0 || !s.model.HasEvents()) && r.cfg.Horizon == 0 && r.cfg.MaxSteps == 0 {
		return nil, &dynamo.ConfigError{Field: "events", Reason: "model has no events; set horizon or max_steps"}
	}
	r.keys = keys
	if r.cfg.Horizon > 0 {
		r.limit, r.limitReason = r.cfg.Horizon, StopHorizon
	}
	return s.run(ctx, r)
}

func (s *Simulator) prepare(load dynamo.LoadFunc, firstOutput dynamo.Output, cfg Config) (*runSpec, error) {
	if load == nil {
		return nil, &dynamo.InputError{Arg: "load", Reason: "must not be nil"}
	}
	schema := s.model.Schema()
	if missing := dynamo.Missing(firstOutput, schema.Outputs); len(missing) > 0 {
		return nil, &dynamo.InputError{Arg: "first_output", Reason: fmt.Sprintf("missing %v", missing)}
	}
	if !nonNegative(cfg.Dt) {
		return nil, &dynamo.InputError{Arg: "dt", Reason: fmt.Sprintf("must be positive, got %g", cfg.Dt)}
	}
	if !nonNegative(cfg.SaveFreq) {
		return nil, &dynamo.InputError{Arg: "save_freq", Reason: fmt.Sprintf("must be positive, got %g", cfg.SaveFreq)}
	}
	if !nonNegative(cfg.Horizon) {
		return nil, &dynamo.InputError{Arg: "horizon", Reason: fmt.Sprintf("must be positive, got %g", cfg.Horizon)}
	}
	if cfg.MaxSteps < 0 {
		return nil, &dynamo.InputError{Arg: "max_steps", Reason: fmt.Sprintf("must not be negative, got %d", cfg.MaxSteps)}
	}
	if cfg.X != nil {
		if err := dynamo.CheckKeys("state", cfg.X, schema.States); err != nil {
			return nil, &dynamo.InputError{Arg: "x", Err: err}
		}
	}

	r := &runSpec{
		cfg:         cfg.withDefaults(),
		load:        load,
		firstOutput: firstOutput,
		integ:       s.integrator,
	}
	if cfg.Integrator != "" {
		integ, err := integrators.ByName(cfg.Integrator)
		if err != nil {
			return nil, err
		}
		r.integ = integ
	}
	return r, nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func (s *Simulator) run(ctx context.Context, r *runSpec) (*Trajectory, error) {
	m := s.model
	schema := m.Schema()
	log := s.logger.WithValues("model", m.Name())
	tr := &Trajectory{}

	var x dynamo.State
	if r.cfg.X != nil {
		x = r.cfg.X.Clone()
	} else {
		u0 := r.load(0, nil)
		if err := dynamo.CheckKeys("input", u0, schema.Inputs); err != nil {
			return s.fail(log, tr, 0, nil, err)
		}
		x = m.Initialize(u0, r.firstOutput.Clone())
		if err := dynamo.CheckKeys("state", x, schema.States); err != nil {
			return s.fail(log, tr, 0, x, err)
		}
	}

	log.V(logging.DEBUG).Info("simulation started",
		"form", m.Form().String(), "dt", r.cfg.Dt, "saveFreq", r.cfg.SaveFreq,
		"limit", r.limit, "thresholds", r.keys)

	sched := newSchedule(r.cfg.SaveFreq, r.cfg.SavePts)

	t := 0.0
	u := r.load(t, x)
	if err := dynamo.CheckKeys("input", u, schema.Inputs); err != nil {
		return s.fail(log, tr, t, x, err)
	}
	s.save(log, r, tr, t, u, x)
	sched.advance(t)
	lastSaved := 0

	if met := s.met(r.keys, t, x); len(met) > 0 {
		tr.Met = met
		s.finish(log, tr, StopThreshold)
		return tr, nil
	}

	// The t=0 sample's input drives the first step.
	fresh := true
	var reason StopReason
	for {
		if err := ctx.Err(); err != nil {
			s.finish(log, tr, StopCanceled)
			return tr, &dynamo.SimulationError{Step: tr.StepsTaken, Time: t, State: x.Clone(), Wrapped: err}
		}
		if r.limit > 0 && t >= r.limit-eps {
			reason = r.limitReason
			break
		}
		if r.cfg.MaxSteps > 0 && tr.StepsTaken >= r.cfg.MaxSteps {
			reason = StopMaxSteps
			break
		}

		dt := r.cfg.Dt
		if r.limit > 0 && t+dt > r.limit-eps {
			dt = r.limit - t
		}

		if !fresh {
			u = r.load(t, x)
			if err := dynamo.CheckKeys("input", u, schema.Inputs); err != nil {
				return s.fail(log, tr, t, x, err)
			}
		}
		fresh = false

		next, err := s.step(r.integ, t, x, u, dt)
		if err != nil {
			return s.fail(log, tr, t, x, err)
		}
		if err := dynamo.CheckKeys("state", next, schema.States); err != nil {
			return s.fail(log, tr, t+dt, next, err)
		}
		x = m.ApplyProcessNoise(next, dt)
		clamped := m.ApplyLimits(x)
		t = snap(t+dt, r.limit, sched.next())
		tr.StepsTaken++

		for _, o := range s.observers {
			o.OnStep(m.Name(), t, x, u, clamped)
		}
		if len(clamped) > 0 {
			log.V(logging.TRACE).Info("states clamped", "t", t, "states", clamped)
		}

		if !x.IsValid() {
			s.save(log, r, tr, t, u, x)
			return s.fail(log, tr, t, x, dynamo.ErrInvalidState)
		}

		if sched.due(t) {
			s.save(log, r, tr, t, u, x)
			sched.advance(t)
			lastSaved = tr.StepsTaken
		}

		if met := s.met(r.keys, t, x); len(met) > 0 {
			tr.Met = met
			reason = StopThreshold
			break
		}
	}

	if lastSaved != tr.StepsTaken {
		s.save(log, r, tr, t, u, x)
	}
	s.finish(log, tr, reason)
	return tr, nil
}

// step advances x by dt. For derivative models it also checks every
// derivative the integrator evaluates against the schema.
func (s *Simulator) step(integ integrators.Integrator, t float64, x dynamo.State, u dynamo.Input, dt float64) (dynamo.State, error) {
	if s.model.Form() == dynamo.FormDiscrete {
		return s.model.NextState(t, x, u, dt), nil
	}
	states := s.model.Schema().States
	var bad error
	dx := func(t float64, x dynamo.State, u dynamo.Input) dynamo.State {
		d := s.model.Dx(t, x, u)
		if bad == nil {
			bad = dynamo.CheckKeys("derivative", d, states)
		}
		return d
	}
	next := integ.Step(dx, t, x, u, dt)
	return next, bad
}

// fail stops the run as invalid and wraps err with the step it hit.
func (s *Simulator) fail(log logr.Logger, tr *Trajectory, t float64, x dynamo.State, err error) (*Trajectory, error) {
	s.finish(log, tr, StopInvalid)
	return tr, &dynamo.SimulationError{Step: tr.StepsTaken, Time: t, State: x.Clone(), Wrapped: err}
}

func (s *Simulator) met(keys []string, t float64, x dynamo.State) []string {
	if len(keys) == 0 {
		return nil
	}
	th := s.model.ThresholdMet(t, x)
	var met []string
	for _, k := range keys {
		if th[k] {
			met = append(met, k)
		}
	}
	sort.Strings(met)
	return met
}

func (s *Simulator) save(log logr.Logger, r *runSpec, tr *Trajectory, t float64, u dynamo.Input, x dynamo.State) {
	z := s.model.Output(t, x)
	es := s.model.EventState(t, x)
	tr.record(t, u, x, z, es)

	for _, o := range s.observers {
		o.OnSave(s.model.Name(), t)
	}
	if r.cfg.Print {
		log.Info("sample", "t", t, "u", u, "x", x, "z", z, "eventState", es)
	}
}

func (s *Simulator) finish(log logr.Logger, tr *Trajectory, reason StopReason) {
	tr.Reason = reason
	for _, o := range s.observers {
		o.OnStop(s.model.Name(), tr)
	}
	log.V(logging.DEBUG).Info("simulation finished",
		"reason", string(reason), "steps", tr.StepsTaken, "t", tr.FinalTime(), "met", tr.Met)
}

// snap moves t onto the limit or the next save time when it lies within
// eps of either.
func snap(t, limit, next float64) float64 {
	if limit > 0 && math.Abs(t-limit) < eps {
		return limit
	}
	if math.Abs(t-next) < eps {
		return next
	}
	return t
}
