package dynamo

import (
	"math/rand/v2"

	"github.com/san-kum/progsim/internal/limits"
	"github.com/san-kum/progsim/internal/noise"
	"github.com/san-kum/progsim/internal/params"
)

// Parameter keys that configure model noise.
const (
	ParamProcessNoise         = "process_noise"
	ParamProcessNoiseDist     = "process_noise_dist"
	ParamMeasurementNoise     = "measurement_noise"
	ParamMeasurementNoiseDist = "measurement_noise_dist"
)

var noiseParams = []string{ParamProcessNoise, ParamProcessNoiseDist, ParamMeasurementNoise, ParamMeasurementNoiseDist}

// NewParams returns a parameter store for defaults in which the noise keys
// may hold either a scalar or a per-key mapping.
func NewParams(defaults params.Values) *params.Store {
	p := params.New(defaults)
	p.Variant(ParamProcessNoise, ParamMeasurementNoise)
	return p
}

// Equations is implemented by hand-written models. A model must also
// implement exactly one of Deriver or Stepper, and may implement
// EventStater and ThresholdChecker.
type Equations interface {
	Initialize(u Input, z Output) State
	Output(t float64, x State) Output
}

type Deriver interface {
	Dx(t float64, x State, u Input) State
}

type Stepper interface {
	NextState(t float64, x State, u Input, dt float64) State
}

type EventStater interface {
	EventState(t float64, x State) EventState
}

type ThresholdChecker interface {
	ThresholdMet(t float64, x State) Thresholds
}

// EquationSet bundles the functions that define a model.
type EquationSet struct {
	Initialize   func(u Input, z Output) State
	Output       func(t float64, x State) Output
	NextState    func(t float64, x State, u Input, dt float64) State
	Dx           func(t float64, x State, u Input) State
	EventState   func(t float64, x State) EventState
	ThresholdMet func(t float64, x State) Thresholds
}

type options struct {
	name   string
	params *params.Store
	limits limits.Bounds
	src    rand.Source
	seed   uint64
	seeded bool
}

type Option func(*options)

func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithParams attaches the parameter store the equations read from.
func WithParams(s *params.Store) Option {
	return func(o *options) { o.params = s }
}

func WithLimits(b limits.Bounds) Option {
	return func(o *options) { o.limits = b.Clone() }
}

// WithSeed makes the model's noise reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithRandSource sets the source noise is drawn from. It takes precedence
// over WithSeed.
func WithRandSource(src rand.Source) Option {
	return func(o *options) { o.src = src }
}

// Model is a prognostics model: a set of equations plus its parameters,
// state limits and noise configuration.
//
// A Model is not safe for concurrent use; run parallel simulations on
// separate instances.
type Model struct {
	name   string
	schema Schema
	form   Form
	eq     EquationSet
	params *params.Store
	limits limits.Bounds
	src    rand.Source

	processNoise     noise.Spec
	processDist      noise.Dist
	measurementNoise noise.Spec
	measurementDist  noise.Dist
	noiseVersion     uint64
}

// New builds a model from a hand-written equations value.
func New(schema Schema, eqs Equations, opts ...Option) (*Model, error) {
	if eqs == nil {
		return nil, &ConfigError{Field: "equations", Reason: "required"}
	}
	set := EquationSet{
		Initialize: eqs.Initialize,
		Output:     eqs.Output,
	}
	if d, ok := eqs.(Deriver); ok {
		set.Dx = d.Dx
	}
	if s, ok := eqs.(Stepper); ok {
		set.NextState = s.NextState
	}
	if e, ok := eqs.(EventStater); ok {
		set.EventState = e.EventState
	}
	if th, ok := eqs.(ThresholdChecker); ok {
		set.ThresholdMet = th.ThresholdMet
	}
	return Generate(schema, set, opts...)
}

// Generate builds a model from a schema and loose equation functions.
func Generate(schema Schema, eq EquationSet, opts ...Option) (*Model, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if eq.Initialize == nil {
		return nil, &ConfigError{Field: "initialize", Reason: "required"}
	}
	if eq.Output == nil {
		return nil, &ConfigError{Field: "output", Reason: "required"}
	}
	switch {
	case eq.NextState == nil && eq.Dx == nil:
		return nil, &ConfigError{Field: "next_state", Reason: "one of next_state or dx is required"}
	case eq.NextState != nil && eq.Dx != nil:
		return nil, &ConfigError{Field: "next_state", Reason: "next_state and dx are mutually exclusive"}
	}

	o := options{name: "model"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.params == nil {
		o.params = NewParams(nil)
	}
	if err := o.limits.Validate(schema.States); err != nil {
		return nil, &ConfigError{Field: "limits", Err: err}
	}
	if o.src == nil {
		if o.seeded {
			o.src = rand.NewPCG(o.seed, o.seed)
		} else {
			o.src = rand.NewPCG(rand.Uint64(), rand.Uint64())
		}
	}

	m := &Model{
		name:   o.name,
		schema: schema,
		form:   FormDerivative,
		eq:     eq,
		params: o.params,
		limits: o.limits,
		src:    o.src,
	}
	if eq.NextState != nil {
		m.form = FormDiscrete
	}

	nc, err := parseNoise(m.params, schema)
	if err != nil {
		return nil, err
	}
	m.setNoise(nc)
	for _, key := range noiseParams {
		m.params.Check(key, func(s *params.Store) error {
			_, err := parseNoise(s, schema)
			return err
		})
	}
	return m, nil
}

type noiseConfig struct {
	process, measurement         noise.Spec
	processDist, measurementDist noise.Dist
}

func parseNoise(s *params.Store, schema Schema) (noiseConfig, error) {
	var (
		nc  noiseConfig
		err error
	)
	nc.process, nc.processDist, err = readNoise(s, ParamProcessNoise, ParamProcessNoiseDist, schema.States)
	if err != nil {
		return nc, err
	}
	nc.measurement, nc.measurementDist, err = readNoise(s, ParamMeasurementNoise, ParamMeasurementNoiseDist, schema.Outputs)
	return nc, err
}

func readNoise(s *params.Store, key, distKey string, keys []string) (noise.Spec, noise.Dist, error) {
	v, _ := s.Get(key)
	spec, err := noise.ParseSpec(v)
	if err != nil {
		return noise.Spec{}, noise.Normal, &ConfigError{Field: key, Err: err}
	}
	if err := spec.Validate(keys); err != nil {
		return noise.Spec{}, noise.Normal, &ConfigError{Field: key, Err: err}
	}
	dist, err := noise.ParseDist(s.String(distKey))
	if err != nil {
		return noise.Spec{}, noise.Normal, &ConfigError{Field: distKey, Err: err}
	}
	return spec, dist, nil
}

func (m *Model) setNoise(nc noiseConfig) {
	m.processNoise, m.processDist = nc.process, nc.processDist
	m.measurementNoise, m.measurementDist = nc.measurement, nc.measurementDist
	m.noiseVersion = m.params.Version()
}

// syncNoise re-reads the noise configuration after the parameters change.
// Committed values have already passed the checks registered in Generate.
func (m *Model) syncNoise() {
	if m.params.Version() == m.noiseVersion {
		return
	}
	if nc, err := parseNoise(m.params, m.schema); err == nil {
		m.setNoise(nc)
	}
}

func (m *Model) Name() string          { return m.name }
func (m *Model) Schema() Schema        { return m.schema }
func (m *Model) Form() Form            { return m.form }
func (m *Model) Params() *params.Store { return m.params }
func (m *Model) Limits() limits.Bounds { return m.limits.Clone() }

// HasEvents reports whether the model can produce event states.
func (m *Model) HasEvents() bool {
	return m.eq.EventState != nil || m.eq.ThresholdMet != nil
}

// Set changes one top-level parameter and recomputes its dependents. A
// rejected value leaves the parameters and noise configuration unchanged.
func (m *Model) Set(key string, value any) error {
	if err := m.params.Set(key, value); err != nil {
		return &ConfigError{Field: key, Err: err}
	}
	return nil
}

func (m *Model) Initialize(u Input, z Output) State {
	return m.eq.Initialize(u, z).Clone()
}

// Output returns the measured output in state x, including measurement
// noise.
func (m *Model) Output(t float64, x State) Output {
	return m.ApplyMeasurementNoise(m.OutputNoiseFree(t, x))
}

func (m *Model) OutputNoiseFree(t float64, x State) Output {
	return m.eq.Output(t, x).Clone()
}

// Dx returns the state derivative. It returns nil for discrete models.
func (m *Model) Dx(t float64, x State, u Input) State {
	if m.eq.Dx == nil {
		return nil
	}
	return m.eq.Dx(t, x, u)
}

// NextState advances x by dt without noise or limits. Derivative models
// take one explicit Euler step.
func (m *Model) NextState(t float64, x State, u Input, dt float64) State {
	if m.form == FormDiscrete {
		return m.eq.NextState(t, x.Clone(), u, dt)
	}
	dx := m.eq.Dx(t, x, u)
	next := make(State, len(x))
	for k, v := range x {
		next[k] = v + dx[k]*dt
	}
	return next
}

// EventState returns the event states in x, or an empty map for models
// without events.
func (m *Model) EventState(t float64, x State) EventState {
	if m.eq.EventState == nil {
		return EventState{}
	}
	return m.eq.EventState(t, x).Clone()
}

// ThresholdMet reports which events have occurred in x. Without a custom
// check an event has occurred once its event state drops to
// EventTolerance.
func (m *Model) ThresholdMet(t float64, x State) Thresholds {
	if m.eq.ThresholdMet != nil {
		th := m.eq.ThresholdMet(t, x)
		out := make(Thresholds, len(th))
		for k, v := range th {
			out[k] = v
		}
		return out
	}
	if m.eq.EventState == nil {
		return Thresholds{}
	}
	es := m.eq.EventState(t, x)
	th := make(Thresholds, len(m.schema.Events))
	for _, e := range m.schema.Events {
		v, ok := es[e]
		th[e] = ok && v <= EventTolerance
	}
	return th
}

// ApplyProcessNoise perturbs x in place, scaling each draw by dt.
func (m *Model) ApplyProcessNoise(x State, dt float64) State {
	m.syncNoise()
	return noise.Apply(m.schema.States, x, m.processNoise, m.processDist, dt, m.src)
}

func (m *Model) ApplyMeasurementNoise(z Output) Output {
	m.syncNoise()
	return noise.Apply(m.schema.Outputs, z, m.measurementNoise, m.measurementDist, 1, m.src)
}

// ApplyLimits clamps x in place and returns the clamped state names.
func (m *Model) ApplyLimits(x State) []string {
	return m.limits.Clamp(x)
}
