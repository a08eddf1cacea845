package sim

import (
	"github.com/san-kum/progsim/internal/dynamo"
)

// Config controls a single simulation run. Zero fields take their
// defaults.
type Config struct {
	// Dt is the step size.
	Dt float64 `yaml:"dt" json:"dt"`
	// SaveFreq is the spacing of the periodic save grid.
	SaveFreq float64 `yaml:"save_freq" json:"save_freq"`
	// SavePts are extra save times, in addition to the periodic grid.
	SavePts []float64 `yaml:"save_pts,omitempty" json:"save_pts,omitempty"`
	// Horizon bounds a threshold run in simulated time.
	Horizon float64 `yaml:"horizon,omitempty" json:"horizon,omitempty"`
	// MaxSteps bounds any run in steps.
	MaxSteps int  `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	Print    bool `yaml:"print,omitempty" json:"print,omitempty"`
	// X replaces the model's initial state.
	X dynamo.State `yaml:"x,omitempty" json:"x,omitempty"`
	// Integrator names the integrator used for derivative models.
	Integrator string `yaml:"integrator,omitempty" json:"integrator,omitempty"`
}

const (
	DefaultDt       = 1.0
	DefaultSaveFreq = 10.0
)

func DefaultConfig() Config {
	return Config{
		Dt:       DefaultDt,
		SaveFreq: DefaultSaveFreq,
	}
}

func (c Config) withDefaults() Config {
	if c.Dt == 0 {
		c.Dt = DefaultDt
	}
	if c.SaveFreq == 0 {
		c.SaveFreq = DefaultSaveFreq
	}
	return c
}

type StopReason string

const (
	StopThreshold StopReason = "threshold"
	StopTimeLimit StopReason = "time_limit"
	StopHorizon   StopReason = "horizon"
	StopMaxSteps  StopReason = "max_steps"
	StopCanceled  StopReason = "canceled"
	StopInvalid   StopReason = "invalid_state"
)

// Trajectory holds the saved samples of a run. The five sequences are
// index-aligned and every entry is an independent copy.
type Trajectory struct {
	Times       []float64           `json:"times"`
	Inputs      []dynamo.Input      `json:"inputs"`
	States      []dynamo.State      `json:"states"`
	Outputs     []dynamo.Output     `json:"outputs"`
	EventStates []dynamo.EventState `json:"event_states"`

	StepsTaken int        `json:"steps_taken"`
	Reason     StopReason `json:"reason"`
	// Met lists the tracked events whose threshold stopped the run.
	Met []string `json:"met,omitempty"`
}

func (tr *Trajectory) Len() int { return len(tr.Times) }

// FinalTime returns the time of the last sample.
func (tr *Trajectory) FinalTime() float64 {
	if len(tr.Times) == 0 {
		return 0
	}
	return tr.Times[len(tr.Times)-1]
}

func (tr *Trajectory) record(t float64, u dynamo.Input, x dynamo.State, z dynamo.Output, es dynamo.EventState) {
	tr.Times = append(tr.Times, t)
	tr.Inputs = append(tr.Inputs, u.Clone())
	tr.States = append(tr.States, x.Clone())
	tr.Outputs = append(tr.Outputs, z.Clone())
	tr.EventStates = append(tr.EventStates, es.Clone())
}

// Observer is notified as a run progresses.
type Observer interface {
	OnStep(model string, t float64, x dynamo.State, u dynamo.Input, clamped []string)
	OnSave(model string, t float64)
	OnStop(model string, tr *Trajectory)
}
