package config

import (
	"slices"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/loading"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
)

var pumpNominal = dynamo.Input{
	"Tamb":   290,
	"V":      471.2389,
	"pdisch": 928654,
	"psuc":   239179,
	"wsync":  376.991,
}

var pumpHigh = dynamo.Input{
	"Tamb":   290,
	"V":      571.2389,
	"pdisch": 928654,
	"psuc":   239179,
	"wsync":  456.991,
}

var Presets = map[string]map[string]*Config{
	"battery": {
		"constant": {
			Model: "battery", Mode: ModeThreshold,
			Sim:  sim.Config{Dt: 1, SaveFreq: 100},
			Load: loading.Profile{Type: loading.TypeConstant, Values: dynamo.Input{"i": 2}},
		},
		"discharge": {
			Model: "battery", Mode: ModeThreshold,
			Sim: sim.Config{Dt: 1, SaveFreq: 100},
			Load: loading.Profile{Type: loading.TypePiecewise, Segments: []loading.Segment{
				{Until: 600, Values: dynamo.Input{"i": 2}},
				{Until: 900, Values: dynamo.Input{"i": 1}},
				{Until: 1800, Values: dynamo.Input{"i": 4}},
				{Until: 3000, Values: dynamo.Input{"i": 2}},
				{Until: 1e99, Values: dynamo.Input{"i": 3}},
			}},
		},
		"noisy": {
			Model: "battery", Mode: ModeThreshold,
			Params: params.Values{"process_noise": 1e-4, "measurement_noise": 0.01},
			Sim:    sim.Config{Dt: 1, SaveFreq: 100},
			Load:   loading.Profile{Type: loading.TypeConstant, Values: dynamo.Input{"i": 2}},
		},
	},
	"pump": {
		"nominal": {
			Model: "pump", Mode: ModeTime, Time: 3600,
			Sim:  sim.Config{Dt: 1, SaveFreq: 60},
			Load: loading.Profile{Type: loading.TypeConstant, Values: pumpNominal},
		},
		"thrust_wear": {
			Model: "pump", Mode: ModeThreshold,
			Params: params.Values{"wThrust": 1e-7},
			Sim:    sim.Config{Dt: 1, SaveFreq: 60, Horizon: 36000},
			Load:   loading.Profile{Type: loading.TypeConstant, Values: pumpNominal},
		},
	},
	"pump_wear": {
		"cycle": {
			Model: "pump_wear", Mode: ModeThreshold,
			Params: params.Values{"x0": params.Values{"wA": 1e-2, "wThrust": 1e-8, "wRadial": 1e-8}},
			Sim:    sim.Config{Dt: 1, SaveFreq: 600, Horizon: 100000},
			Load:   loading.Profile{Type: loading.TypeCycle, Period: 3600, Phases: []dynamo.Input{pumpNominal, pumpHigh}},
		},
	},
	"thrown_object": {
		"apex": {
			Model: "thrown_object", Mode: ModeThreshold, Thresholds: []string{"falling"},
			Sim:  sim.Config{Dt: 0.01, SaveFreq: 0.5, Integrator: "rk4"},
			Load: loading.Profile{Type: loading.TypeZero},
		},
		"impact": {
			Model: "thrown_object", Mode: ModeThreshold, Thresholds: []string{"impact"},
			Sim:  sim.Config{Dt: 0.01, SaveFreq: 0.5, Integrator: "rk4"},
			Load: loading.Profile{Type: loading.TypeZero},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
