package physics

import (
	"math"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/limits"
	"github.com/san-kum/progsim/internal/params"
)

var PumpSchema = dynamo.Schema{
	States:  []string{"A", "Q", "To", "Tr", "Tt", "rRadial", "rThrust", "w", "QLeak"},
	Inputs:  []string{"Tamb", "V", "pdisch", "psuc", "wsync"},
	Outputs: []string{"Qout", "To", "Tr", "Tt", "w"},
	Events:  []string{"ImpellerWearFailure", "PumpOilOverheat", "RadialBearingOverheat", "ThrustBearingOverheat"},
}

// PumpWithWearSchema adds the wear rates to the pump state.
var PumpWithWearSchema = dynamo.Schema{
	States:  append(append([]string(nil), PumpSchema.States...), "wA", "wRadial", "wThrust"),
	Inputs:  PumpSchema.Inputs,
	Outputs: PumpSchema.Outputs,
	Events:  PumpSchema.Events,
}

// PumpDefaults returns the default parameters of the centrifugal pump
// model (Daigle and Goebel, IEEE SMC 2013).
func PumpDefaults() params.Values {
	return params.Values{
		"pAtm": 101325,

		"a0": 0.00149204,
		"a1": 5.77703,
		"a2": 9179.4,
		"A":  12.7084,
		"b":  17984.6,

		"n": 3,
		"p": 1,

		"I":  50,
		"r":  0.008,
		"R1": 0.36,
		"R2": 0.076,
		"L1": 0.00063,

		"FluidI": 5,
		"c":      8.24123e-5,
		"cLeak":  1,
		"ALeak":  1e-10,

		"mcThrust": 7.3,
		"HThrust1": 0.0034,
		"HThrust2": 0.0026,

		"mcRadial": 2.4,
		"HRadial1": 0.0018,
		"HRadial2": 0.020,

		"mcOil": 8000,
		"HOil1": 1.0,
		"HOil2": 3.0,
		"HOil3": 1.5,

		// Failure thresholds.
		"lim": params.Values{
			"A":  9.5,
			"Tt": 370,
			"Tr": 370,
			"To": 350,
		},

		"wA":      0,
		"wRadial": 0,
		"wThrust": 0,

		"x0": params.Values{
			"w":       376.991118431, // 3600 rpm
			"Q":       0,
			"Tt":      290,
			"Tr":      290,
			"To":      290,
			"A":       12.7084,
			"rThrust": 1.4e-6,
			"rRadial": 1.8e-6,
		},

		dynamo.ParamProcessNoise:     0.0,
		dynamo.ParamMeasurementNoise: 0.0,
	}
}

func pumpWithWearDefaults() params.Values {
	d := PumpDefaults()
	x0 := d["x0"].(params.Values)
	x0["wA"] = 0
	x0["wRadial"] = 0
	x0["wThrust"] = 0
	return d
}

var pumpLimits = limits.Bounds{
	"To":      limits.AtLeast(0),
	"Tr":      limits.AtLeast(0),
	"Tt":      limits.AtLeast(0),
	"A":       limits.AtLeast(0),
	"rThrust": limits.AtLeast(0),
	"rRadial": limits.AtLeast(0),
}

var pumpKeys = []string{
	"a0", "a1", "a2", "b", "n", "p", "I", "r", "R1", "R2", "L1",
	"FluidI", "c", "cLeak", "ALeak",
	"mcThrust", "HThrust1", "HThrust2", "mcRadial", "HRadial1", "HRadial2",
	"mcOil", "HOil1", "HOil2", "HOil3",
	"lim.A", "lim.Tt", "lim.Tr", "lim.To",
	"wA", "wRadial", "wThrust",
	"x0.w", "x0.Q", "x0.Tt", "x0.Tr", "x0.To", "x0.A", "x0.rThrust", "x0.rRadial",
}

// wearRates drive impeller area loss and bearing friction growth.
type wearRates struct {
	A, Radial, Thrust float64
}

// CentrifugalPumpBase models a centrifugal pump whose wear rates are
// fixed parameters.
type CentrifugalPumpBase struct {
	p *params.Store
}

func NewCentrifugalPumpBase(overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error) {
	p, err := newPumpParams(PumpDefaults(), overrides, pumpKeys)
	if err != nil {
		return nil, err
	}
	base := []dynamo.Option{
		dynamo.WithName("centrifugal_pump_base"),
		dynamo.WithParams(p),
		dynamo.WithLimits(pumpLimits),
	}
	return dynamo.New(PumpSchema, &CentrifugalPumpBase{p: p}, append(base, opts...)...)
}

func newPumpParams(defaults, overrides params.Values, keys []string) (*params.Store, error) {
	p := dynamo.NewParams(defaults)
	if err := p.Overlay(overrides); err != nil {
		return nil, &dynamo.ConfigError{Field: "params", Err: err}
	}
	if err := p.Require(keys...); err != nil {
		return nil, &dynamo.ConfigError{Field: "params", Err: err}
	}
	return p, nil
}

// Initialize starts from x0 with the leak flow implied by the suction and
// discharge pressures of u.
func (c *CentrifugalPumpBase) Initialize(u dynamo.Input, _ dynamo.Output) dynamo.State {
	x := dynamo.State(c.p.Floats("x0"))
	x["QLeak"] = leakFlow(c.p.Float("cLeak"), c.p.Float("ALeak"), u)
	return x
}

func (c *CentrifugalPumpBase) NextState(_ float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	rates := wearRates{A: c.p.Float("wA"), Radial: c.p.Float("wRadial"), Thrust: c.p.Float("wThrust")}
	return c.step(rates, x, u, dt)
}

func leakFlow(cLeak, aLeak float64, u dynamo.Input) float64 {
	dp := u["psuc"] - u["pdisch"]
	return math.Copysign(cLeak*aLeak*math.Sqrt(math.Abs(dp)), dp)
}

// step advances the pump by one explicit Euler step with the given wear
// rates.
func (c *CentrifugalPumpBase) step(wear wearRates, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	f := c.p.Float
	w := x["w"]

	toDot := 1 / f("mcOil") * (f("HOil1")*(x["Tt"]-x["To"]) + f("HOil2")*(x["Tr"]-x["To"]) +
		f("HOil3")*(u["Tamb"]-x["To"]))
	ttDot := 1 / f("mcThrust") * (x["rThrust"]*w*w - f("HThrust1")*(x["Tt"]-u["Tamb"]) -
		f("HThrust2")*(x["Tt"]-x["To"]))
	trDot := 1 / f("mcRadial") * (x["rRadial"]*w*w - f("HRadial1")*(x["Tr"]-u["Tamb"]) -
		f("HRadial2")*(x["Tr"]-x["To"]))

	aDot := -wear.A * x["Q"] * x["Q"]
	rRadialDot := wear.Radial * x["rRadial"] * w * w
	rThrustDot := wear.Thrust * x["rThrust"] * w * w

	friction := (f("r") + x["rThrust"] + x["rRadial"]) * w
	qLeak := leakFlow(f("cLeak"), f("ALeak"), u)

	slip := math.Max(-1, math.Min(1, (u["wsync"]-w)/u["wsync"]))
	pPump := x["A"]*w*w + f("b")*w*x["Q"]
	qOut := math.Max(0, x["Q"]-qLeak)
	deltaP := pPump + u["psuc"] - u["pdisch"]

	r1, r2 := f("R1"), f("R2")
	te := f("n") * f("p") * r2 / (slip * (u["wsync"] + 0.00001)) * u["V"] * u["V"] /
		(math.Pow(r1+r2/slip, 2) + math.Pow(u["wsync"]*f("L1"), 2))
	backTorque := -f("a2")*qOut*qOut + f("a1")*w*qOut + f("a0")*w*w
	qo := math.Copysign(f("c")*math.Sqrt(math.Abs(deltaP)), deltaP)

	wDot := (te - friction - backTorque) / f("I")
	qDot := 1 / f("FluidI") * (qo - x["Q"])

	return dynamo.State{
		"w":       w + wDot*dt,
		"Q":       x["Q"] + qDot*dt,
		"Tt":      x["Tt"] + ttDot*dt,
		"Tr":      x["Tr"] + trDot*dt,
		"To":      x["To"] + toDot*dt,
		"A":       x["A"] + aDot*dt,
		"rRadial": x["rRadial"] + rRadialDot*dt,
		"rThrust": x["rThrust"] + rThrustDot*dt,
		"QLeak":   qLeak,
	}
}

func (c *CentrifugalPumpBase) Output(_ float64, x dynamo.State) dynamo.Output {
	return dynamo.Output{
		"Qout": math.Max(0, x["Q"]-x["QLeak"]),
		"To":   x["To"],
		"Tr":   x["Tr"],
		"Tt":   x["Tt"],
		"w":    x["w"],
	}
}

// EventState measures each failure mode as the remaining fraction between
// the initial value and its limit.
func (c *CentrifugalPumpBase) EventState(_ float64, x dynamo.State) dynamo.EventState {
	lim := c.p.Floats("lim")
	x0 := c.p.Floats("x0")
	return dynamo.EventState{
		"ImpellerWearFailure":   (x["A"] - lim["A"]) / (x0["A"] - lim["A"]),
		"ThrustBearingOverheat": (lim["Tt"] - x["Tt"]) / (lim["Tt"] - x0["Tt"]),
		"RadialBearingOverheat": (lim["Tr"] - x["Tr"]) / (lim["Tr"] - x0["Tr"]),
		"PumpOilOverheat":       (lim["To"] - x["To"]) / (lim["To"] - x0["To"]),
	}
}

func (c *CentrifugalPumpBase) ThresholdMet(_ float64, x dynamo.State) dynamo.Thresholds {
	lim := c.p.Floats("lim")
	return dynamo.Thresholds{
		"ImpellerWearFailure":   x["A"] <= lim["A"],
		"ThrustBearingOverheat": x["Tt"] >= lim["Tt"],
		"RadialBearingOverheat": x["Tr"] >= lim["Tr"],
		"PumpOilOverheat":       x["To"] >= lim["To"],
	}
}

// CentrifugalPumpWithWear carries the wear rates wA, wRadial and wThrust
// as constant states instead of parameters, so they can be estimated
// alongside the rest of the state.
type CentrifugalPumpWithWear struct {
	CentrifugalPumpBase
}

func NewCentrifugalPumpWithWear(overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error) {
	keys := append(append([]string(nil), pumpKeys...), "x0.wA", "x0.wRadial", "x0.wThrust")
	p, err := newPumpParams(pumpWithWearDefaults(), overrides, keys)
	if err != nil {
		return nil, err
	}
	base := []dynamo.Option{
		dynamo.WithName("centrifugal_pump"),
		dynamo.WithParams(p),
		dynamo.WithLimits(pumpLimits),
	}
	return dynamo.New(PumpWithWearSchema, &CentrifugalPumpWithWear{CentrifugalPumpBase{p: p}}, append(base, opts...)...)
}

func (c *CentrifugalPumpWithWear) NextState(_ float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	rates := wearRates{A: x["wA"], Radial: x["wRadial"], Thrust: x["wThrust"]}
	next := c.step(rates, x, u, dt)
	next["wA"] = x["wA"]
	next["wRadial"] = x["wRadial"]
	next["wThrust"] = x["wThrust"]
	return next
}
