package physics

import (
	"math"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/limits"
	"github.com/san-kum/progsim/internal/params"
)

var BatterySchema = dynamo.Schema{
	States:  []string{"tb", "qb", "qcp", "qcs"},
	Inputs:  []string{"i"},
	Outputs: []string{"t", "v"},
	Events:  []string{"EOD"},
}

// BatteryDefaults returns the default parameters of the equivalent
// circuit battery model (Daigle and Sankararaman, PHM 2013).
func BatteryDefaults() params.Values {
	return params.Values{
		"V0":       4.183,
		"Rp":       1e4,
		"qMax":     7856.3254,
		"CMax":     7777,
		"VEOD":     3.0,
		"VDropoff": 0.1,

		"Cb0":  1878.155726,
		"Cbp0": -230,
		"Cbp1": 1.2,
		"Cbp2": 2079.9,
		"Cbp3": 27.055726,

		"Rs":   0.0538926,
		"Cs":   234.387,
		"Rcp0": 0.0697776,
		"Rcp1": 1.50528e-17,
		"Rcp2": 37.223,
		"Ccp":  14.8223,

		"Ta":  18.95,
		"Jt":  800,
		"ha":  0.5,
		"hcp": 19,
		"hcs": 1,

		"x0": params.Values{
			"tb":  18.95,
			"qb":  7856.3254,
			"qcp": 0,
			"qcs": 0,
		},

		"nomCapacity": 2.2,
		"CRateMin":    0.7,
		"CRateMax":    2.5,

		dynamo.ParamProcessNoise:     0.0,
		dynamo.ParamMeasurementNoise: 0.0,
	}
}

var batteryLimits = limits.Bounds{
	"tb": limits.AtLeast(-273.15),
	"qb": limits.AtLeast(0),
}

var batteryKeys = []string{
	"Rp", "qMax", "CMax", "VEOD", "VDropoff",
	"Cbp0", "Cbp1", "Cbp2", "Cbp3",
	"Rs", "Cs", "Rcp0", "Rcp1", "Rcp2", "Ccp",
	"Ta", "Jt", "ha", "hcp", "hcs",
	"x0.tb", "x0.qb", "x0.qcp", "x0.qcs",
}

// BatteryCircuit models a battery as an equivalent electric circuit.
// States: temperature tb and the charges qb, qcp, qcs of its capacitors.
type BatteryCircuit struct {
	p *params.Store
}

// NewBatteryCircuit builds the battery model. Changing qMax resets the
// initial charge x0.qb to the new maximum.
func NewBatteryCircuit(overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error) {
	p := dynamo.NewParams(BatteryDefaults())
	p.OnChange("qMax", func(s *params.Store) params.Values {
		return params.Values{"x0": params.Values{"qb": s.Float("qMax")}}
	})
	if err := p.Overlay(overrides); err != nil {
		return nil, &dynamo.ConfigError{Field: "params", Err: err}
	}
	if err := p.Require(batteryKeys...); err != nil {
		return nil, &dynamo.ConfigError{Field: "params", Err: err}
	}

	base := []dynamo.Option{
		dynamo.WithName("battery_circuit"),
		dynamo.WithParams(p),
		dynamo.WithLimits(batteryLimits),
	}
	return dynamo.New(BatterySchema, &BatteryCircuit{p: p}, append(base, opts...)...)
}

type batteryParams struct {
	Rp, qMax, CMax, VEOD, VDropoff float64
	Cbp0, Cbp1, Cbp2, Cbp3         float64
	Rs, Cs, Rcp0, Rcp1, Rcp2, Ccp  float64
	Ta, Jt, ha, hcp, hcs           float64
}

func (b *BatteryCircuit) coeffs() batteryParams {
	f := b.p.Float
	return batteryParams{
		Rp: f("Rp"), qMax: f("qMax"), CMax: f("CMax"), VEOD: f("VEOD"), VDropoff: f("VDropoff"),
		Cbp0: f("Cbp0"), Cbp1: f("Cbp1"), Cbp2: f("Cbp2"), Cbp3: f("Cbp3"),
		Rs: f("Rs"), Cs: f("Cs"), Rcp0: f("Rcp0"), Rcp1: f("Rcp1"), Rcp2: f("Rcp2"), Ccp: f("Ccp"),
		Ta: f("Ta"), Jt: f("Jt"), ha: f("ha"), hcp: f("hcp"), hcs: f("hcs"),
	}
}

func (bp batteryParams) soc(x dynamo.State) float64 {
	return (bp.CMax - bp.qMax + x["qb"]) / bp.CMax
}

// voltage returns the terminal voltage.
func (bp batteryParams) voltage(x dynamo.State) float64 {
	soc := bp.soc(x)
	cb := bp.Cbp0*soc*soc*soc + bp.Cbp1*soc*soc + bp.Cbp2*soc + bp.Cbp3
	vb := x["qb"] / cb
	return vb - x["qcp"]/bp.Ccp - x["qcs"]/bp.Cs
}

func (b *BatteryCircuit) Initialize(dynamo.Input, dynamo.Output) dynamo.State {
	return dynamo.State(b.p.Floats("x0"))
}

func (b *BatteryCircuit) Dx(_ float64, x dynamo.State, u dynamo.Input) dynamo.State {
	bp := b.coeffs()

	vcs := x["qcs"] / bp.Cs
	vcp := x["qcp"] / bp.Ccp
	soc := bp.soc(x)
	cb := bp.Cbp0*soc*soc*soc + bp.Cbp1*soc*soc + bp.Cbp2*soc + bp.Cbp3
	rcp := bp.Rcp0 + bp.Rcp1*math.Exp(bp.Rcp2*(1-soc))
	vb := x["qb"] / cb

	tbdot := (rcp*bp.Rs*bp.ha*(bp.Ta-x["tb"]) + rcp*vcs*vcs*bp.hcs + bp.Rs*vcp*vcp*bp.hcp) /
		(bp.Jt * rcp * bp.Rs)

	vp := vb - vcp - vcs
	ip := vp / bp.Rp
	ib := u["i"] + ip
	icp := ib - vcp/rcp
	ics := ib - vcs/bp.Rs

	return dynamo.State{
		"tb":  tbdot,
		"qb":  -ib,
		"qcp": icp,
		"qcs": ics,
	}
}

func (b *BatteryCircuit) Output(_ float64, x dynamo.State) dynamo.Output {
	return dynamo.Output{
		"t": x["tb"],
		"v": b.coeffs().voltage(x),
	}
}

// EventState reports end of discharge as the lower of the remaining
// charge fraction and the voltage margin above VEOD.
func (b *BatteryCircuit) EventState(_ float64, x dynamo.State) dynamo.EventState {
	bp := b.coeffs()
	chargeEOD := bp.soc(x)
	voltageEOD := (bp.voltage(x) - bp.VEOD) / bp.VDropoff
	return dynamo.EventState{"EOD": math.Min(chargeEOD, voltageEOD)}
}

func (b *BatteryCircuit) ThresholdMet(_ float64, x dynamo.State) dynamo.Thresholds {
	bp := b.coeffs()
	return dynamo.Thresholds{"EOD": bp.voltage(x) < bp.VEOD}
}
