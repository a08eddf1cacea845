// Package physics provides prognostics models of physical systems, built
// on [dynamo.Model]:
//
//   - [BatteryCircuit]: equivalent circuit battery discharging to EOD
//   - [CentrifugalPumpBase]: pump with wear rates fixed as parameters
//   - [CentrifugalPumpWithWear]: pump carrying its wear rates as states
//   - [ThrownObject]: ballistic object, useful as an analytic reference
//
// Each constructor takes parameter overrides that are merged over the
// model's defaults, followed by [dynamo.Option]s:
//
//	m, err := physics.NewBatteryCircuit(params.Values{"qMax": 7600}, dynamo.WithSeed(1))
//
// # Noise
//
// All models default to zero process and measurement noise. Set
// "process_noise" or "measurement_noise" to a scalar or a per-key mapping
// to enable it.
package physics
