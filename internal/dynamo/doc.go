// Package dynamo defines prognostics models: systems whose state evolves
// under a load until one or more events, such as end of discharge, occur.
//
// The package defines:
//
//   - [State], [Input], [Output], [EventState]: named vectors keyed by the
//     names declared in a [Schema]
//   - [Equations] and its optional capabilities ([Deriver], [Stepper],
//     [EventStater], [ThresholdChecker]) for hand-written models
//   - [EquationSet] and [Generate] for models assembled from functions
//   - [Model]: the equations plus parameters, state limits and noise
//
// A model advances either through a derivative (dx/dt, integrated by the
// simulator) or through a discrete next-state function. The form is fixed
// when the model is built.
//
// # Example
//
//	m, err := dynamo.Generate(schema, dynamo.EquationSet{
//		Initialize: initialize,
//		Output:     output,
//		Dx:         dx,
//	}, dynamo.WithParams(params.New(defaults)), dynamo.WithSeed(1))
//
// # Thread Safety
//
// Model instances are NOT thread-safe. For parallel simulations build one
// model per goroutine, as sim.Ensemble does.
package dynamo
