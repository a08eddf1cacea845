package sim_test

import (
	"context"
	"errors"
	"math"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
)

func column[M ~map[string]float64](samples []M, key string) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s[key]
	}
	return out
}

func expectClose(got, want []float64) {
	ExpectWithOffset(1, got).To(HaveLen(len(want)))
	for i := range want {
		ExpectWithOffset(1, got[i]).To(BeNumerically("~", want[i], 1e-5), "index %d", i)
	}
}

var _ = Describe("Simulator", func() {
	var (
		ctx context.Context
		s   *sim.Simulator
		cfg sim.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = sim.New(newMock(params.Values{"process_noise": 0.0}), sim.WithLogger(testLogger))
		cfg = sim.Config{Dt: 0.5, SaveFreq: 1.0}
	})

	Describe("SimulateTo", func() {
		It("should not change the trajectory when printing", func() {
			quiet, err := s.SimulateTo(ctx, 2, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())

			cfg.Print = true
			printed, err := s.SimulateTo(ctx, 2, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmp.Diff(quiet, printed)).To(BeEmpty())
		})

		It("should save on the grid and at the final time", func() {
			tr, err := s.SimulateTo(ctx, 3.5, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())

			expectClose(tr.Times, []float64{0, 1, 2, 3, 3.5})
			Expect(tr.Inputs).To(HaveLen(5))
			for _, u := range tr.Inputs {
				Expect(u).To(Equal(dynamo.Input{"i1": 1, "i2": 2.1}))
			}
			expectClose(column(tr.States, "a"), []float64{1, 2, 3, 4, 4.5})
			expectClose(column(tr.States, "b"), []float64{5, 5, 5, 5, 5})
			expectClose(column(tr.States, "c"), []float64{-3.2, -7.4, -11.6, -15.8, -17.9})
			expectClose(column(tr.Outputs, "o1"), []float64{2.8, -0.4, -3.6, -6.8, -8.4})
			expectClose(column(tr.EventStates, "e1"), []float64{1.0, 0.8, 0.6, 0.4, 0.3})

			Expect(tr.StepsTaken).To(Equal(7))
			Expect(tr.Reason).To(Equal(sim.StopTimeLimit))
		})

		It("should not repeat a final time that is already saved", func() {
			tr, err := s.SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			expectClose(tr.Times, []float64{0, 1, 2, 3})
		})

		It("should round save points up to the next step", func() {
			cfg = sim.Config{Dt: 0.5, SaveFreq: 99, SavePts: []float64{1.45, 2.45}}

			tr, err := s.SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			expectClose(tr.Times, []float64{0, 1.5, 2.5, 3.0})

			tr, err = s.SimulateTo(ctx, 2.5, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			expectClose(tr.Times, []float64{0, 1.5, 2.5})
		})

		It("should run past event thresholds", func() {
			tr, err := s.SimulateTo(ctx, 6, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FinalTime()).To(BeNumerically("~", 6.0, 1e-5))
			Expect(tr.Met).To(BeEmpty())
		})

		It("should shorten the last step to land on the limit", func() {
			tr, err := s.SimulateTo(ctx, 1.2, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FinalTime()).To(Equal(1.2))
			Expect(tr.States[tr.Len()-1]["a"]).To(BeNumerically("~", 2.2, 1e-9))
		})

		It("should use the default step and save frequency", func() {
			tr, err := s.SimulateTo(ctx, 25, constantLoad, firstOutput, sim.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Times).To(Equal([]float64{0, 10, 20, 25}))
			Expect(tr.StepsTaken).To(Equal(25))
		})

		It("should start from an explicit state", func() {
			cfg.X = dynamo.State{"a": 0, "b": 0, "c": 0}
			tr, err := s.SimulateTo(ctx, 1, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.States[0]).To(Equal(dynamo.State{"a": 0, "b": 0, "c": 0}))
		})

		It("should keep the five sequences aligned and independent", func() {
			tr, err := s.SimulateTo(ctx, 3.5, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())

			n := tr.Len()
			Expect(tr.Inputs).To(HaveLen(n))
			Expect(tr.States).To(HaveLen(n))
			Expect(tr.Outputs).To(HaveLen(n))
			Expect(tr.EventStates).To(HaveLen(n))

			tr.States[0]["a"] = 100
			Expect(tr.States[1]["a"]).To(BeNumerically("~", 2, 1e-9))
		})

		DescribeTable("rejecting bad arguments",
			func(limit float64, load dynamo.LoadFunc, z dynamo.Output, cfg sim.Config) {
				tr, err := s.SimulateTo(ctx, limit, load, z, cfg)
				Expect(err).To(MatchError(dynamo.ErrInput))
				Expect(tr).To(BeNil())
			},
			Entry("zero time", 0.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{}),
			Entry("negative time", -30.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{}),
			Entry("NaN time", math.NaN(), dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{}),
			Entry("infinite time", math.Inf(1), dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{}),
			Entry("missing output key", 12.0, dynamo.LoadFunc(constantLoad), dynamo.Output{}, sim.Config{}),
			Entry("negative dt", 12.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{Dt: -1}),
			Entry("negative save frequency", 12.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{SaveFreq: -1}),
			Entry("incomplete initial state", 12.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{X: dynamo.State{"a": 1}}),
			Entry("undeclared initial state", 12.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{X: dynamo.State{"a": 1, "b": 5, "c": 0, "z": 1}}),
			Entry("negative max steps", 12.0, dynamo.LoadFunc(constantLoad), firstOutput, sim.Config{MaxSteps: -1}),
		)

		It("should reject a nil load", func() {
			_, err := s.SimulateTo(ctx, 12, nil, firstOutput, cfg)
			Expect(err).To(MatchError(dynamo.ErrInput))
		})

		It("should reject an unknown integrator", func() {
			cfg.Integrator = "leapfrog"
			_, err := s.SimulateTo(ctx, 1, constantLoad, firstOutput, cfg)
			Expect(err).To(MatchError(dynamo.ErrConfig))
		})
	})

	Describe("SimulateToThreshold", func() {
		It("should stop when any event occurs", func() {
			tr, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FinalTime()).To(BeNumerically("~", 5.0, 1e-5))
			Expect(tr.Reason).To(Equal(sim.StopThreshold))
			Expect(tr.Met).To(Equal([]string{"e1"}))
			expectClose(tr.Times, []float64{0, 1, 2, 3, 4, 5})
		})

		It("should track the named events", func() {
			tr, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg, "e1", "e2")
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FinalTime()).To(BeNumerically("~", 5.0, 1e-5))

			tr, err = s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg, "e2")
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.FinalTime()).To(BeNumerically("~", 15.0, 1e-5))
			Expect(tr.Met).To(Equal([]string{"e2"}))
		})

		It("should reject unknown threshold keys", func() {
			_, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg, "e1", "e2", "e3")
			Expect(err).To(MatchError(dynamo.ErrInput))
		})

		It("should stop at the horizon", func() {
			cfg.Horizon = 2.2
			tr, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg, "e2")
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Reason).To(Equal(sim.StopHorizon))
			expectClose(tr.Times, []float64{0, 1, 2, 2.2})
		})

		It("should stop after max steps", func() {
			cfg.MaxSteps = 3
			tr, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg, "e2")
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Reason).To(Equal(sim.StopMaxSteps))
			Expect(tr.StepsTaken).To(Equal(3))
			expectClose(tr.Times, []float64{0, 1, 1.5})
		})

		It("should stop at t=0 when an event has already occurred", func() {
			m := oneState(dynamo.EquationSet{
				Initialize: func(dynamo.Input, dynamo.Output) dynamo.State { return dynamo.State{"a": 0} },
				EventState: func(float64, dynamo.State) dynamo.EventState { return dynamo.EventState{"e1": 0} },
			})

			tr, err := sim.New(m).SimulateToThreshold(ctx, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Times).To(Equal([]float64{0}))
			Expect(tr.StepsTaken).To(BeZero())
			Expect(tr.Met).To(Equal([]string{"e1"}))
		})

		It("should require a bound when the model has no events", func() {
			m := oneState(dynamo.EquationSet{
				Initialize: func(dynamo.Input, dynamo.Output) dynamo.State { return dynamo.State{"a": 0} },
			})
			s := sim.New(m)

			_, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg)
			Expect(err).To(MatchError(dynamo.ErrConfig))

			cfg.Horizon = 2
			tr, err := s.SimulateToThreshold(ctx, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Reason).To(Equal(sim.StopHorizon))
			Expect(tr.States[tr.Len()-1]["a"]).To(BeNumerically("~", 2, 1e-9))
			Expect(tr.EventStates[0]).To(BeEmpty())
		})
	})

	Describe("derivative models", func() {
		var m *dynamo.Model

		BeforeEach(func() {
			var err error
			m, err = dynamo.Generate(mockSchema, dynamo.EquationSet{
				Initialize: func(dynamo.Input, dynamo.Output) dynamo.State {
					return dynamo.State{"a": 1, "b": 3, "c": -3.2}
				},
				Output: func(_ float64, x dynamo.State) dynamo.Output {
					return dynamo.Output{"o1": x["a"] + x["b"] + x["c"]}
				},
				Dx: func(_ float64, _ dynamo.State, u dynamo.Input) dynamo.State {
					return dynamo.State{"a": u["i1"], "b": 0, "c": u["i2"]}
				},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should match repeated NextState calls with Euler", func() {
			tr, err := sim.New(m).SimulateTo(ctx, 1, constantLoad, firstOutput, sim.Config{Dt: 0.1, SaveFreq: 0.5})
			Expect(err).NotTo(HaveOccurred())
			expectClose(tr.Times, []float64{0, 0.5, 1})

			x := m.Initialize(nil, nil)
			for i := 0; i < 10; i++ {
				x = m.NextState(float64(i)*0.1, x, constantLoad(0, nil), 0.1)
			}
			last := tr.States[tr.Len()-1]
			Expect(last["a"]).To(BeNumerically("~", x["a"], 1e-9))
			Expect(last["c"]).To(BeNumerically("~", x["c"], 1e-9))
			Expect(last["c"]).To(BeNumerically("~", -1.1, 1e-9))
		})

		It("should use the configured integrator", func() {
			tr, err := sim.New(m).SimulateTo(ctx, 1, constantLoad, firstOutput, sim.Config{Dt: 0.25, Integrator: "rk4"})
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.States[tr.Len()-1]["a"]).To(BeNumerically("~", 2, 1e-9))
		})
	})

	Describe("noise", func() {
		run := func(seed uint64) *sim.Trajectory {
			m := newMock(params.Values{"process_noise": 0.2, "measurement_noise": 0.1}, dynamo.WithSeed(seed))
			tr, err := sim.New(m).SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			return tr
		}

		It("should reproduce a seeded run", func() {
			Expect(cmp.Diff(run(11), run(11))).To(BeEmpty())
		})

		It("should differ between seeds", func() {
			Expect(cmp.Diff(run(11), run(12))).NotTo(BeEmpty())
		})

		It("should leave a noise-free run exact", func() {
			tr, err := s.SimulateTo(ctx, 1, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.States[1]["a"]).To(Equal(2.0))
		})
	})

	Describe("failures during a run", func() {
		It("should stop on cancellation with the partial trajectory", func() {
			ctx, cancel := context.WithCancel(ctx)
			cancel()

			tr, err := s.SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(tr.Len()).To(Equal(1))
			Expect(tr.Reason).To(Equal(sim.StopCanceled))

			var simErr *dynamo.SimulationError
			Expect(errors.As(err, &simErr)).To(BeTrue())
			Expect(simErr.Step).To(BeZero())
		})

		It("should stop on a non-finite state", func() {
			m := oneState(dynamo.EquationSet{
				NextState: func(_ float64, x dynamo.State, _ dynamo.Input, _ float64) dynamo.State {
					x["a"] = math.Inf(1)
					return x
				},
			})

			tr, err := sim.New(m).SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			Expect(err).To(MatchError(dynamo.ErrInvalidState))
			Expect(tr.Reason).To(Equal(sim.StopInvalid))
			Expect(tr.Len()).To(Equal(2))
		})
	})

	Describe("schema checks", func() {
		expectSchemaFailure := func(tr *sim.Trajectory, err error, samples int) *dynamo.SimulationError {
			ExpectWithOffset(1, err).To(MatchError(dynamo.ErrSchema))
			ExpectWithOffset(1, tr.Reason).To(Equal(sim.StopInvalid))
			ExpectWithOffset(1, tr.Len()).To(Equal(samples))

			var simErr *dynamo.SimulationError
			ExpectWithOffset(1, errors.As(err, &simErr)).To(BeTrue())
			return simErr
		}

		It("should reject an initial state missing a declared key", func() {
			m := oneState(dynamo.EquationSet{
				Initialize: func(dynamo.Input, dynamo.Output) dynamo.State { return dynamo.State{} },
			})

			tr, err := sim.New(m).SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			expectSchemaFailure(tr, err, 0)

			var schemaErr *dynamo.SchemaError
			Expect(errors.As(err, &schemaErr)).To(BeTrue())
			Expect(schemaErr.Kind).To(Equal("state"))
			Expect(schemaErr.Missing).To(Equal([]string{"a"}))
		})

		It("should reject a next state with an undeclared key", func() {
			m := oneState(dynamo.EquationSet{
				NextState: func(_ float64, x dynamo.State, _ dynamo.Input, _ float64) dynamo.State {
					x["zz"] = 7
					return x
				},
			})

			tr, err := sim.New(m).SimulateTo(ctx, 3, constantLoad, firstOutput, cfg)
			simErr := expectSchemaFailure(tr, err, 1)
			Expect(simErr.Step).To(BeZero())
			Expect(simErr.State).To(HaveKey("zz"))
			Expect(tr.States[0]).To(Equal(dynamo.State{"a": 1}))
		})

		It("should reject a derivative missing a declared key", func() {
			m, err := dynamo.Generate(mockSchema, dynamo.EquationSet{
				Initialize: func(dynamo.Input, dynamo.Output) dynamo.State {
					return dynamo.State{"a": 1, "b": 3, "c": -3.2}
				},
				Output: func(_ float64, x dynamo.State) dynamo.Output {
					return dynamo.Output{"o1": x["a"] + x["b"] + x["c"]}
				},
				Dx: func(_ float64, _ dynamo.State, u dynamo.Input) dynamo.State {
					return dynamo.State{"a": u["i1"], "c": u["i2"]}
				},
			})
			Expect(err).NotTo(HaveOccurred())

			tr, err := sim.New(m).SimulateTo(ctx, 3, constantLoad, firstOutput, sim.Config{Dt: 0.5, Integrator: "rk4"})
			expectSchemaFailure(tr, err, 1)

			var schemaErr *dynamo.SchemaError
			Expect(errors.As(err, &schemaErr)).To(BeTrue())
			Expect(schemaErr.Kind).To(Equal("derivative"))
			Expect(schemaErr.Missing).To(Equal([]string{"b"}))
		})

		It("should reject a load with an undeclared input", func() {
			bogus := func(float64, dynamo.State) dynamo.Input {
				return dynamo.Input{"i1": 1, "i2": 2.1, "bogus": 3}
			}

			tr, err := s.SimulateTo(ctx, 3, bogus, firstOutput, cfg)
			expectSchemaFailure(tr, err, 0)

			var schemaErr *dynamo.SchemaError
			Expect(errors.As(err, &schemaErr)).To(BeTrue())
			Expect(schemaErr.Kind).To(Equal("input"))
			Expect(schemaErr.Unknown).To(Equal([]string{"bogus"}))
		})

		It("should reject a load that drops an input mid-run", func() {
			fading := func(t float64, _ dynamo.State) dynamo.Input {
				if t < 1 {
					return dynamo.Input{"i1": 1, "i2": 2.1}
				}
				return dynamo.Input{"i1": 1}
			}

			tr, err := s.SimulateTo(ctx, 3, fading, firstOutput, cfg)
			simErr := expectSchemaFailure(tr, err, 2)
			Expect(simErr.Time).To(Equal(1.0))
			Expect(simErr.Step).To(Equal(2))
			Expect(tr.StepsTaken).To(Equal(2))
		})

		It("should reject an explicit initial state with an undeclared key", func() {
			cfg.X = dynamo.State{"a": 1, "b": 5, "c": 0, "z": 1}
			tr, err := s.SimulateTo(ctx, 1, constantLoad, firstOutput, cfg)
			Expect(tr).To(BeNil())
			Expect(err).To(MatchError(dynamo.ErrInput))
			Expect(err).To(MatchError(dynamo.ErrSchema))
		})
	})

	Describe("load calls", func() {
		var times []float64
		counting := func(t float64, x dynamo.State) dynamo.Input {
			times = append(times, t)
			return constantLoad(t, x)
		}

		BeforeEach(func() {
			times = nil
		})

		It("should evaluate the load once per step after initialization", func() {
			_, err := s.SimulateTo(ctx, 2, counting, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(times).To(Equal([]float64{0, 0, 0.5, 1, 1.5}))
		})

		It("should skip the initialization call for an explicit state", func() {
			cfg.X = dynamo.State{"a": 0, "b": 0, "c": 0}
			_, err := s.SimulateTo(ctx, 2, counting, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(times).To(Equal([]float64{0, 0.5, 1, 1.5}))
		})
	})

	Describe("observers", func() {
		It("should see every step, save and stop", func() {
			obs := &countingObserver{}
			s.AddObserver(obs)

			_, err := s.SimulateTo(ctx, 3.5, constantLoad, firstOutput, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(obs.steps).To(Equal(7))
			Expect(obs.saves).To(Equal(5))
			Expect(obs.stops).To(Equal(1))
			Expect(obs.model).To(Equal("mock"))
		})
	})
})

type countingObserver struct {
	steps, saves, stops int
	model               string
}

func (o *countingObserver) OnStep(model string, _ float64, _ dynamo.State, _ dynamo.Input, _ []string) {
	o.model = model
	o.steps++
}

func (o *countingObserver) OnSave(string, float64) { o.saves++ }

func (o *countingObserver) OnStop(string, *sim.Trajectory) { o.stops++ }
