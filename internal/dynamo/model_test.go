package dynamo_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/limits"
	"github.com/san-kum/progsim/internal/params"
)

var mockSchema = dynamo.Schema{
	States:  []string{"a", "b", "c"},
	Inputs:  []string{"i1", "i2"},
	Outputs: []string{"o1"},
	Events:  []string{"e1", "e2"},
}

type mockEquations struct {
	p *params.Store
}

func (m mockEquations) Initialize(dynamo.Input, dynamo.Output) dynamo.State {
	return dynamo.State(m.p.Floats("x0"))
}

func (m mockEquations) NextState(_ float64, x dynamo.State, u dynamo.Input, dt float64) dynamo.State {
	x["a"] += u["i1"] * dt
	x["c"] -= u["i2"]
	return x
}

func (m mockEquations) Output(_ float64, x dynamo.State) dynamo.Output {
	return dynamo.Output{"o1": x["a"] + x["b"] + x["c"]}
}

func (m mockEquations) EventState(t float64, _ dynamo.State) dynamo.EventState {
	return dynamo.EventState{
		"e1": math.Max(1-t/5.0, 0),
		"e2": math.Max(1-t/15.0, 0),
	}
}

func (m mockEquations) ThresholdMet(t float64, x dynamo.State) dynamo.Thresholds {
	es := m.EventState(t, x)
	return dynamo.Thresholds{"e1": es["e1"] < 1e-6, "e2": es["e2"] < 1e-6}
}

func newMock(overrides params.Values, opts ...dynamo.Option) (*dynamo.Model, error) {
	p := dynamo.NewParams(params.Values{
		"p1": 1.2,
		"x0": params.Values{"a": 1, "b": 5, "c": -3.2},
	})
	if err := p.Overlay(overrides); err != nil {
		return nil, err
	}
	return dynamo.New(mockSchema, mockEquations{p: p}, append([]dynamo.Option{dynamo.WithParams(p)}, opts...)...)
}

var load = dynamo.Input{"i1": 1, "i2": 2.1}

var _ = Describe("Model", func() {
	var m *dynamo.Model

	BeforeEach(func() {
		var err error
		m, err = newMock(params.Values{"process_noise": 0.0})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should be discrete when it provides a next state", func() {
		Expect(m.Form()).To(Equal(dynamo.FormDiscrete))
		Expect(m.Dx(0, dynamo.State{"a": 1}, load)).To(BeNil())
	})

	It("should initialize from x0", func() {
		x0 := m.Initialize(nil, nil)
		Expect(x0).To(Equal(dynamo.State{"a": 1, "b": 5, "c": -3.2}))
	})

	It("should step and measure", func() {
		x0 := m.Initialize(nil, nil)
		x := m.NextState(0, x0, load, 0.1)

		Expect(x["a"]).To(BeNumerically("~", 1.1, 1e-6))
		Expect(x["b"]).To(Equal(5.0))
		Expect(x["c"]).To(BeNumerically("~", -5.3, 1e-6))
		Expect(m.Output(0, x)["o1"]).To(BeNumerically("~", 0.8, 1e-5))
	})

	It("should not modify the state it advances", func() {
		x0 := m.Initialize(nil, nil)
		m.NextState(0, x0, load, 0.1)
		Expect(x0["a"]).To(Equal(1.0))
	})

	It("should report event states and thresholds over time", func() {
		Expect(m.EventState(0, nil)["e1"]).To(BeNumerically("~", 1.0, 1e-5))
		Expect(m.ThresholdMet(0, nil)["e1"]).To(BeFalse())

		Expect(m.EventState(5, nil)["e1"]).To(BeNumerically("~", 0.0, 1e-5))
		Expect(m.ThresholdMet(5, nil)["e1"]).To(BeTrue())
		Expect(m.ThresholdMet(10, nil)["e1"]).To(BeTrue())
		Expect(m.ThresholdMet(10, nil).Met()).To(Equal([]string{"e1"}))
	})

	It("should keep x0 siblings on a partial override", func() {
		m, err := newMock(params.Values{"x0": params.Values{"a": 4}})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Initialize(nil, nil)).To(Equal(dynamo.State{"a": 4, "b": 5, "c": -3.2}))
	})

	It("should pass outputs through untouched without measurement noise", func() {
		x := dynamo.State{"a": 1, "b": 5, "c": -3.2}
		Expect(m.Output(0, x)).To(Equal(m.OutputNoiseFree(0, x)))
	})

	Context("with noise", func() {
		It("should repeat draws for the same seed", func() {
			first, err := newMock(params.Values{"process_noise": 0.5, "measurement_noise": 0.2}, dynamo.WithSeed(42))
			Expect(err).NotTo(HaveOccurred())
			second, err := newMock(params.Values{"process_noise": 0.5, "measurement_noise": 0.2}, dynamo.WithSeed(42))
			Expect(err).NotTo(HaveOccurred())

			x1 := first.ApplyProcessNoise(first.Initialize(nil, nil), 0.5)
			x2 := second.ApplyProcessNoise(second.Initialize(nil, nil), 0.5)
			Expect(x1).To(Equal(x2))
			Expect(x1).NotTo(Equal(dynamo.State{"a": 1, "b": 5, "c": -3.2}))

			Expect(first.Output(0, x1)).To(Equal(second.Output(0, x2)))
		})

		It("should only perturb keys named in a per-key spec", func() {
			m, err := newMock(params.Values{"process_noise": params.Values{"a": 1.0}}, dynamo.WithSeed(3))
			Expect(err).NotTo(HaveOccurred())

			x := m.ApplyProcessNoise(m.Initialize(nil, nil), 1)
			Expect(x["a"]).NotTo(Equal(1.0))
			Expect(x["b"]).To(Equal(5.0))
			Expect(x["c"]).To(Equal(-3.2))
		})

		It("should reject a negative magnitude", func() {
			_, err := newMock(params.Values{"process_noise": -1.0})
			Expect(err).To(MatchError(dynamo.ErrConfig))
		})

		It("should reject an unknown distribution", func() {
			_, err := newMock(params.Values{"process_noise": 0.1, "process_noise_dist": "cauchy"})
			Expect(err).To(MatchError(dynamo.ErrConfig))
		})

		It("should reject noise on undeclared keys", func() {
			_, err := newMock(params.Values{"measurement_noise": params.Values{"o9": 0.1}})
			Expect(err).To(MatchError(dynamo.ErrConfig))
		})

		It("should pick up noise changes made through Set", func() {
			Expect(m.Set("process_noise", 0.3)).To(Succeed())
			x := m.ApplyProcessNoise(m.Initialize(nil, nil), 1)
			Expect(x).NotTo(Equal(dynamo.State{"a": 1, "b": 5, "c": -3.2}))

			Expect(m.Set("process_noise_dist", "bogus")).To(MatchError(dynamo.ErrConfig))
		})

		It("should switch between a scalar and a per-key magnitude", func() {
			Expect(m.Set("process_noise", params.Values{"b": 1.0})).To(Succeed())
			x := m.ApplyProcessNoise(m.Initialize(nil, nil), 1)
			Expect(x["a"]).To(Equal(1.0))
			Expect(x["b"]).NotTo(Equal(5.0))

			Expect(m.Set("process_noise", 0.0)).To(Succeed())
			Expect(m.ApplyProcessNoise(m.Initialize(nil, nil), 1)).To(Equal(dynamo.State{"a": 1, "b": 5, "c": -3.2}))
		})

		It("should keep parameters and noise when Set is rejected", func() {
			err := m.Set("process_noise", -5.0)
			Expect(err).To(MatchError(dynamo.ErrConfig))
			var cfgErr *dynamo.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Field).To(Equal("process_noise"))

			Expect(m.Params().Float("process_noise")).To(Equal(0.0))
			Expect(m.Params().Snapshot()).To(HaveKeyWithValue("process_noise", 0.0))
			Expect(m.ApplyProcessNoise(m.Initialize(nil, nil), 1)).To(Equal(dynamo.State{"a": 1, "b": 5, "c": -3.2}))

			Expect(m.Set("measurement_noise_dist", "bogus")).To(MatchError(dynamo.ErrConfig))
			Expect(m.Params().String("measurement_noise_dist")).To(BeEmpty())
		})

		It("should validate noise written straight to the parameter store", func() {
			version := m.Params().Version()
			Expect(m.Params().Set("measurement_noise", params.Values{"o9": 0.1})).To(MatchError(dynamo.ErrConfig))
			Expect(m.Params().Version()).To(Equal(version))

			Expect(m.Params().Set("measurement_noise", 0.2)).To(Succeed())
			z := m.OutputNoiseFree(0, m.Initialize(nil, nil))
			Expect(m.Output(0, m.Initialize(nil, nil))).NotTo(Equal(z))
		})
	})

	Context("with limits", func() {
		It("should clamp and report clamped states", func() {
			m, err := newMock(nil, dynamo.WithLimits(limits.Bounds{"c": limits.AtLeast(-4)}))
			Expect(err).NotTo(HaveOccurred())

			x := m.NextState(0, m.Initialize(nil, nil), load, 0.1)
			Expect(m.ApplyLimits(x)).To(Equal([]string{"c"}))
			Expect(x["c"]).To(Equal(-4.0))
			Expect(m.ApplyLimits(x)).To(BeEmpty())
		})

		It("should reject limits on undeclared states", func() {
			_, err := newMock(nil, dynamo.WithLimits(limits.Bounds{"z": limits.AtLeast(0)}))
			Expect(err).To(MatchError(dynamo.ErrConfig))
			Expect(errors.Is(err, limits.ErrInvalidBounds)).To(BeTrue())
		})
	})
})

type missingStepper struct{}

func (missingStepper) Initialize(dynamo.Input, dynamo.Output) dynamo.State { return nil }
func (missingStepper) Output(float64, dynamo.State) dynamo.Output         { return nil }

var _ = Describe("New", func() {
	DescribeTable("rejecting broken models",
		func(schema dynamo.Schema, eqs dynamo.Equations, field string) {
			_, err := dynamo.New(schema, eqs)
			Expect(err).To(MatchError(dynamo.ErrConfig))

			var cfgErr *dynamo.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Field).To(Equal(field))
		},
		Entry("missing states", dynamo.Schema{Inputs: []string{"i1", "i2"}, Outputs: []string{"o1"}}, mockEquations{}, "states"),
		Entry("empty states", dynamo.Schema{States: []string{}, Inputs: []string{"i1"}, Outputs: []string{"o1"}}, mockEquations{}, "states"),
		Entry("missing inputs", dynamo.Schema{States: []string{"x1", "x2"}, Outputs: []string{"o1"}}, mockEquations{}, "inputs"),
		Entry("missing outputs", dynamo.Schema{States: []string{"x1", "x2"}, Inputs: []string{"i1"}}, mockEquations{}, "outputs"),
		Entry("duplicate states", dynamo.Schema{States: []string{"x1", "x1"}, Inputs: []string{"i1"}, Outputs: []string{"o1"}}, mockEquations{}, "states"),
		Entry("no next state or derivative", mockSchema, missingStepper{}, "next_state"),
	)

	It("should reject nil equations", func() {
		_, err := dynamo.New(mockSchema, nil)
		Expect(err).To(MatchError(dynamo.ErrConfig))
	})
})
