package sim_test

import (
	"context"
	"errors"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/params"
	"github.com/san-kum/progsim/internal/sim"
)

var _ = Describe("Ensemble", func() {
	factory := func(seed uint64) (*dynamo.Model, error) {
		return newMock(params.Values{"process_noise": 0.05}, dynamo.WithSeed(seed)), nil
	}
	cfg := sim.Config{Dt: 0.5, SaveFreq: 1}

	It("should return one trajectory per run in order", func() {
		e := sim.NewEnsemble(factory, 8, 100)
		e.SetWorkers(3)

		trs, err := e.SimulateToThreshold(context.Background(), constantLoad, firstOutput, cfg, "e1")
		Expect(err).NotTo(HaveOccurred())
		Expect(trs).To(HaveLen(8))

		times := sim.EventTimes(trs)
		Expect(times).To(HaveLen(8))
		for _, t := range times {
			Expect(t).To(BeNumerically("~", 5.0, 1e-9))
		}
		Expect(trs[0].States[1]["a"]).NotTo(Equal(trs[1].States[1]["a"]))

		again, err := sim.NewEnsemble(factory, 8, 100).SimulateToThreshold(context.Background(), constantLoad, firstOutput, cfg, "e1")
		Expect(err).NotTo(HaveOccurred())
		Expect(cmp.Diff(trs, again)).To(BeEmpty())
	})

	It("should run to a time limit", func() {
		trs, err := sim.NewEnsemble(factory, 2, 1).SimulateTo(context.Background(), 2, constantLoad, firstOutput, cfg)
		Expect(err).NotTo(HaveOccurred())
		for _, tr := range trs {
			Expect(tr.FinalTime()).To(Equal(2.0))
			Expect(tr.Reason).To(Equal(sim.StopTimeLimit))
		}
		Expect(sim.EventTimes(trs)).To(BeEmpty())
	})

	It("should fail when any model cannot be built", func() {
		boom := errors.New("boom")
		broken := func(seed uint64) (*dynamo.Model, error) {
			if seed == 3 {
				return nil, boom
			}
			return factory(seed)
		}

		_, err := sim.NewEnsemble(broken, 5, 0).SimulateTo(context.Background(), 1, constantLoad, firstOutput, cfg)
		Expect(err).To(MatchError(boom))
	})

	It("should reject an empty ensemble", func() {
		_, err := sim.NewEnsemble(factory, 0, 0).SimulateTo(context.Background(), 1, constantLoad, firstOutput, cfg)
		Expect(err).To(MatchError(dynamo.ErrInput))
	})
})

var _ = Describe("Summarize", func() {
	It("should describe event times", func() {
		st := sim.Summarize([]float64{1, 2, 3})
		Expect(st.N).To(Equal(3))
		Expect(st.Mean).To(BeNumerically("~", 2, 1e-12))
		Expect(st.StdDev).To(BeNumerically("~", 1, 1e-12))
		Expect(st.Min).To(Equal(1.0))
		Expect(st.Max).To(Equal(3.0))
	})

	It("should handle no samples", func() {
		Expect(sim.Summarize(nil)).To(Equal(sim.Stats{}))
	})
})
