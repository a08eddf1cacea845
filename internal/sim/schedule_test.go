package sim

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("schedule", func() {
	It("should walk the periodic grid", func() {
		s := newSchedule(1, nil)
		s.advance(0)

		Expect(s.next()).To(Equal(1.0))
		Expect(s.due(0.5)).To(BeFalse())
		Expect(s.due(1 - 1e-10)).To(BeTrue())

		s.advance(1)
		Expect(s.next()).To(Equal(2.0))

		s.advance(3.5)
		Expect(s.next()).To(Equal(4.0))
	})

	It("should merge sorted, deduplicated save points", func() {
		s := newSchedule(99, []float64{2.45, 1.45, 1.45, -1, 0})
		s.advance(0)

		Expect(s.next()).To(Equal(1.45))
		Expect(s.due(1.0)).To(BeFalse())
		Expect(s.due(1.5)).To(BeTrue())

		s.advance(1.5)
		Expect(s.next()).To(Equal(2.45))
		s.advance(2.5)
		Expect(s.next()).To(Equal(99.0))
	})

	It("should never be due without a grid or points", func() {
		s := newSchedule(math.Inf(1), nil)
		s.advance(0)
		Expect(math.IsInf(s.next(), 1)).To(BeTrue())
		Expect(s.due(1e12)).To(BeFalse())
	})
})

var _ = Describe("snap", func() {
	It("should prefer the limit", func() {
		Expect(snap(3.0000000001, 3, 4)).To(Equal(3.0))
	})

	It("should snap to the next save time", func() {
		Expect(snap(0.49999999999999994, 0, 0.5)).To(Equal(0.5))
	})

	It("should leave other times alone", func() {
		Expect(snap(0.4, 1, 0.5)).To(Equal(0.4))
	})
})
