package sim_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
)

var _ = Describe("CreditBuffer", func() {
	var (
		engine  *timing.SerialEngine
		credits *sim.CreditBuffer
	)

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		credits = sim.NewCreditBuffer(engine, 4, "Credits")
	})

	It("should start with full credits", func() {
		Expect(credits.Credits()).To(Equal(4))
	})

	It("should satisfy a peek once the threshold is reached", func() {
		credits.Consume()
		credits.Consume()
		credits.Consume()
		Expect(credits.Credits()).To(Equal(1))

		peekEv := credits.Peek(3, nil)
		Expect(peekEv.Triggered()).To(BeFalse())

		credits.AddCredit()
		Expect(peekEv.Triggered()).To(BeFalse())

		credits.AddCredit()
		Expect(peekEv.Triggered()).To(BeTrue())
	})

	It("should satisfy a peek at exactly the threshold", func() {
		credits.Consume()
		credits.Consume()

		peekEv := credits.Peek(2, nil)
		Expect(peekEv.Triggered()).To(BeTrue())

		Expect(engine.Run()).To(Succeed())
		Expect(peekEv.Value()).To(Equal(2))
	})

	It("should serve peeks in arrival order", func() {
		credits.Consume()
		credits.Consume()
		credits.Consume()
		credits.Consume()

		big := credits.Peek(3, nil)
		small := credits.Peek(1, nil)

		credits.AddCredit()

		// The high-threshold peek at the head blocks the small one.
		Expect(big.Triggered()).To(BeFalse())
		Expect(small.Triggered()).To(BeFalse())

		credits.AddCredit()
		credits.AddCredit()

		Expect(big.Triggered()).To(BeTrue())
		Expect(small.Triggered()).To(BeTrue())
	})

	It("should panic when a credit is returned at saturation", func() {
		Expect(func() {
			credits.AddCredit()
		}).To(Panic())
	})

	It("should panic when consuming with no credit left", func() {
		for i := 0; i < 4; i++ {
			credits.Consume()
		}

		Expect(func() {
			credits.Consume()
		}).To(Panic())
	})

	It("should panic on an out-of-range threshold", func() {
		Expect(func() {
			credits.Peek(5, nil)
		}).To(Panic())

		Expect(func() {
			credits.Peek(0, nil)
		}).To(Panic())
	})
})
