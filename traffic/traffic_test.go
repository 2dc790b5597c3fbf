package traffic_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/fabricsim/hooking"
	"github.com/sarchlab/fabricsim/pipelining"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
	"github.com/sarchlab/fabricsim/traffic"
)

func newBuffer(
	engine *timing.SerialEngine,
	capacity int,
	name string,
) *sim.Buffer {
	return sim.MakeBufferBuilder().
		WithScheduler(engine).
		WithCapacity(capacity).
		WithPutBytesPerTick(8).
		WithGetBytesPerTick(8).
		Build(name)
}

var _ = Describe("Generator", func() {
	var engine *timing.SerialEngine

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
	})

	It("should send every packet back to back", func() {
		buf := newBuffer(engine, 4, "Buf")
		gen := traffic.MakeGeneratorBuilder().
			WithScheduler(engine).
			WithDownstream(buf).
			WithUniformPackets(3, 0, 8).
			Build("Gen")

		var doneAt timing.VTimeInTick = -1
		gen.Done().AddCallback(func(*sim.Deferred) {
			doneAt = engine.CurrentTime()
		})

		gen.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(gen.PacketsSent()).To(Equal(3))
		Expect(buf.OccupiedSlots()).To(Equal(3))
		Expect(doneAt).To(Equal(timing.VTimeInTick(3)))
	})

	It("should idle for the gap between packets", func() {
		buf := newBuffer(engine, 4, "Buf")
		gen := traffic.MakeGeneratorBuilder().
			WithScheduler(engine).
			WithDownstream(buf).
			WithUniformPackets(2, 0, 8).
			WithInterPacketGap(2).
			Build("Gen")

		var doneAt timing.VTimeInTick = -1
		gen.Done().AddCallback(func(*sim.Deferred) {
			doneAt = engine.CurrentTime()
		})

		gen.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(doneAt).To(Equal(timing.VTimeInTick(4)))
	})

	It("should panic when built without packets", func() {
		Expect(func() {
			traffic.MakeGeneratorBuilder().
				WithScheduler(engine).
				WithDownstream(newBuffer(engine, 4, "Buf")).
				Build("Gen")
		}).To(Panic())
	})
})

var _ = Describe("Sink", func() {
	var engine *timing.SerialEngine

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
	})

	It("should drain the expected packets", func() {
		buf := newBuffer(engine, 4, "Buf")
		sink := traffic.MakeSinkBuilder().
			WithScheduler(engine).
			WithUpstream(buf).
			WithExpectedPackets(3).
			Build("Sink")

		gen := traffic.MakeGeneratorBuilder().
			WithScheduler(engine).
			WithDownstream(buf).
			WithUniformPackets(3, 0, 8).
			Build("Gen")

		var doneAt timing.VTimeInTick = -1
		sink.Done().AddCallback(func(*sim.Deferred) {
			doneAt = engine.CurrentTime()
		})

		gen.Start()
		sink.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(sink.ReceivedPackets()).To(Equal(3))
		Expect(sink.ReceivedBytes()).To(Equal(int64(24)))
		Expect(doneAt).To(BeNumerically(">=", 2))
		Expect(buf.OccupiedSlots()).To(Equal(0))
	})

	It("should panic when built with a non-positive packet count", func() {
		Expect(func() {
			traffic.MakeSinkBuilder().
				WithScheduler(engine).
				WithUpstream(newBuffer(engine, 4, "Buf")).
				Build("Sink")
		}).To(Panic())
	})
})

// creditRelay lets the buffer and the pipeline be built in either order even
// though each one refers to the other.
type creditRelay struct {
	target sim.CreditReturner
}

func (r *creditRelay) ReturnCredit() {
	if r.target != nil {
		r.target.ReturnCredit()
	}
}

// occupancyProbe tracks the highest occupancy a buffer reaches while the
// simulation runs.
type occupancyProbe struct {
	buf *sim.Buffer
	max int
}

func (p *occupancyProbe) Func(hooking.HookCtx) {
	if n := p.buf.OccupiedSlots(); n > p.max {
		p.max = n
	}
}

var _ = Describe("Flow-controlled path", func() {
	It("should deliver all packets and recover every credit", func() {
		engine := timing.NewSerialEngine()

		relay := &creditRelay{}

		fcBuf := sim.MakeBufferBuilder().
			WithScheduler(engine).
			WithCapacity(4).
			WithPutBytesPerTick(8).
			WithGetBytesPerTick(8).
			WithCreditReturn(relay).
			Build("FCBuf")

		probe := &occupancyProbe{buf: fcBuf}
		fcBuf.AcceptHook(probe)

		pipeline := pipelining.MakeBuilder().
			WithScheduler(engine).
			WithDepth(8).
			WithBytesPerTick(8).
			WithDownstream(fcBuf).
			WithFlowControl(4).
			Build("Pipeline")
		relay.target = pipeline

		gen := traffic.MakeGeneratorBuilder().
			WithScheduler(engine).
			WithDownstream(pipeline).
			WithUniformPackets(10, 0, 8).
			Build("Gen")

		sink := traffic.MakeSinkBuilder().
			WithScheduler(engine).
			WithUpstream(fcBuf).
			WithExpectedPackets(10).
			Build("Sink")

		gen.Start()
		sink.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(gen.PacketsSent()).To(Equal(10))
		Expect(sink.ReceivedPackets()).To(Equal(10))
		Expect(sink.ReceivedBytes()).To(Equal(int64(80)))
		Expect(fcBuf.OccupiedSlots()).To(Equal(0))
		Expect(pipeline.CreditsAvailable()).To(Equal(4))

		// The credits bound what piles up in the buffer during the run.
		Expect(probe.max).To(BeNumerically(">", 0))
		Expect(probe.max).To(BeNumerically("<=", 4))
	})
})
