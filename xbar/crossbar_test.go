package xbar_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/fabricsim/hooking"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
	"github.com/sarchlab/fabricsim/xbar"
)

type grantRecorder struct {
	grants []xbar.Grant
}

func (r *grantRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != xbar.HookPosXbarGrant {
		return
	}

	r.grants = append(r.grants, *ctx.Detail.(*xbar.Grant))
}

func (r *grantRecorder) inPorts() []int {
	ins := make([]int, 0, len(r.grants))
	for _, g := range r.grants {
		ins = append(ins, g.InPort)
	}

	return ins
}

type servingRecorder struct {
	xb      *xbar.Crossbar
	serving []int
}

func (r *servingRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != xbar.HookPosXbarGrant {
		return
	}

	g := ctx.Detail.(*xbar.Grant)
	r.serving = append(r.serving, r.xb.ServingInput(g.OutPort))
}

func newInputBuffer(
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

var _ = Describe("Crossbar", func() {
	var engine *timing.SerialEngine

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
	})

	It("should deliver packets from one input in order", func() {
		buf := newInputBuffer(engine, 4, "In0")
		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf).
			WithPolicy(xbar.NewRoundRobinPolicy(1, 1)).
			Build("Xbar")

		pkts := []packet.Packet{
			packet.NewBasePacket(0, 8),
			packet.NewBasePacket(0, 8),
			packet.NewBasePacket(0, 8),
		}
		for _, p := range pkts {
			buf.Put(p, nil)
		}

		var received []packet.Packet
		for i := 0; i < 3; i++ {
			xb.Get(0, nil).AddCallback(func(ev *sim.Deferred) {
				received = append(received, ev.Value().(packet.Packet))
			})
		}

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(received).To(HaveLen(3))
		Expect(received[0]).To(BeIdenticalTo(pkts[0]))
		Expect(received[1]).To(BeIdenticalTo(pkts[1]))
		Expect(received[2]).To(BeIdenticalTo(pkts[2]))

		Expect(xb.TotalTransfers(0, 0)).To(Equal(int64(3)))
		Expect(xb.TotalBits(0, 0)).To(Equal(int64(3 * 64)))

		first, last, active := xb.ActivitySpan(0, 0)
		Expect(active).To(BeTrue())
		Expect(first).To(Equal(timing.VTimeInTick(0)))
		Expect(last).To(Equal(timing.VTimeInTick(2)))
	})

	It("should serve competing inputs in round-robin order", func() {
		bufs := make([]*sim.Buffer, 4)
		ups := make([]sim.Upstream, 4)
		for in := range bufs {
			bufs[in] = newInputBuffer(engine, 4, "In"+string(rune('0'+in)))
			ups[in] = bufs[in]
			bufs[in].Put(packet.NewBasePacket(0, 8), nil)
		}

		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(ups...).
			WithPolicy(xbar.NewRoundRobinPolicy(4, 1)).
			Build("Xbar")

		recorder := &grantRecorder{}
		xb.AcceptHook(recorder)

		for i := 0; i < 4; i++ {
			xb.Get(0, nil)
		}

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(recorder.inPorts()).To(Equal([]int{0, 1, 2, 3}))

		for in := 0; in < 4; in++ {
			Expect(xb.TotalTransfers(in, 0)).To(Equal(int64(1)))
		}
	})

	It("should report the input each output is serving", func() {
		buf0 := newInputBuffer(engine, 4, "In0")
		buf1 := newInputBuffer(engine, 4, "In1")
		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf0, buf1).
			WithPolicy(xbar.NewRoundRobinPolicy(2, 1)).
			Build("Xbar")

		Expect(xb.ServingInput(0)).To(Equal(-1))

		recorder := &servingRecorder{xb: xb}
		xb.AcceptHook(recorder)

		buf0.Put(packet.NewBasePacket(0, 8), nil)
		buf1.Put(packet.NewBasePacket(0, 8), nil)

		xb.Get(0, nil)
		xb.Get(0, nil)

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(recorder.serving).To(Equal([]int{0, 1}))
		Expect(xb.ServingInput(0)).To(Equal(-1))

		Expect(func() {
			xb.ServingInput(2)
		}).To(Panic())
	})

	It("should honor weighted round-robin shares", func() {
		buf0 := newInputBuffer(engine, 8, "In0")
		buf1 := newInputBuffer(engine, 8, "In1")

		for i := 0; i < 6; i++ {
			buf0.Put(packet.NewBasePacket(0, 8), nil)
		}
		for i := 0; i < 2; i++ {
			buf1.Put(packet.NewBasePacket(0, 8), nil)
		}

		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf0, buf1).
			WithPolicy(xbar.NewWeightedRoundRobinPolicy(2, 1, []int{3, 1})).
			Build("Xbar")

		recorder := &grantRecorder{}
		xb.AcceptHook(recorder)

		for i := 0; i < 8; i++ {
			xb.Get(0, nil)
		}

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(recorder.inPorts()).To(Equal([]int{0, 0, 0, 1, 0, 0, 0, 1}))
	})

	It("should route packets to the output the router picks", func() {
		buf := newInputBuffer(engine, 4, "In0")
		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf).
			WithNumOutPorts(2).
			WithRouter(xbar.RouteFunc(
				func(p packet.Packet, _ int) (int, packet.Packet) {
					return p.(*packet.BasePacket).Fields["dst"].(int), p
				})).
			WithPolicy(xbar.NewRoundRobinPolicy(1, 2)).
			Build("Xbar")

		p1 := packet.NewBasePacket(0, 8)
		p1.Fields["dst"] = 1
		p2 := packet.NewBasePacket(0, 8)
		p2.Fields["dst"] = 0
		buf.Put(p1, nil)
		buf.Put(p2, nil)

		var atOut0, atOut1 packet.Packet
		xb.Get(0, nil).AddCallback(func(ev *sim.Deferred) {
			atOut0 = ev.Value().(packet.Packet)
		})
		xb.Get(1, nil).AddCallback(func(ev *sim.Deferred) {
			atOut1 = ev.Value().(packet.Packet)
		})

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(atOut1).To(BeIdenticalTo(p1))
		Expect(atOut0).To(BeIdenticalTo(p2))
	})

	It("should push granted packets into the downstream resource", func() {
		buf0 := newInputBuffer(engine, 4, "In0")
		buf1 := newInputBuffer(engine, 4, "In1")
		outBuf := newInputBuffer(engine, 4, "Out0")

		for i := 0; i < 2; i++ {
			buf0.Put(packet.NewBasePacket(0, 8), nil)
			buf1.Put(packet.NewBasePacket(0, 8), nil)
		}

		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf0, buf1).
			WithDownstreams(outBuf).
			WithPolicy(xbar.NewRoundRobinPolicy(2, 1)).
			Build("Xbar")

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(outBuf.OccupiedSlots()).To(Equal(4))
		Expect(xb.TotalTransfers(0, 0)).To(Equal(int64(2)))
		Expect(xb.TotalTransfers(1, 0)).To(Equal(int64(2)))
	})

	It("should retry after an upstream declines the read", func() {
		ctrl := gomock.NewController(GinkgoT())
		up := NewMockUpstream(ctrl)

		p := packet.NewBasePacket(0, 8)
		succeededPeek := func() *sim.Deferred {
			d := sim.NewDeferred(engine, nil, nil)
			d.Succeed(p, 0)
			return d
		}

		peekCount := 0
		up.EXPECT().Peek(gomock.Any()).DoAndReturn(
			func(any) *sim.Deferred {
				peekCount++
				if peekCount <= 2 {
					return succeededPeek()
				}
				return sim.NewDeferred(engine, nil, nil)
			}).Times(3)

		gomock.InOrder(
			up.EXPECT().Get(gomock.Any()).Return(nil),
			up.EXPECT().Get(gomock.Any()).DoAndReturn(
				func(any) *sim.Deferred {
					return sim.NewDeferred(engine, nil, nil)
				}),
		)

		up.EXPECT().PreGetDelay(gomock.Any()).
			Return(timing.VTimeInTick(0)).AnyTimes()
		up.EXPECT().PostGetDelay(gomock.Any()).
			Return(timing.VTimeInTick(1)).AnyTimes()
		up.EXPECT().Name().Return("Up").AnyTimes()

		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(up).
			WithPolicy(xbar.NewRoundRobinPolicy(1, 1)).
			Build("Xbar")

		var doneAt timing.VTimeInTick = -1
		xb.Get(0, nil).AddCallback(func(ev *sim.Deferred) {
			doneAt = engine.CurrentTime()
			Expect(ev.Value()).To(BeIdenticalTo(p))
		})

		xb.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(doneAt).To(Equal(timing.VTimeInTick(1)))
	})

	It("should panic when started twice", func() {
		buf := newInputBuffer(engine, 4, "In0")
		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf).
			WithPolicy(xbar.NewRoundRobinPolicy(1, 1)).
			Build("Xbar")

		xb.Start()

		Expect(func() { xb.Start() }).To(Panic())
	})

	It("should panic on an out-of-range output port", func() {
		buf := newInputBuffer(engine, 4, "In0")
		xb := xbar.MakeBuilder().
			WithScheduler(engine).
			WithUpstreams(buf).
			WithPolicy(xbar.NewRoundRobinPolicy(1, 1)).
			Build("Xbar")

		Expect(func() { xb.Get(1, nil) }).To(Panic())
	})
})

var _ = Describe("Crossbar Builder", func() {
	var engine *timing.SerialEngine

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
	})

	It("should panic without a scheduler", func() {
		Expect(func() {
			xbar.MakeBuilder().
				WithUpstreams(newInputBuffer(
					timing.NewSerialEngine(), 4, "In0")).
				WithPolicy(xbar.NewRoundRobinPolicy(1, 1)).
				Build("Xbar")
		}).To(Panic())
	})

	It("should panic without upstream resources", func() {
		Expect(func() {
			xbar.MakeBuilder().
				WithScheduler(engine).
				WithPolicy(xbar.NewRoundRobinPolicy(1, 1)).
				Build("Xbar")
		}).To(Panic())
	})

	It("should panic without a policy", func() {
		Expect(func() {
			xbar.MakeBuilder().
				WithScheduler(engine).
				WithUpstreams(newInputBuffer(engine, 4, "In0")).
				Build("Xbar")
		}).To(Panic())
	})
})
