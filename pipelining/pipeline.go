// Package pipelining models fixed-depth forwarding stages that separate the
// time a packet occupies the input from the time it takes to traverse the
// stage.
package pipelining

import (
	"log"

	"github.com/sarchlab/fabricsim/hooking"
	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
)

// HookPosPipelineAccept is triggered when a pipeline accepts a packet, with
// the packet as the item.
var HookPosPipelineAccept = &hooking.HookPos{Name: "PipelineAccept"}

// A Pipeline accepts packets on its input side and delivers each one to the
// downstream element a fixed number of ticks later. The input side is
// occupied only for the packet's own drain time, so multiple packets can be
// in flight through the stage at once.
//
// A flow-controlled pipeline additionally consumes one credit per accepted
// packet and returns the credit to its own upstream a stage traversal after
// the downstream frees the slot, which bounds the packets in flight to the
// initial credit count.
type Pipeline struct {
	hooking.HookableBase

	name      string
	scheduler sim.Scheduler

	depth        timing.VTimeInTick
	bytesPerTick int

	downstream sim.Downstream
	putQueue   *sim.RequestQueue
	debt       *packet.DebtAccumulator
	busyUntil  timing.VTimeInTick

	credits *sim.CreditBuffer
}

// Name returns the name of the pipeline.
func (p *Pipeline) Name() string {
	return p.name
}

// Depth returns the stage traversal time in ticks.
func (p *Pipeline) Depth() timing.VTimeInTick {
	return p.depth
}

// CreditsAvailable returns the available credits, or 0 for a pipeline
// without flow control.
func (p *Pipeline) CreditsAvailable() int {
	if p.credits == nil {
		return 0
	}

	return p.credits.Credits()
}

// Put requests acceptance of a packet. The returned event succeeds once the
// packet has drained into the stage, freeing the input for the next packet.
// Delivery to the downstream element happens a stage traversal later.
func (p *Pipeline) Put(pkt packet.Packet, caller any) *sim.Deferred {
	req := sim.NewDeferred(p.scheduler, pkt, caller)
	p.putQueue.Enqueue(req)
	p.putQueue.Trigger(p.tryPut)

	return req
}

// ReturnCredit is called by the downstream element when it frees a slot. The
// credit travels back through the stage and becomes available a stage
// traversal later.
func (p *Pipeline) ReturnCredit() {
	if p.credits == nil {
		return
	}

	back := sim.NewDeferred(p.scheduler, nil, p)
	back.AddCallback(func(*sim.Deferred) {
		p.credits.AddCredit()
		p.putQueue.Trigger(p.tryPut)
	})
	back.Succeed(nil, p.depth)
}

func (p *Pipeline) tryPut(req *sim.Deferred) {
	if p.credits != nil && p.credits.Credits() == 0 {
		return
	}

	now := p.scheduler.CurrentTime()
	if now < p.busyUntil {
		return
	}

	pkt := req.Item().(packet.Packet)
	ticks, debt := pkt.TicksToTransmit(p.bytesPerTick)
	drain := ticks + p.debt.Add(debt)

	if p.credits != nil {
		p.credits.Consume()
	}

	p.busyUntil = now + drain
	p.putQueue.Remove(req)

	p.InvokeHook(hooking.HookCtx{
		Domain: p,
		Pos:    HookPosPipelineAccept,
		Item:   pkt,
	})

	req.AddCallback(func(*sim.Deferred) {
		p.putQueue.Trigger(p.tryPut)
	})
	req.Succeed(pkt, drain)

	delivery := sim.NewDeferred(p.scheduler, pkt, p)
	delivery.AddCallback(func(*sim.Deferred) {
		p.downstream.Put(pkt, p)
	})
	delivery.Succeed(nil, p.depth)
}

// Builder constructs pipelines.
type Builder struct {
	scheduler    sim.Scheduler
	depth        timing.VTimeInTick
	bytesPerTick int
	downstream   sim.Downstream
	initCredits  int
}

// MakeBuilder returns a builder with a depth of 1 and a drain rate of 1 byte
// per tick.
func MakeBuilder() Builder {
	return Builder{
		depth:        1,
		bytesPerTick: 1,
	}
}

// WithScheduler sets the scheduler the pipeline uses.
func (b Builder) WithScheduler(s sim.Scheduler) Builder {
	b.scheduler = s
	return b
}

// WithDepth sets the stage traversal time in ticks.
func (b Builder) WithDepth(d timing.VTimeInTick) Builder {
	b.depth = d
	return b
}

// WithBytesPerTick sets the input-side drain rate.
func (b Builder) WithBytesPerTick(n int) Builder {
	b.bytesPerTick = n
	return b
}

// WithDownstream sets the element each packet is delivered to.
func (b Builder) WithDownstream(d sim.Downstream) Builder {
	b.downstream = d
	return b
}

// WithFlowControl gives the pipeline a credit counter with the given initial
// credits, bounding the packets in flight through the stage and its
// downstream element.
func (b Builder) WithFlowControl(initCredits int) Builder {
	b.initCredits = initCredits
	return b
}

// Build creates the pipeline.
func (b Builder) Build(name string) *Pipeline {
	naming.MustBeValid(name)

	if b.scheduler == nil {
		log.Panicf("pipeline %s built without a scheduler", name)
	}

	if b.depth <= 0 {
		log.Panicf("pipeline %s built with a non-positive depth", name)
	}

	if b.bytesPerTick <= 0 {
		log.Panicf("pipeline %s built with a non-positive drain rate", name)
	}

	if b.downstream == nil {
		log.Panicf("pipeline %s built without a downstream element", name)
	}

	p := &Pipeline{
		name:         name,
		scheduler:    b.scheduler,
		depth:        b.depth,
		bytesPerTick: b.bytesPerTick,
		downstream:   b.downstream,
		putQueue:     sim.NewRequestQueue(name + ".PutQueue"),
		debt:         packet.NewDebtAccumulator(b.bytesPerTick),
	}

	if b.initCredits > 0 {
		p.credits = sim.NewCreditBuffer(
			b.scheduler, b.initCredits, name+".Credits")
	}

	return p
}
