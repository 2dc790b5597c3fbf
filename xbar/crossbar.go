package xbar

import (
	"log"

	"github.com/sarchlab/fabricsim/hooking"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
)

// HookPosXbarGrant is triggered when an arbitration grants a transfer. The
// item is the packet; the detail is a *Grant.
var HookPosXbarGrant = &hooking.HookPos{Name: "XbarGrant"}

// A Grant describes one granted transfer.
type Grant struct {
	InPort  int
	OutPort int
}

// A Crossbar connects N upstream resources to M output ports. It peeks at
// every input, routes each head packet to an output, and runs one
// arbitration per output among the eligible inputs. The winner's packet is
// pulled from its upstream with a get and handed to the oldest pending get
// request on the output.
//
// In push mode the crossbar additionally drives its own output loop,
// putting each granted packet into the corresponding downstream resource.
type Crossbar struct {
	hooking.HookableBase

	name      string
	scheduler sim.Scheduler

	upstreams   []sim.Upstream
	downstreams []sim.Downstream
	numOutPorts int

	router   Router
	unmasker Unmasker
	policy   Policy

	// Per input: the outstanding peek, the routed packet, its output, and
	// the unmask event. routes[in] is -1 while the input has no routed
	// packet.
	peekEvents   []*sim.Deferred
	routedPkts   []packet.Packet
	routes       []int
	unmaskEvents []*sim.Deferred

	// Per output: pending external gets, the in-flight arbitration, and the
	// input being served. arbEvents[out] is nil while no arbitration is
	// scheduled or running for the output.
	getQueues    [][]*sim.Deferred
	arbEvents    []*sim.Deferred
	servingInput []int

	stats [][]linkStats

	pushMode bool
	started  bool
}

type linkStats struct {
	transfers   int64
	totalBits   int64
	hasActivity bool
	firstTick   timing.VTimeInTick
	lastTick    timing.VTimeInTick
}

// Name returns the name of the crossbar.
func (c *Crossbar) Name() string {
	return c.name
}

// NumInPorts returns the number of inputs.
func (c *Crossbar) NumInPorts() int {
	return len(c.upstreams)
}

// NumOutPorts returns the number of outputs.
func (c *Crossbar) NumOutPorts() int {
	return c.numOutPorts
}

// ServingInput returns the input currently granted the output, or -1 while
// the output is idle. The grant holds from arbitration until the transfer's
// cleanup.
func (c *Crossbar) ServingInput(out int) int {
	c.mustBeValidOutPort(out)

	return c.servingInput[out]
}

// Start issues the initial peek on every input and, in push mode, begins
// the output loops. It must be called once, before the engine runs.
func (c *Crossbar) Start() {
	if c.started {
		log.Panicf("%s: started twice", c.name)
	}
	c.started = true

	for in := range c.upstreams {
		c.peekInput(in)
	}

	if c.pushMode {
		for out := 0; out < c.numOutPorts; out++ {
			c.pump(out)
		}
	}
}

// Get requests one packet from the given output. The returned event succeeds
// carrying the packet once an arbitration has granted a transfer to this
// request. Requests on the same output are served oldest first.
func (c *Crossbar) Get(outPort int, caller any) *sim.Deferred {
	c.mustBeValidOutPort(outPort)

	req := sim.NewDeferred(c.scheduler, outPort, caller)
	c.getQueues[outPort] = append(c.getQueues[outPort], req)

	for in, um := range c.unmaskEvents {
		if um != nil && um.Triggered() && c.routes[in] == outPort {
			c.scheduleArbitration(um, in)
			break
		}
	}

	return req
}

// TotalTransfers returns the number of packets moved from an input to an
// output.
func (c *Crossbar) TotalTransfers(inPort, outPort int) int64 {
	return c.stats[inPort][outPort].transfers
}

// TotalBits returns the bits moved from an input to an output.
func (c *Crossbar) TotalBits(inPort, outPort int) int64 {
	return c.stats[inPort][outPort].totalBits
}

// ActivitySpan returns the ticks of the first and last grant on a link. The
// third return value is false when the link never carried a packet.
func (c *Crossbar) ActivitySpan(
	inPort, outPort int,
) (timing.VTimeInTick, timing.VTimeInTick, bool) {
	s := c.stats[inPort][outPort]
	return s.firstTick, s.lastTick, s.hasActivity
}

func (c *Crossbar) peekInput(in int) {
	pe := c.upstreams[in].Peek(c)
	c.peekEvents[in] = pe

	if pe.Triggered() {
		c.postPeek(pe, in)
	} else {
		pe.AddCallback(func(d *sim.Deferred) {
			c.postPeek(d, in)
		})
	}
}

// postPeek routes a peeked packet and requests its unmasking. It runs when
// an input's peek resolves, and again during cleanup for inputs that lost an
// arbitration and are still presenting the same head packet.
func (c *Crossbar) postPeek(pe *sim.Deferred, in int) {
	if c.peekEvents[in] != pe {
		return
	}

	p, isPkt := pe.Value().(packet.Packet)
	if !isPkt {
		log.Panicf("%s: input %d peeked a value that is not a packet",
			c.name, in)
	}

	out, routed := c.router.Route(p, in)
	c.mustBeValidOutPort(out)

	c.routes[in] = out
	c.routedPkts[in] = routed

	um := c.unmasker.Unmask(routed, in)
	c.unmaskEvents[in] = um

	if um.Triggered() {
		c.scheduleArbitration(um, in)
	} else {
		um.AddCallback(func(d *sim.Deferred) {
			c.scheduleArbitration(d, in)
		})
	}
}

// scheduleArbitration schedules one arbitration for the output the given
// input is routed to, unless one is already scheduled or no get is waiting
// on that output.
func (c *Crossbar) scheduleArbitration(um *sim.Deferred, in int) {
	if c.unmaskEvents[in] != um {
		return
	}

	out := c.routes[in]
	if out < 0 {
		return
	}

	if c.arbEvents[out] != nil {
		return
	}

	if len(c.getQueues[out]) == 0 {
		return
	}

	arb := sim.NewDeferred(c.scheduler, out, c)
	arb.AddCallback(c.arbitrate)
	c.arbEvents[out] = arb
	arb.Succeed(out, 0)
}

func (c *Crossbar) arbitrate(arbEv *sim.Deferred) {
	out := arbEv.Item().(int)

	if c.arbEvents[out] != arbEv {
		return
	}

	if len(c.getQueues[out]) == 0 {
		c.arbEvents[out] = nil
		return
	}

	candidates := make([]packet.Packet, len(c.upstreams))
	active := 0

	for in := range c.upstreams {
		if c.routes[in] == out &&
			c.unmaskEvents[in] != nil &&
			c.unmaskEvents[in].Triggered() {
			candidates[in] = c.routedPkts[in]
			active++
		}
	}

	if active == 0 {
		log.Panicf("%s: arbitration for output %d ran with no candidates"+
			" at tick %d", c.name, out, c.scheduler.CurrentTime())
	}

	in, ok := c.policy.Pick(candidates, out)
	if !ok || in < 0 || in >= len(candidates) || candidates[in] == nil {
		log.Panicf("%s: policy failed to pick a winner for output %d"+
			" among %d candidates", c.name, out, active)
	}

	p := candidates[in]
	grant := c.upstreams[in].Get(c)

	if grant == nil {
		// The upstream cannot serve the read right now. Undo the pick and
		// retry through the cleanup path one tick later.
		c.policy.Rollback(out)

		retry := sim.NewDeferred(c.scheduler, out, c)
		retry.AddCallback(c.cleanup)
		retry.Succeed(in, 1)

		return
	}

	pre := c.upstreams[in].PreGetDelay(p)
	post := c.upstreams[in].PostGetDelay(p)

	getReq := c.getQueues[out][0]
	c.getQueues[out] = c.getQueues[out][1:]
	c.servingInput[out] = in

	c.recordGrant(in, out, p)

	getReq.Succeed(p, pre)

	cleanup := sim.NewDeferred(c.scheduler, out, c)
	cleanup.AddCallback(c.cleanup)
	cleanup.Succeed(in, pre+post)
}

// cleanup closes a transfer, or a declined grant, at the served input. It
// resets the input's routing state, re-peeks the input, and re-offers the
// other inputs still routed to the same output so a new arbitration can be
// scheduled.
func (c *Crossbar) cleanup(ev *sim.Deferred) {
	out := ev.Item().(int)
	in := ev.Value().(int)

	c.routes[in] = -1
	c.routedPkts[in] = nil
	c.unmaskEvents[in] = nil
	c.arbEvents[out] = nil
	c.servingInput[out] = -1

	c.peekInput(in)

	for other := range c.upstreams {
		if other != in && c.routes[other] == out {
			c.postPeek(c.peekEvents[other], other)
		}
	}
}

// pump runs one output's push-mode loop: get a packet from the crossbar,
// put it into the downstream resource, repeat once the put completes.
func (c *Crossbar) pump(out int) {
	g := c.Get(out, c)
	g.AddCallback(func(d *sim.Deferred) {
		p := d.Value().(packet.Packet)

		putEv := c.downstreams[out].Put(p, c)
		putEv.AddCallback(func(*sim.Deferred) {
			c.pump(out)
		})
	})
}

func (c *Crossbar) recordGrant(in, out int, p packet.Packet) {
	now := c.scheduler.CurrentTime()

	s := &c.stats[in][out]
	s.transfers++
	s.totalBits += int64(p.SizeInBytes()) * 8

	if !s.hasActivity {
		s.hasActivity = true
		s.firstTick = now
	}
	s.lastTick = now

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosXbarGrant,
		Item:   p,
		Detail: &Grant{InPort: in, OutPort: out},
	})
}

func (c *Crossbar) mustBeValidOutPort(out int) {
	if out < 0 || out >= c.numOutPorts {
		log.Panicf("%s: output port %d is outside [0, %d)",
			c.name, out, c.numOutPorts)
	}
}
