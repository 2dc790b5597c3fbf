package xbar

import (
	"log"

	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/sim"
)

// Builder constructs crossbars.
type Builder struct {
	scheduler   sim.Scheduler
	upstreams   []sim.Upstream
	downstreams []sim.Downstream
	numOutPorts int
	router      Router
	unmasker    Unmasker
	policy      Policy
	pushMode    bool
}

// MakeBuilder returns a builder for a crossbar with one output port.
func MakeBuilder() Builder {
	return Builder{numOutPorts: 1}
}

// WithScheduler sets the scheduler the crossbar uses.
func (b Builder) WithScheduler(s sim.Scheduler) Builder {
	b.scheduler = s
	return b
}

// WithUpstreams sets the input-side resources, one per input port.
func (b Builder) WithUpstreams(ups ...sim.Upstream) Builder {
	b.upstreams = ups
	return b
}

// WithNumOutPorts sets the number of output ports.
func (b Builder) WithNumOutPorts(n int) Builder {
	b.numOutPorts = n
	return b
}

// WithDownstreams sets the output-side resources and enables push mode: the
// crossbar drives its own output loops, putting each granted packet into the
// downstream resource of its output.
func (b Builder) WithDownstreams(dns ...sim.Downstream) Builder {
	b.downstreams = dns
	b.numOutPorts = len(dns)
	b.pushMode = true

	return b
}

// WithRouter sets the routing decision. Without one, every packet goes to
// output 0 unchanged.
func (b Builder) WithRouter(r Router) Builder {
	b.router = r
	return b
}

// WithUnmasker sets the eligibility gate. Without one, every routed packet
// is eligible immediately.
func (b Builder) WithUnmasker(u Unmasker) Builder {
	b.unmasker = u
	return b
}

// WithPolicy sets the arbitration policy.
func (b Builder) WithPolicy(p Policy) Builder {
	b.policy = p
	return b
}

// Build creates the crossbar.
func (b Builder) Build(name string) *Crossbar {
	naming.MustBeValid(name)

	if b.scheduler == nil {
		log.Panicf("crossbar %s built without a scheduler", name)
	}

	if len(b.upstreams) == 0 {
		log.Panicf("crossbar %s built without upstream resources", name)
	}

	if b.numOutPorts <= 0 {
		log.Panicf("crossbar %s built with no output ports", name)
	}

	if b.pushMode && len(b.downstreams) != b.numOutPorts {
		log.Panicf("crossbar %s needs %d downstream resources, got %d",
			name, b.numOutPorts, len(b.downstreams))
	}

	if b.policy == nil {
		log.Panicf("crossbar %s built without an arbitration policy", name)
	}

	router := b.router
	if router == nil {
		router = singleOutputRouter{}
	}

	unmasker := b.unmasker
	if unmasker == nil {
		unmasker = alwaysReadyUnmasker{scheduler: b.scheduler}
	}

	numIn := len(b.upstreams)

	c := &Crossbar{
		name:         name,
		scheduler:    b.scheduler,
		upstreams:    b.upstreams,
		downstreams:  b.downstreams,
		numOutPorts:  b.numOutPorts,
		router:       router,
		unmasker:     unmasker,
		policy:       b.policy,
		peekEvents:   make([]*sim.Deferred, numIn),
		routedPkts:   make([]packet.Packet, numIn),
		routes:       make([]int, numIn),
		unmaskEvents: make([]*sim.Deferred, numIn),
		getQueues:    make([][]*sim.Deferred, b.numOutPorts),
		arbEvents:    make([]*sim.Deferred, b.numOutPorts),
		servingInput: make([]int, b.numOutPorts),
		stats:        make([][]linkStats, numIn),
		pushMode:     b.pushMode,
	}

	for in := 0; in < numIn; in++ {
		c.routes[in] = -1
		c.stats[in] = make([]linkStats, b.numOutPorts)
	}

	for out := 0; out < b.numOutPorts; out++ {
		c.servingInput[out] = -1
	}

	return c
}
