package sim

import (
	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/timing"
)

// Upstream is the side of a resource that a consumer drains. A crossbar or a
// sink attaches to an Upstream and issues peek and get requests against it.
type Upstream interface {
	naming.Named

	// Peek requests a non-consuming look at the head item. The returned
	// event succeeds, carrying the head packet, once the resource is
	// non-empty.
	Peek(caller any) *Deferred

	// Get requests removal of the head item. The returned event succeeds,
	// carrying the removed packet, once the resource can serve the read.
	// Get returns nil when the resource cannot grant a read right now; the
	// caller may retry later. A nil return is the only decline path a
	// consumer sees.
	Get(caller any) *Deferred

	// PreGetDelay reports the ticks between a granted get and the moment
	// the packet leaves the resource.
	PreGetDelay(p packet.Packet) timing.VTimeInTick

	// PostGetDelay reports the ticks the read occupies the resource after
	// the packet has left, before the next read can be granted.
	PostGetDelay(p packet.Packet) timing.VTimeInTick
}

// Downstream is the side of a resource that a producer fills. The returned
// event succeeds when the resource has accepted the packet.
type Downstream interface {
	naming.Named

	Put(p packet.Packet, caller any) *Deferred
}

// A CreditReturner receives credits back from a flow-controlled consumer
// when the consumer frees a slot.
type CreditReturner interface {
	ReturnCredit()
}
