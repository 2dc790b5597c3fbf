package xbar

import (
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/sim"
)

// An Unmasker gates when a routed packet becomes eligible for arbitration.
// The returned event succeeds once the input may compete for its output. An
// implementation can model virtual-channel availability or a downstream
// readiness protocol.
type Unmasker interface {
	Unmask(p packet.Packet, inPort int) *sim.Deferred
}

// An alwaysReadyUnmasker declares every routed packet eligible immediately.
// It is the unmasker used when the builder is not given one.
type alwaysReadyUnmasker struct {
	scheduler sim.Scheduler
}

func (u alwaysReadyUnmasker) Unmask(
	_ packet.Packet,
	_ int,
) *sim.Deferred {
	return sim.NewDeferred(u.scheduler, nil, nil).Succeed(nil, 0)
}
