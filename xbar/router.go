// Package xbar implements an N-input M-output crossbar that moves packets
// from upstream resources to downstream resources under a pluggable
// arbitration policy.
package xbar

import "github.com/sarchlab/fabricsim/packet"

// A Router decides which output an input's head packet is destined for. It
// may also rewrite the packet, for example to strip or update a header; the
// returned packet is the one offered to the output.
type Router interface {
	Route(p packet.Packet, inPort int) (outPort int, routed packet.Packet)
}

// RouteFunc adapts a function to the Router interface.
type RouteFunc func(p packet.Packet, inPort int) (int, packet.Packet)

// Route calls the function.
func (f RouteFunc) Route(p packet.Packet, inPort int) (int, packet.Packet) {
	return f(p, inPort)
}

// A singleOutputRouter sends every packet, unchanged, to output 0. It is the
// router used when the builder is not given one.
type singleOutputRouter struct{}

func (singleOutputRouter) Route(
	p packet.Packet,
	_ int,
) (int, packet.Packet) {
	return 0, p
}
