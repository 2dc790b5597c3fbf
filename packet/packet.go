// Package packet defines the unit of data that moves through the simulated
// fabric.
package packet

import (
	"github.com/sarchlab/fabricsim/idgen"
	"github.com/sarchlab/fabricsim/timing"
)

// A Packet is an opaque item that a resource can store and transmit. The
// resource only relies on the two timing capabilities below.
type Packet interface {
	// ID returns the unique identifier of the packet.
	ID() string

	// SizeInBytes returns the total number of bytes the packet occupies on a
	// channel.
	SizeInBytes() int

	// TicksToTransmit returns the number of whole ticks that transferring the
	// packet takes on a channel that moves bytesPerTick bytes each tick,
	// together with the fractional remainder of the division.
	TicksToTransmit(bytesPerTick int) (ticks timing.VTimeInTick, debt Debt)
}

// BasePacket is a packet with a header and a payload. It can be embedded in
// richer packet types that carry routing or protocol fields.
type BasePacket struct {
	id           string
	headerBytes  int
	payloadBytes int

	// Fields carries user-defined per-packet attributes. The fabric never
	// interprets them; routers may.
	Fields map[string]any
}

// NewBasePacket creates a packet with the given header and payload sizes.
func NewBasePacket(headerBytes, payloadBytes int) *BasePacket {
	return &BasePacket{
		id:           idgen.GetGenerator().Generate(),
		headerBytes:  headerBytes,
		payloadBytes: payloadBytes,
		Fields:       make(map[string]any),
	}
}

// ID returns the unique identifier of the packet.
func (p *BasePacket) ID() string {
	return p.id
}

// HeaderBytes returns the size of the packet header.
func (p *BasePacket) HeaderBytes() int {
	return p.headerBytes
}

// PayloadBytes returns the size of the packet payload.
func (p *BasePacket) PayloadBytes() int {
	return p.payloadBytes
}

// SizeInBytes returns the total size of the packet.
func (p *BasePacket) SizeInBytes() int {
	return p.headerBytes + p.payloadBytes
}

// TicksToTransmit returns the whole ticks and the fractional remainder of
// transferring the packet at bytesPerTick.
func (p *BasePacket) TicksToTransmit(
	bytesPerTick int,
) (timing.VTimeInTick, Debt) {
	if bytesPerTick <= 0 {
		panic("bytesPerTick must be positive")
	}

	size := p.SizeInBytes()
	ticks := timing.VTimeInTick(size / bytesPerTick)
	debt := Debt{Num: size % bytesPerTick, Den: bytesPerTick}

	return ticks, debt
}
