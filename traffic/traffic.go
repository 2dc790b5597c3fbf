// Package traffic provides simple load generators and sinks for exercising
// a fabric.
package traffic

import (
	"log"

	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
)

// A Generator puts a fixed list of packets into a downstream resource,
// back to back: each put is issued once the previous one has completed.
type Generator struct {
	name      string
	scheduler sim.Scheduler

	downstream sim.Downstream
	packets    []packet.Packet
	gap        timing.VTimeInTick

	nextIndex int
	done      *sim.Deferred
	started   bool
}

// Name returns the name of the generator.
func (g *Generator) Name() string {
	return g.name
}

// Done returns the event that succeeds once every packet has been accepted
// by the downstream resource.
func (g *Generator) Done() *sim.Deferred {
	return g.done
}

// PacketsSent returns the number of packets accepted so far.
func (g *Generator) PacketsSent() int {
	return g.nextIndex
}

// Start begins sending. It must be called once, before the engine runs.
func (g *Generator) Start() {
	if g.started {
		log.Panicf("%s: started twice", g.name)
	}
	g.started = true

	g.sendNext()
}

func (g *Generator) sendNext() {
	if g.nextIndex >= len(g.packets) {
		g.done.Succeed(g.nextIndex, 0)
		return
	}

	p := g.packets[g.nextIndex]
	putEv := g.downstream.Put(p, g)

	putEv.AddCallback(func(*sim.Deferred) {
		g.nextIndex++

		if g.gap == 0 {
			g.sendNext()
			return
		}

		pause := sim.NewDeferred(g.scheduler, nil, g)
		pause.AddCallback(func(*sim.Deferred) {
			g.sendNext()
		})
		pause.Succeed(nil, g.gap)
	})
}

// GeneratorBuilder constructs generators.
type GeneratorBuilder struct {
	scheduler   sim.Scheduler
	downstream  sim.Downstream
	packets     []packet.Packet
	packetCount int
	headerBytes int
	packetBytes int
	gap         timing.VTimeInTick
}

// MakeGeneratorBuilder returns a builder that sends nothing until given
// packets or a packet count.
func MakeGeneratorBuilder() GeneratorBuilder {
	return GeneratorBuilder{}
}

// WithScheduler sets the scheduler the generator uses.
func (b GeneratorBuilder) WithScheduler(s sim.Scheduler) GeneratorBuilder {
	b.scheduler = s
	return b
}

// WithDownstream sets the resource the packets are put into.
func (b GeneratorBuilder) WithDownstream(d sim.Downstream) GeneratorBuilder {
	b.downstream = d
	return b
}

// WithPackets sets an explicit list of packets to send.
func (b GeneratorBuilder) WithPackets(
	pkts ...packet.Packet,
) GeneratorBuilder {
	b.packets = pkts
	return b
}

// WithUniformPackets makes the generator send count packets of the given
// header and payload sizes.
func (b GeneratorBuilder) WithUniformPackets(
	count, headerBytes, payloadBytes int,
) GeneratorBuilder {
	b.packetCount = count
	b.headerBytes = headerBytes
	b.packetBytes = payloadBytes

	return b
}

// WithInterPacketGap sets the ticks the generator idles between the
// completion of one put and the issue of the next.
func (b GeneratorBuilder) WithInterPacketGap(
	gap timing.VTimeInTick,
) GeneratorBuilder {
	b.gap = gap
	return b
}

// Build creates the generator.
func (b GeneratorBuilder) Build(name string) *Generator {
	naming.MustBeValid(name)

	if b.scheduler == nil {
		log.Panicf("generator %s built without a scheduler", name)
	}

	if b.downstream == nil {
		log.Panicf("generator %s built without a downstream resource", name)
	}

	pkts := b.packets
	if pkts == nil {
		for i := 0; i < b.packetCount; i++ {
			pkts = append(pkts,
				packet.NewBasePacket(b.headerBytes, b.packetBytes))
		}
	}

	if len(pkts) == 0 {
		log.Panicf("generator %s built without packets to send", name)
	}

	return &Generator{
		name:       name,
		scheduler:  b.scheduler,
		downstream: b.downstream,
		packets:    pkts,
		gap:        b.gap,
		done:       sim.NewDeferred(b.scheduler, nil, nil),
	}
}

// A Sink drains an upstream resource with back-to-back gets until it has
// received the expected number of packets. A packet arriving after the sink
// is complete is a fatal modeling error.
type Sink struct {
	name      string
	scheduler sim.Scheduler

	upstream        sim.Upstream
	expectedPackets int

	receivedPackets int
	receivedBytes   int64
	done            *sim.Deferred
	started         bool
}

// Name returns the name of the sink.
func (s *Sink) Name() string {
	return s.name
}

// Done returns the event that succeeds once the expected packet count has
// been received.
func (s *Sink) Done() *sim.Deferred {
	return s.done
}

// ReceivedPackets returns the number of packets drained so far.
func (s *Sink) ReceivedPackets() int {
	return s.receivedPackets
}

// ReceivedBytes returns the bytes drained so far.
func (s *Sink) ReceivedBytes() int64 {
	return s.receivedBytes
}

// Start begins draining. It must be called once, before the engine runs.
func (s *Sink) Start() {
	if s.started {
		log.Panicf("%s: started twice", s.name)
	}
	s.started = true

	s.getNext()
}

func (s *Sink) getNext() {
	getEv := s.upstream.Get(s)

	if getEv == nil {
		retry := sim.NewDeferred(s.scheduler, nil, s)
		retry.AddCallback(func(*sim.Deferred) {
			s.getNext()
		})
		retry.Succeed(nil, 1)

		return
	}

	getEv.AddCallback(s.receive)
}

func (s *Sink) receive(ev *sim.Deferred) {
	p := ev.Value().(packet.Packet)

	if s.receivedPackets >= s.expectedPackets {
		log.Panicf("%s: received packet %s after the expected %d packets",
			s.name, p.ID(), s.expectedPackets)
	}

	s.receivedPackets++
	s.receivedBytes += int64(p.SizeInBytes())

	if s.receivedPackets == s.expectedPackets {
		s.done.Succeed(s.receivedPackets, 0)
		return
	}

	s.getNext()
}

// SinkBuilder constructs sinks.
type SinkBuilder struct {
	scheduler       sim.Scheduler
	upstream        sim.Upstream
	expectedPackets int
}

// MakeSinkBuilder returns a builder for a sink.
func MakeSinkBuilder() SinkBuilder {
	return SinkBuilder{}
}

// WithScheduler sets the scheduler the sink uses.
func (b SinkBuilder) WithScheduler(s sim.Scheduler) SinkBuilder {
	b.scheduler = s
	return b
}

// WithUpstream sets the resource the sink drains.
func (b SinkBuilder) WithUpstream(u sim.Upstream) SinkBuilder {
	b.upstream = u
	return b
}

// WithExpectedPackets sets how many packets complete the sink.
func (b SinkBuilder) WithExpectedPackets(n int) SinkBuilder {
	b.expectedPackets = n
	return b
}

// Build creates the sink.
func (b SinkBuilder) Build(name string) *Sink {
	naming.MustBeValid(name)

	if b.scheduler == nil {
		log.Panicf("sink %s built without a scheduler", name)
	}

	if b.upstream == nil {
		log.Panicf("sink %s built without an upstream resource", name)
	}

	if b.expectedPackets <= 0 {
		log.Panicf("sink %s built with a non-positive packet count", name)
	}

	return &Sink{
		name:            name,
		scheduler:       b.scheduler,
		upstream:        b.upstream,
		expectedPackets: b.expectedPackets,
		done:            sim.NewDeferred(b.scheduler, nil, nil),
	}
}
