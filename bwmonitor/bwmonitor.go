// Package bwmonitor measures the traffic flowing through fabric elements.
// Counters attach to element hooks and accumulate bits; a BandwidthMonitor
// samples the counters periodically and records the samples.
package bwmonitor

import (
	"log"

	"github.com/sarchlab/fabricsim/datarecording"
	"github.com/sarchlab/fabricsim/hooking"
	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/timing"
)

// A Counter accumulates the traffic observed at one measurement point. It
// implements hooking.Hook, so it can be attached to any hook position whose
// item is a packet; hooks firing at other positions, or with non-packet
// items, are ignored.
type Counter struct {
	name string
	tt   timing.TimeTeller
	pos  *hooking.HookPos

	packets     int64
	totalBits   int64
	hasActivity bool
	firstTick   timing.VTimeInTick
	lastTick    timing.VTimeInTick
}

// NewCounter creates a counter that reacts to hooks firing at the given
// position. A nil position makes the counter react to every position.
func NewCounter(
	tt timing.TimeTeller,
	pos *hooking.HookPos,
	name string,
) *Counter {
	naming.MustBeValid(name)

	if tt == nil {
		log.Panicf("counter %s built without a time teller", name)
	}

	return &Counter{name: name, tt: tt, pos: pos}
}

// Name returns the name of the counter.
func (c *Counter) Name() string {
	return c.name
}

// Func counts the packet carried by the hook.
func (c *Counter) Func(ctx hooking.HookCtx) {
	if c.pos != nil && ctx.Pos != c.pos {
		return
	}

	p, ok := ctx.Item.(packet.Packet)
	if !ok {
		return
	}

	c.Observe(p)
}

// Observe counts one packet directly, without going through a hook.
func (c *Counter) Observe(p packet.Packet) {
	now := c.tt.CurrentTime()

	c.packets++
	c.totalBits += int64(p.SizeInBytes()) * 8

	if !c.hasActivity {
		c.hasActivity = true
		c.firstTick = now
	}
	c.lastTick = now
}

// TotalPackets returns the number of packets counted.
func (c *Counter) TotalPackets() int64 {
	return c.packets
}

// TotalBits returns the bits counted.
func (c *Counter) TotalBits() int64 {
	return c.totalBits
}

// ActivitySpan returns the ticks of the first and last observation. The
// third return value is false when nothing was observed.
func (c *Counter) ActivitySpan() (
	timing.VTimeInTick, timing.VTimeInTick, bool,
) {
	return c.firstTick, c.lastTick, c.hasActivity
}

// AverageBandwidth returns the bits per tick averaged over the activity
// span, or 0 when nothing was observed.
func (c *Counter) AverageBandwidth() float64 {
	if !c.hasActivity {
		return 0
	}

	span := c.lastTick - c.firstTick + 1

	return float64(c.totalBits) / float64(span)
}

// A BandwidthSample is one recorded measurement of one counter.
type BandwidthSample struct {
	Tick        int64
	Counter     string
	Packets     int64
	TotalBits   int64
	BitsPerTick float64
}

// A BandwidthMonitor samples a set of counters at a fixed tick interval
// until a horizon, recording one row per counter per sample. At the end of
// the simulation it records a final sample for each counter.
type BandwidthMonitor struct {
	name     string
	engine   timing.Engine
	recorder datarecording.DataRecorder

	interval timing.VTimeInTick
	horizon  timing.VTimeInTick

	counters []*Counter
	lastBits map[*Counter]int64

	tableName string
	started   bool
	stopped   bool
}

// AddCounter registers a counter with the monitor. Counters must be added
// before Start.
func (m *BandwidthMonitor) AddCounter(c *Counter) {
	if m.started {
		log.Panicf("%s: adding a counter after the monitor started", m.name)
	}

	m.counters = append(m.counters, c)
	m.lastBits[c] = 0
}

// Start creates the sample table and schedules the first sample.
func (m *BandwidthMonitor) Start() {
	if m.started {
		log.Panicf("%s: started twice", m.name)
	}
	m.started = true

	m.recorder.CreateTable(m.tableName, BandwidthSample{})
	m.engine.RegisterSimulationEndHandler(m)

	m.scheduleNextSample(m.interval)
}

// Handle records one sample per counter and schedules the next sample.
func (m *BandwidthMonitor) Handle(e timing.Event) error {
	m.sample(e.Time())

	if !m.stopped && e.Time()+m.interval <= m.horizon {
		m.scheduleNextSample(m.interval)
	}

	return nil
}

// Stop prevents further periodic samples from being scheduled, letting the
// engine drain once the workload has completed. The end-of-simulation
// sample is still recorded.
func (m *BandwidthMonitor) Stop() {
	m.stopped = true
}

// SimulationEnded records a final sample and flushes the recorder.
func (m *BandwidthMonitor) SimulationEnded(now timing.VTimeInTick) {
	m.sample(now)
	m.recorder.Flush()
}

func (m *BandwidthMonitor) sample(now timing.VTimeInTick) {
	for _, c := range m.counters {
		delta := c.TotalBits() - m.lastBits[c]
		m.lastBits[c] = c.TotalBits()

		m.recorder.InsertData(m.tableName, BandwidthSample{
			Tick:        int64(now),
			Counter:     c.Name(),
			Packets:     c.TotalPackets(),
			TotalBits:   c.TotalBits(),
			BitsPerTick: float64(delta) / float64(m.interval),
		})
	}
}

func (m *BandwidthMonitor) scheduleNextSample(delay timing.VTimeInTick) {
	evt := timing.NewEventBase(m.engine.CurrentTime()+delay, m)
	evt.MakeSecondary()
	m.engine.Schedule(sampleEvent{EventBase: evt})
}

type sampleEvent struct {
	*timing.EventBase
}

// MonitorBuilder constructs bandwidth monitors.
type MonitorBuilder struct {
	engine   timing.Engine
	recorder datarecording.DataRecorder
	interval timing.VTimeInTick
	horizon  timing.VTimeInTick
}

// MakeMonitorBuilder returns a builder sampling every 100 ticks up to tick
// 1000000.
func MakeMonitorBuilder() MonitorBuilder {
	return MonitorBuilder{
		interval: 100,
		horizon:  1000000,
	}
}

// WithEngine sets the engine the monitor schedules on.
func (b MonitorBuilder) WithEngine(e timing.Engine) MonitorBuilder {
	b.engine = e
	return b
}

// WithRecorder sets where samples are written.
func (b MonitorBuilder) WithRecorder(
	r datarecording.DataRecorder,
) MonitorBuilder {
	b.recorder = r
	return b
}

// WithInterval sets the tick distance between samples.
func (b MonitorBuilder) WithInterval(i timing.VTimeInTick) MonitorBuilder {
	b.interval = i
	return b
}

// WithHorizon sets the last tick at which a periodic sample may fire.
func (b MonitorBuilder) WithHorizon(h timing.VTimeInTick) MonitorBuilder {
	b.horizon = h
	return b
}

// Build creates the monitor.
func (b MonitorBuilder) Build(name string) *BandwidthMonitor {
	naming.MustBeValid(name)

	if b.engine == nil {
		log.Panicf("bandwidth monitor %s built without an engine", name)
	}

	if b.recorder == nil {
		log.Panicf("bandwidth monitor %s built without a recorder", name)
	}

	if b.interval <= 0 {
		log.Panicf("bandwidth monitor %s built with a non-positive"+
			" sampling interval", name)
	}

	return &BandwidthMonitor{
		name:      name,
		engine:    b.engine,
		recorder:  b.recorder,
		interval:  b.interval,
		horizon:   b.horizon,
		lastBits:  make(map[*Counter]int64),
		tableName: "bandwidth_samples",
	}
}
