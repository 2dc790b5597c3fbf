package sim

import (
	"log"

	"github.com/sarchlab/fabricsim/hooking"
	"github.com/sarchlab/fabricsim/naming"
	"github.com/sarchlab/fabricsim/packet"
	"github.com/sarchlab/fabricsim/timing"
)

// HookPosBufPut is triggered when a buffer completes a write, with the
// written packet as the item.
var HookPosBufPut = &hooking.HookPos{Name: "BufPut"}

// HookPosBufGet is triggered when a buffer removes a packet for a read, with
// the removed packet as the item.
var HookPosBufGet = &hooking.HookPos{Name: "BufGet"}

// A Buffer is a bounded packet store with a queued-request interface on both
// sides. Producers put packets in; consumers peek at and get the head
// packet out. Writes and reads are paced by the per-direction bytes-per-tick
// rates, with fractional remainders carried as debt into the next transfer.
//
// A cut-through buffer inserts the packet as soon as the write is granted
// and completes the write after the transmit-derived delay. A
// store-and-forward buffer delays the insertion itself by the full transmit
// time, so consumers cannot see the packet before it has fully arrived.
type Buffer struct {
	hooking.HookableBase

	name      string
	scheduler Scheduler

	capacity        int
	storeAndForward bool

	putBytesPerTick int
	getBytesPerTick int
	putDelay        timing.VTimeInTick
	getDelay        timing.VTimeInTick

	items     []packet.Packet
	putQueue  *RequestQueue
	getQueue  *RequestQueue
	peekQueue *RequestQueue

	putDebt *packet.DebtAccumulator
	getDebt *packet.DebtAccumulator

	putBusyUntil timing.VTimeInTick
	getWindowEnd timing.VTimeInTick

	creditReturn CreditReturner
}

// Name returns the name of the buffer.
func (b *Buffer) Name() string {
	return b.name
}

// Capacity returns the number of slots.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// OccupiedSlots returns the number of packets currently stored.
func (b *Buffer) OccupiedSlots() int {
	return len(b.items)
}

// AvailableSlots returns the number of free slots.
func (b *Buffer) AvailableSlots() int {
	return b.capacity - len(b.items)
}

// IsFull reports whether every slot is occupied.
func (b *Buffer) IsFull() bool {
	return len(b.items) == b.capacity
}

// IsEmpty reports whether no packet is stored.
func (b *Buffer) IsEmpty() bool {
	return len(b.items) == 0
}

// Put requests insertion of a packet. The returned event succeeds when the
// write has completed. Puts are served in arrival order; a put waiting for a
// free slot or for an earlier write to finish blocks the puts behind it.
func (b *Buffer) Put(p packet.Packet, caller any) *Deferred {
	req := NewDeferred(b.scheduler, p, caller)
	b.putQueue.Enqueue(req)
	b.putQueue.Trigger(b.tryPut)

	return req
}

// Get requests removal of the head packet. The returned event succeeds,
// carrying the packet, once the buffer is non-empty and no earlier read is
// still occupying the read port. Get returns nil while a read window is
// active; the caller may retry once the window has closed.
func (b *Buffer) Get(caller any) *Deferred {
	if b.scheduler.CurrentTime() < b.getWindowEnd {
		return nil
	}

	req := NewDeferred(b.scheduler, nil, caller)
	b.getQueue.Enqueue(req)
	b.getQueue.Trigger(b.tryGet)

	return req
}

// Peek requests a non-consuming look at the head packet. The returned event
// succeeds, carrying the head packet, once the buffer is non-empty,
// independent of any in-flight read.
func (b *Buffer) Peek(caller any) *Deferred {
	req := NewDeferred(b.scheduler, nil, caller)
	b.peekQueue.Enqueue(req)
	b.peekQueue.Trigger(b.tryPeek)

	return req
}

// CancelGet withdraws a pending get request. It returns false if the request
// has already been granted.
func (b *Buffer) CancelGet(req *Deferred) bool {
	return b.getQueue.Cancel(req)
}

// CancelPeek withdraws a pending peek request. It returns false if the
// request has already been granted.
func (b *Buffer) CancelPeek(req *Deferred) bool {
	return b.peekQueue.Cancel(req)
}

// PreGetDelay returns the configured per-read delay before the packet leaves
// the buffer.
func (b *Buffer) PreGetDelay(_ packet.Packet) timing.VTimeInTick {
	return b.getDelay
}

// PostGetDelay returns the whole ticks the read of p occupies the read port
// after the packet has left.
func (b *Buffer) PostGetDelay(p packet.Packet) timing.VTimeInTick {
	ticks, _ := p.TicksToTransmit(b.getBytesPerTick)
	return ticks
}

func (b *Buffer) tryPut(req *Deferred) {
	if len(b.items) >= b.capacity {
		return
	}

	now := b.scheduler.CurrentTime()
	if now < b.putBusyUntil {
		return
	}

	p := req.Item().(packet.Packet)
	ticks, debt := p.TicksToTransmit(b.putBytesPerTick)
	total := b.putDelay + ticks + b.putDebt.Add(debt)

	b.putBusyUntil = now + total
	b.putQueue.Remove(req)

	if b.storeAndForward {
		insertion := NewDeferred(b.scheduler, p, b)
		insertion.AddCallback(func(*Deferred) {
			b.insert(p)
		})
		insertion.Succeed(nil, total)
	} else {
		b.insert(p)
	}

	req.AddCallback(func(*Deferred) {
		b.InvokeHook(hooking.HookCtx{
			Domain: b,
			Pos:    HookPosBufPut,
			Item:   p,
		})
		b.putQueue.Trigger(b.tryPut)
	})
	req.Succeed(p, total)
}

func (b *Buffer) tryGet(req *Deferred) {
	if len(b.items) == 0 {
		return
	}

	now := b.scheduler.CurrentTime()
	if now < b.getWindowEnd {
		return
	}

	p := b.items[0]
	ticks, debt := p.TicksToTransmit(b.getBytesPerTick)
	pre := b.getDelay
	b.getWindowEnd = now + pre + ticks + b.getDebt.Add(debt)

	b.getQueue.Remove(req)

	if pre == 0 {
		b.removeHead(p)
		req.Succeed(p, 0)
	} else {
		req.AddCallback(func(*Deferred) {
			b.removeHead(p)
		})
		req.Succeed(p, pre)
	}

	b.scheduleQueueWake(b.getWindowEnd - now)
}

func (b *Buffer) tryPeek(req *Deferred) {
	if len(b.items) == 0 {
		return
	}

	b.peekQueue.Remove(req)
	req.Succeed(b.items[0], 0)
}

func (b *Buffer) insert(p packet.Packet) {
	if len(b.items) >= b.capacity {
		log.Panicf("%s: writing into a full buffer", b.name)
	}

	b.items = append(b.items, p)

	b.getQueue.Trigger(b.tryGet)
	b.peekQueue.Trigger(b.tryPeek)
}

func (b *Buffer) removeHead(p packet.Packet) {
	if len(b.items) == 0 || b.items[0] != p {
		log.Panicf("%s: the packet being read is no longer at the head",
			b.name)
	}

	b.items = b.items[1:]

	b.InvokeHook(hooking.HookCtx{
		Domain: b,
		Pos:    HookPosBufGet,
		Item:   p,
	})

	if b.creditReturn != nil {
		b.creditReturn.ReturnCredit()
	}

	b.putQueue.Trigger(b.tryPut)
}

// scheduleQueueWake re-runs the request queues once a busy window closes, so
// requests that arrived during the window make progress without an external
// stimulus.
func (b *Buffer) scheduleQueueWake(delay timing.VTimeInTick) {
	wake := NewDeferred(b.scheduler, nil, b)
	wake.AddCallback(func(*Deferred) {
		b.getQueue.Trigger(b.tryGet)
		b.putQueue.Trigger(b.tryPut)
	})
	wake.Succeed(nil, delay)
}

// BufferBuilder constructs buffers.
type BufferBuilder struct {
	scheduler       Scheduler
	capacity        int
	putBytesPerTick int
	getBytesPerTick int
	putDelay        timing.VTimeInTick
	getDelay        timing.VTimeInTick
	storeAndForward bool
	creditReturn    CreditReturner
}

// MakeBufferBuilder returns a builder with a capacity of 1 and both
// directions transferring 1 byte per tick.
func MakeBufferBuilder() BufferBuilder {
	return BufferBuilder{
		capacity:        1,
		putBytesPerTick: 1,
		getBytesPerTick: 1,
	}
}

// WithScheduler sets the scheduler the buffer uses.
func (b BufferBuilder) WithScheduler(s Scheduler) BufferBuilder {
	b.scheduler = s
	return b
}

// WithCapacity sets the number of slots.
func (b BufferBuilder) WithCapacity(capacity int) BufferBuilder {
	b.capacity = capacity
	return b
}

// WithPutBytesPerTick sets the write-side transfer rate.
func (b BufferBuilder) WithPutBytesPerTick(n int) BufferBuilder {
	b.putBytesPerTick = n
	return b
}

// WithGetBytesPerTick sets the read-side transfer rate.
func (b BufferBuilder) WithGetBytesPerTick(n int) BufferBuilder {
	b.getBytesPerTick = n
	return b
}

// WithPutDelay sets an extra fixed delay added to every write.
func (b BufferBuilder) WithPutDelay(d timing.VTimeInTick) BufferBuilder {
	b.putDelay = d
	return b
}

// WithGetDelay sets a fixed delay between the grant of a read and the
// moment the packet leaves the buffer.
func (b BufferBuilder) WithGetDelay(d timing.VTimeInTick) BufferBuilder {
	b.getDelay = d
	return b
}

// WithStoreAndForward delays each insertion by the full transmit time, so
// consumers only see fully arrived packets.
func (b BufferBuilder) WithStoreAndForward() BufferBuilder {
	b.storeAndForward = true
	return b
}

// WithCreditReturn makes the buffer return one credit to the given upstream
// element whenever a packet is removed from the head.
func (b BufferBuilder) WithCreditReturn(cr CreditReturner) BufferBuilder {
	b.creditReturn = cr
	return b
}

// Build creates the buffer.
func (b BufferBuilder) Build(name string) *Buffer {
	naming.MustBeValid(name)

	if b.scheduler == nil {
		log.Panicf("buffer %s built without a scheduler", name)
	}

	if b.capacity <= 0 {
		log.Panicf("buffer %s built with a non-positive capacity", name)
	}

	if b.putBytesPerTick <= 0 || b.getBytesPerTick <= 0 {
		log.Panicf("buffer %s built with a non-positive transfer rate", name)
	}

	return &Buffer{
		name:            name,
		scheduler:       b.scheduler,
		capacity:        b.capacity,
		storeAndForward: b.storeAndForward,
		putBytesPerTick: b.putBytesPerTick,
		getBytesPerTick: b.getBytesPerTick,
		putDelay:        b.putDelay,
		getDelay:        b.getDelay,
		putQueue:        NewRequestQueue(name + ".PutQueue"),
		getQueue:        NewRequestQueue(name + ".GetQueue"),
		peekQueue:       NewRequestQueue(name + ".PeekQueue"),
		putDebt:         packet.NewDebtAccumulator(b.putBytesPerTick),
		getDebt:         packet.NewDebtAccumulator(b.getBytesPerTick),
		creditReturn:    b.creditReturn,
	}
}
