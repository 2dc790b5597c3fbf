// Package sim provides the deferred-success event primitive and the buffering
// resources that every element of the simulated fabric is built from.
package sim

import (
	"log"

	"github.com/sarchlab/fabricsim/idgen"
	"github.com/sarchlab/fabricsim/timing"
)

// Scheduler is the part of the engine that resources rely on: reading the
// current tick and scheduling future events.
type Scheduler interface {
	timing.TimeTeller
	timing.EventScheduler
}

// A Deferred is a one-shot future. It can be scheduled to succeed at a tick
// offset in the future, carrying an optional payload and an optional
// reference to the requesting caller.
//
// A Deferred transitions from pending to succeeded exactly once. Succeeding
// twice is a fatal modeling error.
type Deferred struct {
	ID string

	scheduler Scheduler
	item      any
	caller    any
	value     any

	triggered bool
	processed bool
	callbacks []func(*Deferred)
}

// NewDeferred creates a pending Deferred. The item is the subject of the
// request the event represents; the caller identifies the requester and is
// used for diagnostics and flow-control hooks. Both may be nil.
func NewDeferred(scheduler Scheduler, item, caller any) *Deferred {
	return &Deferred{
		ID:        idgen.GetGenerator().Generate(),
		scheduler: scheduler,
		item:      item,
		caller:    caller,
	}
}

// Item returns the subject of the request.
func (d *Deferred) Item() any {
	return d.item
}

// Caller returns the requester reference, or nil.
func (d *Deferred) Caller() any {
	return d.caller
}

// Value returns the result recorded when the event succeeded.
func (d *Deferred) Value() any {
	return d.value
}

// Triggered reports whether Succeed has been called.
func (d *Deferred) Triggered() bool {
	return d.triggered
}

// Processed reports whether the callbacks have already been invoked.
func (d *Deferred) Processed() bool {
	return d.processed
}

// AddCallback registers a callback to run when the event fires. Callbacks
// registered after success but before the scheduled tick still fire in
// order. Callbacks registered on an already-processed event are never
// invoked; callers must check Triggered first.
func (d *Deferred) AddCallback(cb func(*Deferred)) {
	if d.processed {
		return
	}

	d.callbacks = append(d.callbacks, cb)
}

// Succeed records the value, marks the event successful, and schedules the
// invocation of all registered callbacks at now+delay. A delay of 0 fires at
// the next scheduler step, never synchronously within the same call.
//
// Succeed panics if the event has already been triggered.
func (d *Deferred) Succeed(value any, delay timing.VTimeInTick) *Deferred {
	if d.triggered {
		log.Panicf("deferred event %s has already been triggered", d.ID)
	}

	if delay < 0 {
		log.Panicf("deferred event %s scheduled with negative delay", d.ID)
	}

	d.triggered = true
	d.value = value

	now := d.scheduler.CurrentTime()
	d.scheduler.Schedule(fireEvent{
		EventBase: timing.NewEventBase(now+delay, d),
	})

	return d
}

// Handle processes the scheduled success of the event by invoking the
// callbacks in registration order. Callbacks appended while the list is being
// drained also run, after the ones already registered.
func (d *Deferred) Handle(_ timing.Event) error {
	for i := 0; i < len(d.callbacks); i++ {
		d.callbacks[i](d)
	}

	d.processed = true
	d.callbacks = nil

	return nil
}

type fireEvent struct {
	*timing.EventBase
}

// A ConcurrentAllOf is an event that succeeds only when every event in the
// supplied list is simultaneously triggered at a single scheduler pass.
//
// Member events may be replaced by their owner with fresh pending instances
// at any time, so the check re-runs from scratch on every wake-up rather
// than counting incrementally. The slice is shared with the owner;
// replacements through the owner's slice header are observed.
type ConcurrentAllOf struct {
	*Deferred

	events []*Deferred
}

// NewConcurrentAllOf creates the combined event and runs the first check
// immediately.
func NewConcurrentAllOf(
	scheduler Scheduler,
	events []*Deferred,
) *ConcurrentAllOf {
	c := &ConcurrentAllOf{
		Deferred: NewDeferred(scheduler, nil, nil),
		events:   events,
	}

	c.check(nil)

	return c
}

func (c *ConcurrentAllOf) check(_ *Deferred) {
	if c.Triggered() {
		return
	}

	for i := range c.events {
		if !c.events[i].Triggered() {
			c.events[i].AddCallback(c.check)
			return
		}
	}

	c.Succeed(nil, 0)
}
