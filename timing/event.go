// Package timing provides the discrete-event scheduling substrate that drives
// every simulated component.
package timing

import "github.com/sarchlab/fabricsim/idgen"

// VTimeInTick is a time in the simulated space, in the unit of one tick.
// Ticks are integers so that simulation results are bit-exact across
// platforms.
type VTimeInTick int64

// An Event is something going to happen in the future.
type Event interface {
	// Time returns the tick at which the event should happen.
	Time() VTimeInTick

	// Handler returns the handler that should handle the event.
	Handler() Handler

	// IsSecondary tells if the event is a secondary event. Secondary events
	// are handled after all same-tick primary events are handled.
	IsSecondary() bool
}

// EventBase provides the basic fields and getters for other events.
type EventBase struct {
	ID        string
	time      VTimeInTick
	handler   Handler
	secondary bool
}

// NewEventBase creates a new EventBase.
func NewEventBase(t VTimeInTick, handler Handler) *EventBase {
	e := new(EventBase)
	e.ID = idgen.GetGenerator().Generate()
	e.time = t
	e.handler = handler
	e.secondary = false

	return e
}

// Time returns the tick at which the event is going to happen.
func (e EventBase) Time() VTimeInTick {
	return e.time
}

// SetHandler sets which handler handles the event.
//
// Components can only schedule events for themselves. Therefore, the handler
// set here must be the component that schedules the event. The only exception
// is the kick-starting of the simulation, where the kick starter can schedule
// events to all components.
func (e *EventBase) SetHandler(h Handler) {
	e.handler = h
}

// Handler returns the handler to handle the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// MakeSecondary marks the event as secondary, so it is handled after all
// same-tick primary events.
func (e *EventBase) MakeSecondary() {
	e.secondary = true
}

// IsSecondary returns true if the event is a secondary event.
func (e EventBase) IsSecondary() bool {
	return e.secondary
}

// A Handler defines a domain for the events.
//
// One event is always constrained to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}
