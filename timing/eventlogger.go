package timing

import (
	"log"
	"reflect"

	"github.com/sarchlab/fabricsim/hooking"
)

// A LogHook is a hook that is responsible for recording information from the
// simulation.
type LogHook interface {
	hooking.Hook
}

// LogHookBase provides the common logic for all LogHooks.
type LogHookBase struct {
	*log.Logger
}

// EventLogger is a hook that prints the event information. Attached to an
// engine, it writes one line per dispatched event with the tick, the event
// type, and the name of the handling element.
type EventLogger struct {
	LogHookBase
}

// NewEventLogger returns a new EventLogger which will write into the logger.
func NewEventLogger(logger *log.Logger) *EventLogger {
	h := new(EventLogger)
	h.Logger = logger

	return h
}

// Func writes the event information into the logger.
func (h *EventLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	named, ok := evt.Handler().(interface{ Name() string })
	if ok {
		h.Printf("%d, %s -> %s",
			evt.Time(), reflect.TypeOf(evt), named.Name())
	} else {
		h.Printf("%d, %s", evt.Time(), reflect.TypeOf(evt))
	}
}
