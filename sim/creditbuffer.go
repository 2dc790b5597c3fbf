package sim

import (
	"log"

	"github.com/sarchlab/fabricsim/naming"
)

// A CreditBuffer is a bounded credit counter with a threshold-peek
// interface. A producer peeks with a threshold and is woken once at least
// that many credits are available; it then consumes credits as it sends.
//
// The count never leaves the range [0, initial credits]. Consuming below
// zero or returning a credit to a saturated counter is a fatal modeling
// error, as both indicate a credit leak in the surrounding flow control.
type CreditBuffer struct {
	name      string
	scheduler Scheduler

	initCredits int
	credits     int

	peekQueue *RequestQueue
}

// Name returns the name of the credit buffer.
func (b *CreditBuffer) Name() string {
	return b.name
}

// Credits returns the number of credits currently available.
func (b *CreditBuffer) Credits() int {
	return b.credits
}

// AddCredit returns one credit to the counter and wakes pending peeks. It
// panics when the counter is already at its initial value.
func (b *CreditBuffer) AddCredit() {
	if b.credits == b.initCredits {
		log.Panicf("%s: received a credit while the counter is saturated",
			b.name)
	}

	b.credits++
	b.peekQueue.Trigger(b.tryPeek)
}

// Consume spends one credit. It panics when no credit is available.
func (b *CreditBuffer) Consume() {
	if b.credits == 0 {
		log.Panicf("%s: consuming a credit while the counter is empty",
			b.name)
	}

	b.credits--
}

// Peek requests notification once at least threshold credits are available.
// The returned event succeeds carrying the credit count at that moment.
// Peeks are served in arrival order; a peek waiting for a high threshold
// blocks the peeks behind it.
func (b *CreditBuffer) Peek(threshold int, caller any) *Deferred {
	if threshold <= 0 || threshold > b.initCredits {
		log.Panicf("%s: peek threshold %d is outside [1, %d]",
			b.name, threshold, b.initCredits)
	}

	req := NewDeferred(b.scheduler, threshold, caller)
	b.peekQueue.Enqueue(req)
	b.peekQueue.Trigger(b.tryPeek)

	return req
}

// CancelPeek withdraws a pending peek request. It returns false if the
// request has already been granted.
func (b *CreditBuffer) CancelPeek(req *Deferred) bool {
	return b.peekQueue.Cancel(req)
}

func (b *CreditBuffer) tryPeek(req *Deferred) {
	threshold := req.Item().(int)

	if b.credits < threshold {
		return
	}

	b.peekQueue.Remove(req)
	req.Succeed(b.credits, 0)
}

// NewCreditBuffer creates a credit buffer starting at full credits.
func NewCreditBuffer(
	scheduler Scheduler,
	initCredits int,
	name string,
) *CreditBuffer {
	naming.MustBeValid(name)

	if initCredits <= 0 {
		log.Panicf("credit buffer %s built with non-positive credits", name)
	}

	return &CreditBuffer{
		name:        name,
		scheduler:   scheduler,
		initCredits: initCredits,
		credits:     initCredits,
		peekQueue:   NewRequestQueue(name + ".PeekQueue"),
	}
}
