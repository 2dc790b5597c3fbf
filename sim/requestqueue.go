package sim

import "log"

// A RequestQueue holds the pending requests of one verb (put, get, or peek)
// on a resource, in arrival order. Every queued request is a pending
// Deferred; a request that succeeds must be removed from the queue before
// the try-satisfy function returns.
type RequestQueue struct {
	name     string
	requests []*Deferred
}

// NewRequestQueue creates an empty queue. The name appears in invariant
// violation diagnostics.
func NewRequestQueue(name string) *RequestQueue {
	return &RequestQueue{name: name}
}

// Enqueue appends a request to the back of the queue.
func (q *RequestQueue) Enqueue(r *Deferred) {
	q.requests = append(q.requests, r)
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int {
	return len(q.requests)
}

// Head returns the front request, or nil when the queue is empty.
func (q *RequestQueue) Head() *Deferred {
	if len(q.requests) == 0 {
		return nil
	}

	return q.requests[0]
}

// Remove deletes the given request from the queue, preserving the order of
// the rest. It panics if the request is not queued.
func (q *RequestQueue) Remove(r *Deferred) {
	for i, queued := range q.requests {
		if queued == r {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}

	log.Panicf("%s: removing a request that is not queued", q.name)
}

// Cancel withdraws a not-yet-triggered request. It returns false when the
// request has already been triggered or is not queued, in which case the
// queue is left untouched.
func (q *RequestQueue) Cancel(r *Deferred) bool {
	if r.Triggered() {
		return false
	}

	for i, queued := range q.requests {
		if queued == r {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}

	return false
}

// Trigger walks the queue from the front, invoking trySatisfy on each
// request. A satisfied request must have been removed by trySatisfy; the
// walk then continues with the new front. The walk stops at the first
// request that remains pending, so a blocked head request always blocks the
// requests behind it.
//
// Trigger panics when trySatisfy leaves a triggered request queued, or when
// an already-triggered request is found in the queue.
func (q *RequestQueue) Trigger(trySatisfy func(*Deferred)) {
	for len(q.requests) > 0 {
		req := q.requests[0]

		if req.Triggered() {
			log.Panicf("%s: a triggered request is still queued", q.name)
		}

		trySatisfy(req)

		if !req.Triggered() {
			return
		}

		if len(q.requests) > 0 && q.requests[0] == req {
			log.Panicf(
				"%s: try-satisfy resolved a request without removing it",
				q.name)
		}
	}
}
