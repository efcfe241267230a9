package internal

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a single slot wake-up latch. A Signal with no waiter is
// remembered until the next Wait, so a waiter that checks its condition
// under a lock, unlocks and then calls Wait never misses a wake-up.
// Waiters must recheck their condition after Wait returns.
//
// Broadcast wakes every waiter and keeps later Waits from blocking until
// the next Clear. It marks a resource whose waiters must all give up.
//
// Event records how many waiters are blocked and since when, which is
// read by diagnostic dumps.
type Event struct {
	c       chan struct{}
	name    string
	mu      sync.Mutex
	bc      chan struct{} // closed by Broadcast.
	waiters atomic.Int32
	since   atomic.Int64 // unix nanoseconds of the oldest active wait.
}

// Init prepares the event for use. It must be called once before Signal or Wait.
func (e *Event) Init(name string) {
	e.c = make(chan struct{}, 1)
	e.bc = make(chan struct{})
	e.name = name
}

// Name returns the resource name given at Init.
func (e *Event) Name() string { return e.name }

// Signal wakes one waiter or, if none is waiting, the next call to Wait.
func (e *Event) Signal() {
	select {
	case e.c <- struct{}{}:
	default:
	}
}

// Broadcast wakes all waiters, present and future, until Clear is called.
func (e *Event) Broadcast() {
	e.mu.Lock()
	select {
	case <-e.bc:
	default:
		close(e.bc)
	}
	e.mu.Unlock()
}

// Clear discards a pending signal and ends a broadcast.
func (e *Event) Clear() {
	select {
	case <-e.c:
	default:
	}
	e.mu.Lock()
	select {
	case <-e.bc:
		e.bc = make(chan struct{})
	default:
	}
	e.mu.Unlock()
}

func (e *Event) broadcastChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bc
}

// Wait blocks until Signal is called or the deadline is reached. A zero
// deadline waits indefinitely. It returns false on timeout.
func (e *Event) Wait(deadline time.Time) bool {
	if e.waiters.Add(1) == 1 {
		e.since.Store(time.Now().UnixNano())
	}
	defer e.waiters.Add(-1)
	bc := e.broadcastChan()
	if deadline.IsZero() {
		select {
		case <-e.c:
		case <-bc:
		}
		return true
	}
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-e.c:
			return true
		case <-bc:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.c:
		return true
	case <-bc:
		return true
	case <-timer.C:
		return false
	}
}

// Blocked returns the number of goroutines blocked on the event and the
// time the first of them started waiting.
func (e *Event) Blocked() (waiters int, since time.Time) {
	waiters = int(e.waiters.Load())
	if waiters == 0 {
		return 0, time.Time{}
	}
	return waiters, time.Unix(0, e.since.Load())
}
