package internal

import "time"

// Backoff yields exponentially growing waits between retransmissions.
// It does not sleep; callers wait on their own event with the returned
// duration. A Backoff with a non-zero maximum is ready for use.
type Backoff struct {
	// wait is the duration returned by the next call to Next.
	wait time.Duration
	// Maximum allowable value for wait.
	maxWait time.Duration
	// start is the initial wait, as well as the value wait takes after a call to Hit.
	start time.Duration
}

func NewBackoff(start, maxWait time.Duration) Backoff {
	if start <= 0 || maxWait < start {
		panic("bad backoff bounds")
	}
	return Backoff{wait: start, maxWait: maxWait, start: start}
}

// Hit resets the wait to its start value.
func (eb *Backoff) Hit() {
	if eb.maxWait == 0 {
		panic("backoff max cannot be zero")
	}
	eb.wait = eb.start
}

// Next returns the current wait and doubles it for the following call.
func (eb *Backoff) Next() time.Duration {
	if eb.maxWait == 0 {
		panic("backoff max cannot be zero")
	}
	w := eb.wait
	eb.wait *= 2
	if eb.wait > eb.maxWait {
		eb.wait = eb.maxWait
	}
	return w
}
