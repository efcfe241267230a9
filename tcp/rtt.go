package tcp

import "time"

// RTO bounds and initial value used by [RTTEstimator] when not configured.
const (
	DefaultMinRTO     = 200 * time.Millisecond
	DefaultMaxRTO     = 60 * time.Second
	DefaultInitialRTO = time.Second
)

// RTTEstimator computes the retransmission timeout from round trip samples
// using the Jacobson/Karels algorithm of RFC 6298:
//
//	RTTVAR = 3/4*RTTVAR + 1/4*|SRTT-R|
//	SRTT   = 7/8*SRTT + 1/8*R
//	RTO    = SRTT + 4*RTTVAR
//
// The caller is responsible for not sampling retransmitted segments (Karn's algorithm).
type RTTEstimator struct {
	srtt   time.Duration
	rttvar time.Duration
	rto    time.Duration
	minRTO time.Duration
	maxRTO time.Duration
	valid  bool
}

// Reset clears all samples. Zero arguments select the package defaults.
func (e *RTTEstimator) Reset(minRTO, maxRTO, initial time.Duration) {
	if minRTO <= 0 {
		minRTO = DefaultMinRTO
	}
	if maxRTO <= 0 {
		maxRTO = DefaultMaxRTO
	}
	if initial <= 0 {
		initial = DefaultInitialRTO
	}
	*e = RTTEstimator{minRTO: minRTO, maxRTO: maxRTO}
	e.rto = e.clamp(initial)
}

// Sample feeds a measured round trip time into the estimator.
func (e *RTTEstimator) Sample(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	if !e.valid {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.valid = true
	} else {
		delta := e.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		e.rttvar += (delta - e.rttvar) / 4
		e.srtt += (rtt - e.srtt) / 8
	}
	e.rto = e.clamp(e.srtt + 4*e.rttvar)
}

// RTO returns the current retransmission timeout.
func (e *RTTEstimator) RTO() time.Duration {
	if e.rto == 0 {
		return DefaultInitialRTO
	}
	return e.rto
}

// Backoff returns the timeout for a segment transmitted sends times,
// doubling per retransmission and capped at the maximum RTO.
func (e *RTTEstimator) Backoff(sends int) time.Duration {
	rto := e.RTO()
	limit := e.maxRTO
	if limit == 0 {
		limit = DefaultMaxRTO
	}
	for i := 1; i < sends && rto < limit; i++ {
		rto *= 2
	}
	return min(rto, limit)
}

// SRTT returns the smoothed round trip time. Zero means no sample yet.
func (e *RTTEstimator) SRTT() time.Duration { return e.srtt }

// RTTVar returns the round trip time variation.
func (e *RTTEstimator) RTTVar() time.Duration { return e.rttvar }

func (e *RTTEstimator) clamp(rto time.Duration) time.Duration {
	return max(e.minRTO, min(rto, e.maxRTO))
}
