package stats

import "math"

// Summary is a point-in-time copy of the derived session statistics.
// All latency values are in milliseconds.
type Summary struct {
	Avg           float64 `json:"avg_ms"`
	Min           float64 `json:"min_ms"`
	Max           float64 `json:"max_ms"`
	JitterMaxMin  float64 `json:"jitter_maxmin_ms"`
	JitterPairAvg float64 `json:"jitter_pair_ms"`
	StdDev        float64 `json:"stddev_ms"`
}

// Accumulator tracks rolling latency statistics over one up-session: the
// contiguous run of successful probes since the target last recovered.
// It is not safe for concurrent use; the owning target serializes access.
type Accumulator struct {
	count int
	sum   float64
	sumSq float64
	min   float64
	max   float64

	hasPrev   bool
	prevRtt   float64
	jitterSum float64
	jitterN   int
}

// Observe folds one successful probe RTT (milliseconds) into the session.
func (a *Accumulator) Observe(rtt float64) {
	if a.count == 0 {
		a.min = rtt
		a.max = rtt
	} else {
		if rtt < a.min {
			a.min = rtt
		}
		if rtt > a.max {
			a.max = rtt
		}
	}
	a.count++
	a.sum += rtt
	a.sumSq += rtt * rtt

	if a.hasPrev {
		a.jitterSum += math.Abs(rtt - a.prevRtt)
		a.jitterN++
	}
	a.hasPrev = true
	a.prevRtt = rtt
}

// BreakPairChain forgets the previous RTT so that the next success does not
// pair with a sample from before a disruption gap.
func (a *Accumulator) BreakPairChain() {
	a.hasPrev = false
	a.prevRtt = 0
}

// Reset discards the whole session.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Count returns the number of successes folded into the current session.
func (a *Accumulator) Count() int {
	return a.count
}

// Summary computes the derived statistics for the current session.
// An empty session yields the zero Summary.
func (a *Accumulator) Summary() Summary {
	if a.count == 0 {
		return Summary{}
	}

	avg := a.sum / float64(a.count)

	// Population variance; rounding can push it fractionally below zero.
	variance := a.sumSq/float64(a.count) - avg*avg
	if variance < 0 {
		variance = 0
	}

	pairAvg := 0.0
	if a.jitterN > 0 {
		pairAvg = a.jitterSum / float64(a.jitterN)
	}

	return Summary{
		Avg:           avg,
		Min:           a.min,
		Max:           a.max,
		JitterMaxMin:  a.max - a.min,
		JitterPairAvg: pairAvg,
		StdDev:        math.Sqrt(variance),
	}
}
