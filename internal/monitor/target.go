package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oldmanpar/Pings/internal/stats"
)

// Status is the reachability state of a monitored endpoint.
type Status int

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Target is the per-endpoint reachability state machine. It owns its session
// statistics accumulator and the down-episode bookkeeping, and holds a
// non-owning reference to the currently open disruption event (owned by the
// event log).
//
// Each target is mutated only by its own probe loop; the mutex exists for
// readers taking snapshots off that goroutine.
type Target struct {
	mu sync.Mutex

	seq           int
	address       string
	host          string
	interval      time.Duration
	timeout       time.Duration
	traceSelected bool

	status    Status
	recovered bool // first Up probe right after a Down, display only

	sendCount       int
	failCount       int
	consecutiveFail int

	acc        stats.Accumulator
	currentRtt float64

	downStart time.Time // zero iff status != Down
	downFor   time.Duration
	maxDown   time.Duration
	downFails int
	preDown   stats.Summary

	open *DisruptionEvent
}

// NewTarget creates a target in the Unknown state.
func NewTarget(seq int, address, host string, interval, timeout time.Duration) *Target {
	return &Target{
		seq:      seq,
		address:  address,
		host:     host,
		interval: interval,
		timeout:  timeout,
	}
}

func (t *Target) Address() string { return t.address }

func (t *Target) Interval() time.Duration { return t.interval }

func (t *Target) Timeout() time.Duration { return t.timeout }

// SetTraceSelected flags the target for inclusion in the next trace run.
func (t *Target) SetTraceSelected(sel bool) {
	t.mu.Lock()
	t.traceSelected = sel
	t.mu.Unlock()
}

// TraceSelected reports whether the target is flagged for tracing.
func (t *Target) TraceSelected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.traceSelected
}

// SetPacing updates the probe interval and timeout for subsequent probes.
func (t *Target) SetPacing(interval, timeout time.Duration) {
	t.mu.Lock()
	t.interval = interval
	t.timeout = timeout
	t.mu.Unlock()
}

// RecordSuccess applies one successful probe. On recovery from Down it
// creates and returns the new disruption event, seeded with the pre-down
// snapshot captured when the episode began; the caller appends it to the
// event log. On ordinary successes it returns nil.
func (t *Target) RecordSuccess(rtt float64, now time.Time) *DisruptionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var created *DisruptionEvent
	if t.status == StatusDown {
		created = &DisruptionEvent{
			ID:           uuid.New().String(),
			Address:      t.address,
			Host:         t.host,
			DownStart:    t.downStart,
			Recovery:     now,
			Duration:     now.Sub(t.downStart),
			FailureCount: t.downFails,
			Pre:          t.preDown,
			Post: stats.Summary{
				Avg: rtt,
				Min: rtt,
				Max: rtt,
			},
		}
		t.acc.Reset()
		t.downStart = time.Time{}
		t.downFor = 0
		t.downFails = 0
		t.preDown = stats.Summary{}
		t.open = created
		t.recovered = true
	} else {
		t.recovered = false
	}

	t.sendCount++
	t.consecutiveFail = 0
	t.acc.Observe(rtt)
	t.currentRtt = rtt
	t.status = StatusUp

	return created
}

// RecordFailure applies one failed probe. Transport errors, timeouts and
// explicit non-success replies all take this path.
func (t *Target) RecordFailure(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusDown {
		// Episode begins: freeze the session stats as they stood before
		// this first failing probe.
		t.preDown = t.acc.Summary()
		t.downStart = now
		t.downFails = 0
		t.acc.BreakPairChain()
		t.open = nil
	}

	t.sendCount++
	t.failCount++
	t.consecutiveFail++
	t.downFails++
	t.currentRtt = 0
	t.recovered = false

	t.downFor = now.Sub(t.downStart)
	if t.downFor > t.maxDown {
		t.maxDown = t.downFor
	}
	t.status = StatusDown
}

// OpenEvent returns the currently open disruption event, or nil.
func (t *Target) OpenEvent() *DisruptionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// SessionStats returns the derived statistics of the current up-session.
func (t *Target) SessionStats() stats.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acc.Summary()
}

// Reset wipes counters, session statistics and down bookkeeping, returning
// the target to the Unknown state. Pacing and trace selection survive.
func (t *Target) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = StatusUnknown
	t.recovered = false
	t.sendCount = 0
	t.failCount = 0
	t.consecutiveFail = 0
	t.acc.Reset()
	t.currentRtt = 0
	t.downStart = time.Time{}
	t.downFor = 0
	t.maxDown = 0
	t.downFails = 0
	t.preDown = stats.Summary{}
	t.open = nil
}

// Snapshot is an immutable copy of a target's displayable state.
type Snapshot struct {
	Seq             int           `json:"seq"`
	Address         string        `json:"address"`
	Host            string        `json:"host"`
	Status          string        `json:"status"`
	Recovered       bool          `json:"recovered,omitempty"`
	TraceSelected   bool          `json:"trace_selected,omitempty"`
	SendCount       int           `json:"send_count"`
	FailCount       int           `json:"fail_count"`
	ConsecutiveFail int           `json:"consecutive_fail"`
	CurrentRtt      float64       `json:"current_rtt_ms"`
	Stats           stats.Summary `json:"stats"`
	DownSince       time.Time     `json:"down_since,omitempty"`
	DownFor         time.Duration `json:"down_for,omitempty"`
	MaxDownFor      time.Duration `json:"max_down_for,omitempty"`
	DownFails       int           `json:"down_fails,omitempty"`
}

// Snapshot copies the target's current state for consumers outside the
// probe loop.
func (t *Target) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Seq:             t.seq,
		Address:         t.address,
		Host:            t.host,
		Status:          t.status.String(),
		Recovered:       t.recovered,
		TraceSelected:   t.traceSelected,
		SendCount:       t.sendCount,
		FailCount:       t.failCount,
		ConsecutiveFail: t.consecutiveFail,
		CurrentRtt:      t.currentRtt,
		Stats:           t.acc.Summary(),
		DownSince:       t.downStart,
		DownFor:         t.downFor,
		MaxDownFor:      t.maxDown,
		DownFails:       t.downFails,
	}
}
