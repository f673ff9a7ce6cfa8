package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/oldmanpar/Pings/internal/stats"
)

// DisruptionEvent records one completed down episode: it is created at the
// moment its target recovers, carries the statistics frozen when the episode
// began, and keeps tracking the live post-recovery session statistics until
// the target goes down again.
type DisruptionEvent struct {
	ID           string        `json:"id"`
	Address      string        `json:"address"`
	Host         string        `json:"host"`
	DownStart    time.Time     `json:"down_start"`
	Recovery     time.Time     `json:"recovery"`
	Duration     time.Duration `json:"duration"`
	FailureCount int           `json:"failure_count"`
	Pre          stats.Summary `json:"pre"`
	Post         stats.Summary `json:"post"`
}

// SortField selects a column of the disruption log for sorting. The set is
// closed on purpose; there is no by-name field lookup.
type SortField int

const (
	SortByAddress SortField = iota
	SortByHost
	SortByDownStart
	SortByRecovery
	SortByFailureCount
	SortByDuration
)

// EventLog is the shared append-only collection of disruption events across
// all targets. Probe loops race to append; the mutex serializes them and the
// in-place post-recovery updates against snapshot readers.
type EventLog struct {
	mu     sync.Mutex
	events []*DisruptionEvent

	lastField SortField
	lastSet   bool
	ascending bool
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append adds a newly created event. Insertion order is creation order.
func (l *EventLog) Append(ev *DisruptionEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// SetPost overwrites the event's post-recovery statistics with the live
// session view and returns a value copy of the updated event. The pointer
// must have come from Append.
func (l *EventLog) SetPost(ev *DisruptionEvent, post stats.Summary) DisruptionEvent {
	l.mu.Lock()
	ev.Post = post
	out := *ev
	l.mu.Unlock()
	return out
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Snapshot returns value copies of all events in their current order.
func (l *EventLog) Snapshot() []DisruptionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]DisruptionEvent, len(l.events))
	for i, ev := range l.events {
		out[i] = *ev
	}
	return out
}

// Clear discards all events. Sort state survives.
func (l *EventLog) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

// SortBy stably re-orders the log by the given field. Re-sorting by the field
// used last time flips the direction; a different field starts ascending.
func (l *EventLog) SortBy(field SortField) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSet && l.lastField == field {
		l.ascending = !l.ascending
	} else {
		l.ascending = true
	}
	l.lastField = field
	l.lastSet = true

	less := lessFunc(field)
	asc := l.ascending
	sort.SliceStable(l.events, func(i, j int) bool {
		if asc {
			return less(l.events[i], l.events[j])
		}
		return less(l.events[j], l.events[i])
	})
}

func lessFunc(field SortField) func(a, b *DisruptionEvent) bool {
	switch field {
	case SortByHost:
		return func(a, b *DisruptionEvent) bool { return a.Host < b.Host }
	case SortByDownStart:
		return func(a, b *DisruptionEvent) bool { return a.DownStart.Before(b.DownStart) }
	case SortByRecovery:
		return func(a, b *DisruptionEvent) bool { return a.Recovery.Before(b.Recovery) }
	case SortByFailureCount:
		return func(a, b *DisruptionEvent) bool { return a.FailureCount < b.FailureCount }
	case SortByDuration:
		return func(a, b *DisruptionEvent) bool { return a.Duration < b.Duration }
	default:
		return func(a, b *DisruptionEvent) bool { return a.Address < b.Address }
	}
}
