package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type outcome struct {
	rtt time.Duration
	err error
}

// scriptedProber feeds probe outcomes from per-address channels so tests
// control exactly when and how each probe resolves.
type scriptedProber struct {
	mu      sync.Mutex
	scripts map[string]chan outcome
}

func newScriptedProber(addrs ...string) *scriptedProber {
	p := &scriptedProber{scripts: make(map[string]chan outcome)}
	for _, a := range addrs {
		p.scripts[a] = make(chan outcome, 64)
	}
	return p
}

func (p *scriptedProber) feed(addr string, o outcome) {
	p.mu.Lock()
	ch := p.scripts[addr]
	p.mu.Unlock()
	ch <- o
}

func (p *scriptedProber) Probe(ctx context.Context, addr string, _ time.Duration) (time.Duration, error) {
	p.mu.Lock()
	ch := p.scripts[addr]
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case o := <-ch:
		return o.rtt, o.err
	}
}

// countingNotifier signals every target update so tests can wait for probes
// to be applied without sleeping.
type countingNotifier struct {
	updates chan Snapshot
	events  chan DisruptionEvent
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{
		updates: make(chan Snapshot, 256),
		events:  make(chan DisruptionEvent, 64),
	}
}

func (n *countingNotifier) TargetUpdated(s Snapshot)        { n.updates <- s }
func (n *countingNotifier) EventUpserted(e DisruptionEvent) { n.events <- e }

func (n *countingNotifier) waitUpdates(t *testing.T, count int) Snapshot {
	t.Helper()
	var last Snapshot
	for i := 0; i < count; i++ {
		select {
		case last = <-n.updates:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for update %d of %d", i+1, count)
		}
	}
	return last
}

func TestStartRejectsEmptyRoster(t *testing.T) {
	s := NewSession(newScriptedProber(), NewEventLog(), nil)
	if err := s.Start(context.Background(), nil, time.Millisecond, time.Millisecond); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("err = %v, want ErrNoTargets", err)
	}
	if err := s.Start(context.Background(), []TargetSpec{{Address: ""}}, time.Millisecond, time.Millisecond); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("blank address: err = %v, want ErrNoTargets", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}

func TestStartWhileRunning(t *testing.T) {
	prober := newScriptedProber("192.0.2.1")
	s := NewSession(prober, NewEventLog(), nil)
	specs := []TargetSpec{{Address: "192.0.2.1", Host: "r1"}}

	if err := s.Start(context.Background(), specs, time.Millisecond, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.Start(context.Background(), specs, time.Millisecond, time.Millisecond); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestProbeOutcomesFlowIntoLog(t *testing.T) {
	prober := newScriptedProber("192.0.2.1")
	notifier := newCountingNotifier()
	log := NewEventLog()
	s := NewSession(prober, log, notifier)

	err := s.Start(context.Background(), []TargetSpec{{Address: "192.0.2.1", Host: "r1"}},
		time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	prober.feed("192.0.2.1", outcome{rtt: 10 * time.Millisecond})
	prober.feed("192.0.2.1", outcome{err: errors.New("host unreachable")})
	prober.feed("192.0.2.1", outcome{err: errors.New("host unreachable")})
	prober.feed("192.0.2.1", outcome{rtt: 20 * time.Millisecond})

	last := notifier.waitUpdates(t, 4)
	if last.Status != "up" || !last.Recovered {
		t.Fatalf("final snapshot = %+v, want recovered up", last)
	}
	if last.SendCount != 4 || last.FailCount != 2 {
		t.Fatalf("send/fail = %d/%d, want 4/2", last.SendCount, last.FailCount)
	}
	if log.Len() != 1 {
		t.Fatalf("event log len = %d, want 1", log.Len())
	}
	ev := log.Snapshot()[0]
	if ev.FailureCount != 2 {
		t.Fatalf("episode failures = %d, want 2", ev.FailureCount)
	}
	if ev.Pre.Avg != 10 || ev.Post.Avg != 20 {
		t.Fatalf("pre/post avg = %v/%v, want 10/20", ev.Pre.Avg, ev.Post.Avg)
	}
}

func TestStopJoinsAndPreservesState(t *testing.T) {
	prober := newScriptedProber("192.0.2.1")
	notifier := newCountingNotifier()
	s := NewSession(prober, NewEventLog(), notifier)
	specs := []TargetSpec{{Address: "192.0.2.1", Host: "r1"}}

	if err := s.Start(context.Background(), specs, time.Millisecond, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	prober.feed("192.0.2.1", outcome{rtt: 10 * time.Millisecond})
	notifier.waitUpdates(t, 1)

	s.Stop()
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}

	// Restart keeps counters for addresses still in the roster.
	if err := s.Start(context.Background(), specs, time.Millisecond, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	prober.feed("192.0.2.1", outcome{rtt: 12 * time.Millisecond})
	last := notifier.waitUpdates(t, 1)
	if last.SendCount != 2 {
		t.Fatalf("sendCount after restart = %d, want 2", last.SendCount)
	}
}

func TestResetAllClearsTargetsAndLog(t *testing.T) {
	prober := newScriptedProber("192.0.2.1")
	notifier := newCountingNotifier()
	log := NewEventLog()
	s := NewSession(prober, log, notifier)

	err := s.Start(context.Background(), []TargetSpec{{Address: "192.0.2.1", Host: "r1"}},
		time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	prober.feed("192.0.2.1", outcome{rtt: 10 * time.Millisecond})
	prober.feed("192.0.2.1", outcome{err: errors.New("unreachable")})
	prober.feed("192.0.2.1", outcome{rtt: 10 * time.Millisecond})
	notifier.waitUpdates(t, 3)
	s.Stop()

	if log.Len() != 1 {
		t.Fatalf("log len = %d, want 1", log.Len())
	}
	s.ResetAll()
	if log.Len() != 0 {
		t.Fatalf("log len after reset = %d, want 0", log.Len())
	}
	snaps := s.Targets()
	if len(snaps) != 1 || snaps[0].SendCount != 0 || snaps[0].Status != "unknown" {
		t.Fatalf("target after reset = %+v", snaps)
	}
}

func TestTraceSelection(t *testing.T) {
	prober := newScriptedProber("192.0.2.1", "192.0.2.2")
	s := NewSession(prober, NewEventLog(), nil)
	specs := []TargetSpec{
		{Address: "192.0.2.1", Host: "r1"},
		{Address: "192.0.2.2", Host: "r2"},
	}
	if err := s.Start(context.Background(), specs, time.Millisecond, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.SetTraceSelected("192.0.2.2", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTraceSelected("203.0.113.9", true); err == nil {
		t.Fatal("unknown address must be rejected")
	}
	got := s.TraceSelected()
	if len(got) != 1 || got[0] != "192.0.2.2" {
		t.Fatalf("selected = %v, want [192.0.2.2]", got)
	}
}
