package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmanpar/Pings/internal/probe"
)

// State is the explicit lifecycle of a monitoring session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

var (
	// ErrNoTargets is returned when Start is given nothing to monitor.
	ErrNoTargets = errors.New("monitor: no valid targets")
	// ErrAlreadyRunning is returned when Start is called on a running session.
	ErrAlreadyRunning = errors.New("monitor: session already running")
)

// TargetSpec names one endpoint to monitor.
type TargetSpec struct {
	Address string `yaml:"address" json:"address"`
	Host    string `yaml:"host" json:"host"`
}

// Notifier receives per-probe updates from the session. Implementations must
// not block; they are called from the probe loops.
type Notifier interface {
	TargetUpdated(Snapshot)
	EventUpserted(DisruptionEvent)
}

type nopNotifier struct{}

func (nopNotifier) TargetUpdated(Snapshot)        {}
func (nopNotifier) EventUpserted(DisruptionEvent) {}

// Session drives one probe loop per target and owns the shared event log.
// Stopping and restarting preserves per-target statistics (for addresses
// still in the roster) and the disruption log; ResetAll is the explicit wipe.
type Session struct {
	prober   probe.Prober
	events   *EventLog
	notifier Notifier

	mu      sync.Mutex
	state   State
	targets []*Target
	byAddr  map[string]*Target
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	nextSeq int
}

// NewSession creates an idle session. A nil notifier is replaced with a no-op.
func NewSession(prober probe.Prober, events *EventLog, notifier Notifier) *Session {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Session{
		prober:   prober,
		events:   events,
		notifier: notifier,
		byAddr:   make(map[string]*Target),
		runCtx:   context.Background(),
	}
}

// Start launches one probe loop per target. Targets already known from a
// previous run keep their statistics; addresses missing from the new roster
// are dropped.
func (s *Session) Start(ctx context.Context, specs []TargetSpec, interval, timeout time.Duration) error {
	if len(specs) == 0 {
		return ErrNoTargets
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	kept := make([]*Target, 0, len(specs))
	byAddr := make(map[string]*Target, len(specs))
	for _, spec := range specs {
		if spec.Address == "" {
			continue
		}
		if _, dup := byAddr[spec.Address]; dup {
			continue
		}
		t, ok := s.byAddr[spec.Address]
		if ok {
			t.SetPacing(interval, timeout)
		} else {
			s.nextSeq++
			t = NewTarget(s.nextSeq, spec.Address, spec.Host, interval, timeout)
		}
		kept = append(kept, t)
		byAddr[spec.Address] = t
	}
	if len(kept) == 0 {
		s.mu.Unlock()
		return ErrNoTargets
	}
	s.targets = kept
	s.byAddr = byAddr

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.state = StateRunning

	for _, t := range s.targets {
		s.wg.Add(1)
		go s.probeLoop(runCtx, t)
	}
	n := len(s.targets)
	s.mu.Unlock()

	log.Info().Int("targets", n).Dur("interval", interval).Dur("timeout", timeout).
		Msg("monitoring started")
	return nil
}

// Stop cancels all probe loops and joins them.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.runCtx = context.Background()
	s.mu.Unlock()

	log.Info().Msg("monitoring stopped")
}

// State returns the session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context returns the context of the current run. Trace runs that should die
// with the monitoring session can derive from it. Background when not running.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Events returns the shared disruption event log.
func (s *Session) Events() *EventLog {
	return s.events
}

// Targets returns snapshots of all targets in roster order.
func (s *Session) Targets() []Snapshot {
	s.mu.Lock()
	targets := make([]*Target, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	out := make([]Snapshot, len(targets))
	for i, t := range targets {
		out[i] = t.Snapshot()
	}
	return out
}

// ResetTarget wipes one target's statistics and state machine.
func (s *Session) ResetTarget(address string) error {
	s.mu.Lock()
	t, ok := s.byAddr[address]
	s.mu.Unlock()
	if !ok {
		return errors.New("monitor: unknown target " + address)
	}
	t.Reset()
	s.notifier.TargetUpdated(t.Snapshot())
	return nil
}

// ResetAll wipes every target and clears the disruption log.
func (s *Session) ResetAll() {
	s.mu.Lock()
	targets := make([]*Target, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	for _, t := range targets {
		t.Reset()
		s.notifier.TargetUpdated(t.Snapshot())
	}
	s.events.Clear()
	log.Info().Msg("statistics and disruption log reset")
}

// SetTraceSelected flags or unflags a target for the next trace run.
func (s *Session) SetTraceSelected(address string, sel bool) error {
	s.mu.Lock()
	t, ok := s.byAddr[address]
	s.mu.Unlock()
	if !ok {
		return errors.New("monitor: unknown target " + address)
	}
	t.SetTraceSelected(sel)
	return nil
}

// TraceSelected returns the addresses currently flagged for tracing, in
// roster order.
func (s *Session) TraceSelected() []string {
	s.mu.Lock()
	targets := make([]*Target, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	var out []string
	for _, t := range targets {
		if t.TraceSelected() {
			out = append(out, t.Address())
		}
	}
	return out
}

// probeLoop sends one probe, applies the outcome, then sleeps the target's
// interval, until cancelled. Probe errors never escape the loop.
func (s *Session) probeLoop(ctx context.Context, t *Target) {
	defer s.wg.Done()

	for {
		rtt, err := s.prober.Probe(ctx, t.Address(), t.Timeout())
		if ctx.Err() != nil {
			// Cancelled mid-send; no trailing probe is recorded.
			return
		}
		s.apply(t, rtt, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.Interval()):
		}
	}
}

func (s *Session) apply(t *Target, rtt time.Duration, err error) {
	now := time.Now()
	if err != nil {
		t.RecordFailure(now)
		log.Debug().Str("address", t.Address()).Err(err).Msg("probe failed")
	} else {
		ms := float64(rtt) / float64(time.Millisecond)
		if ev := t.RecordSuccess(ms, now); ev != nil {
			s.events.Append(ev)
			log.Info().Str("address", t.Address()).
				Dur("down_for", ev.Duration).Int("failures", ev.FailureCount).
				Msg("target recovered")
			s.notifier.EventUpserted(*ev)
		} else if open := t.OpenEvent(); open != nil {
			updated := s.events.SetPost(open, t.SessionStats())
			s.notifier.EventUpserted(updated)
		}
	}
	s.notifier.TargetUpdated(t.Snapshot())
}
