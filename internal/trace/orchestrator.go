package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status is the terminal annotation of one traced address.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped by user"
)

// DefaultCapacity bounds how many trace subprocesses run at once.
const DefaultCapacity = 4

// minHopTimeout is the floor for the per-hop wait handed to the runner.
const minHopTimeout = 100 * time.Millisecond

var (
	// ErrNoAddresses is returned when Start is given nothing to trace.
	ErrNoAddresses = errors.New("trace: no addresses selected")
	// ErrRunInProgress is returned when Start overlaps a live run.
	ErrRunInProgress = errors.New("trace: run already in progress")
)

// Sink receives streamed trace output and terminal annotations. Calls are
// made under the orchestrator lock and must not block or call back in.
type Sink interface {
	TraceLine(address, line string)
	TraceDone(address string, status Status)
}

type nopSink struct{}

func (nopSink) TraceLine(string, string) {}
func (nopSink) TraceDone(string, Status) {}

// addrState is the per-address bookkeeping of one run. Both flags are
// one-way: once true they stay true for the rest of the run.
type addrState struct {
	buf           strings.Builder
	completed     bool
	stopAnnotated bool
}

// Orchestrator runs path-traces over a selected address set with bounded
// concurrency, streaming output per address and annotating each address's
// terminal state exactly once even when an explicit stop races the run's own
// finalization.
type Orchestrator struct {
	runner   Runner
	sink     Sink
	capacity int

	mu      sync.Mutex
	running bool
	runID   string
	cancel  context.CancelFunc
	order   []string
	states  map[string]*addrState
	joined  chan struct{}
}

// NewOrchestrator creates an idle orchestrator. capacity <= 0 selects
// DefaultCapacity; a nil sink is replaced with a no-op.
func NewOrchestrator(runner Runner, sink Sink, capacity int) *Orchestrator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Orchestrator{
		runner:   runner,
		sink:     sink,
		capacity: capacity,
		states:   make(map[string]*addrState),
	}
}

// Running reports whether a trace run is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start launches one trace per address, never more than the configured
// capacity at once. The per-hop timeout derives from probeTimeout with a
// 100ms floor. Start returns immediately; output streams through the sink.
func (o *Orchestrator) Start(ctx context.Context, addresses []string, probeTimeout time.Duration) error {
	var addrs []string
	seen := make(map[string]bool)
	for _, a := range addresses {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		addrs = append(addrs, a)
	}
	if len(addrs) == 0 {
		return ErrNoAddresses
	}

	hopTimeout := probeTimeout
	if hopTimeout < minHopTimeout {
		hopTimeout = minHopTimeout
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.runID = uuid.New().String()[:8]
	o.cancel = cancel
	o.order = addrs
	o.states = make(map[string]*addrState, len(addrs))
	o.joined = make(chan struct{})
	banner := fmt.Sprintf("=== trace run %s started %s ===", o.runID, time.Now().Format(time.RFC3339))
	for _, addr := range addrs {
		o.states[addr] = &addrState{}
		o.writeLineLocked(addr, banner)
	}
	runID := o.runID
	joined := o.joined
	o.mu.Unlock()

	log.Info().Str("run", runID).Int("addresses", len(addrs)).
		Int("capacity", o.capacity).Dur("hop_timeout", hopTimeout).
		Msg("trace run started")

	slots := make(chan struct{}, o.capacity)
	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go o.traceOne(runCtx, &wg, slots, addr, hopTimeout)
	}
	go o.finalize(runCtx, &wg, runID, joined)
	return nil
}

// Stop cancels the current run. In-flight subprocesses are killed and every
// address that has not already finished gets exactly one stop annotation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	// Annotate before cancelling so nothing in flight can slip into a
	// natural completion between the two steps.
	o.annotateStoppedLocked()
	o.mu.Unlock()

	cancel()
}

// Wait blocks until the current run has fully finished. Returns immediately
// when idle.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	joined := o.joined
	o.mu.Unlock()
	if joined != nil {
		<-joined
	}
}

// Transcript returns the accumulated output for one address of the current
// or most recent run.
func (o *Orchestrator) Transcript(address string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[address]
	if !ok {
		return "", false
	}
	return st.buf.String(), true
}

// Transcripts returns all per-address transcripts of the current or most
// recent run, keyed by address.
func (o *Orchestrator) Transcripts() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.states))
	for addr, st := range o.states {
		out[addr] = st.buf.String()
	}
	return out
}

func (o *Orchestrator) traceOne(ctx context.Context, wg *sync.WaitGroup, slots chan struct{}, addr string, hopTimeout time.Duration) {
	defer wg.Done()
	defer o.settle(ctx, addr)

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-slots }()

	err := o.runner.Run(ctx, addr, hopTimeout, func(line string) {
		o.writeLine(addr, line)
	})
	if ctx.Err() != nil {
		// Killed by stop or linked cancellation; settle claims the stop
		// trailer if nobody else has yet.
		return
	}
	if err != nil {
		// Spawn and read failures stay inside this address's transcript.
		o.writeLine(addr, "error: "+err.Error())
	}
	o.finishNatural(addr)
}

// finalize joins the run. Cancellation unwinds the join early: any address
// still pending gets its stop annotation, then the killed subprocesses are
// reaped before the end banner is broadcast.
func (o *Orchestrator) finalize(ctx context.Context, wg *sync.WaitGroup, runID string, joined chan struct{}) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.mu.Lock()
		o.annotateStoppedLocked()
		o.mu.Unlock()
		<-done
	}

	verdict := "finished"
	if ctx.Err() != nil {
		verdict = "stopped"
	}

	o.mu.Lock()
	banner := fmt.Sprintf("=== trace run %s %s %s ===", runID, verdict, time.Now().Format(time.RFC3339))
	for _, addr := range o.order {
		o.writeLineLocked(addr, banner)
	}
	o.running = false
	o.cancel = nil
	o.mu.Unlock()
	close(joined)

	log.Info().Str("run", runID).Str("verdict", verdict).Msg("trace run over")
}

// annotateStoppedLocked writes the stop trailer for every address that has
// neither completed nor been annotated yet. The check and the flag set are
// one critical section, so the explicit stop handler and the run finalizer
// can never produce zero or two trailers for the same address.
func (o *Orchestrator) annotateStoppedLocked() {
	for _, addr := range o.order {
		st := o.states[addr]
		if st.completed || st.stopAnnotated {
			continue
		}
		st.stopAnnotated = true
		o.writeLineLocked(addr, "--- "+string(StatusStopped)+" ---")
		o.sink.TraceDone(addr, StatusStopped)
	}
}

// finishNatural marks an address done on its own terms and writes the
// completed trailer, unless a racing stop already claimed it.
func (o *Orchestrator) finishNatural(addr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[addr]
	if st.completed || st.stopAnnotated {
		return
	}
	st.completed = true
	o.writeLineLocked(addr, "--- "+string(StatusCompleted)+" ---")
	o.sink.TraceDone(addr, StatusCompleted)
}

// settle runs in each trace task's cleanup path: whatever the cause, once
// the subprocess is gone the address counts as completed. When cancellation
// killed the task before a natural finish, the stop trailer is claimed here
// in the same critical section, so an address can never end a cancelled run
// with no terminal annotation even if the finalizer observes the drained
// join before it observes the cancellation.
func (o *Orchestrator) settle(ctx context.Context, addr string) {
	o.mu.Lock()
	st := o.states[addr]
	if ctx.Err() != nil && !st.completed && !st.stopAnnotated {
		st.stopAnnotated = true
		o.writeLineLocked(addr, "--- "+string(StatusStopped)+" ---")
		o.sink.TraceDone(addr, StatusStopped)
	}
	st.completed = true
	o.mu.Unlock()
}

func (o *Orchestrator) writeLine(addr, line string) {
	o.mu.Lock()
	o.writeLineLocked(addr, line)
	o.mu.Unlock()
}

func (o *Orchestrator) writeLineLocked(addr, line string) {
	st := o.states[addr]
	st.buf.WriteString(line)
	st.buf.WriteByte('\n')
	o.sink.TraceLine(addr, line)
}
