package supervisor

import "github.com/ondemandd/ondemandd/journal"

// eventKind tags a mainEvent the way spec.md §4.1 describes: "Events
// carry a tag identifying the source kind... and an opaque callback
// pointer set by the producer at arm time." The callback pointer
// becomes, in Go, the payload field matching the kind.
type eventKind int

const (
	eventActivation eventKind = iota
	eventProcessExit
	eventThrottleCleared
	eventVerb
)

// mainEvent is the single unified event the loop goroutine consumes.
// Two physical sources feed it (spec.md §4.1's main/async split):
// process-exit and verb events are pushed directly onto mainEvents;
// activation events are pushed onto asyncEvents and relayed onto
// mainEvents only while the batch-disable counter is zero.
type mainEvent struct {
	kind       eventKind
	activation activationEvent
	exit       processExitEvent
	throttle   throttleClearedEvent
	verb       func()
}

type processExitEvent struct {
	label      string
	generation uint64
}

type throttleClearedEvent struct {
	label      string
	generation uint64
}

// Run is the single-goroutine event loop of spec.md §4.1: it blocks
// for one event, invokes its handler to completion, then loops. Run
// returns once shutdown has reaped every live child.
func (s *Supervisor) Run() {
	go s.relayAsync()

	for {
		select {
		case evt := <-s.mainEvents:
			s.dispatch(evt)
		case <-s.shutdownDone:
			return
		}

		if s.shutdownInProgress && s.liveChildren() == 0 {
			select {
			case <-s.shutdownDone:
				// Shutdown already reported completion and closed it.
			default:
				s.Journal.Write(&journal.ShutdownComplete{})
				close(s.shutdownDone)
			}
			return
		}
	}
}

// relayAsync forwards asyncEvents onto mainEvents, or buffers them
// while the batch-disable counter is positive, realizing the "async
// queue is itself registered as a fd-readable source on the main
// queue" relationship of spec.md §4.1 without a literal nested fd.
func (s *Supervisor) relayAsync() {
	for evt := range s.asyncEvents {
		s.enqueueAsync(evt)
	}
}

// enqueueAsync is called from the relay goroutine; it only touches
// s.disablerCount/pendingAsync, which are otherwise loop-goroutine
// owned, so it takes connMu to stay safe against SetBatchDisable calls
// arriving concurrently from an IPC handler goroutine.
func (s *Supervisor) enqueueAsync(evt activationEvent) {
	s.connMu.Lock()
	disabled := s.disablerCount > 0 || s.asyncPermanentlyDisabled
	if disabled {
		s.pendingAsync = append(s.pendingAsync, evt)
	}
	s.connMu.Unlock()

	if !disabled {
		s.mainEvents <- mainEvent{kind: eventActivation, activation: evt}
	}
}

// PostProcessExit is called by a job's waiter goroutine once its
// tracked child has exited; see startJob.
func (s *Supervisor) PostProcessExit(label string, generation uint64) {
	s.mainEvents <- mainEvent{kind: eventProcessExit, exit: processExitEvent{label: label, generation: generation}}
}

// PostVerb enqueues an IPC verb handler to run on the loop goroutine,
// the mechanism by which the "separate platform-specific server
// thread" of spec.md §5 "enters the core only by taking the same
// global lock" — here, by only ever running handler code from this
// single channel send.
func (s *Supervisor) PostVerb(fn func()) {
	s.mainEvents <- mainEvent{kind: eventVerb, verb: fn}
}

func (s *Supervisor) postThrottleCleared(label string, generation uint64) {
	s.mainEvents <- mainEvent{kind: eventThrottleCleared, throttle: throttleClearedEvent{label: label, generation: generation}}
}

func (s *Supervisor) dispatch(evt mainEvent) {
	switch evt.kind {
	case eventActivation:
		s.handleActivation(evt.activation)
	case eventProcessExit:
		s.handleProcessExit(evt.exit)
	case eventThrottleCleared:
		s.handleThrottleCleared(evt.throttle)
	case eventVerb:
		evt.verb()
	}
}

func (s *Supervisor) liveChildren() int {
	count := 0
	s.Registry.ForEach(func(j *Job) {
		if j.Alive() {
			count++
		}
	})
	return count
}

// handleActivation implements the Watching -> Starting transition of
// spec.md §4.3: any qualifying source fires, sources are disarmed, and
// the job starts. A stale generation (the source was disarmed and
// re-armed since this event was queued) is dropped.
func (s *Supervisor) handleActivation(evt activationEvent) {
	j, err := s.Registry.Lookup(evt.label)
	if err != nil {
		return
	}
	if j.Generation() != evt.generation {
		return
	}
	if j.State != Watching {
		return
	}

	s.Journal.Write(&journal.ActivationFired{Label: j.Label, Source: evt.source})

	s.disarm(j)
	s.startJob(j)
}
