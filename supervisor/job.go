// Package supervisor implements the per-host service-supervisor core:
// the job registry, state machine, activation-source arming, reaper,
// and shutdown sequence (spec.md §3-§4.9). It is grounded on the
// teacher's cronmon/monitor.go restart loop, generalized from "one
// restart policy, no activation" into the full launchd-style state
// machine.
package supervisor

import (
	"time"

	"github.com/ondemandd/ondemandd/manifest"
	"github.com/ondemandd/ondemandd/supervisor/exec"
	"github.com/ondemandd/ondemandd/supervisor/watch"
)

// State is one of the job state machine's states (spec.md §4.3).
type State int

const (
	Loaded State = iota
	Watching
	Starting
	Running
	Reaping
	Removed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Watching:
		return "watching"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Reaping:
		return "reaping"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// watchedDescriptors mirrors spec.md §3's "one array for watch paths,
// one for queue directories", realized as armed watch.Source handles
// rather than raw fds — Go's fsnotify.Watcher already owns the
// descriptor, so Job holds the Source wrapper instead of an int with a
// sentinel -1 for "not yet opened"; a nil Source plays that role.
type watchedDescriptors struct {
	watchPaths []*watch.Source
	queueDirs  []*watch.Source
}

// Job is the mutable runtime record for one loaded job, corresponding
// to spec.md §3's "Job record".
type Job struct {
	Label    string
	Manifest *manifest.Manifest

	State State

	Process  exec.Process
	PID      int
	StartTime time.Time

	FailedExits int
	CheckedIn   bool
	Throttled   bool

	Debug     bool
	Firstborn bool

	// StdoutFD/StderrFD, when set, are descriptors dup'd immediately at
	// set-stdout/set-stderr time (spec.md §4.4) and take priority over
	// Manifest.Std{out,err}Path at the job's next launch. Owned by the
	// supervisor until replaced or the job is removed.
	StdoutFD *int
	StderrFD *int

	watched watchedDescriptors

	// generation increments every time the job is re-armed or
	// relaunched; activation and timer callbacks captured at arm time
	// carry the generation they were armed under so a stale callback
	// firing after a later re-arm is recognized and dropped, standing
	// in for spec.md §5's "(generation, index) pairs" without needing
	// literal pointer-reuse detection.
	generation uint64

	// sockets are the job's listening descriptors, opened exactly once
	// at Load time and held open until removeJob closes them (spec.md
	// §3's "opened at most once across load and is closed exactly once
	// on job removal"); see activation.go.
	sockets []jobSocket

	// watchStops signals the socket-readiness watchers armed for the
	// job's current Watching period to stop; arm populates it, disarm
	// drains it. The descriptors themselves are untouched by either.
	watchStops []chan struct{}

	// intervalTimer and calendarTimer are the armed one-shot/periodic
	// timers for start-interval and start-calendar-interval sources.
	intervalTimer *time.Timer
	calendarTimer *time.Timer

	// throttleTimer is armed in Reaping when a restart must be
	// deferred MIN_JOB_RUN_TIME seconds (spec.md §4.3).
	throttleTimer *time.Timer
}

// NewJob creates a Loaded job record from a decoded manifest.
func NewJob(m *manifest.Manifest) *Job {
	return &Job{
		Label:    m.Label,
		Manifest: m,
		State:    Loaded,
	}
}

// OnDemand reports whether the job's activation sources gate its
// launch, per spec.md §3's "on-demand flag".
func (j *Job) OnDemand() bool { return j.Manifest.OnDemand }

// Alive reports whether a child is currently running and not yet
// reaped (spec.md §3: "pid: 0 when not running").
func (j *Job) Alive() bool { return j.PID > 0 }

// Generation returns the job's current generation counter, to be
// captured by any callback armed against the job's current state.
func (j *Job) Generation() uint64 { return j.generation }

// bumpGeneration increments and returns the new generation, invalidating
// any callback captured under a prior value.
func (j *Job) bumpGeneration() uint64 {
	j.generation++
	return j.generation
}
