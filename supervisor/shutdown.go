package supervisor

import (
	"syscall"

	"github.com/ondemandd/ondemandd/journal"
)

// Shutdown implements spec.md §4.8. It must run on the loop goroutine
// (called from handleProcessExit when a firstborn child exits cleanly,
// or posted via PostVerb from an IPC handler or main's signal handler).
func (s *Supervisor) Shutdown(reason string) {
	if s.shutdownInProgress {
		return
	}
	s.shutdownInProgress = true
	s.asyncPermanentlyDisabled = true

	s.Journal.Write(&journal.ShutdownInitiated{Reason: reason})

	s.Registry.ForEach(func(j *Job) {
		if j.Alive() {
			if j.Process != nil {
				j.Process.Signal(syscall.SIGTERM)
			}
		}
	})

	if s.liveChildren() == 0 {
		s.Journal.Write(&journal.ShutdownComplete{})
		select {
		case <-s.shutdownDone:
		default:
			close(s.shutdownDone)
		}
	}
}

// InProgress reports whether shutdown has been initiated.
func (s *Supervisor) InProgress() bool { return s.shutdownInProgress }

// firstbornExited implements spec.md §4.8's other shutdown trigger:
// "at supervisor startup when a firstborn child was registered, on
// that child's clean exit" — checked from handleProcessExit before
// the normal restart-fitness test runs.
func (s *Supervisor) firstbornExited(j *Job, clean bool) bool {
	return j.Firstborn && clean
}
