package supervisor

import (
	"time"

	"github.com/ondemandd/ondemandd/journal"
	"github.com/ondemandd/ondemandd/supervisor/exec"
)

// Reaper & throttle constants, exactly as spec.md §4.6.
const (
	MinJobRunTime    = 10 * time.Second
	RewardJobRunTime = 60 * time.Second
	FailedExitsThreshold = 10
)

// classifyExit implements spec.md §4.6's exit classification: clean
// exit is neutral, non-zero exit is bad, SIGKILL/SIGTERM is neutral
// (assumed orderly), any other signal is bad.
func classifyExit(status exec.ExitStatus) (bad bool) {
	if status.Signaled {
		sig := status.Signal
		if sig == nil {
			return true
		}
		s := sig.String()
		return s != "killed" && s != "terminated"
	}
	return status.Code != 0
}

// handleProcessExit implements the Reaping state of spec.md §4.3.
func (s *Supervisor) handleProcessExit(evt processExitEvent) {
	j, err := s.Registry.Lookup(evt.label)
	if err != nil {
		return
	}
	if j.Generation() != evt.generation {
		return
	}

	j.State = Reaping
	status := j.Process.Wait()

	bad := classifyExit(status)
	clean := !status.Signaled && status.Code == 0

	s.Journal.Write(&journal.ProcessExited{
		Label:    j.Label,
		PID:      status.PID,
		ExitCode: status.Code,
		Signaled: status.Signaled,
		Signal:   signalName(status),
		Bad:      bad,
	})

	timeAlive := s.now().Sub(j.StartTime)

	j.PID = 0
	j.Process = nil

	if !j.OnDemand() {
		if timeAlive < MinJobRunTime {
			j.Throttled = true
			bad = true
			s.Journal.Write(&journal.ThrottleApplied{Label: j.Label, Duration: MinJobRunTime.Seconds()})
		}
		if timeAlive >= RewardJobRunTime {
			j.FailedExits = 0
		}
	}

	if bad {
		j.FailedExits++
	}

	if s.firstbornExited(j, clean) {
		s.removeJob(j, "firstborn exited cleanly")
		s.Shutdown("firstborn exited")
		return
	}

	if j.Manifest.ServiceIPC && !j.CheckedIn {
		s.removeJob(j, "service-ipc job never checked in")
		return
	}

	if j.FailedExits >= FailedExitsThreshold {
		s.removeJob(j, "exceeded failed-exits threshold")
		return
	}

	if j.OnDemand() || s.shutdownInProgress {
		s.arm(j)
		return
	}

	if j.Throttled {
		s.armThrottle(j)
		return
	}

	s.startJob(j)
}

func (s *Supervisor) armThrottle(j *Job) {
	label := j.Label
	gen := j.Generation()
	j.State = Watching // activation sources remain disarmed while waiting, per spec.md §4.3
	j.throttleTimer = time.AfterFunc(MinJobRunTime, func() {
		s.postThrottleCleared(label, gen)
	})
}

func (s *Supervisor) handleThrottleCleared(evt throttleClearedEvent) {
	j, err := s.Registry.Lookup(evt.label)
	if err != nil {
		return
	}
	if j.Generation() != evt.generation {
		return
	}
	j.Throttled = false
	j.throttleTimer = nil
	s.Journal.Write(&journal.ThrottleCleared{Label: j.Label})
	s.startJob(j)
}

func signalName(status exec.ExitStatus) string {
	if !status.Signaled || status.Signal == nil {
		return ""
	}
	return status.Signal.String()
}
