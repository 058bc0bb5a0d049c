package supervisor

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ondemandd/ondemandd/journal"
	"github.com/ondemandd/ondemandd/manifest"
	"github.com/ondemandd/ondemandd/supervisor/exec"
)

// signalTrackingProcess is a long-lived fake exec.Process that records
// whichever signal it was asked to deliver, so a test can observe that
// removal reached the child without needing the process to actually
// terminate.
type signalTrackingProcess struct {
	pid int

	mu       sync.Mutex
	lastSig  os.Signal
	waitOnce chan struct{}
}

func newSignalTrackingProcess(pid int) *signalTrackingProcess {
	return &signalTrackingProcess{pid: pid, waitOnce: make(chan struct{})}
}

func (p *signalTrackingProcess) PID() int { return p.pid }

func (p *signalTrackingProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSig = sig
	return nil
}

func (p *signalTrackingProcess) Kill() error { return p.Signal(os.Kill) }

// Wait blocks forever, matching a job whose fate this test does not
// care to observe beyond confirming the signal was sent.
func (p *signalTrackingProcess) Wait() exec.ExitStatus {
	<-p.waitOnce
	return exec.ExitStatus{PID: p.pid}
}

func (p *signalTrackingProcess) lastSignal() os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSig
}

type discardJournal struct{}

func (discardJournal) Write(journal.Event) error { return nil }

func newScenarioSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sup, err := NewSupervisor(discardJournal{}, false)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	go sup.Run()
	t.Cleanup(func() { sup.PostVerb(func() { sup.Shutdown("test cleanup") }) })
	return sup
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// Scenario 1: load-then-start on-demand socket job (spec.md §8.1).
func TestScenarioLoadThenStartOnDemandSocketJob(t *testing.T) {
	sup := newScenarioSupervisor(t)
	sup.Launcher = func(exec.Attrs) (exec.Process, error) {
		return exec.Sleep(time.Hour), nil
	}

	sockPath := filepath.Join(t.TempDir(), "echo.sock")
	m := &manifest.Manifest{
		Label:    "echo",
		Program:  "/bin/cat",
		OnDemand: true,
		Sockets: map[string][]manifest.SocketSpec{
			"listener": {{Type: "stream", Pathname: sockPath, Passive: true}},
		},
	}

	if err := sup.Submit(m); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := sup.GetJob("echo"); err != nil {
		t.Fatalf("get-job: %v", err)
	}

	var client net.Conn
	waitFor(t, "listener to come up", func() bool {
		c, err := net.Dial("unix", sockPath)
		if err != nil {
			return false
		}
		client = c
		return true
	})
	defer client.Close()

	var gotPID int
	waitFor(t, "job to start after a connect", func() bool {
		sup.call(func() {
			rec, err := sup.Registry.Lookup("echo")
			if err == nil {
				gotPID = rec.PID
			}
		})
		// exec.Sleep hands out negative mock pids; any non-zero pid
		// means startJob recorded a launched child.
		return gotPID != 0
	})
}

// Scenario 2: throttle after a too-fast exit (spec.md §8.2).
func TestScenarioThrottleAfterFastExit(t *testing.T) {
	sup := newScenarioSupervisor(t)

	sup.Launcher = func(exec.Attrs) (exec.Process, error) {
		return exec.SleepExit(time.Millisecond, exec.ExitStatus{Code: 0}), nil
	}

	m := &manifest.Manifest{Label: "fast", Program: "/usr/bin/true", OnDemand: false}
	if err := sup.Submit(m); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, "job to be throttled after a fast exit", func() bool {
		var throttled bool
		var failedExits int
		sup.call(func() {
			j, err := sup.Registry.Lookup("fast")
			if err == nil {
				throttled = j.Throttled
				failedExits = j.FailedExits
			}
		})
		return throttled && failedExits == 1
	})

	sup.call(func() {
		j, err := sup.Registry.Lookup("fast")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if j.State != Watching {
			t.Fatalf("expected Watching while throttled, got %s", j.State)
		}
	})
}

// Scenario 3: remove-job while the child is still running (spec.md §8.3).
func TestScenarioRemoveWhileRunning(t *testing.T) {
	sup := newScenarioSupervisor(t)

	longLived := newSignalTrackingProcess(1234)
	sup.Launcher = func(exec.Attrs) (exec.Process, error) {
		return longLived, nil
	}

	m := &manifest.Manifest{Label: "long", Program: "/bin/sleep", OnDemand: false}
	if err := sup.Submit(m); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, "long to start running", func() bool {
		var pid int
		sup.call(func() {
			if j, err := sup.Registry.Lookup("long"); err == nil {
				pid = j.PID
			}
		})
		return pid == 1234
	})

	if err := sup.RemoveJob("long"); err != nil {
		t.Fatalf("remove-job: %v", err)
	}

	if _, err := sup.GetJob("long"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}

	waitFor(t, "long's process to be signaled", func() bool {
		return longLived.lastSignal() != nil
	})
}

// Scenario 4: duplicate submit-job is idempotent-but-rejected (spec.md §8.4).
func TestScenarioDuplicateSubmit(t *testing.T) {
	sup := newScenarioSupervisor(t)
	sup.Launcher = func(exec.Attrs) (exec.Process, error) {
		return exec.Sleep(time.Hour), nil
	}

	m := &manifest.Manifest{Label: "x", Program: "/bin/sh", OnDemand: true}
	if err := sup.Submit(m); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := sup.Submit(m); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate on second submit, got %v", err)
	}
}

// Scenario 6: service-ipc job that never checks in is removed, not
// re-armed, once its child exits cleanly (spec.md §8.6).
func TestScenarioServiceIPCNoCheckIn(t *testing.T) {
	sup := newScenarioSupervisor(t)
	sup.Launcher = func(exec.Attrs) (exec.Process, error) {
		return exec.SleepExit(10*time.Millisecond, exec.ExitStatus{Code: 0}), nil
	}

	m := &manifest.Manifest{
		Label:      "worker",
		Program:    "/usr/bin/worker",
		OnDemand:   false,
		ServiceIPC: true,
	}
	if err := sup.Submit(m); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, "worker to be removed after exiting without check-in", func() bool {
		_, err := sup.GetJob("worker")
		return err == ErrNotFound
	})
}
