package exec

import (
	"os"
	"testing"
	"time"
)

func TestSleepExitsAfterDuration(t *testing.T) {
	start := time.Now()
	p := Sleep(20 * time.Millisecond)

	status := p.Wait()
	if status.Signaled {
		t.Fatalf("expected clean exit, got signaled: %+v", status)
	}
	if status.Code != 0 {
		t.Fatalf("expected exit code 0, got %d", status.Code)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Wait returned too early: %s", elapsed)
	}
}

func TestSleepKillReportsSignaled(t *testing.T) {
	p := Sleep(time.Hour)

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	status := p.Wait()
	if !status.Signaled || status.Signal != os.Kill {
		t.Fatalf("expected killed status, got %+v", status)
	}
}

func TestSleepExitWithNonZeroCode(t *testing.T) {
	p := SleepExit(0, ExitStatus{Code: 7})

	status := p.Wait()
	if status.Signaled {
		t.Fatalf("unexpected signaled status: %+v", status)
	}
	if status.Code != 7 {
		t.Fatalf("expected exit code 7, got %d", status.Code)
	}
}

func TestMockPIDsAreNegativeAndUnique(t *testing.T) {
	a := Sleep(time.Hour)
	b := Sleep(time.Hour)

	if a.PID() >= 0 || b.PID() >= 0 {
		t.Fatalf("expected negative mock pids, got %d and %d", a.PID(), b.PID())
	}
	if a.PID() == b.PID() {
		t.Fatalf("expected distinct mock pids, got %d twice", a.PID())
	}

	a.Kill()
	b.Kill()
}

func TestLaunchRejectsEmptyProgram(t *testing.T) {
	if _, err := Launch(Attrs{}); err == nil {
		t.Fatal("expected error for empty program")
	}
}
