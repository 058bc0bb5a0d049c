package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/ondemandd/ondemandd/journal"
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/ondemandd/ondemandd/supervisor/exec"
	"github.com/ondemandd/ondemandd/tree"
)

// mockJournal discards every event; dispatch tests only care about
// reply shapes, not journal content.
type mockJournal struct{ mu sync.Mutex }

func (m *mockJournal) Write(journal.Event) error { return nil }

// newTestSupervisor builds a Supervisor whose Launcher spawns a fake,
// long-lived process instead of forking a real child, so dispatch
// tests stay hermetic.
func newTestSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	sup, err := supervisor.NewSupervisor(&mockJournal{}, false)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	sup.Launcher = func(exec.Attrs) (exec.Process, error) {
		return exec.Sleep(time.Hour), nil
	}
	go sup.Run()
	t.Cleanup(func() { sup.PostVerb(func() { sup.Shutdown("test cleanup") }) })
	return sup
}

// TestEveryVerbHasAHandler walks the verb table spec.md §4.4 names and
// checks each one resolves to something other than NotImplemented.
func TestEveryVerbHasAHandler(t *testing.T) {
	wantVerbs := []string{
		"submit-job", "start-job", "stop-job", "remove-job", "get-job",
		"check-in", "set-user-env", "get-user-env", "set-rlimits",
		"get-rlimits", "set-log-mask", "get-log-mask", "set-umask",
		"get-umask", "get-rusage", "set-stdout", "set-stderr",
		"batch-control", "batch-query", "shutdown", "reload-ttys",
		"workaround-bonjour",
	}

	for _, verb := range wantVerbs {
		if _, ok := verbs[verb]; !ok {
			t.Errorf("verb %q has no registered handler", verb)
		}
	}
}

func TestDispatchUnknownVerbIsNotImplemented(t *testing.T) {
	sup := newTestSupervisor(t)
	c := &Conn{Connection: &supervisor.Connection{}}

	reply := Dispatch(sup, c, tree.String("not-a-real-verb"))
	if reply.Kind != tree.KindInt || reply.Int != int64(NotImplemented) {
		t.Fatalf("expected NotImplemented, got %+v", reply)
	}
}

func TestDispatchMalformedMessageIsInvalidArgument(t *testing.T) {
	sup := newTestSupervisor(t)
	c := &Conn{Connection: &supervisor.Connection{}}

	reply := Dispatch(sup, c, tree.Int(5))
	if reply.Kind != tree.KindInt || reply.Int != int64(InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %+v", reply)
	}
}

func TestDispatchSubmitJobThenGetJobRoundTrips(t *testing.T) {
	sup := newTestSupervisor(t)
	c := &Conn{Connection: &supervisor.Connection{}}

	manifestTree := tree.Map(map[string]*tree.Value{
		"label":   tree.String("com.example.echo"),
		"program": tree.String("/bin/echo"),
	})

	submitMsg := tree.Map(map[string]*tree.Value{"submit-job": manifestTree})
	if reply := Dispatch(sup, c, submitMsg); reply.Kind != tree.KindInt || reply.Int != int64(None) {
		t.Fatalf("submit-job failed: %+v", reply)
	}

	// Resubmitting the same label must fail with Exists.
	if reply := Dispatch(sup, c, submitMsg); reply.Kind != tree.KindInt || reply.Int != int64(Exists) {
		t.Fatalf("expected Exists on duplicate submit, got %+v", reply)
	}

	getMsg := tree.Map(map[string]*tree.Value{"get-job": tree.String("com.example.echo")})
	reply := Dispatch(sup, c, getMsg)
	if reply.Kind != tree.KindMap {
		t.Fatalf("expected a manifest mapping back, got %+v", reply)
	}
	if program, ok := reply.GetString("program"); !ok || program != "/bin/echo" {
		t.Fatalf("expected program /bin/echo, got %+v", reply.Get("program"))
	}
}

func TestDispatchCheckInWithoutAssociatedJobIsPermissionDenied(t *testing.T) {
	sup := newTestSupervisor(t)
	c := &Conn{Connection: &supervisor.Connection{}}

	reply := Dispatch(sup, c, tree.String("check-in"))
	if reply.Kind != tree.KindInt || reply.Int != int64(PermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %+v", reply)
	}
}

func TestDispatchGetJobUnknownLabelIsNotFound(t *testing.T) {
	sup := newTestSupervisor(t)
	c := &Conn{Connection: &supervisor.Connection{}}

	getMsg := tree.Map(map[string]*tree.Value{"get-job": tree.String("no.such.label")})
	reply := Dispatch(sup, c, getMsg)
	if reply.Kind != tree.KindInt || reply.Int != int64(NotFound) {
		t.Fatalf("expected NotFound, got %+v", reply)
	}
}
