package journal

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

// mockJournal is an in-memory journaler for tests that only need to
// assert on what was written, not on file locking.
type mockJournal struct {
	mu     sync.Mutex
	events []Event
}

var _ Journaler = (*mockJournal)(nil)

func (m *mockJournal) Write(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func TestWriterWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.Write(&Warning{Component: "test", Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(&JobInserted{Label: "echo"}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
}

func TestMultiWriterFansOut(t *testing.T) {
	a := &mockJournal{}
	b := &mockJournal{}
	m := MultiWriter(a, b)

	ev := &JobRemoved{Label: "x", Reason: "test"}
	if err := m.Write(ev); err != nil {
		t.Fatal(err)
	}

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both writers to receive the event, got a=%d b=%d", len(a.events), len(b.events))
	}
}

func TestReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	want := []Event{
		&JobInserted{Label: "a"},
		&ProcessSpawned{Label: "a", PID: 123},
		&ProcessExited{Label: "a", PID: 123, ExitCode: 0},
	}
	for _, ev := range want {
		if err := w.Write(ev); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))

	var got []Event
	for {
		ev, _, err := r.Read()
		if err != nil {
			break
		}
		got = append(got, ev)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}

	// Reader walks backward, so got is newest-first.
	for i, ev := range got {
		wantEv := want[len(want)-1-i]
		if ev.Type() != wantEv.Type() {
			t.Fatalf("event %d: type = %q, want %q", i, ev.Type(), wantEv.Type())
		}
	}
}
