package manifest

import (
	"testing"

	"github.com/ondemandd/ondemandd/tree"
)

func TestDecodeMissingProgram(t *testing.T) {
	v := tree.Map(map[string]*tree.Value{
		"on-demand": tree.Bool(true),
	})

	if _, err := Decode("x", v); err == nil {
		t.Fatal("expected error for missing program/program-arguments")
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	v := tree.Map(map[string]*tree.Value{
		"program":   tree.String("/bin/cat"),
		"on-demand": tree.Bool(true),
		"sockets": tree.Map(map[string]*tree.Value{
			"listener": tree.Array(tree.Map(map[string]*tree.Value{
				"type":     tree.String("stream"),
				"pathname": tree.String("/tmp/echo.sock"),
				"passive":  tree.Bool(true),
			})),
		}),
	})

	m, err := Decode("echo", v)
	if err != nil {
		t.Fatal(err)
	}
	if m.Program != "/bin/cat" || !m.OnDemand {
		t.Fatalf("unexpected decode: %+v", m)
	}
	if len(m.Sockets["listener"]) != 1 || m.Sockets["listener"][0].Pathname != "/tmp/echo.sock" {
		t.Fatalf("unexpected sockets: %+v", m.Sockets)
	}

	encoded := m.Encode(true)
	if prog, ok := encoded.GetString("program"); !ok || prog != "/bin/cat" {
		t.Fatalf("expected program to round trip, got %+v", encoded)
	}
}

func TestDecodeCalendarInterval(t *testing.T) {
	v := tree.Map(map[string]*tree.Value{
		"program": tree.String("/bin/true"),
		"start-calendar-interval": tree.Map(map[string]*tree.Value{
			"minute": tree.Int(30),
			"hour":   tree.Int(4),
			"day":    tree.Int(1),
		}),
	})

	m, err := Decode("monthly", v)
	if err != nil {
		t.Fatal(err)
	}
	if m.StartCalendarInterval == nil {
		t.Fatal("expected calendar interval to be set")
	}
	if m.StartCalendarInterval.Minute != 30 || m.StartCalendarInterval.Hour != 4 || m.StartCalendarInterval.DayOfMonth != 1 {
		t.Fatalf("unexpected calendar interval: %+v", m.StartCalendarInterval)
	}
	if m.StartCalendarInterval.Month != -1 || m.StartCalendarInterval.Weekday != -1 {
		t.Fatalf("expected unspecified fields to be wildcard: %+v", m.StartCalendarInterval)
	}
}
