package journal

import (
	"encoding/json"
	"io"
	"time"

	"github.com/diamondburned/backwardio"
	"github.com/pkg/errors"
)

// Reader reads journal entries back to front, so the most recent
// events of a large journal file can be read without loading the whole
// thing. No control-socket verb exposes it; only the package's tests
// use it.
type Reader struct {
	b *backwardio.Scanner
}

// NewReader wraps r for backward reading.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{b: backwardio.NewScanner(r)}
}

// Read returns the next entry walking backward from the end of the
// file, or io.EOF once the beginning is reached.
func (r *Reader) Read() (Event, time.Time, error) {
	var line []byte
	var err error

	for {
		line, err = r.b.ReadUntil('\n')
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "journal: decode line")
	}

	ev := NewEvent(rec.Type)
	if ev == nil {
		return nil, time.Time{}, errors.Errorf("journal: unknown event type %q", rec.Type)
	}

	if err := json.Unmarshal(rec.Data, ev); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "journal: decode event data")
	}

	return ev, rec.Time, nil
}

// Tail collects up to n most-recent entries, oldest first.
func Tail(r io.ReadSeeker, n int) ([]Event, error) {
	reader := NewReader(r)

	events := make([]Event, 0, n)
	for len(events) < n {
		ev, _, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	// events is newest-first; reverse to oldest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}
