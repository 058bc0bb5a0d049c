package supervisor

import "github.com/pkg/errors"

// ErrDuplicate is returned by Registry.Insert when a label is already
// present (spec.md §4.2: "fails with Duplicate if label already
// present").
var ErrDuplicate = errors.New("supervisor: duplicate label")

// ErrNotFound is returned by Registry.Lookup and Registry.Remove when
// no job with the given label exists.
var ErrNotFound = errors.New("supervisor: job not found")

// Registry is the job registry: an ordered collection of job records,
// insertion order preserved so the firstborn sits at the head
// (spec.md §3's "Job registry").
type Registry struct {
	order []string
	jobs  map[string]*Job
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Insert adds a new job record, failing with ErrDuplicate if the label
// is already present.
func (r *Registry) Insert(j *Job) error {
	if _, exists := r.jobs[j.Label]; exists {
		return ErrDuplicate
	}
	r.jobs[j.Label] = j
	r.order = append(r.order, j.Label)
	return nil
}

// Lookup returns the job record for label, or ErrNotFound.
func (r *Registry) Lookup(label string) (*Job, error) {
	j, ok := r.jobs[label]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

// Remove unlinks the record for label. The caller is responsible for
// closing owned descriptors and cancelling armed timers before calling
// Remove (see (*Supervisor).removeJob), matching spec.md §4.2's
// ordering ("closes all owned descriptors... then unlinks the
// record").
func (r *Registry) Remove(label string) error {
	if _, ok := r.jobs[label]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, label)
	for i, l := range r.order {
		if l == label {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// ForEach iterates jobs in insertion order. fn may remove the current
// record from the registry; ForEach tolerates concurrent mutation of
// the current slot by snapshotting the label list up front.
func (r *Registry) ForEach(fn func(*Job)) {
	labels := append([]string(nil), r.order...)
	for _, label := range labels {
		if j, ok := r.jobs[label]; ok {
			fn(j)
		}
	}
}

// Len returns the number of loaded jobs.
func (r *Registry) Len() int { return len(r.order) }

// Firstborn returns the head-of-registry job marked Firstborn, if any.
func (r *Registry) Firstborn() *Job {
	for _, label := range r.order {
		if j := r.jobs[label]; j != nil && j.Firstborn {
			return j
		}
	}
	return nil
}
