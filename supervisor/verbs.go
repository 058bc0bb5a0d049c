package supervisor

import (
	"fmt"

	"github.com/ondemandd/ondemandd/manifest"
	"github.com/ondemandd/ondemandd/rlimit"
	"golang.org/x/sys/unix"
)

// call posts fn to the loop goroutine and blocks for its result,
// giving IPC handler goroutines (package ipc) a synchronous-looking
// API while every actual read/write of job or connection state still
// happens only on the loop goroutine — the mechanism spec.md §5
// describes as "a separate platform-specific server thread... enters
// the core only by taking the same global lock".
func (s *Supervisor) call(fn func()) {
	done := make(chan struct{})
	s.PostVerb(func() {
		fn()
		close(done)
	})
	<-done
}

// Submit implements the submit-job verb for one manifest: duplicate
// label -> ErrDuplicate, otherwise Load.
func (s *Supervisor) Submit(m *manifest.Manifest) error {
	var err error
	s.call(func() {
		err = s.Load(NewJob(m))
	})
	return err
}

// StartJob forces a job to Starting (spec.md §4.4's start-job verb).
func (s *Supervisor) StartJob(label string) error {
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		if j.State == Watching {
			s.disarm(j)
		}
		if !j.Alive() {
			s.startJob(j)
		}
	})
	return err
}

// StopJob sends the job's child a termination signal if running.
func (s *Supervisor) StopJob(label string) error {
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		if j.Alive() && j.Process != nil {
			j.Process.Signal(sigterm)
		}
	})
	return err
}

// RemoveJob implements spec.md §4.2's remove-job verb.
func (s *Supervisor) RemoveJob(label string) error {
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		s.removeJob(j, "removed by request")
	})
	return err
}

// GetJob returns one job's manifest. The manifest itself is shared,
// not copied; fd slots are redacted only when the caller encodes it.
func (s *Supervisor) GetJob(label string) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		m = j.Manifest
	})
	return m, err
}

// GetAllJobs returns every loaded job's manifest keyed by label.
func (s *Supervisor) GetAllJobs() map[string]*manifest.Manifest {
	out := map[string]*manifest.Manifest{}
	s.call(func() {
		s.Registry.ForEach(func(j *Job) {
			out[j.Label] = j.Manifest
		})
	})
	return out
}

// CheckIn implements spec.md §4.4's check-in verb: only legal on a
// connection created via the trusted-fd hand-off, returns the owning
// job's manifest and marks it checked in.
func (s *Supervisor) CheckIn(c *Connection) (*manifest.Manifest, error) {
	if c.AssociatedJob == nil {
		return nil, fmt.Errorf("permission denied")
	}
	var m *manifest.Manifest
	s.call(func() {
		c.AssociatedJob.CheckedIn = true
		m = c.AssociatedJob.Manifest
	})
	return m, nil
}

// GetUserEnv/SetUserEnv read or mutate the supervisor process' own
// environment, independent of any one job's manifest. SetUserEnv sets
// each variable in the process environment (children launched later
// inherit it) and records it; GetUserEnv returns only the variables
// recorded through SetUserEnv, not the whole process environment.
func (s *Supervisor) GetUserEnv() map[string]string {
	out := map[string]string{}
	s.call(func() {
		for k, v := range s.userEnv {
			out[k] = v
		}
	})
	return out
}

func (s *Supervisor) SetUserEnv(env map[string]string) {
	s.call(func() {
		if s.userEnv == nil {
			s.userEnv = map[string]string{}
		}
		for k, v := range env {
			s.userEnv[k] = v
			unix.Setenv(k, v)
		}
	})
}

// GetLogMask/SetLogMask store and return a log-mask value. The journal
// does not consult it: every event is written whatever the mask is.
func (s *Supervisor) GetLogMask() int {
	var mask int
	s.call(func() { mask = s.logMask })
	return mask
}

func (s *Supervisor) SetLogMask(mask int) {
	s.call(func() { s.logMask = mask })
}

// GetUmask/SetUmask adjust the supervisor process' own umask (distinct
// from a per-job manifest umask).
func (s *Supervisor) GetUmask() int {
	var u int
	s.call(func() {
		u = unix.Umask(0)
		unix.Umask(u)
		s.processUmask = u
	})
	return u
}

func (s *Supervisor) SetUmask(mask int) {
	s.call(func() {
		unix.Umask(mask)
		s.processUmask = mask
	})
}

// BatchControl toggles a connection's batch-disable contribution.
func (s *Supervisor) BatchControl(c *Connection, disable bool) {
	s.call(func() {
		s.SetBatchDisable(c, disable)
	})
}

// BatchQuery reads a connection's current batch-disable flag.
func (s *Supervisor) BatchQuery(c *Connection) bool {
	var disabled bool
	s.call(func() {
		disabled = c.batchDisabled
	})
	return disabled
}

// SetStdout/SetStderr implement spec.md §4.4's path-or-fd redirection
// verb. A path is deferred to the job's next launch (the manifest
// field is updated; the running child, if any, keeps its current
// descriptors until restarted) rather than a live filesystem-mount
// event — this core does not model mount events as their own source.
func (s *Supervisor) SetStdout(label, path string) error {
	return s.setStdio(label, path, true)
}

func (s *Supervisor) SetStderr(label, path string) error {
	return s.setStdio(label, path, false)
}

func (s *Supervisor) setStdio(label, path string, stdout bool) error {
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		if stdout {
			closeStdioFD(&j.StdoutFD)
			j.Manifest.StdoutPath = path
		} else {
			closeStdioFD(&j.StderrFD)
			j.Manifest.StderrPath = path
		}
	})
	return err
}

// SetStdoutFD/SetStderrFD implement the fd branch of spec.md §4.4's
// set-stdout/set-stderr verb: the caller has already dup'd the
// incoming descriptor (tree.Value.Clone's "dup immediately" semantics
// on the ipc side), and the supervisor now owns fd until the job is
// removed or the descriptor is replaced by a later call.
func (s *Supervisor) SetStdoutFD(label string, fd int) error {
	return s.setStdioFD(label, fd, true)
}

func (s *Supervisor) SetStderrFD(label string, fd int) error {
	return s.setStdioFD(label, fd, false)
}

func (s *Supervisor) setStdioFD(label string, fd int, stdout bool) error {
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			unix.Close(fd)
			return
		}
		if stdout {
			closeStdioFD(&j.StdoutFD)
			j.StdoutFD = &fd
			j.Manifest.StdoutPath = ""
		} else {
			closeStdioFD(&j.StderrFD)
			j.StderrFD = &fd
			j.Manifest.StderrPath = ""
		}
	})
	return err
}

func closeStdioFD(fd **int) {
	if *fd != nil {
		unix.Close(**fd)
		*fd = nil
	}
}

// GetRlimits/SetRlimits implement spec.md §4.9's verb pair over the
// resource-limit cache.
func (s *Supervisor) GetRlimits() map[rlimit.Kind]rlimit.Limit {
	var out map[rlimit.Kind]rlimit.Limit
	s.call(func() { out = s.Rlimits.Get() })
	return out
}

func (s *Supervisor) SetRlimits(changes map[rlimit.Kind]rlimit.Limit) error {
	var err error
	s.call(func() { err = s.Rlimits.Set(changes) })
	return err
}

// Rusage is the snapshot get-rusage returns for self or children.
type Rusage struct {
	UserTime   float64
	SystemTime float64
	MaxRSS     int64
}

// GetRusage implements spec.md §4.4's get-rusage verb.
func (s *Supervisor) GetRusage(children bool) Rusage {
	var out Rusage
	s.call(func() {
		out = getrusage(children)
	})
	return out
}

// WorkaroundBonjour attaches fds under a reserved manifest key on the
// named job, per spec.md §4.4's compatibility verb.
func (s *Supervisor) WorkaroundBonjour(label string, key string, apply func(*manifest.Manifest)) error {
	var err error
	s.call(func() {
		j, lookupErr := s.Registry.Lookup(label)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		apply(j.Manifest)
	})
	return err
}
