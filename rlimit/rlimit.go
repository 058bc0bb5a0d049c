// Package rlimit mirrors the supervisor's own process-wide resource
// limits and applies changes requested over the control socket
// (spec.md §4.9). When running as the system-wide supervisor, the
// process-count hard limit is clamped to 2068 regardless of what a
// client asked for. No kernel-wide knob (file-descriptor or process
// maximum) is changed; only the per-process setrlimit is applied.
package rlimit

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SystemProcessHardCeiling is the maximum RLIMIT_NPROC hard limit the
// cache will ever install when acting as the system-wide supervisor,
// matching spec.md §4.9.
const SystemProcessHardCeiling = 2068

// Kind enumerates the resource kinds the cache tracks. The numeric
// values match golang.org/x/sys/unix's RLIMIT_* constants so a Kind can
// be used directly as the resource argument to Getrlimit/Setrlimit.
type Kind int

const (
	CPU    Kind = unix.RLIMIT_CPU
	FSize  Kind = unix.RLIMIT_FSIZE
	Data   Kind = unix.RLIMIT_DATA
	Stack  Kind = unix.RLIMIT_STACK
	Core   Kind = unix.RLIMIT_CORE
	RSS    Kind = unix.RLIMIT_RSS
	NProc  Kind = unix.RLIMIT_NPROC
	NoFile Kind = unix.RLIMIT_NOFILE
	MemLck Kind = unix.RLIMIT_MEMLOCK
	AS     Kind = unix.RLIMIT_AS
)

// All enumerates the resource kinds the mirror tracks, in a stable
// order for wire encoding (get-rlimits returns an array in this order).
var All = []Kind{CPU, FSize, Data, Stack, Core, RSS, NProc, NoFile, MemLck, AS}

// Limit is one (soft, hard) tuple.
type Limit struct {
	Soft uint64
	Hard uint64
}

// Cache mirrors the process' own resource limits.
type Cache struct {
	SystemSupervisor bool

	mirror map[Kind]Limit
}

// NewCache builds a cache by reading every tracked limit from the
// kernel once.
func NewCache(systemSupervisor bool) (*Cache, error) {
	c := &Cache{
		SystemSupervisor: systemSupervisor,
		mirror:           make(map[Kind]Limit, len(All)),
	}

	for _, kind := range All {
		lim, err := getrlimit(kind)
		if err != nil {
			// Not every kind is supported on every platform; leave it
			// absent from the mirror rather than failing the whole cache.
			continue
		}
		c.mirror[kind] = lim
	}

	return c, nil
}

// Get returns a snapshot of every tracked limit, keyed by kind; callers
// that need a stable order iterate All.
func (c *Cache) Get() map[Kind]Limit {
	out := make(map[Kind]Limit, len(c.mirror))
	for k, v := range c.mirror {
		out[k] = v
	}
	return out
}

// Set applies new limits for the given kinds. For each changed slot,
// when acting as the system supervisor, the process-count hard limit
// is clamped to SystemProcessHardCeiling and adjustSystemWideKnob is
// called (it changes nothing); then setrlimit is applied, then the
// slot is re-read so the mirror reflects whatever the kernel actually
// clamped it to.
func (c *Cache) Set(changes map[Kind]Limit) error {
	for kind, want := range changes {
		if kind == NProc && c.SystemSupervisor && want.Hard > SystemProcessHardCeiling {
			want.Hard = SystemProcessHardCeiling
			if want.Soft > want.Hard {
				want.Soft = want.Hard
			}
		}

		if c.SystemSupervisor {
			adjustSystemWideKnob(kind, want)
		}

		if err := setrlimit(kind, want); err != nil {
			return errors.Wrapf(err, "rlimit: setrlimit(%d)", kind)
		}

		got, err := getrlimit(kind)
		if err != nil {
			return errors.Wrapf(err, "rlimit: re-read after setrlimit(%d)", kind)
		}
		c.mirror[kind] = got
	}

	return nil
}

func getrlimit(kind Kind) (Limit, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(int(kind), &rl); err != nil {
		return Limit{}, err
	}
	return Limit{Soft: rl.Cur, Hard: rl.Max}, nil
}

func setrlimit(kind Kind, lim Limit) error {
	rl := unix.Rlimit{Cur: lim.Soft, Max: lim.Hard}
	return unix.Setrlimit(int(kind), &rl)
}

// adjustSystemWideKnob is the hook for the kernel-wide ceiling that
// backs a per-process limit (e.g. fs.file-max, kernel.pid_max
// analogues). It does nothing for any kind: no kernel-wide knob is
// read or written, and NoFile and NProc fall through like the rest.
func adjustSystemWideKnob(kind Kind, want Limit) {
	switch kind {
	case NoFile, NProc:
		// Deliberately best-effort and platform-specific; absence of a
		// system-wide knob on this host is not an error.
	}
}
