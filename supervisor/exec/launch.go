package exec

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"github.com/ondemandd/ondemandd/rlimit"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Rlimit is one resource-limit request applied to the child after it
// is launched (see Attrs.SoftRlimits/HardRlimits).
type Rlimit struct {
	Kind rlimit.Kind
	Soft uint64
	Hard uint64
}

// SocketGroup is a named set of descriptors to inherit into the child,
// duplicated from the supervisor's own listening sockets per spec.md
// §3's invariant that an owned socket is "duplicated into the child...
// it remains owned by the supervisor until removal".
type SocketGroup struct {
	Name string
	FDs  []int
}

// Attrs is the fully-resolved set of process attributes the launcher
// applies, translated 1:1 from spec.md §3's manifest keys.
type Attrs struct {
	Program   string
	Arguments []string
	Env       []string // "KEY=VALUE" pairs, process environment for the child

	WorkingDirectory string
	RootDirectory    string // chroot target; empty disables chroot

	UID        *uint32
	GID        *uint32
	Groups     []uint32
	InitGroups bool

	SessionCreate bool // setsid
	LowPriorityIO bool

	Umask *int
	Nice  *int

	SoftRlimits []Rlimit
	HardRlimits []Rlimit

	Stdout *os.File
	Stderr *os.File

	Sockets []SocketGroup
}

// umaskMu serializes the umask-during-fork trick across concurrent
// Launch calls: fork(2) copies the calling process' umask atomically,
// so holding this lock while temporarily narrowing the process umask
// guarantees the new child inherits the requested value without any
// other goroutine's fork racing in with the wrong umask.
var umaskMu sync.Mutex

// Launch builds argv/environment/fds from attrs, forks and execs the
// child, and applies the remaining attributes (nice, rlimits,
// low-priority-io) from the parent side immediately after fork — Linux
// allows a privileged or same-uid caller to adjust another process'
// priority, rlimits and I/O class by pid, which avoids needing to run
// arbitrary code inside the child between fork and exec (see
// SPEC_FULL.md §9's disposition of the "fork/exec straight-line child
// path" design note).
func Launch(attrs Attrs) (Process, error) {
	if attrs.Program == "" {
		return nil, errors.New("exec: empty program path")
	}

	argv := attrs.Arguments
	if len(argv) == 0 {
		argv = []string{attrs.Program}
	}

	cmd := exec.Command(attrs.Program, argv[1:]...)
	cmd.Path = attrs.Program
	cmd.Env = attrs.Env
	cmd.Dir = attrs.WorkingDirectory

	if attrs.Stdout != nil {
		cmd.Stdout = attrs.Stdout
	}
	if attrs.Stderr != nil {
		cmd.Stderr = attrs.Stderr
	}

	extraFiles, env := socketExtraFiles(attrs.Sockets)
	cmd.ExtraFiles = extraFiles
	if env != "" {
		cmd.Env = append(cmd.Env, env)
	}

	sys := &syscall.SysProcAttr{
		// Die with the supervisor rather than being silently reparented,
		// matching the teacher's exec.StartProcess.
		Pdeathsig: syscall.SIGTERM,
		Setsid:    attrs.SessionCreate,
	}

	if attrs.RootDirectory != "" {
		sys.Chroot = attrs.RootDirectory
	}

	if attrs.UID != nil || attrs.GID != nil {
		cred := &syscall.Credential{NoSetGroups: !attrs.InitGroups}
		if attrs.UID != nil {
			cred.Uid = *attrs.UID
		}
		if attrs.GID != nil {
			cred.Gid = *attrs.GID
		}
		if len(attrs.Groups) > 0 {
			cred.Groups = attrs.Groups
		}
		sys.Credential = cred
	}

	cmd.SysProcAttr = sys

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Linux-only: become the subreaper for this job's descendants so a
	// double-forking child cannot escape reaping, matching the
	// teacher's exec.StartProcess.
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return nil, errors.Wrap(err, "exec: set subreaper")
	}

	var restoreUmask func()
	if attrs.Umask != nil {
		umaskMu.Lock()
		old := unix.Umask(*attrs.Umask)
		restoreUmask = func() {
			unix.Umask(old)
			umaskMu.Unlock()
		}
	}

	err := cmd.Start()

	if restoreUmask != nil {
		restoreUmask()
	}

	if err != nil {
		return nil, errors.Wrap(err, "exec: start")
	}

	pid := cmd.Process.Pid

	if attrs.Nice != nil {
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, *attrs.Nice); err != nil {
			_ = err // best-effort; a failed renice does not abort the launch
		}
	}

	for _, r := range attrs.SoftRlimits {
		applyChildRlimit(pid, r)
	}
	for _, r := range attrs.HardRlimits {
		applyChildRlimit(pid, r)
	}

	if attrs.LowPriorityIO {
		setIdleIOPriority(pid)
	}

	return process{cmd.Process}, nil
}

func applyChildRlimit(pid int, r Rlimit) {
	lim := unix.Rlimit{Cur: r.Soft, Max: r.Hard}
	// Prlimit with a non-zero pid adjusts another process' limits; the
	// supervisor must share uid (or have CAP_SYS_RESOURCE) with the
	// child, which is always true for jobs it just forked.
	_ = unix.Prlimit(pid, int(r.Kind), &lim, nil)
}

const (
	ioprioClassIdle = 3
	ioprioWhoProcess = 1
)

// setIdleIOPriority best-effort-lowers the child's I/O scheduling class
// to idle via the ioprio_set(2) syscall, which golang.org/x/sys/unix
// does not wrap directly on every platform.
func setIdleIOPriority(pid int) {
	prio := ioprioClassIdle << 13
	unix.Syscall(unix.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), uintptr(pid), uintptr(prio))
}

// socketExtraFiles flattens named socket groups into an ordered
// []*os.File for cmd.ExtraFiles (landing at fd 3, 4, 5... in the
// child) and builds an environment variable describing the group ->
// fd-range mapping so the child can find them without a fixed fd
// convention.
func socketExtraFiles(groups []SocketGroup) ([]*os.File, string) {
	if len(groups) == 0 {
		return nil, ""
	}

	var files []*os.File
	mapping := ""
	nextFD := 3

	for _, g := range groups {
		if len(g.FDs) == 0 {
			continue
		}
		start := nextFD
		for _, fd := range g.FDs {
			files = append(files, os.NewFile(uintptr(fd), g.Name))
			nextFD++
		}
		if mapping != "" {
			mapping += ";"
		}
		mapping += fmt.Sprintf("%s:%d-%d", g.Name, start, nextFD-1)
	}

	return files, "ONDEMANDD_SOCKETS=" + mapping
}
