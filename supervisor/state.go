package supervisor

import (
	"net"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/ondemandd/ondemandd/journal"
	"github.com/ondemandd/ondemandd/supervisor/exec"
	"golang.org/x/sys/unix"
)

// sigterm is the termination signal sent to jobs on stop-job and
// removal (spec.md §4.2/§4.4).
const sigterm = syscall.SIGTERM

// Load implements spec.md §4.3's *Loaded* state entry: insert the job
// and immediately decide whether it starts now or waits for
// activation.
func (s *Supervisor) Load(j *Job) error {
	if err := s.Registry.Insert(j); err != nil {
		return err
	}
	s.createSockets(j)
	s.Journal.Write(&journal.JobInserted{Label: j.Label})

	if j.Manifest.RunAtLoad || !j.OnDemand() {
		s.startJob(j)
	} else {
		s.arm(j)
	}
	return nil
}

// startJob implements the Starting state of spec.md §4.3: fork a
// child; on failure, log and return to Watching (re-arming if the job
// is on-demand); on success, record pid/start_time and transition to
// Running.
func (s *Supervisor) startJob(j *Job) {
	j.State = Starting

	attrs, socketFiles, err := s.buildAttrs(j)
	if err != nil {
		s.Journal.Write(&journal.ProcessSpawnError{Label: j.Label, Reason: err.Error()})
		s.backToWatching(j)
		return
	}
	// socketFiles are the supervisor's own duplicates of each listening
	// descriptor, created solely to pass their fd numbers into
	// attrs.Sockets; exec.Launch dup2's them into the child, so the
	// parent's copies are closed once launch returns regardless of
	// outcome (the persistent listeners in j.sockets are untouched).
	defer func() {
		for _, f := range socketFiles {
			f.Close()
		}
	}()

	var parentCheckinFD *os.File
	var childCheckinFD int = -1
	if j.Manifest.ServiceIPC {
		fds, spErr := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if spErr != nil {
			s.warn("exec", "checkin socketpair: "+spErr.Error())
		} else {
			unix.CloseOnExec(fds[0])
			parentCheckinFD = os.NewFile(uintptr(fds[0]), "checkin-parent")
			childCheckinFD = fds[1]
			attrs.Sockets = append(attrs.Sockets, exec.SocketGroup{Name: "checkin", FDs: []int{fds[1]}})
		}
	}

	proc, err := s.launch(attrs)
	if childCheckinFD >= 0 {
		// The child end was duplicated into the child's ExtraFiles by
		// Launch; the original fd is no longer needed in the parent.
		unix.Close(childCheckinFD)
	}
	if err != nil {
		if parentCheckinFD != nil {
			parentCheckinFD.Close()
		}
		s.Journal.Write(&journal.ProcessSpawnError{Label: j.Label, Reason: err.Error()})
		s.backToWatching(j)
		return
	}

	j.Process = proc
	j.PID = proc.PID()
	j.StartTime = s.now()
	j.CheckedIn = false
	gen := j.bumpGeneration()

	// j.PID must be set before handing the check-in connection off, so
	// the peer-credential sanity check in ipc.Server has a live pid to
	// compare the socket's peer pid against.
	if parentCheckinFD != nil && s.ChildConnectionHandler != nil {
		if conn, connErr := net.FileConn(parentCheckinFD); connErr == nil {
			s.ChildConnectionHandler(j, conn)
		}
		parentCheckinFD.Close()
	}

	s.Journal.Write(&journal.ProcessSpawned{Label: j.Label, PID: j.PID})
	s.logStateChange(j, Starting, Running)
	j.State = Running

	go func() {
		proc.Wait()
		s.PostProcessExit(j.Label, gen)
	}()
}

// launch is a seam so tests can substitute a mock exec.Process
// (exec.Sleep) without going through exec.Launch's real fork/exec.
var defaultLaunch = exec.Launch

func (s *Supervisor) launch(attrs exec.Attrs) (exec.Process, error) {
	if s.Launcher != nil {
		return s.Launcher(attrs)
	}
	return defaultLaunch(attrs)
}

func (s *Supervisor) backToWatching(j *Job) {
	if j.OnDemand() {
		s.arm(j)
		return
	}
	j.State = Watching
}

// buildAttrs translates a job's manifest into exec.Attrs, resolving
// the user/group identity it launches as, the resource limits it
// launches with, and the listening descriptors it inherits (spec.md
// §3's manifest fields). The returned files are the supervisor's own
// duplicates of j.sockets' descriptors, handed to the caller to close
// once exec.Launch has dup2'd them into the child — see startJob.
func (s *Supervisor) buildAttrs(j *Job) (exec.Attrs, []*os.File, error) {
	m := j.Manifest

	attrs := exec.Attrs{
		Program:          m.Program,
		Arguments:        m.Arguments,
		WorkingDirectory: m.WorkingDirectory,
		RootDirectory:    m.RootDirectory,
		InitGroups:       m.InitGroups,
		SessionCreate:    m.SessionCreate,
		LowPriorityIO:    m.LowPriorityIO,
		Umask:            m.Umask,
		Nice:             m.Nice,
	}

	if m.UserName != "" {
		uid, gid, groups, err := resolveUser(m.UserName, m.GroupName)
		if err != nil {
			return exec.Attrs{}, nil, err
		}
		attrs.UID = &uid
		attrs.GID = &gid
		attrs.Groups = groups
	} else if m.GroupName != "" {
		gid, err := resolveGroup(m.GroupName)
		if err != nil {
			return exec.Attrs{}, nil, err
		}
		attrs.GID = &gid
	}

	env := os.Environ()
	for k, v := range m.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range m.UserEnvironment {
		env = append(env, k+"="+v)
	}
	attrs.Env = env

	if j.StdoutFD != nil {
		attrs.Stdout = os.NewFile(uintptr(*j.StdoutFD), "stdout")
	} else if m.StdoutPath != "" {
		f, err := os.OpenFile(m.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			attrs.Stdout = f
		}
	}
	if j.StderrFD != nil {
		attrs.Stderr = os.NewFile(uintptr(*j.StderrFD), "stderr")
	} else if m.StderrPath != "" {
		f, err := os.OpenFile(m.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			attrs.Stderr = f
		}
	}

	// Each job socket was opened once at Load (createSockets) and stays
	// open for the job's whole life; here we only duplicate its fd for
	// this one launch, per spec.md:54's "duplicated into the child...
	// it remains owned by the supervisor until removal".
	var socketFiles []*os.File
	byGroup := make(map[string][]int)
	var groupOrder []string
	for _, sock := range j.sockets {
		f, err := sock.file()
		if err != nil {
			s.warn("exec", "duplicate socket fd for "+sock.group+": "+err.Error())
			continue
		}
		socketFiles = append(socketFiles, f)
		if _, ok := byGroup[sock.group]; !ok {
			groupOrder = append(groupOrder, sock.group)
		}
		byGroup[sock.group] = append(byGroup[sock.group], int(f.Fd()))
	}
	for _, group := range groupOrder {
		attrs.Sockets = append(attrs.Sockets, exec.SocketGroup{Name: group, FDs: byGroup[group]})
	}

	for _, r := range m.SoftRlimits {
		attrs.SoftRlimits = append(attrs.SoftRlimits, exec.Rlimit{Kind: r.Kind, Soft: r.Soft, Hard: r.Hard})
	}
	for _, r := range m.HardRlimits {
		attrs.HardRlimits = append(attrs.HardRlimits, exec.Rlimit{Kind: r.Kind, Soft: r.Soft, Hard: r.Hard})
	}

	return attrs, socketFiles, nil
}

// resolveUser looks up userName's uid and its primary gid (or
// groupName's gid, if given), plus its supplementary group list, for
// the privilege-drop path of spec.md §3's user-name/group-name keys.
func resolveUser(userName, groupName string) (uid, gid uint32, groups []uint32, err error) {
	u, err := user.Lookup(userName)
	if err != nil {
		return 0, 0, nil, err
	}
	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, nil, err
	}
	uid = uint32(uid64)

	if groupName != "" {
		gid, err = resolveGroup(groupName)
		if err != nil {
			return 0, 0, nil, err
		}
	} else {
		gid64, gErr := strconv.ParseUint(u.Gid, 10, 32)
		if gErr != nil {
			return 0, 0, nil, gErr
		}
		gid = uint32(gid64)
	}

	gidStrs, err := u.GroupIds()
	if err == nil {
		for _, s := range gidStrs {
			if n, pErr := strconv.ParseUint(s, 10, 32); pErr == nil {
				groups = append(groups, uint32(n))
			}
		}
	}
	return uid, gid, groups, nil
}

func resolveGroup(groupName string) (uint32, error) {
	g, err := user.LookupGroup(groupName)
	if err != nil {
		return 0, err
	}
	gid64, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(gid64), nil
}

// removeJob implements spec.md §4.2's remove: close owned descriptors,
// cancel timers, and unlink the record. If the child is alive, a
// transient reaper takes over to waitpid and discard the status.
func (s *Supervisor) removeJob(j *Job, reason string) {
	s.disarm(j)
	s.closeSockets(j)
	closeStdioFD(&j.StdoutFD)
	closeStdioFD(&j.StderrFD)

	if j.Alive() {
		proc := j.Process
		go func() {
			proc.Wait()
		}()
		proc.Signal(syscall.SIGTERM)
	}

	j.State = Removed
	s.Registry.Remove(j.Label)
	s.Journal.Write(&journal.JobRemoved{Label: j.Label, Reason: reason})
}
