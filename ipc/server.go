package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/ondemandd/ondemandd/journal"
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Server owns the listening control socket and dispatches incoming
// connections to Dispatch (spec.md §4.4/§6).
type Server struct {
	sup      *supervisor.Supervisor
	journal  journal.Journaler
	listener *net.UnixListener
	lock     *flock.Flock
	sockPath string
}

// Listen creates the control-socket directory (mode 0700), locks it
// (grounded on the teacher's gofrs/flock-based journal lock, repurposed
// here for the socket directory per SPEC_FULL.md §6), and binds the
// listening socket at <dir>/sock.
func Listen(dir string, sup *supervisor.Supervisor, j journal.Journaler) (*Server, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "ipc: create control socket directory")
	}

	lockPath := filepath.Join(dir, ".lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "ipc: lock control socket directory")
	}
	if !locked {
		return nil, errors.Errorf("ipc: control socket directory %s is locked by another supervisor instance", dir)
	}

	sockPath := filepath.Join(dir, "sock")
	os.Remove(sockPath)

	addr := &net.UnixAddr{Name: sockPath, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		lock.Unlock()
		return nil, errors.Wrap(err, "ipc: listen on control socket")
	}

	j.Write(&journal.Acquired{Path: sockPath})

	srv := &Server{sup: sup, journal: j, listener: ln, lock: lock, sockPath: sockPath}

	sup.ChildConnectionHandler = srv.registerChildConnection

	return srv, nil
}

// SocketPath returns the bound socket path, to be published via
// ONDEMANDD_SOCKET.
func (s *Server) SocketPath() string { return s.sockPath }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		raw, err := s.listener.AcceptUnix()
		if err != nil {
			return err
		}
		sc := s.sup.RegisterConnection()
		conn := newConn(raw, sc)
		s.journal.Write(&journal.ConnectionAccepted{ID: sc.ID})
		go s.serveConn(conn)
	}
}

// registerChildConnection wires a trusted check-in socketpair end (see
// supervisor.Supervisor.ChildConnectionHandler) into the same
// serveConn loop as an ordinary accepted connection, except its
// supervisor.Connection already carries AssociatedJob.
//
// The socketpair itself already guarantees only the job's own child
// can hold this fd — it was created immediately before fork and its
// child-side end never touches a shared namespace. The SO_PEERCRED
// check below is a belt-and-suspenders sanity check that the pid on
// the other end still matches the job's live pid at the moment it
// checks in, catching a job that has already exited and been replaced
// by a same-label relaunch before its old child's check-in arrives.
func (s *Server) registerChildConnection(job *supervisor.Job, raw net.Conn) {
	unixConn, ok := raw.(*net.UnixConn)
	if !ok {
		return
	}
	if pid, ok := peerPID(unixConn); ok && pid != job.PID {
		s.journal.Write(&journal.Warning{
			Component: "ipc.Server",
			Error:     fmt.Sprintf("check-in socket for %s: peer pid %d does not match job pid %d", job.Label, pid, job.PID),
		})
		unixConn.Close()
		return
	}
	sc := s.sup.RegisterConnection()
	sc.AssociatedJob = job
	conn := newConn(unixConn, sc)
	go s.serveConn(conn)
}

// peerPID reads the pid credential the kernel attaches to a unix
// socket via SO_PEERCRED, grounded on the same technique
// Toboxos-clawrden's internal/warden/peercred.go uses to authenticate
// its own local control connections.
func peerPID(c *net.UnixConn) (int, bool) {
	raw, err := c.SyscallConn()
	if err != nil {
		return 0, false
	}
	var ucred *unix.Ucred
	var gerr error
	cerr := raw.Control(func(fd uintptr) {
		ucred, gerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if cerr != nil || gerr != nil || ucred == nil {
		return 0, false
	}
	return int(ucred.Pid), true
}

func (s *Server) serveConn(c *Conn) {
	defer func() {
		s.sup.UnregisterConnection(c.Connection)
		c.Close()
	}()

	for {
		msg, err := ReadMessage(c.raw)
		if err != nil {
			s.journal.Write(&journal.ConnectionClosed{ID: c.ID, Reason: err.Error()})
			return
		}

		reply := Dispatch(s.sup, c, msg)
		s.journal.Write(&journal.VerbDispatched{ID: c.ID, Verb: dispatchedVerb(msg), Errno: replyErrno(reply)})

		if err := c.Send(reply); err != nil {
			s.journal.Write(&journal.ConnectionClosed{ID: c.ID, Reason: err.Error()})
			return
		}
	}
}

// Close stops accepting connections and releases the directory lock.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.lock.Unlock()
	return err
}
