package supervisor

import (
	"net"
	"os"
	"time"

	"github.com/ondemandd/ondemandd/calendar"
	"github.com/ondemandd/ondemandd/supervisor/watch"
	"golang.org/x/sys/unix"
)

// jobSocket is one listening descriptor belonging to a job's socket
// group, opened once at Load time and kept open for the job's whole
// lifetime (spec.md:54). Exactly one of listener/packet is set,
// matching the stream-vs-dgram split in manifest.SocketSpec.
type jobSocket struct {
	group    string
	listener *net.UnixListener
	packet   *net.UnixConn // ListenPacket("unixgram", ...) concrete type
}

// file returns a freshly duplicated *os.File for the descriptor. The
// caller owns the duplicate; closing it never affects the original
// listener, so it is safe to call repeatedly across a job's lifetime
// (once per readiness poll, once per launch).
func (sock jobSocket) file() (*os.File, error) {
	if sock.listener != nil {
		return sock.listener.File()
	}
	return sock.packet.File()
}

// activationEvent is delivered to the event loop's async channel by
// any armed source; loop.go's dispatcher uses label+generation to
// discard stale events from a source that was since disarmed and
// re-armed (see Job.generation).
type activationEvent struct {
	label      string
	generation uint64
	source     string
}

// createSockets opens every socket-group descriptor a job's manifest
// declares, exactly once, at Load time (spec.md:54: "opened at most
// once across load"). The descriptors are not touched again by arm or
// disarm; only removeJob (via closeSockets) ever closes them.
func (s *Supervisor) createSockets(j *Job) {
	for group, specs := range j.Manifest.Sockets {
		for _, spec := range specs {
			if spec.Pathname == "" {
				continue
			}

			if spec.Type == "dgram" {
				pc, err := net.ListenPacket("unixgram", spec.Pathname)
				if err != nil {
					s.warn("activation", "listen "+spec.Pathname+": "+err.Error())
					continue
				}
				uc, ok := pc.(*net.UnixConn)
				if !ok {
					pc.Close()
					continue
				}
				j.sockets = append(j.sockets, jobSocket{group: group, packet: uc})
				continue
			}

			ln, err := net.Listen("unix", spec.Pathname)
			if err != nil {
				s.warn("activation", "listen "+spec.Pathname+": "+err.Error())
				continue
			}
			uln, ok := ln.(*net.UnixListener)
			if !ok {
				ln.Close()
				continue
			}
			j.sockets = append(j.sockets, jobSocket{group: group, listener: uln})
		}
	}
}

// closeSockets releases every descriptor createSockets opened for j,
// exactly once — called only from removeJob, matching spec.md:54's
// "closed exactly once on job removal".
func (s *Supervisor) closeSockets(j *Job) {
	for _, sock := range j.sockets {
		if sock.listener != nil {
			sock.listener.Close()
		}
		if sock.packet != nil {
			sock.packet.Close()
		}
	}
	j.sockets = nil
}

// arm activates every source the manifest declares for j and
// transitions it to Watching. Per spec.md §3's invariant, arm is only
// ever called on a job with pid == 0.
func (s *Supervisor) arm(j *Job) {
	gen := j.bumpGeneration()
	var sources []string

	seenGroup := make(map[string]bool)
	for _, sock := range j.sockets {
		stop := make(chan struct{})
		j.watchStops = append(j.watchStops, stop)
		go s.watchSocketReadable(j.Label, gen, sock, stop)
		if !seenGroup[sock.group] {
			seenGroup[sock.group] = true
			sources = append(sources, "socket:"+sock.group)
		}
	}

	for _, p := range j.Manifest.WatchPaths {
		s.armWatchPath(j, p, gen)
		sources = append(sources, "watch-path:"+p)
	}

	for _, d := range j.Manifest.QueueDirectory {
		s.armQueueDirectory(j, d, gen)
		sources = append(sources, "queue-directory:"+d)
	}

	if j.Manifest.StartInterval > 0 {
		s.armStartInterval(j, gen)
		sources = append(sources, "start-interval")
	} else if j.Manifest.StartInterval < 0 {
		s.warn("activation", "start-interval must be positive, ignoring")
	}

	if j.Manifest.StartCalendarInterval != nil {
		s.armCalendarInterval(j, gen)
		sources = append(sources, "start-calendar-interval")
	}

	from := j.State
	j.State = Watching
	s.logStateChange(j, from, Watching)
	if len(sources) > 0 {
		s.Journal.Write(s.activationArmedEvent(j.Label, sources))
	}
}

// disarm stops every readiness watcher armed for j, in preparation for
// a Starting transition or job removal. It never closes j.sockets —
// those descriptors are opened once at Load and closed once by
// closeSockets, never on an ordinary activation cycle.
func (s *Supervisor) disarm(j *Job) {
	for _, stop := range j.watchStops {
		close(stop)
	}
	j.watchStops = nil

	for _, src := range j.watched.watchPaths {
		if src != nil {
			src.Disarm()
		}
	}
	j.watched.watchPaths = nil

	for _, src := range j.watched.queueDirs {
		if src != nil {
			src.Disarm()
		}
	}
	j.watched.queueDirs = nil

	if j.intervalTimer != nil {
		j.intervalTimer.Stop()
		j.intervalTimer = nil
	}
	if j.calendarTimer != nil {
		j.calendarTimer.Stop()
		j.calendarTimer = nil
	}
}

// watchSocketReadable blocks until sock's descriptor reports readable
// without accepting a connection or reading a datagram off it —
// spec.md:130's "registered for fd-readable" — so whatever triggered
// readability is still there for the child to service once it
// inherits the descriptor in buildAttrs. It polls its own duplicate of
// the descriptor so stop can be checked between waits without
// disturbing the job's persistent listener.
func (s *Supervisor) watchSocketReadable(label string, gen uint64, sock jobSocket, stop chan struct{}) {
	f, err := sock.file()
	if err != nil {
		return
	}
	defer f.Close()
	fd := int32(f.Fd())

	for {
		select {
		case <-stop:
			return
		default:
		}

		pfds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n > 0 && pfds[0].Revents&unix.POLLIN != 0 {
			s.asyncEvents <- activationEvent{label: label, generation: gen, source: "socket:" + sock.group}
			return
		}
	}
}

func (s *Supervisor) armWatchPath(j *Job, path string, gen uint64) {
	src, err := watch.Arm(watch.WatchPath, path)
	if err != nil {
		s.warn("activation", "watch-path "+path+": "+err.Error())
		j.watched.watchPaths = append(j.watched.watchPaths, nil)
		return
	}
	j.watched.watchPaths = append(j.watched.watchPaths, src)
	go s.pumpWatchSource(j.Label, gen, "watch-path:"+path, src)
}

func (s *Supervisor) armQueueDirectory(j *Job, dir string, gen uint64) {
	src, err := watch.Arm(watch.QueueDirectory, dir)
	if err != nil {
		s.warn("activation", "queue-directory "+dir+": "+err.Error())
		j.watched.queueDirs = append(j.watched.queueDirs, nil)
		return
	}
	j.watched.queueDirs = append(j.watched.queueDirs, src)
	go s.pumpWatchSource(j.Label, gen, "queue-directory:"+dir, src)
}

func (s *Supervisor) pumpWatchSource(label string, gen uint64, source string, src *watch.Source) {
	for evt := range src.Events {
		if !evt.Activate {
			continue
		}
		s.asyncEvents <- activationEvent{label: label, generation: gen, source: source}
		return
	}
}

func (s *Supervisor) armStartInterval(j *Job, gen uint64) {
	period := time.Duration(j.Manifest.StartInterval) * time.Second
	label := j.Label
	j.intervalTimer = time.AfterFunc(period, func() {
		s.asyncEvents <- activationEvent{label: label, generation: gen, source: "start-interval"}
	})
}

func (s *Supervisor) armCalendarInterval(j *Job, gen uint64) {
	next := calendar.Next(*j.Manifest.StartCalendarInterval, s.now())
	d := next.Sub(s.now())
	if d < 0 {
		d = 0
	}
	label := j.Label
	j.calendarTimer = time.AfterFunc(d, func() {
		s.asyncEvents <- activationEvent{label: label, generation: gen, source: "start-calendar-interval"}
	})
}
