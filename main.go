package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/ondemandd/ondemandd/internal/bootstrap"
	"github.com/ondemandd/ondemandd/ipc"
	"github.com/ondemandd/ondemandd/journal"
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/pkg/errors"
)

var (
	journalFile string
	socketDir   string
	system      bool
)

func init() {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}

	uid := "0"
	if u, err := user.Current(); err == nil {
		uid = u.Uid
	}

	defaultDir := filepath.Join(runtimeDir, "ondemandd", uid)

	flag.StringVar(&journalFile, "j", filepath.Join(defaultDir, "journal.json"), "journal file path")
	flag.StringVar(&socketDir, "s", defaultDir, "control socket directory")
	flag.BoolVar(&system, "system", false, "run as the system-wide supervisor rather than a per-user session")
	flag.Usage = func() {
		f := func(f string, v ...interface{}) {
			fmt.Fprintf(flag.CommandLine.Output(), f, v...)
		}
		f("Usage:\n")
		f("  %s [-system] [-j <journal>] [-s <socket dir>]\n", filepath.Base(os.Args[0]))
		f("\n")
		f("Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
}

func main() {
	if err := run(); err != nil {
		bootstrap.Fatal(err)
	}
}

func run() error {
	j, err := journal.NewFileLockJournaler(journalFile)
	if err != nil {
		if errors.Is(err, journal.ErrLockedElsewhere) {
			fmt.Fprintln(os.Stderr, "ondemandd is already running")
			return nil
		}
		return errors.Wrap(err, "failed to acquire journal lock")
	}
	defer j.Close()

	journaler := journal.MultiWriter(j, journal.NewWriter(os.Stderr))

	sup, err := supervisor.NewSupervisor(journaler, system)
	if err != nil {
		return errors.Wrap(err, "failed to create supervisor")
	}

	srv, err := ipc.Listen(socketDir, sup, journaler)
	if err != nil {
		return errors.Wrap(err, "failed to bind control socket")
	}
	defer srv.Close()

	os.Setenv("ONDEMANDD_SOCKET", srv.SocketPath())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := srv.Serve(); err != nil {
			journaler.Write(&journal.Warning{Component: "ipc.Server", Error: err.Error()})
		}
	}()

	go func() {
		<-ctx.Done()
		sup.PostVerb(func() { sup.Shutdown("signal") })
	}()

	sup.Run()
	return nil
}
