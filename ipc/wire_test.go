package ipc

import (
	"net"
	"os"
	"testing"

	"github.com/ondemandd/ondemandd/tree"
	"golang.org/x/sys/unix"
)

// socketpairConns returns a connected pair of *net.UnixConn backed by a
// real unix(7) socketpair, so WriteMessage's SCM_RIGHTS path exercises
// the genuine kernel ancillary-data semantics rather than a mock.
func socketpairConns(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	a, err := net.FileConn(os.NewFile(uintptr(fds[0]), "a"))
	if err != nil {
		t.Fatalf("FileConn a: %v", err)
	}
	b, err := net.FileConn(os.NewFile(uintptr(fds[1]), "b"))
	if err != nil {
		t.Fatalf("FileConn b: %v", err)
	}

	ua, ok := a.(*net.UnixConn)
	if !ok {
		t.Fatalf("expected *net.UnixConn, got %T", a)
	}
	ub, ok := b.(*net.UnixConn)
	if !ok {
		t.Fatalf("expected *net.UnixConn, got %T", b)
	}

	t.Cleanup(func() { ua.Close(); ub.Close() })
	return ua, ub
}

func roundTrip(t *testing.T, v *tree.Value) *tree.Value {
	t.Helper()
	a, b := socketpairConns(t)

	errc := make(chan error, 1)
	go func() { errc <- WriteMessage(a, v) }()

	got, err := ReadMessage(b)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	return got
}

func TestRoundTripScalarKinds(t *testing.T) {
	cases := []*tree.Value{
		tree.Null(),
		tree.Bool(true),
		tree.Bool(false),
		tree.Int(-42),
		tree.Float(3.5),
		tree.String("hello"),
		tree.Bytes([]byte{1, 2, 3}),
		tree.Port(9),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !tree.Equal(v, got) {
			t.Errorf("round trip of %v gave %v", v, got)
		}
	}
}

func TestRoundTripNestedMapAndArray(t *testing.T) {
	v := tree.Map(map[string]*tree.Value{
		"label": tree.String("com.example.job"),
		"args": tree.Array(
			tree.String("-x"),
			tree.Int(1),
		),
		"nested": tree.Map(map[string]*tree.Value{
			"ok": tree.Bool(true),
		}),
	})

	got := roundTrip(t, v)
	if !tree.Equal(v, got) {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

// TestRoundTripFDIgnoresDescriptorIdentity exercises the SCM_RIGHTS
// path end to end: a real pipe fd is embedded in the tree, sent across
// the socketpair, and must arrive as a distinct but live descriptor —
// spec.md §8 explicitly allows descriptor identity to differ across
// the wire.
func TestRoundTripFDIgnoresDescriptorIdentity(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()
	defer r.Close()

	v := tree.Map(map[string]*tree.Value{
		"fd": tree.FD(&tree.Descriptor{FD: int(r.Fd())}),
	})

	got := roundTrip(t, v)
	if !tree.Equal(v, got) {
		t.Errorf("round trip mismatch for fd-bearing tree")
	}

	fdLeaf := got.Get("fd")
	if fdLeaf == nil || fdLeaf.Kind != tree.KindFD || fdLeaf.FD == nil {
		t.Fatalf("expected a live fd leaf, got %+v", fdLeaf)
	}
	if fdLeaf.FD.FD == int(r.Fd()) {
		t.Errorf("expected a distinct descriptor number, got the same one back")
	}
	fdLeaf.FD.Close()
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	a, b := socketpairConns(t)

	var header [4]byte
	header[0] = 0x7f // absurdly large length prefix
	if _, err := a.Write(header[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}

	if _, err := ReadMessage(b); err == nil {
		t.Fatal("expected an error for an oversized frame")
	}
}
