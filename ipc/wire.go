package ipc

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/ondemandd/ondemandd/tree"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxFrameSize rejects absurdly large frames before allocating a
// buffer for them, grounded on Toboxos-clawrden/pkg/protocol's same
// sanity check.
const maxFrameSize = 16 * 1024 * 1024

// maxFDsPerMessage sizes the SCM_RIGHTS control-message buffer used
// when reading, so ancillary space is never allocated unbounded. A
// message carrying more descriptors than this is not rejected; the
// receive buffer simply holds no more than this many.
const maxFDsPerMessage = 64

// WriteMessage frames v as [4-byte big-endian length][CBOR body] and,
// if v contains any FD leaves, sends the real descriptors as one
// SCM_RIGHTS ancillary-data block alongside the body — spec.md §4.4's
// "file-descriptor slots in the tree are transferred out-of-band using
// the platform's ancillary-data mechanism".
func WriteMessage(conn *net.UnixConn, v *tree.Value) error {
	body, fds, err := tree.EncodeBody(v)
	if err != nil {
		return err
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if len(fds) == 0 {
		if _, err := conn.Write(append(header[:], body...)); err != nil {
			return errors.Wrap(err, "ipc: write message")
		}
		return nil
	}

	raw := make([]int, len(fds))
	for i, d := range fds {
		raw[i] = d.FD
	}
	oob := unix.UnixRights(raw...)

	_, _, err = conn.WriteMsgUnix(append(header[:], body...), oob, nil)
	if err != nil {
		return errors.Wrap(err, "ipc: write message with fds")
	}
	return nil
}

// ReadMessage reads one framed message, installing any descriptors
// carried in an accompanying SCM_RIGHTS block back into the tree's FD
// leaves in token order. Every received descriptor gets FD_CLOEXEC set
// immediately, per spec.md §6.
//
// On a stream socket, SCM_RIGHTS ancillary data sent alongside the
// first bytes of a message is only delivered to the recvmsg(2) call
// that actually consumes those bytes — a plain read(2) (Go's io.Reader
// path) silently drops it. So the 4-byte length header, which
// WriteMessage always sends as the first bytes of the same sendmsg
// call that carries any fds, must itself be read via ReadMsgUnix
// rather than io.ReadFull.
func ReadMessage(conn *net.UnixConn) (*tree.Value, error) {
	var header [4]byte
	oob := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))

	hn, hoobn, _, _, err := conn.ReadMsgUnix(header[:], oob)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: read message header")
	}
	if hn != len(header) {
		return nil, errors.Errorf("ipc: short header read (%d of %d)", hn, len(header))
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, errors.Errorf("ipc: frame too large (%d bytes)", length)
	}

	fds, err := decodeAncillaryFDs(oob[:hoobn])
	if err != nil {
		return nil, err
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, errors.Wrap(err, "ipc: read message body")
	}

	descs := make([]*tree.Descriptor, len(fds))
	for i, fd := range fds {
		unix.CloseOnExec(fd)
		descs[i] = &tree.Descriptor{FD: fd}
	}

	return tree.DecodeBody(body, descs)
}

func decodeAncillaryFDs(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}

	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: parse ancillary data")
	}

	var fds []int
	for _, msg := range msgs {
		parsed, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		fds = append(fds, parsed...)
	}
	return fds, nil
}
