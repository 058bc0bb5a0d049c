package ipc

import (
	"net"
	"sync"

	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/ondemandd/ondemandd/tree"
)

// Conn wraps one accepted client socket with the shared
// supervisor.Connection bookkeeping. Replies are written synchronously
// by Send; there is no deferred-write queue (the pending field is not
// used), and a write error closes the connection.
type Conn struct {
	*supervisor.Connection

	raw *net.UnixConn

	writeMu sync.Mutex
	pending []*tree.Value
	closed  bool
}

func newConn(raw *net.UnixConn, sc *supervisor.Connection) *Conn {
	return &Conn{Connection: sc, raw: raw}
}

// Send writes v to the client with a blocking write, serialized behind
// writeMu, and treats any write error as fatal to the connection. A
// reply is not queued when the socket is not writable: Send waits
// until the write completes or fails. It runs on the connection's own
// goroutine, so a slow reader blocks that goroutine, not the event
// loop.
func (c *Conn) Send(v *tree.Value) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil
	}

	if err := WriteMessage(c.raw, v); err != nil {
		c.closed = true
		c.raw.Close()
		return err
	}
	return nil
}

// Close tears down the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.closed = true
	c.writeMu.Unlock()
	return c.raw.Close()
}
