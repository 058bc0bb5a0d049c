package supervisor

// Connection is the per-client IPC state the core tracks, per spec.md
// §3's "Connection record": an optional associated job (trusted-fd
// hand-off children that will check in) and a batch-disable flag. The
// accepted socket and write queue themselves live in package ipc,
// which embeds a *Connection for exactly this shared state.
type Connection struct {
	ID int64

	// AssociatedJob is set when this connection was created via the
	// trusted-fd hand-off from the child launcher (spec.md §4.4's
	// check-in verb precondition).
	AssociatedJob *Job

	batchDisabled bool
}

// RegisterConnection assigns a connection ID and tracks the
// connection for batch-disable bookkeeping.
func (s *Supervisor) RegisterConnection() *Connection {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.nextConnID++
	c := &Connection{ID: s.nextConnID}
	s.connections[c.ID] = c
	return c
}

// UnregisterConnection removes a connection and clears its
// batch-disable contribution, if any.
func (s *Supervisor) UnregisterConnection(c *Connection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, c.ID)
	if c.batchDisabled {
		c.batchDisabled = false
		s.DisableBatchDisable()
	}
}

// SetBatchDisable toggles a connection's contribution to the global
// batch-disable counter (spec.md §4.4's batch-control verb).
func (s *Supervisor) SetBatchDisable(c *Connection, disable bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if disable == c.batchDisabled {
		return
	}
	c.batchDisabled = disable
	if disable {
		s.EnableBatchDisable()
	} else {
		s.DisableBatchDisable()
	}
}
