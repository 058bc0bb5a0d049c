package ipc

import (
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/ondemandd/ondemandd/tree"
)

func handleBatchControl(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindBool {
		return nil, &Errno{Kind: InvalidArgument}
	}
	sup.BatchControl(c.Connection, arg.Bool)
	return errnoReply(None), nil
}

func handleBatchQuery(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	return tree.Bool(sup.BatchQuery(c.Connection)), nil
}

func handleShutdown(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	sup.PostVerb(func() { sup.Shutdown("shutdown verb") })
	return errnoReply(None), nil
}

// handleReloadTTYs is a no-op: the TTY respawn table is an external
// collaborator opaque to this core (spec.md §1), but the verb is still
// accepted and acknowledged.
func handleReloadTTYs(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	return errnoReply(None), nil
}
