package ipc

import (
	"github.com/ondemandd/ondemandd/manifest"
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/ondemandd/ondemandd/tree"
)

func handleSubmitJob(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind == tree.KindArray {
		results := make([]*tree.Value, len(arg.Array))
		for i, entry := range arg.Array {
			results[i] = submitOne(sup, entry)
		}
		return tree.Array(results...), nil
	}
	return submitOne(sup, arg), nil
}

func submitOne(sup *supervisor.Supervisor, v *tree.Value) *tree.Value {
	label, _ := v.GetString("label")
	m, err := manifest.Decode(label, v)
	if err != nil {
		return errnoReply(InvalidArgument)
	}

	if submitErr := sup.Submit(m); submitErr != nil {
		if submitErr == supervisor.ErrDuplicate {
			return errnoReply(Exists)
		}
		return errnoReply(InvalidArgument)
	}
	return errnoReply(None)
}

func handleStartJob(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	label, ok := stringArg(arg)
	if !ok {
		return nil, &Errno{Kind: InvalidArgument}
	}
	if err := sup.StartJob(label); err != nil {
		return errnoReply(NotFound), nil
	}
	return errnoReply(None), nil
}

func handleStopJob(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	label, ok := stringArg(arg)
	if !ok {
		return nil, &Errno{Kind: InvalidArgument}
	}
	if err := sup.StopJob(label); err != nil {
		return errnoReply(NotFound), nil
	}
	return errnoReply(None), nil
}

func handleRemoveJob(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	label, ok := stringArg(arg)
	if !ok {
		return nil, &Errno{Kind: InvalidArgument}
	}
	if err := sup.RemoveJob(label); err != nil {
		return errnoReply(NotFound), nil
	}
	return errnoReply(None), nil
}

func handleGetJob(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if label, ok := stringArg(arg); ok {
		m, err := sup.GetJob(label)
		if err != nil {
			return errnoReply(NotFound), nil
		}
		return m.Encode(true), nil
	}

	all := sup.GetAllJobs()
	out := make(map[string]*tree.Value, len(all))
	for label, m := range all {
		out[label] = m.Encode(true)
	}
	return tree.Map(out), nil
}

func handleCheckIn(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	m, err := sup.CheckIn(c.Connection)
	if err != nil {
		return nil, &Errno{Kind: PermissionDenied}
	}
	return m.Encode(true), nil
}

func handleWorkaroundBonjour(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindMap {
		return nil, &Errno{Kind: InvalidArgument}
	}
	for label, fds := range arg.Map {
		err := sup.WorkaroundBonjour(label, "workaround-bonjour", func(m *manifest.Manifest) {
			m.Extra["workaround-bonjour"] = fds.Clone(false)
		})
		if err != nil {
			return errnoReply(NotFound), nil
		}
	}
	return errnoReply(None), nil
}

func stringArg(v *tree.Value) (string, bool) {
	if v == nil || v.Kind != tree.KindString {
		return "", false
	}
	return v.String, true
}
