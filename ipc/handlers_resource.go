package ipc

import (
	"github.com/ondemandd/ondemandd/rlimit"
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/ondemandd/ondemandd/tree"
)

func handleGetRlimits(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	limits := sup.GetRlimits()
	out := make([]*tree.Value, 0, len(limits))
	for _, kind := range rlimit.All {
		lim, ok := limits[kind]
		if !ok {
			continue
		}
		out = append(out, tree.Map(map[string]*tree.Value{
			"kind": tree.Int(int64(kind)),
			"soft": tree.Int(int64(lim.Soft)),
			"hard": tree.Int(int64(lim.Hard)),
		}))
	}
	return tree.Array(out...), nil
}

func handleSetRlimits(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindArray {
		return nil, &Errno{Kind: InvalidArgument}
	}
	changes := make(map[rlimit.Kind]rlimit.Limit, len(arg.Array))
	for _, entry := range arg.Array {
		if entry.Kind != tree.KindMap {
			continue
		}
		kind, ok := entry.GetInt("kind")
		if !ok {
			continue
		}
		soft, _ := entry.GetInt("soft")
		hard, _ := entry.GetInt("hard")
		changes[rlimit.Kind(kind)] = rlimit.Limit{Soft: uint64(soft), Hard: uint64(hard)}
	}

	if err := sup.SetRlimits(changes); err != nil {
		return nil, &Errno{Kind: Transient, Detail: err.Error()}
	}
	return handleGetRlimits(sup, c, arg)
}

func handleGetRusage(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	children := false
	if s, ok := stringArg(arg); ok {
		children = s == "children"
	}
	ru := sup.GetRusage(children)
	return tree.Map(map[string]*tree.Value{
		"user_time":   tree.Float(ru.UserTime),
		"system_time": tree.Float(ru.SystemTime),
		"max_rss":     tree.Int(ru.MaxRSS),
	}), nil
}

func handleSetStdout(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	return setStdio(sup, arg, true)
}

func handleSetStderr(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	return setStdio(sup, arg, false)
}

// setStdio implements spec.md §4.4's set-stdout/set-stderr verb: the
// "path" key is either a string path (deferred to the job's next
// launch) or an fd, which is dup'd immediately since the descriptor
// carried over the wire is only valid for the lifetime of this
// message.
func setStdio(sup *supervisor.Supervisor, arg *tree.Value, stdout bool) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindMap {
		return nil, &Errno{Kind: InvalidArgument}
	}
	label, _ := arg.GetString("label")
	if label == "" {
		return nil, &Errno{Kind: InvalidArgument}
	}
	dest := arg.Get("path")

	var err error
	switch {
	case dest != nil && dest.Kind == tree.KindString:
		if stdout {
			err = sup.SetStdout(label, dest.String)
		} else {
			err = sup.SetStderr(label, dest.String)
		}

	case dest != nil && dest.Kind == tree.KindFD:
		dup := dest.Clone(false)
		if dup.Kind != tree.KindFD || dup.FD == nil {
			return nil, &Errno{Kind: InvalidArgument}
		}
		if stdout {
			err = sup.SetStdoutFD(label, dup.FD.FD)
		} else {
			err = sup.SetStderrFD(label, dup.FD.FD)
		}

	default:
		return nil, &Errno{Kind: InvalidArgument}
	}

	if err != nil {
		return errnoReply(NotFound), nil
	}
	return errnoReply(None), nil
}
