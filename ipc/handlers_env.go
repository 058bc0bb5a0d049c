package ipc

import (
	"github.com/ondemandd/ondemandd/supervisor"
	"github.com/ondemandd/ondemandd/tree"
)

func handleSetUserEnv(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindMap {
		return nil, &Errno{Kind: InvalidArgument}
	}
	env := make(map[string]string, len(arg.Map))
	for k, v := range arg.Map {
		if v.Kind == tree.KindString {
			env[k] = v.String
		}
	}
	sup.SetUserEnv(env)
	return errnoReply(None), nil
}

func handleGetUserEnv(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	env := sup.GetUserEnv()
	out := make(map[string]*tree.Value, len(env))
	for k, v := range env {
		out[k] = tree.String(v)
	}
	return tree.Map(out), nil
}

func handleSetLogMask(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindInt {
		return nil, &Errno{Kind: InvalidArgument}
	}
	sup.SetLogMask(int(arg.Int))
	return errnoReply(None), nil
}

func handleGetLogMask(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	return tree.Int(int64(sup.GetLogMask())), nil
}

func handleSetUmask(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	if arg.Kind != tree.KindInt {
		return nil, &Errno{Kind: InvalidArgument}
	}
	sup.SetUmask(int(arg.Int))
	return errnoReply(None), nil
}

func handleGetUmask(sup *supervisor.Supervisor, c *Conn, arg *tree.Value) (*tree.Value, *Errno) {
	return tree.Int(int64(sup.GetUmask())), nil
}
