// Package manifest decodes a submit-job tagged tree (tree.Value) into
// the strongly-typed Manifest the supervisor core operates on, and
// re-encodes a Manifest back into a tree.Value for get-job replies.
// Field names follow spec.md §3's "keys of interest" list.
package manifest

import (
	"github.com/ondemandd/ondemandd/calendar"
	"github.com/ondemandd/ondemandd/rlimit"
	"github.com/ondemandd/ondemandd/tree"
	"github.com/pkg/errors"
)

// SocketSpec describes one socket in a named socket group.
type SocketSpec struct {
	Type     string // "stream" or "dgram"
	Pathname string // unix socket path; empty for a pre-bound fd group
	Passive  bool   // listening (true) vs. connected (false)
}

// RlimitSpec is one soft/hard pair the manifest requests for a kind of
// resource, applied to the child at launch (not the supervisor itself).
type RlimitSpec struct {
	Kind rlimit.Kind
	Soft uint64
	Hard uint64
}

// Manifest is the decoded, typed form of a job's tagged-tree
// definition (spec.md §3's "tagged tree").
type Manifest struct {
	Label string

	Program     string
	Arguments   []string
	OnDemand    bool
	RunAtLoad   bool
	ServiceIPC  bool
	InetdCompat bool

	Environment     map[string]string
	UserEnvironment map[string]string

	WorkingDirectory string
	RootDirectory    string
	UserName         string
	GroupName        string
	InitGroups       bool
	SessionCreate    bool
	LowPriorityIO    bool
	Umask            *int

	StdoutPath string
	StderrPath string
	Nice       *int

	SoftRlimits []RlimitSpec
	HardRlimits []RlimitSpec

	Sockets map[string][]SocketSpec // group name -> sockets

	WatchPaths     []string
	QueueDirectory []string

	StartInterval         int // seconds; 0 disabled
	StartCalendarInterval *calendar.Spec

	TimeoutSeconds int

	// Extra carries manifest keys the core does not interpret itself
	// (e.g. the workaround-bonjour reserved fd-array key) so they
	// survive a decode/encode round trip untouched.
	Extra map[string]*tree.Value
}

// interpretedKeys are the manifest keys Decode consumes into typed
// fields; everything else is preserved verbatim in Extra.
var interpretedKeys = map[string]bool{
	"label": true, "program": true, "program-arguments": true,
	"on-demand": true, "run-at-load": true, "service-ipc": true,
	"inetd-compatibility": true, "environment-variables": true,
	"user-environment-variables": true, "working-directory": true,
	"root-directory": true, "user-name": true, "group-name": true,
	"init-groups": true, "session-create": true, "low-priority-io": true,
	"umask": true, "stdout-path": true, "stderr-path": true, "nice": true,
	"soft-resource-limits": true, "hard-resource-limits": true,
	"sockets": true, "watch-paths": true, "queue-directories": true,
	"start-interval": true, "start-calendar-interval": true,
	"timeout": true,
}

// Decode parses a mapping tree.Value into a Manifest. Returns
// InvalidArgument-flavored errors (via errors.Errorf) when required
// keys are missing, per spec.md §4.4's submit-job validation rule:
// "missing program and program-arguments -> InvalidArgument".
func Decode(label string, v *tree.Value) (*Manifest, error) {
	if v == nil || v.Kind != tree.KindMap {
		return nil, errors.New("manifest: expected a mapping")
	}

	m := &Manifest{Label: label, Extra: map[string]*tree.Value{}}

	if program, ok := v.GetString("program"); ok {
		m.Program = program
	}
	if args := v.Get("program-arguments"); args != nil && args.Kind == tree.KindArray {
		for _, a := range args.Array {
			if a.Kind == tree.KindString {
				m.Arguments = append(m.Arguments, a.String)
			}
		}
	}

	if m.Program == "" && len(m.Arguments) == 0 {
		return nil, errors.New("manifest: missing program and program-arguments")
	}
	if m.Program == "" {
		m.Program = m.Arguments[0]
	}

	m.OnDemand, _ = v.GetBool("on-demand")
	m.RunAtLoad, _ = v.GetBool("run-at-load")
	m.ServiceIPC, _ = v.GetBool("service-ipc")
	m.InetdCompat, _ = v.GetBool("inetd-compatibility")

	m.Environment = decodeStringMap(v.Get("environment-variables"))
	m.UserEnvironment = decodeStringMap(v.Get("user-environment-variables"))

	m.WorkingDirectory, _ = v.GetString("working-directory")
	m.RootDirectory, _ = v.GetString("root-directory")
	m.UserName, _ = v.GetString("user-name")
	m.GroupName, _ = v.GetString("group-name")
	m.InitGroups, _ = v.GetBool("init-groups")
	m.SessionCreate, _ = v.GetBool("session-create")
	m.LowPriorityIO, _ = v.GetBool("low-priority-io")

	if umask, ok := v.GetInt("umask"); ok {
		u := int(umask)
		m.Umask = &u
	}

	m.StdoutPath, _ = v.GetString("stdout-path")
	m.StderrPath, _ = v.GetString("stderr-path")

	if nice, ok := v.GetInt("nice"); ok {
		n := int(nice)
		m.Nice = &n
	}

	m.SoftRlimits = decodeRlimits(v.Get("soft-resource-limits"))
	m.HardRlimits = decodeRlimits(v.Get("hard-resource-limits"))

	m.Sockets = decodeSockets(v.Get("sockets"))
	m.WatchPaths = decodeStringArray(v.Get("watch-paths"))
	m.QueueDirectory = decodeStringArray(v.Get("queue-directories"))

	if iv, ok := v.GetInt("start-interval"); ok {
		m.StartInterval = int(iv)
	}

	if cal := v.Get("start-calendar-interval"); cal != nil && cal.Kind == tree.KindMap {
		spec := calendar.Spec{
			Month:      calendar.Wildcard,
			DayOfMonth: calendar.Wildcard,
			Weekday:    calendar.Wildcard,
			Hour:       calendar.Wildcard,
			Minute:     calendar.Wildcard,
		}
		if x, ok := cal.GetInt("month"); ok {
			spec.Month = int(x)
		}
		if x, ok := cal.GetInt("day"); ok {
			spec.DayOfMonth = int(x)
		}
		if x, ok := cal.GetInt("weekday"); ok {
			spec.Weekday = int(x)
		}
		if x, ok := cal.GetInt("hour"); ok {
			spec.Hour = int(x)
		}
		if x, ok := cal.GetInt("minute"); ok {
			spec.Minute = int(x)
		}
		m.StartCalendarInterval = &spec
	}

	if tv, ok := v.GetInt("timeout"); ok {
		m.TimeoutSeconds = int(tv)
	}

	for k, child := range v.Map {
		if !interpretedKeys[k] {
			m.Extra[k] = child
		}
	}

	return m, nil
}

func decodeStringMap(v *tree.Value) map[string]string {
	if v == nil || v.Kind != tree.KindMap {
		return nil
	}
	out := make(map[string]string, len(v.Map))
	for k, child := range v.Map {
		if child.Kind == tree.KindString {
			out[k] = child.String
		}
	}
	return out
}

func decodeStringArray(v *tree.Value) []string {
	if v == nil || v.Kind != tree.KindArray {
		return nil
	}
	out := make([]string, 0, len(v.Array))
	for _, e := range v.Array {
		if e.Kind == tree.KindString {
			out = append(out, e.String)
		}
	}
	return out
}

func decodeRlimits(v *tree.Value) []RlimitSpec {
	if v == nil || v.Kind != tree.KindMap {
		return nil
	}
	out := make([]RlimitSpec, 0, len(v.Map))
	for name, child := range v.Map {
		kind, ok := rlimitKindByName[name]
		if !ok || child.Kind != tree.KindMap {
			continue
		}
		spec := RlimitSpec{Kind: kind}
		if soft, ok := child.GetInt("soft"); ok {
			spec.Soft = uint64(soft)
		}
		if hard, ok := child.GetInt("hard"); ok {
			spec.Hard = uint64(hard)
		}
		out = append(out, spec)
	}
	return out
}

var rlimitKindByName = map[string]rlimit.Kind{
	"cpu": rlimit.CPU, "fsize": rlimit.FSize, "data": rlimit.Data,
	"stack": rlimit.Stack, "core": rlimit.Core, "rss": rlimit.RSS,
	"nproc": rlimit.NProc, "nofile": rlimit.NoFile,
	"memlock": rlimit.MemLck, "as": rlimit.AS,
}

func decodeSockets(v *tree.Value) map[string][]SocketSpec {
	if v == nil || v.Kind != tree.KindMap {
		return nil
	}
	out := make(map[string][]SocketSpec, len(v.Map))
	for group, arr := range v.Map {
		if arr.Kind != tree.KindArray {
			continue
		}
		specs := make([]SocketSpec, 0, len(arr.Array))
		for _, e := range arr.Array {
			if e.Kind != tree.KindMap {
				continue
			}
			spec := SocketSpec{Passive: true}
			if t, ok := e.GetString("type"); ok {
				spec.Type = t
			}
			if p, ok := e.GetString("pathname"); ok {
				spec.Pathname = p
			}
			if passive, ok := e.GetBool("passive"); ok {
				spec.Passive = passive
			}
			specs = append(specs, spec)
		}
		out[group] = specs
	}
	return out
}
