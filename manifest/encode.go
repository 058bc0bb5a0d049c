package manifest

import "github.com/ondemandd/ondemandd/tree"

// Encode converts m back into a tagged tree, suitable for a get-job
// reply. File descriptor leaves embedded in m.Extra (e.g. the
// workaround-bonjour reserved key) are redacted to null when redactFDs
// is set, matching spec.md §4.4's "deep copy of the manifest with all
// fd slots zeroed".
func (m *Manifest) Encode(redactFDs bool) *tree.Value {
	out := map[string]*tree.Value{
		"program":             tree.String(m.Program),
		"on-demand":           tree.Bool(m.OnDemand),
		"run-at-load":         tree.Bool(m.RunAtLoad),
		"service-ipc":         tree.Bool(m.ServiceIPC),
		"inetd-compatibility": tree.Bool(m.InetdCompat),
	}

	if len(m.Arguments) > 0 {
		args := make([]*tree.Value, len(m.Arguments))
		for i, a := range m.Arguments {
			args[i] = tree.String(a)
		}
		out["program-arguments"] = tree.Array(args...)
	}

	if m.Environment != nil {
		out["environment-variables"] = encodeStringMap(m.Environment)
	}
	if m.UserEnvironment != nil {
		out["user-environment-variables"] = encodeStringMap(m.UserEnvironment)
	}

	if m.WorkingDirectory != "" {
		out["working-directory"] = tree.String(m.WorkingDirectory)
	}
	if m.RootDirectory != "" {
		out["root-directory"] = tree.String(m.RootDirectory)
	}
	if m.UserName != "" {
		out["user-name"] = tree.String(m.UserName)
	}
	if m.GroupName != "" {
		out["group-name"] = tree.String(m.GroupName)
	}

	out["init-groups"] = tree.Bool(m.InitGroups)
	out["session-create"] = tree.Bool(m.SessionCreate)
	out["low-priority-io"] = tree.Bool(m.LowPriorityIO)

	if m.Umask != nil {
		out["umask"] = tree.Int(int64(*m.Umask))
	}
	if m.StdoutPath != "" {
		out["stdout-path"] = tree.String(m.StdoutPath)
	}
	if m.StderrPath != "" {
		out["stderr-path"] = tree.String(m.StderrPath)
	}
	if m.Nice != nil {
		out["nice"] = tree.Int(int64(*m.Nice))
	}

	if m.StartInterval != 0 {
		out["start-interval"] = tree.Int(int64(m.StartInterval))
	}
	if m.StartCalendarInterval != nil {
		cal := m.StartCalendarInterval
		calMap := map[string]*tree.Value{}
		if cal.Month != -1 {
			calMap["month"] = tree.Int(int64(cal.Month))
		}
		if cal.DayOfMonth != -1 {
			calMap["day"] = tree.Int(int64(cal.DayOfMonth))
		}
		if cal.Weekday != -1 {
			calMap["weekday"] = tree.Int(int64(cal.Weekday))
		}
		if cal.Hour != -1 {
			calMap["hour"] = tree.Int(int64(cal.Hour))
		}
		if cal.Minute != -1 {
			calMap["minute"] = tree.Int(int64(cal.Minute))
		}
		out["start-calendar-interval"] = tree.Map(calMap)
	}
	if m.TimeoutSeconds != 0 {
		out["timeout"] = tree.Int(int64(m.TimeoutSeconds))
	}

	if len(m.Sockets) > 0 {
		sockMap := map[string]*tree.Value{}
		for group, specs := range m.Sockets {
			arr := make([]*tree.Value, len(specs))
			for i, s := range specs {
				arr[i] = tree.Map(map[string]*tree.Value{
					"type":     tree.String(s.Type),
					"pathname": tree.String(s.Pathname),
					"passive":  tree.Bool(s.Passive),
				})
			}
			sockMap[group] = tree.Array(arr...)
		}
		out["sockets"] = tree.Map(sockMap)
	}

	if len(m.WatchPaths) > 0 {
		out["watch-paths"] = encodeStringArray(m.WatchPaths)
	}
	if len(m.QueueDirectory) > 0 {
		out["queue-directories"] = encodeStringArray(m.QueueDirectory)
	}

	for k, v := range m.Extra {
		out[k] = v.Clone(redactFDs)
	}

	return tree.Map(out)
}

func encodeStringMap(m map[string]string) *tree.Value {
	out := make(map[string]*tree.Value, len(m))
	for k, v := range m {
		out[k] = tree.String(v)
	}
	return tree.Map(out)
}

func encodeStringArray(ss []string) *tree.Value {
	out := make([]*tree.Value, len(ss))
	for i, s := range ss {
		out[i] = tree.String(s)
	}
	return tree.Array(out...)
}
