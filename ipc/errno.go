// Package ipc implements the control-socket server: wire framing,
// dispatch, and the verb handlers of spec.md §4.4. Grounded on
// Toboxos-clawrden/pkg/protocol's frame shape and
// Toboxos-clawrden/internal/warden's connection/dispatch idiom, since
// the teacher repo has no IPC layer of its own.
package ipc

import "fmt"

// Kind is the closed set of error kinds spec.md §7 names.
type Kind int

const (
	None Kind = iota
	NotFound
	Exists
	InvalidArgument
	PermissionDenied
	NotImplemented
	Transient
)

// Errno is the wire-encodable error every verb handler returns. A nil
// *Errno and a non-nil *Errno with Kind == None both mean success; the
// distinction only matters for Go idiom (nil satisfies the usual "if
// err != nil" check).
type Errno struct {
	Kind   Kind
	Detail string
}

func (e *Errno) Error() string {
	if e == nil || e.Kind == None {
		return "ok"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

// Code returns the wire integer for the error kind; 0 is None/success.
func (e *Errno) Code() int {
	if e == nil {
		return int(None)
	}
	return int(e.Kind)
}

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case NotFound:
		return "not found"
	case Exists:
		return "exists"
	case InvalidArgument:
		return "invalid argument"
	case PermissionDenied:
		return "permission denied"
	case NotImplemented:
		return "not implemented"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("errno(%d)", int(k))
	}
}

func errnoOf(kind Kind, detail string) *Errno {
	if kind == None {
		return nil
	}
	return &Errno{Kind: kind, Detail: detail}
}
