// Package tree implements the tagged data tree carried across the
// control socket and held inside job manifests: a small sum type whose
// leaves are null, bool, int64, float64, string, opaque bytes, a file
// descriptor, a port reference, plus array and map composites.
//
// A *Value is shared, not copied, on the common path: Clone is only
// needed when a caller must redact or mutate (get-job zeroing fd
// slots, set-stdout/set-stderr and workaround-bonjour keeping their own
// copy of a descriptor argument).
package tree

import "fmt"

// Kind identifies which field of a Value is meaningful.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindFD
	KindPort
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindFD:
		return "fd"
	case KindPort:
		return "port"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Descriptor is a handle around a file descriptor embedded in a tree.
// It is not reference-counted: Close is idempotent, so the descriptor
// is closed at most once however many holders call it. Encoding does
// not change the Value; the wire encoder reads the FD number and sends
// it out-of-band, and the in-memory Value keeps its Descriptor.
type Descriptor struct {
	FD     int
	closed bool
}

// Close closes the underlying descriptor. Safe to call more than once.
func (d *Descriptor) Close() error {
	if d == nil || d.closed {
		return nil
	}
	d.closed = true
	return closeFD(d.FD)
}

// Value is the tagged tree node. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64
	Float  float64
	String string
	Bytes  []byte
	FD     *Descriptor
	Port   uint64
	Array  []*Value
	Map    map[string]*Value
}

func Null() *Value                { return &Value{Kind: KindNull} }
func Bool(b bool) *Value          { return &Value{Kind: KindBool, Bool: b} }
func Int(i int64) *Value          { return &Value{Kind: KindInt, Int: i} }
func Float(f float64) *Value      { return &Value{Kind: KindFloat, Float: f} }
func String(s string) *Value      { return &Value{Kind: KindString, String: s} }
func Bytes(b []byte) *Value       { return &Value{Kind: KindBytes, Bytes: b} }
func FD(fd *Descriptor) *Value    { return &Value{Kind: KindFD, FD: fd} }
func Port(p uint64) *Value        { return &Value{Kind: KindPort, Port: p} }
func Array(vs ...*Value) *Value   { return &Value{Kind: KindArray, Array: vs} }
func Map(m map[string]*Value) *Value {
	if m == nil {
		m = map[string]*Value{}
	}
	return &Value{Kind: KindMap, Map: m}
}

// IsNull reports whether v is nil or an explicit null leaf.
func (v *Value) IsNull() bool { return v == nil || v.Kind == KindNull }

// Get looks up a key in a map Value. Returns nil (not a null Value) if
// v is not a map or the key is absent.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != KindMap {
		return nil
	}
	return v.Map[key]
}

// GetString is a convenience accessor returning ("", false) unless the
// key resolves to a string leaf.
func (v *Value) GetString(key string) (string, bool) {
	child := v.Get(key)
	if child == nil || child.Kind != KindString {
		return "", false
	}
	return child.String, true
}

// GetInt is the integer analogue of GetString.
func (v *Value) GetInt(key string) (int64, bool) {
	child := v.Get(key)
	if child == nil || child.Kind != KindInt {
		return 0, false
	}
	return child.Int, true
}

// GetBool is the bool analogue of GetString.
func (v *Value) GetBool(key string) (bool, bool) {
	child := v.Get(key)
	if child == nil || child.Kind != KindBool {
		return false, false
	}
	return child.Bool, true
}

// Clone performs a deep copy. File descriptors are duplicated via dup(2)
// so the clone owns an independent descriptor; redactFDs additionally
// strips fd leaves down to null, used by get-job's manifest copies.
func (v *Value) Clone(redactFDs bool) *Value {
	if v == nil {
		return nil
	}

	switch v.Kind {
	case KindArray:
		out := make([]*Value, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.Clone(redactFDs)
		}
		return &Value{Kind: KindArray, Array: out}

	case KindMap:
		out := make(map[string]*Value, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.Clone(redactFDs)
		}
		return &Value{Kind: KindMap, Map: out}

	case KindFD:
		if redactFDs || v.FD == nil {
			return &Value{Kind: KindNull}
		}
		dup, err := dupFD(v.FD.FD)
		if err != nil {
			return &Value{Kind: KindNull}
		}
		return &Value{Kind: KindFD, FD: &Descriptor{FD: dup}}

	default:
		cp := *v
		if v.Bytes != nil {
			cp.Bytes = append([]byte(nil), v.Bytes...)
		}
		return &cp
	}
}

// Equal compares two trees for structural equality. Descriptor identity
// is deliberately ignored — only Kind==KindFD vs not is compared —
// matching the round-trip property in spec.md §8 ("descriptor
// identities are allowed to differ").
func Equal(a, b *Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.String == b.String
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindFD:
		return true
	case KindPort:
		return a.Port == b.Port
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			if !Equal(av, b.Map[k]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
