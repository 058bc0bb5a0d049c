package tree

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// wireNode is the CBOR-serializable shadow of Value. FD leaves never
// appear here directly — EncodeBody replaces them with fdToken before
// marshaling, and the real descriptors travel out-of-band (see
// ipc/wire.go). Port is carried as a plain uint64 since it has no
// kernel-level transfer semantics of its own.
type wireNode struct {
	K int               `cbor:"k"`
	B bool              `cbor:"b,omitempty"`
	I int64             `cbor:"i,omitempty"`
	F float64           `cbor:"f,omitempty"`
	S string            `cbor:"s,omitempty"`
	Y []byte            `cbor:"y,omitempty"`
	P uint64            `cbor:"p,omitempty"`
	X int               `cbor:"x,omitempty"` // fd token index
	A []*wireNode       `cbor:"a,omitempty"`
	M map[string]*wireNode `cbor:"m,omitempty"`
}

// EncodeBody flattens v into CBOR bytes suitable for the in-band
// portion of a framed message, and returns the ordered list of
// descriptors that must be sent alongside as ancillary data. The
// returned descriptors are in the order their fdToken placeholders
// appear in the body, which is also the order the decoder must
// install them back in.
func EncodeBody(v *Value) (body []byte, fds []*Descriptor, err error) {
	node := toWire(v, &fds)
	body, err = cbor.Marshal(node)
	if err != nil {
		return nil, nil, errors.Wrap(err, "tree: encode body")
	}
	return body, fds, nil
}

// DecodeBody reverses EncodeBody: it parses the CBOR body and installs
// fds (in order) back into the fd-token placeholders.
func DecodeBody(body []byte, fds []*Descriptor) (*Value, error) {
	var node wireNode
	if err := cbor.Unmarshal(body, &node); err != nil {
		return nil, errors.Wrap(err, "tree: decode body")
	}
	return fromWire(&node, fds)
}

func toWire(v *Value, fds *[]*Descriptor) *wireNode {
	if v.IsNull() {
		return &wireNode{K: int(KindNull)}
	}

	switch v.Kind {
	case KindBool:
		return &wireNode{K: int(KindBool), B: v.Bool}
	case KindInt:
		return &wireNode{K: int(KindInt), I: v.Int}
	case KindFloat:
		return &wireNode{K: int(KindFloat), F: v.Float}
	case KindString:
		return &wireNode{K: int(KindString), S: v.String}
	case KindBytes:
		return &wireNode{K: int(KindBytes), Y: v.Bytes}
	case KindPort:
		return &wireNode{K: int(KindPort), P: v.Port}
	case KindFD:
		idx := len(*fds)
		*fds = append(*fds, v.FD)
		return &wireNode{K: int(KindFD), X: idx}
	case KindArray:
		out := make([]*wireNode, len(v.Array))
		for i, e := range v.Array {
			out[i] = toWire(e, fds)
		}
		return &wireNode{K: int(KindArray), A: out}
	case KindMap:
		out := make(map[string]*wireNode, len(v.Map))
		for k, e := range v.Map {
			out[k] = toWire(e, fds)
		}
		return &wireNode{K: int(KindMap), M: out}
	default:
		return &wireNode{K: int(KindNull)}
	}
}

func fromWire(n *wireNode, fds []*Descriptor) (*Value, error) {
	if n == nil {
		return Null(), nil
	}

	switch Kind(n.K) {
	case KindNull:
		return Null(), nil
	case KindBool:
		return Bool(n.B), nil
	case KindInt:
		return Int(n.I), nil
	case KindFloat:
		return Float(n.F), nil
	case KindString:
		return String(n.S), nil
	case KindBytes:
		return Bytes(n.Y), nil
	case KindPort:
		return Port(n.P), nil
	case KindFD:
		if n.X < 0 || n.X >= len(fds) {
			return nil, errors.Errorf("tree: fd token %d out of range (%d fds)", n.X, len(fds))
		}
		return FD(fds[n.X]), nil
	case KindArray:
		out := make([]*Value, len(n.A))
		for i, e := range n.A {
			cv, err := fromWire(e, fds)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return &Value{Kind: KindArray, Array: out}, nil
	case KindMap:
		out := make(map[string]*Value, len(n.M))
		for k, e := range n.M {
			cv, err := fromWire(e, fds)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return &Value{Kind: KindMap, Map: out}, nil
	default:
		return nil, errors.Errorf("tree: unknown wire kind %d", n.K)
	}
}
