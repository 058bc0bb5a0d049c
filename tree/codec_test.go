package tree

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []*Value{
		Null(),
		Bool(true),
		Int(-42),
		Float(3.5),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
		Port(7),
		Array(Int(1), String("x"), Bool(false)),
		Map(map[string]*Value{
			"a": Int(1),
			"b": Array(String("x"), Null()),
		}),
	}

	for _, in := range cases {
		body, fds, err := EncodeBody(in)
		if err != nil {
			t.Fatalf("encode %v: %v", in.Kind, err)
		}
		if len(fds) != 0 {
			t.Fatalf("unexpected fds for %v", in.Kind)
		}

		out, err := DecodeBody(body, fds)
		if err != nil {
			t.Fatalf("decode %v: %v", in.Kind, err)
		}

		if !Equal(in, out) {
			t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
		}
	}
}

func TestRoundTripFD(t *testing.T) {
	in := Map(map[string]*Value{
		"listener": FD(&Descriptor{FD: 99}),
		"label":    String("echo"),
	})

	body, fds, err := EncodeBody(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(fds) != 1 {
		t.Fatalf("expected 1 fd token, got %d", len(fds))
	}

	out, err := DecodeBody(body, fds)
	if err != nil {
		t.Fatal(err)
	}

	if !Equal(in, out) {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
	if out.Get("listener").Kind != KindFD {
		t.Fatalf("expected fd leaf to survive round trip")
	}
}
