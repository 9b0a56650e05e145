package storekey

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"a", "a/b/c", "balance/token/addr1"}
	for _, s := range cases {
		k, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := k.String(); got != s {
			t.Fatalf("round trip: got %q want %q", got, s)
		}
	}
}

func TestInvalidSegments(t *testing.T) {
	if _, err := New("a/b"); err == nil {
		t.Fatal("expected error for segment containing '/'")
	}
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty segment")
	}
	if _, err := New("a", string([]byte{0xff, 0xfe})); err == nil {
		t.Fatal("expected error for non-UTF-8 segment")
	}
}

func TestVPKey(t *testing.T) {
	k := VPKey("addr1")
	if !k.IsVP() {
		t.Fatal("expected VP key")
	}
	lead, ok := k.LeadingSegment()
	if !ok || lead != "addr1" {
		t.Fatalf("leading segment = %q, %v", lead, ok)
	}
	if k.String() != "addr1/?" {
		t.Fatalf("got %q", k.String())
	}
}

func TestPush(t *testing.T) {
	base := MustNew("a", "b")
	next, err := base.Push("c")
	if err != nil {
		t.Fatal(err)
	}
	if next.String() != "a/b/c" {
		t.Fatalf("got %q", next.String())
	}
	// base unchanged
	if base.String() != "a/b" {
		t.Fatalf("base mutated: %q", base.String())
	}
}
