package gossip

import (
	"testing"

	"vpledger/internal/wireproto"
)

func TestComputeIntentIDIsDeterministic(t *testing.T) {
	in := wireproto.Intent{Data: []byte("hello"), Timestamp: 42}
	id1 := ComputeIntentID(in)
	id2 := ComputeIntentID(in)
	if id1 != id2 {
		t.Fatalf("expected deterministic id, got %q and %q", id1, id2)
	}
}

func TestComputeIntentIDDiffersOnTimestamp(t *testing.T) {
	a := ComputeIntentID(wireproto.Intent{Data: []byte("hello"), Timestamp: 1})
	b := ComputeIntentID(wireproto.Intent{Data: []byte("hello"), Timestamp: 2})
	if a == b {
		t.Fatalf("expected different ids for different timestamps, both %q", a)
	}
}

func TestMempoolPutRemoveContainsIsIdempotent(t *testing.T) {
	m := NewMempool()
	in := wireproto.Intent{Data: []byte("x"), Timestamp: 1}
	id := m.Put(in)
	if !m.Contains(id) {
		t.Fatalf("expected mempool to contain %q after Put", id)
	}
	// idempotent re-put
	id2 := m.Put(in)
	if id != id2 {
		t.Fatalf("expected Put to be idempotent, got %q then %q", id, id2)
	}
	if m.Len() != 1 {
		t.Fatalf("expected len 1, got %d", m.Len())
	}
	m.Remove(id)
	if m.Contains(id) {
		t.Fatalf("expected mempool not to contain %q after Remove", id)
	}
	// removing an absent id is a no-op
	m.Remove(id)
	if m.Len() != 0 {
		t.Fatalf("expected len 0, got %d", m.Len())
	}
}

func TestMempoolRemoveAll(t *testing.T) {
	m := NewMempool()
	id1 := m.Put(wireproto.Intent{Data: []byte("a"), Timestamp: 1})
	id2 := m.Put(wireproto.Intent{Data: []byte("b"), Timestamp: 2})
	m.RemoveAll([]string{id1, id2, "nonexistent"})
	if m.Len() != 0 {
		t.Fatalf("expected empty mempool after RemoveAll, got %d", m.Len())
	}
}

func TestNilFilterAcceptsAll(t *testing.T) {
	var f *Filter
	ok, err := f.Apply([]byte("anything"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected nil filter to accept everything")
	}
}

func TestCompileFilterRejectsNonWasm(t *testing.T) {
	if _, err := CompileFilter([]byte("not actually wasm")); err == nil {
		t.Fatalf("expected compile error for non-wasm bytes")
	}
}

type recordingMatchRunner struct {
	calls []string
}

func (r *recordingMatchRunner) TryMatch(intentID string, in wireproto.Intent) error {
	r.calls = append(r.calls, intentID)
	return nil
}

func TestServerHandleIntentGossipMessageAdmitsAndRunsMatchmaker(t *testing.T) {
	mm := &recordingMatchRunner{}
	s := NewServer(nil, mm)

	in := wireproto.Intent{Data: []byte("order"), Timestamp: 7}
	msg := wireproto.IntentGossipMessage{Intent: &in}
	raw := wireproto.EncodeIntentGossipMessage(msg)

	if err := s.HandleIntentGossipMessage(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Mempool.Len() != 1 {
		t.Fatalf("expected 1 intent admitted, got %d", s.Mempool.Len())
	}
	if len(mm.calls) != 1 {
		t.Fatalf("expected matchmaker to run once, ran %d times", len(mm.calls))
	}
}

func TestServerHandleIntentGossipMessageAbsentVariantIsNoop(t *testing.T) {
	mm := &recordingMatchRunner{}
	s := NewServer(nil, mm)

	raw := wireproto.EncodeIntentGossipMessage(wireproto.IntentGossipMessage{})
	if err := s.HandleIntentGossipMessage(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Mempool.Len() != 0 {
		t.Fatalf("expected no admission for an absent intent variant")
	}
	if len(mm.calls) != 0 {
		t.Fatalf("expected matchmaker not to run")
	}
}

func TestServerHandleIntentGossipMessageMalformedBytesIsError(t *testing.T) {
	s := NewServer(nil, nil)
	if err := s.HandleIntentGossipMessage([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatalf("expected decode error")
	}
}
