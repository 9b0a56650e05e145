package matchmaker

import (
	"crypto/ed25519"
	"testing"

	"vpledger/internal/gossip"
	"vpledger/internal/hostenv"
	"vpledger/internal/wireproto"
)

func TestNewRejectsNonWasmCode(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	_, err = New([]byte("not actually wasm"), []byte("tx code"), pub, priv, gossip.NewMempool(), nil, Options{})
	if err == nil {
		t.Fatalf("expected compile error for non-wasm matchmaker code")
	}
}

// testDriver builds a Driver without compiling any WASM, for exercising the
// channel/mempool plumbing in isolation.
func testDriver(t *testing.T) *Driver {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &Driver{
		txCode:   []byte("tx code"),
		signPub:  pub,
		signPriv: priv,
		mempool:  gossip.NewMempool(),
		out:      make(chan Outbound, outboundCapacity),
	}
}

func TestSendDeliversWithinCapacity(t *testing.T) {
	d := testDriver(t)
	d.send(hostenv.MMCommand{Kind: hostenv.MMUpdateData, State: []byte("s")})
	select {
	case ob := <-d.Outbound():
		if ob.Command.Kind != hostenv.MMUpdateData {
			t.Fatalf("unexpected command kind %d", ob.Command.Kind)
		}
		if ob.CorrelationID == "" {
			t.Fatalf("expected non-empty correlation id")
		}
	default:
		t.Fatalf("expected a command to be available on the outbound channel")
	}
}

func TestSendPanicsWhenChannelSaturated(t *testing.T) {
	d := testDriver(t)
	d.out = make(chan Outbound, 1)
	d.send(hostenv.MMCommand{Kind: hostenv.MMUpdateData, State: []byte("1")})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected send to panic when the outbound channel is saturated")
		}
	}()
	d.send(hostenv.MMCommand{Kind: hostenv.MMUpdateData, State: []byte("2")})
}

func TestApplyUpdateDataReplacesState(t *testing.T) {
	d := testDriver(t)
	d.state = []byte("old")
	if err := d.apply(hostenv.MMCommand{Kind: hostenv.MMUpdateData, State: []byte("new")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(d.state) != "new" {
		t.Fatalf("expected state to be replaced, got %q", d.state)
	}
	select {
	case ob := <-d.Outbound():
		if ob.Command.Kind != hostenv.MMUpdateData {
			t.Fatalf("unexpected forwarded command kind %d", ob.Command.Kind)
		}
	default:
		t.Fatalf("expected UpdateData to also be forwarded on the outbound channel")
	}
}

func TestApplyRemoveIntentsUpdatesMempoolAndSends(t *testing.T) {
	d := testDriver(t)
	id := d.mempool.Put(wireproto.Intent{Data: []byte("x"), Timestamp: 1})
	if err := d.apply(hostenv.MMCommand{Kind: hostenv.MMRemoveIntents, IntentIDs: []string{id}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.mempool.Contains(id) {
		t.Fatalf("expected intent to be removed from the mempool")
	}
	select {
	case ob := <-d.Outbound():
		if ob.Command.Kind != hostenv.MMRemoveIntents {
			t.Fatalf("unexpected forwarded command kind %d", ob.Command.Kind)
		}
	default:
		t.Fatalf("expected RemoveIntents to also be forwarded on the outbound channel")
	}
}
