package gas

import "testing"

func TestConsumeWithinLimit(t *testing.T) {
	m := NewMeter(1000, 500)
	m.BeginTx()
	if err := m.Consume(100); err != nil {
		t.Fatal(err)
	}
	if m.TxUsed() != 100 || m.BlockUsed() != 100 {
		t.Fatalf("unexpected usage: tx=%d block=%d", m.TxUsed(), m.BlockUsed())
	}
}

func TestConsumeSaturatesAtTxLimit(t *testing.T) {
	m := NewMeter(1000, 100)
	m.BeginTx()
	if err := m.Consume(50); err != nil {
		t.Fatal(err)
	}
	if err := m.Consume(51); err == nil {
		t.Fatal("expected out-of-gas error")
	}
	// rejected charge must not mutate state
	if m.TxUsed() != 50 {
		t.Fatalf("tx used mutated on rejected charge: %d", m.TxUsed())
	}
}

func TestConsumeSaturatesAtBlockLimit(t *testing.T) {
	m := NewMeter(100, 1000)
	m.BeginTx()
	if err := m.Consume(60); err != nil {
		t.Fatal(err)
	}
	m.BeginTx()
	if err := m.Consume(60); err == nil {
		t.Fatal("expected block-level out-of-gas error")
	}
	if m.BlockUsed() != 60 {
		t.Fatalf("block used mutated on rejected charge: %d", m.BlockUsed())
	}
}

func TestBeginTxResetsOnlyTxCounter(t *testing.T) {
	m := NewMeter(1000, 100)
	m.BeginTx()
	_ = m.Consume(40)
	m.BeginTx()
	if m.TxUsed() != 0 {
		t.Fatalf("tx counter not reset: %d", m.TxUsed())
	}
	if m.BlockUsed() != 40 {
		t.Fatalf("block counter should persist across txs: %d", m.BlockUsed())
	}
}

func TestMissingOpcodeFallsBackToDefault(t *testing.T) {
	if BaseCost(HostCall("unknown_op")) != DefaultCost {
		t.Fatal("expected default cost for unpriced call")
	}
}
