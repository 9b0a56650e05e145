package writelog

import (
	"testing"

	"vpledger/internal/storekey"
)

type unlimitedGas struct{ used uint64 }

func (g *unlimitedGas) Consume(cost uint64) error {
	g.used += cost
	return nil
}

type memStorage map[string][]byte

func (m memStorage) Read(key storekey.Key) ([]byte, bool, error) {
	v, ok := m[key.String()]
	return v, ok, nil
}

type memWriter map[string][]byte

func (m memWriter) Write(key storekey.Key, value []byte) error {
	m[key.String()] = append([]byte(nil), value...)
	return nil
}

func (m memWriter) Delete(key storekey.Key) error {
	delete(m, key.String())
	return nil
}

func TestWriteThenReadVisibleInTxScope(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	k := storekey.MustNew("a", "b")

	if err := wl.Write(gas, k, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := wl.Read(memStorage{}, k)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("read mismatch: %v %v %v", v, ok, err)
	}
	if gas.used != uint64(k.Len()+2) {
		t.Fatalf("gas charged = %d", gas.used)
	}
}

func TestDropTxRevertsToPreTxState(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	k := storekey.MustNew("a")
	storage := memStorage{k.String(): []byte("committed")}

	if err := wl.Write(gas, k, []byte("staged")); err != nil {
		t.Fatal(err)
	}
	wl.DropTx()

	v, ok, err := wl.Read(storage, k)
	if err != nil || !ok || string(v) != "committed" {
		t.Fatalf("expected pre-tx committed value, got %v %v %v", v, ok, err)
	}
}

func TestCommitTxMergesIntoBlockScope(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	k := storekey.MustNew("a")

	if err := wl.Write(gas, k, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	wl.CommitTx()

	// tx scope now empty; subsequent DropTx must not undo the committed write.
	wl.DropTx()

	v, ok, err := wl.Read(memStorage{}, k)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("expected block-scope value to survive DropTx, got %v %v %v", v, ok, err)
	}
}

func TestDeleteTombstoneShadowsCommittedValue(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	k := storekey.MustNew("a")
	storage := memStorage{k.String(): []byte("committed")}

	if err := wl.Delete(gas, k); err != nil {
		t.Fatal(err)
	}
	_, ok, err := wl.Read(storage, k)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected delete tombstone to hide committed value")
	}
}

func TestGetKeysUnionIsDeduplicated(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	k1 := storekey.MustNew("a")
	k2 := storekey.MustNew("b")

	if err := wl.Write(gas, k1, []byte("1")); err != nil {
		t.Fatal(err)
	}
	wl.CommitTx()
	if err := wl.Write(gas, k1, []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := wl.Write(gas, k2, []byte("3")); err != nil {
		t.Fatal(err)
	}

	keys := wl.GetKeys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 distinct keys, got %d: %v", len(keys), keys)
	}
}

func TestCommitBlockAppliesWritesAndDeletesThenClears(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	kWrite := storekey.MustNew("w")
	kDelete := storekey.MustNew("d")

	writer := memWriter{kDelete.String(): []byte("old")}

	if err := wl.Write(gas, kWrite, []byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := wl.Delete(gas, kDelete); err != nil {
		t.Fatal(err)
	}
	wl.CommitTx()

	if err := wl.CommitBlock(writer); err != nil {
		t.Fatal(err)
	}

	if v, ok := writer[kWrite.String()]; !ok || string(v) != "new" {
		t.Fatalf("expected write applied, got %v %v", v, ok)
	}
	if _, ok := writer[kDelete.String()]; ok {
		t.Fatal("expected delete applied to backing writer")
	}
	if len(wl.GetKeys()) != 0 {
		t.Fatal("expected block scope cleared after CommitBlock")
	}
}

func TestInitAccountStagesVPCode(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	vpKey := storekey.VPKey("addr1")

	if err := wl.InitAccount(gas, vpKey, []byte("wasm-bytes")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := wl.Read(memStorage{}, vpKey)
	if err != nil || !ok || string(v) != "wasm-bytes" {
		t.Fatalf("expected staged VP code, got %v %v %v", v, ok, err)
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	wl := New()
	gas := &unlimitedGas{}
	k := storekey.MustNew("a")

	if err := wl.Write(gas, k, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	clone := wl.Clone()
	if err := clone.Write(gas, k, []byte("v2")); err != nil {
		t.Fatal(err)
	}

	v, _, _ := wl.Read(memStorage{}, k)
	if string(v) != "v1" {
		t.Fatalf("mutation to clone leaked into original: %s", v)
	}
}

type rejectingGas struct{}

func (rejectingGas) Consume(cost uint64) error {
	return &capacityError{cost: cost}
}

type capacityError struct{ cost uint64 }

func (e *capacityError) Error() string { return "out of gas" }

func TestWriteFailsWithoutStagingOnGasRejection(t *testing.T) {
	wl := New()
	k := storekey.MustNew("a")

	if err := wl.Write(rejectingGas{}, k, []byte("v")); err == nil {
		t.Fatal("expected gas rejection error")
	}
	if _, ok, _ := wl.Read(memStorage{}, k); ok {
		t.Fatal("expected no staged entry after gas rejection")
	}
}
