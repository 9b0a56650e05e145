package hostenv

import (
	"path/filepath"
	"testing"

	"vpledger/internal/gas"
	"vpledger/internal/storage"
	"vpledger/internal/storedb"
	"vpledger/internal/storekey"
)

func openTestTxHost(t *testing.T) (*TxHost, *storage.Storage) {
	t.Helper()
	dir := t.TempDir()
	db, err := storedb.Open(filepath.Join(dir, "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st, err := storage.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.BeginBlock([32]byte{0x01}, 1); err != nil {
		t.Fatal(err)
	}
	meter := gas.NewMeter(10_000_000, 1_000_000)
	meter.BeginTx()
	return NewTxHost(st, meter), st
}

func TestTxHostWriteReadDelete(t *testing.T) {
	h, _ := openTestTxHost(t)
	k := storekey.MustNew("addr1", "balance")

	if err := h.Write(k, []byte("100")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Read(k)
	if err != nil || !ok || string(v) != "100" {
		t.Fatalf("read after write: %v %v %v", v, ok, err)
	}

	if err := h.Delete(k); err != nil {
		t.Fatal(err)
	}
	_, ok, err = h.Read(k)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected key absent after delete")
	}
}

func TestTxHostZeroLengthWriteIsObservable(t *testing.T) {
	h, _ := openTestTxHost(t)
	k := storekey.MustNew("empty")

	if err := h.Write(k, []byte{}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Read(k)
	if err != nil || !ok {
		t.Fatalf("expected zero-length value to be present: %v %v", ok, err)
	}
	if len(v) != 0 {
		t.Fatalf("expected empty bytes, got %q", v)
	}
}

func TestTxHostRejectsDirectVPKeyWrite(t *testing.T) {
	h, _ := openTestTxHost(t)
	if err := h.Write(storekey.VPKey("addr1"), []byte("code")); err == nil {
		t.Fatal("expected rejection of a direct vp_key write")
	}
}

func TestTxHostInitAccountStagesCodeAndAdvancesGenerator(t *testing.T) {
	h, _ := openTestTxHost(t)

	a1, err := h.InitAccount([]byte("rng1"), []byte("vp code"))
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Read(storekey.VPKey(a1.String()))
	if err != nil || !ok || string(v) != "vp code" {
		t.Fatalf("expected staged vp code for new account: %v %v %v", v, ok, err)
	}

	a2, err := h.InitAccount([]byte("rng1"), []byte("vp code"))
	if err != nil {
		t.Fatal(err)
	}
	if a1.Equal(a2) {
		t.Fatal("expected generator to advance between init_account calls")
	}
}

func TestTxHostInsertVerifier(t *testing.T) {
	h, _ := openTestTxHost(t)
	if err := h.InsertVerifier("some-addr"); err != nil {
		t.Fatal(err)
	}
	if !h.Verifiers["some-addr"] {
		t.Fatal("expected verifier recorded")
	}
}

func TestTxHostIterPrefixWalksStagedKeysInOrder(t *testing.T) {
	h, _ := openTestTxHost(t)
	for _, suffix := range []string{"2", "0", "1"} {
		if err := h.Write(storekey.MustNew("p", suffix), []byte(suffix)); err != nil {
			t.Fatal(err)
		}
	}

	id, err := h.IterPrefix(storekey.MustNew("p"))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for {
		k, _, ok, err := h.IterNext(id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, k.String())
	}
	want := []string{"p/0", "p/1", "p/2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ascending order %v, got %v", want, got)
		}
	}
}

func TestTxHostOutOfGasLeavesMeterUnchanged(t *testing.T) {
	dir := t.TempDir()
	db, err := storedb.Open(filepath.Join(dir, "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st, err := storage.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.BeginBlock([32]byte{}, 1); err != nil {
		t.Fatal(err)
	}
	meter := gas.NewMeter(10, 10)
	meter.BeginTx()
	h := NewTxHost(st, meter)

	if _, _, err := h.Read(storekey.MustNew("k")); err == nil {
		t.Fatal("expected out-of-gas error")
	}
	if meter.TxUsed() != 0 {
		t.Fatalf("rejected charge must not mutate the meter, used=%d", meter.TxUsed())
	}
}

func TestNewVPHostCarriesInstantiationContext(t *testing.T) {
	_, st := openTestTxHost(t)
	meter := gas.NewMeter(10_000, 10_000)
	keys := []storekey.Key{storekey.MustNew("a", "b")}
	verifiers := []string{"addr1", "addr2"}

	h := NewVPHost(st, meter, "addr1", []byte("tx data"), keys, verifiers)
	if h.Addr != "addr1" || string(h.TxData) != "tx data" {
		t.Fatalf("addr/tx_data not carried: %q %q", h.Addr, h.TxData)
	}
	if len(h.Keys) != 1 || !h.Keys[0].Equal(keys[0]) {
		t.Fatalf("keys_changed not carried: %v", h.Keys)
	}
	if len(h.Verifiers) != 2 || h.Verifiers[0] != "addr1" || h.Verifiers[1] != "addr2" {
		t.Fatalf("verifier set not carried: %v", h.Verifiers)
	}
}

func TestIterTableUnknownIDIsExhausted(t *testing.T) {
	tbl := NewIterTable()
	if _, ok := tbl.Next(42); ok {
		t.Fatal("expected unknown iterator id to read as exhausted")
	}
	id := tbl.Open([]storekey.Key{storekey.MustNew("a")})
	if _, ok := tbl.Next(id); !ok {
		t.Fatal("expected first Next to succeed")
	}
	if _, ok := tbl.Next(id); ok {
		t.Fatal("expected iterator exhausted after its only key")
	}
}
