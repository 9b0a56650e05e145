package storedb

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"vpledger/internal/address"
	"vpledger/internal/smt"
	"vpledger/internal/storekey"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWriteAndReadLastBlock(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetChainID("test_chain_id_000000"); err != nil {
		t.Fatal(err)
	}

	tree := smt.New()
	k := storekey.MustNew("addr1", "balance")
	tree.Set(smt.HashKey([]byte(k.String())), smt.HashValue([]byte("100")))

	subspaces := map[string][]byte{k.String(): []byte("100")}
	gen := address.NewGen("seed0000000000000000000000000000000000")

	var hash [32]byte
	hash[0] = 0xAB

	if err := db.WriteBlock(tree, hash, 100, subspaces, gen); err != nil {
		t.Fatal(err)
	}

	state, err := db.ReadLastBlock()
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("expected non-nil block state")
	}
	if state.Height != 100 {
		t.Fatalf("height = %d", state.Height)
	}
	if state.Hash != hash {
		t.Fatalf("hash mismatch")
	}
	if state.AddressGen.LastHash != gen.LastHash {
		t.Fatalf("gen mismatch")
	}
	v, ok := state.Subspaces[k.String()]
	if !ok || string(v) != "100" {
		t.Fatalf("subspace mismatch: %v %v", v, ok)
	}

	val, ok, err := db.Read(100, k)
	if err != nil || !ok || string(val) != "100" {
		t.Fatalf("Read mismatch: %v %v %v", val, ok, err)
	}
}

func TestIterPrefixAscendingOrder(t *testing.T) {
	db := openTestDB(t)
	tree := smt.New()
	subspaces := map[string][]byte{}
	for i := 0; i < 9; i++ {
		k := storekey.MustNew("p", string(rune('0'+i)))
		subspaces[k.String()] = []byte{byte(i)}
	}
	gen := address.NewGen("seed0000000000000000000000000000000000")
	if err := db.WriteBlock(tree, [32]byte{}, 1, subspaces, gen); err != nil {
		t.Fatal(err)
	}

	items, err := db.IterPrefix(1, storekey.MustNew("p"))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 9 {
		t.Fatalf("expected 9 items, got %d", len(items))
	}
	for i, it := range items {
		want := storekey.MustNew("p", string(rune('0'+i))).String()
		if it.Key != want {
			t.Fatalf("item %d: key=%q want=%q", i, it.Key, want)
		}
		if it.Gas != uint64(len(it.Key)+len(it.Value)) {
			t.Fatalf("gas mismatch for item %d", i)
		}
	}
}

func TestIterPrefixExactKeyMatch(t *testing.T) {
	db := openTestDB(t)
	tree := smt.New()
	k := storekey.MustNew("full", "key")
	subspaces := map[string][]byte{k.String(): []byte("v")}
	gen := address.NewGen("seed0000000000000000000000000000000000")
	if err := db.WriteBlock(tree, [32]byte{}, 1, subspaces, gen); err != nil {
		t.Fatal(err)
	}

	items, err := db.IterPrefix(1, k)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Key != k.String() {
		t.Fatalf("expected exactly one exact-match item, got %+v", items)
	}

	none, err := db.IterPrefix(1, storekey.MustNew("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result for absent prefix, got %+v", none)
	}
}

func TestMissingEssentialFieldIsFatal(t *testing.T) {
	db := openTestDB(t)
	// Manually corrupt by publishing a height pointer with no block rows
	// behind it: ReadLastBlock must report ErrCorrupt, never a partial
	// state.
	err := db.bdb.Update(func(tx *bolt.Tx) error {
		hbuf := make([]byte, 8)
		binary.BigEndian.PutUint64(hbuf, 7)
		return tx.Bucket(bucketMeta).Put([]byte("height"), hbuf)
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ReadLastBlock(); err == nil {
		t.Fatal("expected fatal error for block with missing essential fields")
	}
}
