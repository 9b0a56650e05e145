package storage

import (
	"path/filepath"
	"testing"

	"vpledger/internal/storedb"
	"vpledger/internal/storekey"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	db, err := storedb.Open(filepath.Join(dir, "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := Open(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInitChainThenCommitPersistsSeedAccounts(t *testing.T) {
	s := openTestStorage(t)
	k := storekey.MustNew("addr1", "balance")

	if err := s.InitChain("test_chain_id_000000", map[string][]byte{k.String(): []byte("100")}); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBlock([32]byte{0x01}, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	v, ok, err := s.ReadPre(k)
	if err != nil || !ok || string(v) != "100" {
		t.Fatalf("ReadPre after commit: %v %v %v", v, ok, err)
	}
}

func TestCommitOutsideBlockIsError(t *testing.T) {
	s := openTestStorage(t)
	if _, err := s.Commit(); err != ErrNoBlockInProgress {
		t.Fatalf("expected ErrNoBlockInProgress, got %v", err)
	}
}

func TestBeginBlockTwiceIsError(t *testing.T) {
	s := openTestStorage(t)
	if err := s.BeginBlock([32]byte{}, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBlock([32]byte{}, 2); err != ErrBlockInProgress {
		t.Fatalf("expected ErrBlockInProgress, got %v", err)
	}
}

func TestPreViewIsFrozenDuringBlock(t *testing.T) {
	s := openTestStorage(t)
	k := storekey.MustNew("a")

	if err := s.InitChain("test_chain_id_000000", map[string][]byte{k.String(): []byte("v0")}); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBlock([32]byte{}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := s.BeginBlock([32]byte{}, 2); err != nil {
		t.Fatal(err)
	}
	gas := &unlimitedGasForTest{}
	if err := s.WriteLog().Write(gas, k, []byte("v1")); err != nil {
		t.Fatal(err)
	}

	pre, ok, err := s.ReadPre(k)
	if err != nil || !ok || string(pre) != "v0" {
		t.Fatalf("expected frozen pre view v0, got %v %v %v", pre, ok, err)
	}
	post, ok, err := s.ReadPost(k)
	if err != nil || !ok || string(post) != "v1" {
		t.Fatalf("expected post view v1, got %v %v %v", post, ok, err)
	}
}

func TestRestartReplaysLastCommittedBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv.db")
	k := storekey.MustNew("a")

	db1, err := storedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s1, err := Open(db1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.InitChain("test_chain_id_000000", map[string][]byte{k.String(): []byte("1")}); err != nil {
		t.Fatal(err)
	}
	if err := s1.BeginBlock([32]byte{0xAB}, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := s1.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := db1.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := storedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	s2, err := Open(db2)
	if err != nil {
		t.Fatal(err)
	}
	_, height, ok := s2.LastCommitted()
	if !ok || height != 100 {
		t.Fatalf("expected restored height=100, got %d %v", height, ok)
	}
	v, ok, err := s2.ReadPre(k)
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("expected restored value, got %v %v %v", v, ok, err)
	}
}

// TestIterPrefixPostOrdersAscendingBySuffix checks that under
// a shared prefix, iteration yields keys in ascending suffix order,
// regardless of write order or whether a key lives in the committed
// snapshot or the open block's write-log overlay.
func TestIterPrefixPostOrdersAscendingBySuffix(t *testing.T) {
	s := openTestStorage(t)
	p2 := storekey.MustNew("p", "2")
	p0 := storekey.MustNew("p", "0")

	if err := s.InitChain("test_chain_id_000000", map[string][]byte{p2.String(): []byte("v2")}); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBlock([32]byte{}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := s.BeginBlock([32]byte{}, 2); err != nil {
		t.Fatal(err)
	}
	gas := &unlimitedGasForTest{}
	p1 := storekey.MustNew("p", "1")
	if err := s.WriteLog().Write(gas, p1, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLog().Write(gas, p0, []byte("v0")); err != nil {
		t.Fatal(err)
	}

	keys, err := s.IterPrefixPost(storekey.MustNew("p"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys under prefix p, got %d (%v)", len(keys), keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].String() >= keys[i].String() {
			t.Fatalf("expected ascending suffix order, got %v", keys)
		}
	}
}

type unlimitedGasForTest struct{}

func (unlimitedGasForTest) Consume(uint64) error { return nil }
