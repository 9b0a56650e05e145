package shell

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"vpledger/internal/storage"
	"vpledger/internal/storedb"
	"vpledger/internal/storekey"
	"vpledger/internal/wireproto"
)

func openTestShell(t *testing.T) *Shell {
	t.Helper()
	dir := t.TempDir()
	db, err := storedb.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("storedb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := storage.Open(db)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return New(st, GasLimits{Block: 10_000_000, Tx: 1_000_000})
}

func TestApplyTxOutsideBlockIsWrongState(t *testing.T) {
	s := openTestShell(t)
	if _, _, err := s.ApplyTx([]byte("anything")); err == nil {
		t.Fatalf("expected ErrWrongState, got nil")
	} else if _, ok := err.(*ErrWrongState); !ok {
		t.Fatalf("expected *ErrWrongState, got %T: %v", err, err)
	}
}

func TestCommitWithoutBeginBlockIsWrongState(t *testing.T) {
	s := openTestShell(t)
	if _, err := s.Commit(); err == nil {
		t.Fatalf("expected ErrWrongState, got nil")
	}
}

func TestBeginBlockTwiceIsWrongState(t *testing.T) {
	s := openTestShell(t)
	if err := s.BeginBlock([32]byte{1}, 1); err != nil {
		t.Fatalf("first BeginBlock: %v", err)
	}
	if err := s.BeginBlock([32]byte{2}, 2); err == nil {
		t.Fatalf("expected ErrWrongState on second BeginBlock")
	}
}

func TestInitChainAfterBlockOpenIsWrongState(t *testing.T) {
	s := openTestShell(t)
	if err := s.BeginBlock([32]byte{1}, 1); err != nil {
		t.Fatalf("BeginBlock: %v", err)
	}
	if err := s.InitChain("chain-1", nil); err == nil {
		t.Fatalf("expected ErrWrongState for InitChain mid-block")
	}
}

func TestApplyTxMalformedEnvelopeIsRejectedWithoutMutatingState(t *testing.T) {
	s := openTestShell(t)
	if err := s.BeginBlock([32]byte{1}, 1); err != nil {
		t.Fatalf("BeginBlock: %v", err)
	}
	_, res, err := s.ApplyTx([]byte{0xff, 0xff, 0xff})
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if res.Accepted {
		t.Fatalf("malformed tx must not be accepted")
	}
	if used := s.meter.BlockUsed(); used != 0 {
		t.Fatalf("malformed tx must not consume block gas, used %d", used)
	}
	if keys := s.st.WriteLog().GetKeys(); len(keys) != 0 {
		t.Fatalf("malformed tx must not stage writes, got %v", keys)
	}
}

func TestDryRunTxDoesNotMutateShellState(t *testing.T) {
	s := openTestShell(t)
	if err := s.BeginBlock([32]byte{1}, 1); err != nil {
		t.Fatalf("BeginBlock: %v", err)
	}
	before := s.meter.BlockUsed()
	tx := wireproto.Tx{Code: []byte("not actually wasm"), Timestamp: 1}
	txBytes := wireproto.EncodeTx(tx)
	if _, _, err := s.DryRunTx(txBytes); err == nil {
		t.Fatalf("expected compile error from non-wasm code")
	}
	if s.meter.BlockUsed() != before {
		t.Fatalf("dry run must not affect the real block gas meter: before=%d after=%d", before, s.meter.BlockUsed())
	}
}

func TestEncodeKeysRoundTripsThroughNewlineJoin(t *testing.T) {
	k1 := storekey.MustNew("a", "b")
	k2 := storekey.MustNew("c")
	blob := encodeKeys([]storekey.Key{k1, k2})
	want := "a/b\nc"
	if string(blob) != want {
		t.Fatalf("encodeKeys = %q, want %q", blob, want)
	}
}

func TestEncodeKeysEmpty(t *testing.T) {
	if blob := encodeKeys(nil); len(blob) != 0 {
		t.Fatalf("expected empty blob, got %q", blob)
	}
}

func TestStructuralValidatorAcceptsWellFormedTx(t *testing.T) {
	tx := wireproto.Tx{Code: []byte("c"), Timestamp: 1}
	if err := (StructuralValidator{}).Validate(wireproto.EncodeTx(tx), ValidateNew); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructuralValidatorRejectsMalformedTx(t *testing.T) {
	if err := (StructuralValidator{}).Validate([]byte{0xff, 0xff}, ValidateNew); err == nil {
		t.Fatalf("expected error for malformed tx")
	}
}

func TestSignatureValidatorAcceptsValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	data := []byte("payload")
	sig := ed25519.Sign(priv, data)
	signed := wireproto.SignedTxData{Data: data, Signature: sig, PublicKey: pub}
	tx := wireproto.Tx{Code: []byte("c"), Data: wireproto.EncodeSignedTxData(signed), Timestamp: 1}
	if err := (SignatureValidator{}).Validate(wireproto.EncodeTx(tx), ValidateNew); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSignatureValidatorRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig := ed25519.Sign(priv, []byte("payload"))
	signed := wireproto.SignedTxData{Data: []byte("different payload"), Signature: sig, PublicKey: pub}
	tx := wireproto.Tx{Code: []byte("c"), Data: wireproto.EncodeSignedTxData(signed), Timestamp: 1}
	if err := (SignatureValidator{}).Validate(wireproto.EncodeTx(tx), ValidateNew); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestVerifyEd25519RejectsWrongLengthKeys(t *testing.T) {
	if verifyEd25519([]byte("short"), []byte("data"), []byte("sig")) {
		t.Fatalf("expected false for malformed key/sig lengths")
	}
}

