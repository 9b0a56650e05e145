package shell

import (
	"crypto/ed25519"
	"fmt"

	"vpledger/internal/wireproto"
)

// ValidateKind distinguishes a fresh mempool admission from a recheck of an
// already-admitted tx.
type ValidateKind int

const (
	ValidateNew ValidateKind = iota
	ValidateRecheck
)

// MempoolValidator is the pluggable depth mempool validation runs at: an
// interface with a decode-only default, so operators can compose stricter
// checks (e.g. SignatureValidator below) without forking the mempool.
type MempoolValidator interface {
	Validate(txBytes []byte, kind ValidateKind) error
}

// StructuralValidator decodes the Tx envelope and nothing else. Mempool
// validation is advisory; nothing is persisted.
type StructuralValidator struct{}

func (StructuralValidator) Validate(txBytes []byte, _ ValidateKind) error {
	_, err := wireproto.DecodeTx(txBytes)
	if err != nil {
		return fmt.Errorf("mempool: %w", err)
	}
	return nil
}

// SignatureValidator additionally requires tx.Data to decode as a
// SignedTxData whose signature verifies against its own public key: a
// stricter check an operator can opt into, not wired by default.
type SignatureValidator struct{}

func (SignatureValidator) Validate(txBytes []byte, kind ValidateKind) error {
	tx, err := wireproto.DecodeTx(txBytes)
	if err != nil {
		return fmt.Errorf("mempool: %w", err)
	}
	if tx.Data == nil {
		return fmt.Errorf("mempool: signature validation requires tx.data")
	}
	signed, err := wireproto.DecodeSignedTxData(tx.Data)
	if err != nil {
		return fmt.Errorf("mempool: decode signed tx data: %w", err)
	}
	if len(signed.PublicKey) != ed25519.PublicKeySize || len(signed.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("mempool: malformed signature or public key")
	}
	if !ed25519.Verify(ed25519.PublicKey(signed.PublicKey), signed.Data, signed.Signature) {
		return fmt.Errorf("mempool: signature verification failed")
	}
	return nil
}
