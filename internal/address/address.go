// Package address implements the tagged Address variant, its Bech32m wire
// encoding, and the deterministic established-address generator.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// HRP is the Bech32m human-readable prefix for all ledger addresses.
const HRP = "a"

// HashLen is the required length, in hex characters, of the 40-hex-char
// hash identity carried by both address variants.
const HashLen = 40

// Kind tags which address variant a value holds.
type Kind uint8

const (
	// KindEstablished is an on-chain-generated address.
	KindEstablished Kind = iota
	// KindImplicit is derived from an Ed25519 public-key hash.
	KindImplicit
)

// Address is the tagged Established/Implicit variant.
type Address struct {
	kind Kind
	hash string // 40 hex chars
}

// Established builds an Established address from its 40-hex-char hash.
func Established(hash string) (Address, error) {
	if err := checkHash(hash); err != nil {
		return Address{}, err
	}
	return Address{kind: KindEstablished, hash: hash}, nil
}

// Implicit builds an Implicit address from an Ed25519 public key, taking
// the leading 40 hex chars of SHA-256(pk) as its identity.
func Implicit(pubKey []byte) Address {
	sum := sha256.Sum256(pubKey)
	return Address{kind: KindImplicit, hash: hex.EncodeToString(sum[:])[:HashLen]}
}

func checkHash(hash string) error {
	if len(hash) != HashLen {
		return fmt.Errorf("address: hash must be %d hex chars, got %d", HashLen, len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("address: hash is not valid hex: %w", err)
	}
	return nil
}

// Kind reports the address variant.
func (a Address) Kind() Kind { return a.kind }

// Hash returns the 40-hex-char identity.
func (a Address) Hash() string { return a.hash }

// bytes returns the canonical byte form: a 1-byte variant tag followed by
// the raw (20-byte) decoded hash, which Bech32m then encodes.
func (a Address) bytes() ([]byte, error) {
	raw, err := hex.DecodeString(a.hash)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(raw))
	out = append(out, byte(a.kind))
	out = append(out, raw...)
	return out, nil
}

// Encode returns the Bech32m encoding of a, HRP "a".
func (a Address) Encode() (string, error) {
	b, err := a.bytes()
	if err != nil {
		return "", err
	}
	return EncodeM(HRP, b)
}

// String implements fmt.Stringer, returning "<invalid address>" if the
// address was built with an invalid hash (which the constructors above
// prevent).
func (a Address) String() string {
	s, err := a.Encode()
	if err != nil {
		return "<invalid address>"
	}
	return s
}

// ErrWrongVariant is returned by Decode when the checksum is valid but the
// decoded variant tag is unrecognised.
var ErrWrongVariant = errors.New("address: unknown variant tag")

// Decode parses a Bech32m-encoded address, enforcing HRP "a" and
// hash-length 40.
func Decode(s string) (Address, error) {
	raw, err := DecodeM(HRP, s)
	if err != nil {
		return Address{}, fmt.Errorf("address: %w", err)
	}
	if len(raw) < 1 {
		return Address{}, fmt.Errorf("address: empty payload")
	}
	kind := Kind(raw[0])
	hashBytes := raw[1:]
	hash := hex.EncodeToString(hashBytes)
	if len(hash) != HashLen {
		return Address{}, fmt.Errorf("address: decoded hash length %d != %d", len(hash), HashLen)
	}
	switch kind {
	case KindEstablished, KindImplicit:
		return Address{kind: kind, hash: hash}, nil
	default:
		return Address{}, fmt.Errorf("%w: %d", ErrWrongVariant, kind)
	}
}

// Equal reports whether two addresses denote the same variant and identity.
func (a Address) Equal(other Address) bool {
	return a.kind == other.kind && a.hash == other.hash
}
