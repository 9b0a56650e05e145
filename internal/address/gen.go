package address

import (
	"crypto/sha256"
	"encoding/hex"
)

// Gen is the persistent established-address generator state: a single
// last_hash field seeded at genesis, advanced deterministically by
// Generate. Identical sequences of rngSource across nodes yield identical
// sequences of addresses.
type Gen struct {
	LastHash string `json:"last_hash"`
}

// NewGen seeds a generator with an initial last_hash value (genesis seed).
func NewGen(seed string) Gen {
	return Gen{LastHash: seed}
}

// Generate advances the generator and returns the next Established address:
//
//	last_hash <- first-40-hex-chars(SHA256(encode(self) || rngSource))
//
// where encode(self) is the generator's own current last_hash.
func (g *Gen) Generate(rngSource []byte) Address {
	h := sha256.New()
	h.Write([]byte(g.LastHash))
	h.Write(rngSource)
	sum := h.Sum(nil)
	next := hex.EncodeToString(sum)[:HashLen]
	g.LastHash = next
	addr, err := Established(next)
	if err != nil {
		// sum is always 32 bytes -> 64 hex chars, so next is always a
		// valid 40-hex-char slice; this cannot fail.
		panic(err)
	}
	return addr
}
