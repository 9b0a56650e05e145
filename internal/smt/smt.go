// Package smt implements the sparse Merkle tree committing the ledger's
// storage: a map H256 -> H256 over Blake2b-256-hashed (key, value) pairs,
// personalized with "anoma storage".
package smt

import (
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Personal is the storage domain-separation tag. golang.org/x/crypto/
// blake2b's exported API does not surface BLAKE2's native personalization
// field, so personalization is applied as a domain-separating prefix to the
// hashed bytes; the resulting digest is still Blake2b-256 as specified.
const Personal = "anoma storage"

// H256 is a 32-byte tree key or value hash.
type H256 [32]byte

func hashWithPersonal(data []byte) H256 {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on invalid key length; nil key is
		// always accepted.
		panic(err)
	}
	h.Write([]byte(Personal))
	h.Write(data)
	var out H256
	copy(out[:], h.Sum(nil))
	return out
}

// HashKey computes hash_key(key) = Blake2b-256(personal, encode(key)).
func HashKey(encodedKey []byte) H256 { return hashWithPersonal(encodedKey) }

// HashValue computes hash_value(value) = Blake2b-256(personal, value).
func HashValue(value []byte) H256 { return hashWithPersonal(value) }

func (h H256) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash (the empty-tree root).
func (h H256) IsZero() bool { return h == H256{} }

// Tree is a sparse Merkle tree over H256 -> H256. The root is recomputed
// from the full leaf set on every Root() call; there is no incremental node
// cache. The root is needed once per Commit, not per write.
type Tree struct {
	leaves map[H256]H256 // smt key -> smt value
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{leaves: make(map[H256]H256)}
}

// Clone returns a deep copy, used by dry_run_tx to evaluate against a
// throwaway tree.
func (t *Tree) Clone() *Tree {
	out := make(map[H256]H256, len(t.leaves))
	for k, v := range t.leaves {
		out[k] = v
	}
	return &Tree{leaves: out}
}

// Set stages a leaf write. A zero H256 value deletes the leaf, folding a
// storage delete into the tree.
func (t *Tree) Set(key, value H256) {
	if value.IsZero() {
		delete(t.leaves, key)
		return
	}
	t.leaves[key] = value
}

// Get returns the current leaf value, if present.
func (t *Tree) Get(key H256) (H256, bool) {
	v, ok := t.leaves[key]
	return v, ok
}

// Len reports the number of live leaves.
func (t *Tree) Len() int { return len(t.leaves) }

// Root recomputes the commitment root by folding every live (key, value)
// pair into a binary Merkle tree, sorted by smt key for determinism.
// Because leaves are content-addressed by their key hash, recomputing from
// the full leaf map is equivalent to incrementally folding each write.
func (t *Tree) Root() H256 {
	if len(t.leaves) == 0 {
		return H256{}
	}
	keys := make([]H256, 0, len(t.leaves))
	for k := range t.leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return hex.EncodeToString(keys[i][:]) < hex.EncodeToString(keys[j][:])
	})

	level := make([]H256, len(keys))
	for i, k := range keys {
		level[i] = leafHash(k, t.leaves[k])
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]H256, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = nodeHash(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

func leafHash(key, value H256) H256 {
	buf := make([]byte, 0, 64)
	buf = append(buf, key[:]...)
	buf = append(buf, value[:]...)
	return hashWithPersonal(buf)
}

func nodeHash(left, right H256) H256 {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return hashWithPersonal(buf)
}

// Snapshot returns the full leaf set, used by the DB adapter to persist
// the tree store section of a block.
func (t *Tree) Snapshot() map[H256]H256 {
	out := make(map[H256]H256, len(t.leaves))
	for k, v := range t.leaves {
		out[k] = v
	}
	return out
}

// Load replaces the tree's leaf set wholesale, used when reconstructing
// the last committed block's tree on startup.
func Load(leaves map[H256]H256) *Tree {
	out := make(map[H256]H256, len(leaves))
	for k, v := range leaves {
		out[k] = v
	}
	return &Tree{leaves: out}
}
