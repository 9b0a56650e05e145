// Package storedb is the block-versioned on-disk adapter: an embedded KV
// engine storing the SMT root, its leaf store, the block hash, the address
// generator, and the flat subspaces map under paths of the form
// "<height>/<section>/...". Keys are required to be UTF-8; that invariant
// is enforced upstream at Key construction.
package storedb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"

	"vpledger/internal/address"
	"vpledger/internal/smt"
	"vpledger/internal/storekey"
)

var (
	bucketMeta   = []byte("meta")   // chain_id, height pointer
	bucketBlocks = []byte("blocks") // flat "<height>/<section>/..." keys
)

// ErrUnknownKey is returned when a scan of a block prefix encounters a path
// layout it cannot classify. Fatal: an unknown section name means the store
// was written by incompatible code.
var ErrUnknownKey = errors.New("storedb: unknown key under block prefix")

// ErrCorrupt is returned when an essential block field (root/store/hash/
// address_gen) is missing on ReadLastBlock.
var ErrCorrupt = errors.New("storedb: corrupt or incomplete block state")

// DB is the concrete bbolt-backed adapter.
type DB struct {
	bdb *bolt.DB
}

// Open creates or opens the on-disk database at path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storedb: open: %w", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketBlocks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &DB{bdb: bdb}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error { return d.bdb.Close() }

func heightPrefix(height uint64) string {
	return fmt.Sprintf("%020d", height)
}

// ChainID returns the persisted chain id, if any.
func (d *DB) ChainID() (string, bool, error) {
	var out string
	var ok bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte("chain_id"))
		if v != nil {
			out, ok = string(v), true
		}
		return nil
	})
	return out, ok, err
}

// SetChainID persists the chain id. This is written once, at InitChain.
func (d *DB) SetChainID(id string) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte("chain_id"), []byte(id))
	})
}

// CurrentHeight returns the published height pointer, if any.
func (d *DB) CurrentHeight() (uint64, bool, error) {
	var h uint64
	var ok bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte("height"))
		if v != nil {
			h, ok = binary.BigEndian.Uint64(v), true
		}
		return nil
	})
	return h, ok, err
}

// WriteBlock atomically writes every sub-key of "<height>/..." and then
// publishes the height pointer last. Both happen inside a single bolt
// transaction, with the height pointer write as its final statement, so no
// reader observes a height update without the full block behind it.
func (d *DB) WriteBlock(tree *smt.Tree, hash common.Hash, height uint64, subspaces map[string][]byte, gen address.Gen) error {
	prefix := heightPrefix(height)
	root := tree.Root()

	return d.bdb.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)

		if err := b.Put([]byte(prefix+"/tree/root"), root[:]); err != nil {
			return err
		}
		if err := b.Put([]byte(prefix+"/tree/store"), encodeLeaves(tree.Snapshot())); err != nil {
			return err
		}
		if err := b.Put([]byte(prefix+"/hash"), hash[:]); err != nil {
			return err
		}
		if err := b.Put([]byte(prefix+"/address_gen"), []byte(gen.LastHash)); err != nil {
			return err
		}
		for k, v := range subspaces {
			path := prefix + "/subspace/" + k
			if err := b.Put([]byte(path), v); err != nil {
				return err
			}
		}
		// Height pointer published last within this same transaction.
		hbuf := make([]byte, 8)
		binary.BigEndian.PutUint64(hbuf, height)
		return tx.Bucket(bucketMeta).Put([]byte("height"), hbuf)
	})
}

// Read performs a point lookup inside a given block's subspace.
func (d *DB) Read(height uint64, key storekey.Key) ([]byte, bool, error) {
	path := heightPrefix(height) + "/subspace/" + key.String()
	var out []byte
	var ok bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get([]byte(path))
		if v != nil {
			out, ok = append([]byte(nil), v...), true
		}
		return nil
	})
	return out, ok, err
}

// BlockState is the fully reconstructed state of one committed block, as
// returned by ReadLastBlock.
type BlockState struct {
	Tree       *smt.Tree
	Hash       common.Hash
	Height     uint64
	Subspaces  map[string][]byte // key wire-string -> value
	AddressGen address.Gen
}

// ReadLastBlock reads the chain_id/height pointers, then scans
// [<height>/, <height+1>/) to reconstruct the full block state. Missing any
// essential field (root/store/hash/address_gen) is fatal.
func (d *DB) ReadLastBlock() (*BlockState, error) {
	height, ok, err := d.CurrentHeight()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil // no block yet
	}

	prefix := heightPrefix(height)
	upper := prefixUpperBound(prefix)

	state := &BlockState{Height: height, Subspaces: make(map[string][]byte)}
	var haveRoot, haveStore, haveHash, haveGen bool
	var leaves map[smt.H256]smt.H256

	err = d.bdb.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, v := c.Seek([]byte(prefix + "/")); k != nil && string(k) < upper; k, v = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix+"/")
			switch {
			case rest == "tree/root":
				haveRoot = true
			case rest == "tree/store":
				leaves, err = decodeLeaves(v)
				if err != nil {
					return fmt.Errorf("storedb: decode tree/store: %w", err)
				}
				haveStore = true
			case rest == "hash":
				if len(v) != 32 {
					return fmt.Errorf("%w: hash length %d", ErrCorrupt, len(v))
				}
				copy(state.Hash[:], v)
				haveHash = true
			case rest == "address_gen":
				state.AddressGen = address.NewGen(string(v))
				haveGen = true
			case strings.HasPrefix(rest, "subspace/"):
				keyStr := strings.TrimPrefix(rest, "subspace/")
				// Validity-predicate keys are reconstructed by address,
				// not parsed as generic keys.
				if strings.HasSuffix(keyStr, "/"+storekey.ReservedVP) {
					addr := strings.TrimSuffix(keyStr, "/"+storekey.ReservedVP)
					keyStr = storekey.VPKey(addr).String()
				}
				state.Subspaces[keyStr] = append([]byte(nil), v...)
			default:
				return fmt.Errorf("%w: %q", ErrUnknownKey, rest)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveRoot || !haveStore || !haveHash || !haveGen {
		return nil, fmt.Errorf("%w: root=%v store=%v hash=%v address_gen=%v", ErrCorrupt, haveRoot, haveStore, haveHash, haveGen)
	}
	state.Tree = smt.Load(leaves)
	return state, nil
}

// PrefixIterItem is one (key, value) pair yielded by a prefix scan, with
// its gas cost (key length + value length) precomputed.
type PrefixIterItem struct {
	Key   string
	Value []byte
	Gas   uint64
}

// IterPrefix returns every (key, value) pair under prefix within a block's
// subspace, in ascending key order. Bounded iteration uses an upper bound
// of "prefix with last byte +1"; there is no full-order seek.
func (d *DB) IterPrefix(height uint64, prefix storekey.Key) ([]PrefixIterItem, error) {
	base := heightPrefix(height) + "/subspace/"
	full := base + prefix.String()
	upper := prefixUpperBound(full)

	var out []PrefixIterItem
	err := d.bdb.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, v := c.Seek([]byte(full)); k != nil && string(k) < upper; k, v = c.Next() {
			ks := string(k)
			if !strings.HasPrefix(ks, full) {
				break
			}
			keyWithoutDBPrefix := strings.TrimPrefix(ks, base)
			out = append(out, PrefixIterItem{
				Key:   keyWithoutDBPrefix,
				Value: append([]byte(nil), v...),
				Gas:   uint64(len(keyWithoutDBPrefix) + len(v)),
			})
		}
		return nil
	})
	return out, err
}

// prefixUpperBound returns the exclusive upper bound for a byte-prefix
// range scan: the prefix with its last byte incremented. If the prefix is
// all 0xFF bytes there is no finite upper bound and the caller should scan
// to the end of the bucket instead; that case does not arise here because
// every prefix is a UTF-8 path segment.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return string([]byte{0xFF, 0xFF, 0xFF, 0xFF})
}

// leafPair is the RLP-encodable shape of one SMT leaf. rlp represents a
// [32]byte array field as a fixed-length byte string, so this round-trips
// the tree/store section byte-for-byte across nodes.
type leafPair struct {
	Key   [32]byte
	Value [32]byte
}

// encodeLeaves serializes tree.Snapshot() with go-ethereum's rlp codec,
// the one canonical codec for persisted values; changing it silently would
// fork the chain. Leaves are sorted by key first so the encoding is
// deterministic across nodes regardless of map iteration order.
func encodeLeaves(leaves map[smt.H256]smt.H256) []byte {
	keys := make([]smt.H256, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })

	pairs := make([]leafPair, len(keys))
	for i, k := range keys {
		pairs[i] = leafPair{Key: [32]byte(k), Value: [32]byte(leaves[k])}
	}
	b, err := rlp.EncodeToBytes(pairs)
	if err != nil {
		// rlp.EncodeToBytes only errors on unsupported Go types; leafPair's
		// fixed byte arrays are always representable.
		panic(fmt.Errorf("storedb: rlp encode tree/store: %w", err))
	}
	return b
}

func decodeLeaves(b []byte) (map[smt.H256]smt.H256, error) {
	var pairs []leafPair
	if err := rlp.DecodeBytes(b, &pairs); err != nil {
		return nil, fmt.Errorf("tree/store: rlp decode: %w", err)
	}
	out := make(map[smt.H256]smt.H256, len(pairs))
	for _, p := range pairs {
		out[smt.H256(p.Key)] = smt.H256(p.Value)
	}
	return out, nil
}
