// Package storage is the facade unifying committed storedb+smt state with
// the active write-log overlay: the pre/post views validity predicates read
// through, and the InitChain/BeginBlock/Commit lifecycle the shell drives.
package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"vpledger/internal/address"
	"vpledger/internal/smt"
	"vpledger/internal/storedb"
	"vpledger/internal/storekey"
	"vpledger/internal/writelog"
)

// ErrNoBlockInProgress is returned by Commit when no block is open (outside
// BeginBlock..Commit).
var ErrNoBlockInProgress = errors.New("storage: no block in progress")

// ErrBlockInProgress is returned when BeginBlock or InitChain is called
// while a block is already open.
var ErrBlockInProgress = errors.New("storage: block already in progress")

// ErrChainAlreadyInitialized guards InitChain against double-genesis.
var ErrChainAlreadyInitialized = errors.New("storage: chain already initialized")

// Storage owns the DB adapter, the in-memory SMT, the full current
// subspace snapshot, the address generator, and the tx/block write-log
// overlay.
type Storage struct {
	db *storedb.DB

	chainID    string
	tree       *smt.Tree
	subspaces  map[string][]byte // wire key string -> value, full snapshot
	addressGen address.Gen

	blockOpen  bool
	height     uint64
	blockHash  common.Hash
	lastHeight uint64
	haveBlock  bool

	wl *writelog.WriteLog
}

// Open loads the last committed block (if any) from db and constructs a
// Storage ready for InitChain (fresh chain) or BeginBlock (restart).
func Open(db *storedb.DB) (*Storage, error) {
	s := &Storage{
		db:        db,
		tree:      smt.New(),
		subspaces: make(map[string][]byte),
		wl:        writelog.New(),
	}

	if id, ok, err := db.ChainID(); err != nil {
		return nil, fmt.Errorf("storage: load chain id: %w", err)
	} else if ok {
		s.chainID = id
	}

	state, err := db.ReadLastBlock()
	if err != nil {
		return nil, fmt.Errorf("storage: load last block: %w", err)
	}
	if state != nil {
		s.tree = state.Tree
		s.subspaces = state.Subspaces
		s.addressGen = state.AddressGen
		s.lastHeight = state.Height
		s.haveBlock = true
		logrus.Infof("storage: restored block height=%d", state.Height)
	}
	return s, nil
}

// ChainID returns the initialized chain id, if any.
func (s *Storage) ChainID() string { return s.chainID }

// InitChain seeds genesis: persists chain_id and stages seed accounts
// (subspace values plus their vp_key entries) into block scope, so they are
// folded into the Merkle tree and persisted by the first Commit. Genesis
// writes ride the same commit path as any other block's writes. Seed keys
// are wire-form key strings, staged in sorted order so every node's write
// log sees the same sequence.
func (s *Storage) InitChain(chainID string, seeds map[string][]byte) error {
	if s.chainID != "" {
		return ErrChainAlreadyInitialized
	}
	if s.blockOpen {
		return ErrBlockInProgress
	}
	keys := make([]string, 0, len(seeds))
	for ks := range seeds {
		keys = append(keys, ks)
	}
	sort.Strings(keys)
	parsed := make([]storekey.Key, len(keys))
	for i, ks := range keys {
		k, err := storekey.Parse(ks)
		if err != nil {
			return fmt.Errorf("storage: InitChain seed key %q: %w", ks, err)
		}
		parsed[i] = k
	}
	if err := s.db.SetChainID(chainID); err != nil {
		return fmt.Errorf("storage: InitChain: %w", err)
	}
	s.chainID = chainID
	for i, k := range parsed {
		s.wl.SeedBlock(k, seeds[keys[i]])
	}
	logrus.Infof("storage: InitChain chain_id=%s seed_keys=%d", chainID, len(seeds))
	return nil
}

// BeginBlock opens a new block at (hash, height). The pre view (committed
// storage) is frozen as of this call until Commit.
func (s *Storage) BeginBlock(hash common.Hash, height uint64) error {
	if s.blockOpen {
		return ErrBlockInProgress
	}
	s.blockOpen = true
	s.blockHash = hash
	s.height = height
	return nil
}

// BlockHash and Height expose the currently open block's metadata to tx/vp
// host calls (get_block_hash, get_block_height).
func (s *Storage) BlockHash() common.Hash { return s.blockHash }
func (s *Storage) Height() uint64         { return s.height }

// WriteLog exposes the shell's live write-log overlay to apply_tx.
func (s *Storage) WriteLog() *writelog.WriteLog { return s.wl }

// committedReader adapts Storage's in-memory subspace snapshot (the state
// as of the last Commit) to writelog.StorageReader, used for both pre reads
// and as the fallback tier of post reads.
type committedReader struct{ s *Storage }

func (c committedReader) Read(key storekey.Key) ([]byte, bool, error) {
	v, ok := c.s.subspaces[key.String()]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// ReadPre returns the value as of the last Commit, ignoring the current
// block's write-log overlay entirely: the frozen "pre" view validity
// predicates read through read_pre/has_key_pre.
func (s *Storage) ReadPre(key storekey.Key) ([]byte, bool, error) {
	return committedReader{s}.Read(key)
}

// ReadPost returns the value seen by write/read within the current block:
// tx-scope, then block-scope, then committed storage. This is both the tx
// host API's read(key) and the VP host API's read_post.
func (s *Storage) ReadPost(key storekey.Key) ([]byte, bool, error) {
	return s.wl.Read(committedReader{s}, key)
}

// HasPre and HasPost are the has_key_pre/has_key_post counterparts.
func (s *Storage) HasPre(key storekey.Key) (bool, error) {
	_, ok, err := s.ReadPre(key)
	return ok, err
}

func (s *Storage) HasPost(key storekey.Key) (bool, error) {
	_, ok, err := s.ReadPost(key)
	return ok, err
}

// AddressGen returns the current generator state, read by init_account
// host calls needing to derive the next Established address.
func (s *Storage) AddressGen() address.Gen { return s.addressGen }

// SetAddressGen installs an advanced generator state. init_account calls it
// as soon as it derives a new address, before staging the vp_key; the
// generator is not part of the write log, so dropping the tx does not roll
// it back.
func (s *Storage) SetAddressGen(g address.Gen) { s.addressGen = g }

// blockWriterAdapter folds a committed write-log block into the SMT and the
// full subspace snapshot, satisfying writelog.BlockWriter.
type blockWriterAdapter struct{ s *Storage }

func (a blockWriterAdapter) Write(key storekey.Key, value []byte) error {
	ks := key.String()
	a.s.subspaces[ks] = append([]byte(nil), value...)
	a.s.tree.Set(smt.HashKey([]byte(ks)), smt.HashValue(value))
	return nil
}

func (a blockWriterAdapter) Delete(key storekey.Key) error {
	ks := key.String()
	delete(a.s.subspaces, ks)
	a.s.tree.Set(smt.HashKey([]byte(ks)), smt.H256{})
	return nil
}

// Commit folds the write log's block scope into the SMT and subspace
// snapshot, then persists the resulting block atomically via the DB
// adapter, returning the new Merkle root.
func (s *Storage) Commit() (smt.H256, error) {
	if !s.blockOpen {
		return smt.H256{}, ErrNoBlockInProgress
	}
	if err := s.wl.CommitBlock(blockWriterAdapter{s}); err != nil {
		return smt.H256{}, fmt.Errorf("storage: commit write log: %w", err)
	}
	if err := s.db.WriteBlock(s.tree, s.blockHash, s.height, s.subspaces, s.addressGen); err != nil {
		return smt.H256{}, fmt.Errorf("storage: persist block: %w", err)
	}
	root := s.tree.Root()
	s.lastHeight = s.height
	s.haveBlock = true
	s.blockOpen = false
	logrus.Infof("storage: committed height=%d root=%s", s.height, root)
	return root, nil
}

// LastCommitted reports the most recently committed (root, height), used by
// the GetInfo path. ok is false before any block has been committed.
func (s *Storage) LastCommitted() (root smt.H256, height uint64, ok bool) {
	if !s.haveBlock {
		return smt.H256{}, 0, false
	}
	return s.tree.Root(), s.lastHeight, true
}

// IterPrefixPost enumerates every live key under prefix as seen by the post
// view: committed subspace entries shadowed/extended by the write log's
// currently staged keys. Used by the tx/vp iter_prefix host calls.
func (s *Storage) IterPrefixPost(prefix storekey.Key) ([]storekey.Key, error) {
	seen := make(map[string]bool)
	var out []storekey.Key

	p := prefix.String()
	for ks := range s.subspaces {
		if hasKeyPrefix(ks, p) {
			k, err := storekey.Parse(ks)
			if err != nil {
				return nil, fmt.Errorf("storage: iter_prefix: %w", err)
			}
			if ok, err := s.HasPost(k); err == nil && ok && !seen[ks] {
				seen[ks] = true
				out = append(out, k)
			}
		}
	}
	for _, k := range s.wl.GetKeys() {
		ks := k.String()
		if seen[ks] || !hasKeyPrefix(ks, p) {
			continue
		}
		if ok, err := s.HasPost(k); err == nil && ok {
			seen[ks] = true
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out, nil
}

// IterPrefixPre enumerates every live key under prefix as seen by the
// frozen pre view: the committed subspace snapshot only, ignoring the
// current block's write-log overlay. Used by the vp host's
// iter_prefix/iter_pre_next pairing.
func (s *Storage) IterPrefixPre(prefix storekey.Key) ([]storekey.Key, error) {
	p := prefix.String()
	var out []storekey.Key
	for ks := range s.subspaces {
		if hasKeyPrefix(ks, p) {
			k, err := storekey.Parse(ks)
			if err != nil {
				return nil, fmt.Errorf("storage: iter_prefix_pre: %w", err)
			}
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out, nil
}

// sortKeys orders keys ascending by their wire string form, matching the
// DB adapter's bolt-cursor ascending scan order, so in-memory prefix
// iteration over the subspace snapshot and write-log overlay is
// indistinguishable from a fresh restart's DB-backed scan.
func sortKeys(keys []storekey.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

// CloneForDryRun returns a Storage sharing this one's committed tree and
// subspace snapshot (read-only for the clone's lifetime) but with its own
// write-log overlay, so a dry run can execute the full apply pipeline and
// observe realistic reads without ever mutating the real shell state.
// The clone must never have Commit called on it.
func (s *Storage) CloneForDryRun() *Storage {
	clone := *s
	clone.wl = s.wl.Clone()
	return &clone
}

func hasKeyPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}
