// Package hostenv implements the four disjoint host-call APIs (tx, vp,
// matchmaker, filter), each exposed to its guest kind as a
// wasmer.ImportObject built against a shared (ptr,len) memory-marshalling
// convention from internal/wasmvm.
package hostenv

import (
	"sync"

	"vpledger/internal/storekey"
)

// IterTable is the per-invocation iterator table: iterators are held by a
// monotonically increasing u64 id, valid only for the lifetime of one
// guest call.
type IterTable struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64][]storekey.Key
}

// NewIterTable returns an empty table, to be constructed fresh for each
// apply_tx/eval invocation.
func NewIterTable() *IterTable {
	return &IterTable{entries: make(map[uint64][]storekey.Key)}
}

// Open registers a snapshot of matching keys (already filtered/sorted by
// the caller) under a new iterator id.
func (t *IterTable) Open(keys []storekey.Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.entries[id] = keys
	return id
}

// Next pops the next key of iterator id, reporting ok=false once exhausted
// or if id is unknown (e.g. reused across invocations, which is a guest
// error: ids are not valid across invocations).
func (t *IterTable) Next(id uint64) (storekey.Key, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys, ok := t.entries[id]
	if !ok || len(keys) == 0 {
		return storekey.Key{}, false
	}
	k := keys[0]
	t.entries[id] = keys[1:]
	return k, true
}
