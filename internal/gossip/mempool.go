// Package gossip implements the intent-gossip endpoint: a mempool mapping
// IntentId -> Intent with idempotent put/remove/contains, a WASM-backed
// validate(intent_bytes) -> bool filter gate, and the pub/sub transport the
// intents ride on.
package gossip

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"vpledger/internal/wireproto"
)

// ComputeIntentID derives the intent id: the leading 8 bytes of
// SHA-256(data || timestamp), decoded big-endian and formatted as a decimal
// string.
func ComputeIntentID(in wireproto.Intent) string {
	h := sha256.New()
	h.Write(in.Data)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(in.Timestamp))
	h.Write(ts[:])
	sum := h.Sum(nil)
	id := binary.BigEndian.Uint64(sum[:8])
	return fmt.Sprintf("%d", id)
}

// Mempool maps IntentId -> Intent with idempotent put/remove/contains.
type Mempool struct {
	mu      sync.Mutex
	intents map[string]wireproto.Intent
}

// NewMempool constructs an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{intents: make(map[string]wireproto.Intent)}
}

// Put inserts or idempotently re-inserts an intent, returning its id.
func (m *Mempool) Put(in wireproto.Intent) string {
	id := ComputeIntentID(in)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[id] = in
	return id
}

// Remove deletes id if present; removing an absent id is a no-op.
func (m *Mempool) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, id)
}

// RemoveAll removes every id in ids, backing the matchmaker's
// RemoveIntents command.
func (m *Mempool) RemoveAll(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.intents, id)
	}
}

// Contains reports whether id is present.
func (m *Mempool) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.intents[id]
	return ok
}

// Get returns the intent stored at id, if any.
func (m *Mempool) Get(id string) (wireproto.Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	return in, ok
}

// Len reports the number of intents currently held.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}
