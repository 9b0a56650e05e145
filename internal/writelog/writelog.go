// Package writelog implements the two-tier, tx/block-scoped write buffer:
// an ordered log of staged mutations shadowing committed storage, with
// commit/drop semantics isolating a rejected transaction from committed
// state.
package writelog

import (
	"vpledger/internal/storekey"
)

// OpKind tags a staged mutation.
type OpKind int

const (
	// OpWrite stages a value write.
	OpWrite OpKind = iota
	// OpDelete stages a tombstone.
	OpDelete
	// OpInitAccount stages a new account's validity-predicate code.
	OpInitAccount
)

// Entry is one staged mutation.
type Entry struct {
	Kind OpKind
	// Value holds the written bytes for OpWrite, or the VP code for
	// OpInitAccount. Unused (nil) for OpDelete.
	Value []byte
}

// entries is an insertion-ordered map: a slice of keys preserves order,
// a parallel map gives O(1) lookup/overwrite-in-place.
type entries struct {
	order []storekey.Key
	byKey map[string]Entry
}

func newEntries() *entries {
	return &entries{byKey: make(map[string]Entry)}
}

func (e *entries) set(k storekey.Key, v Entry) {
	ks := k.String()
	if _, exists := e.byKey[ks]; !exists {
		e.order = append(e.order, k)
	}
	e.byKey[ks] = v
}

func (e *entries) get(k storekey.Key) (Entry, bool) {
	v, ok := e.byKey[k.String()]
	return v, ok
}

func (e *entries) keys() []storekey.Key {
	out := make([]storekey.Key, len(e.order))
	copy(out, e.order)
	return out
}

func (e *entries) clone() *entries {
	out := newEntries()
	out.order = append([]storekey.Key(nil), e.order...)
	for k, v := range e.byKey {
		out.byKey[k] = v
	}
	return out
}

// StorageReader is the read-through interface the write log falls back to
// once neither tx- nor block-scope has an entry for a key.
type StorageReader interface {
	Read(key storekey.Key) ([]byte, bool, error)
}

// GasCharger is invoked for every staged write/delete with the op's gas
// cost: key length + value length for a write, key length for a delete.
type GasCharger interface {
	Consume(cost uint64) error
}

// WriteLog is the tx/block-scoped staging overlay. Tx-scope writes shadow
// block-scope writes, which shadow committed storage.
type WriteLog struct {
	txWrites    *entries
	blockWrites *entries
}

// New returns an empty write log, ready for a fresh block.
func New() *WriteLog {
	return &WriteLog{txWrites: newEntries(), blockWrites: newEntries()}
}

// Clone returns a deep copy, used by dry_run_tx to evaluate against a
// throwaway overlay without ever mutating the shell's real log.
func (w *WriteLog) Clone() *WriteLog {
	return &WriteLog{txWrites: w.txWrites.clone(), blockWrites: w.blockWrites.clone()}
}

// Write stages a value write in tx scope. Gas is charged
// key.len()+value.len() via charger.
func (w *WriteLog) Write(charger GasCharger, key storekey.Key, value []byte) error {
	if err := charger.Consume(uint64(key.Len() + len(value))); err != nil {
		return err
	}
	w.txWrites.set(key, Entry{Kind: OpWrite, Value: append([]byte(nil), value...)})
	return nil
}

// Delete stages a tombstone in tx scope. Gas is charged key.len() only.
func (w *WriteLog) Delete(charger GasCharger, key storekey.Key) error {
	if err := charger.Consume(uint64(key.Len())); err != nil {
		return err
	}
	w.txWrites.set(key, Entry{Kind: OpDelete})
	return nil
}

// InitAccount stages a new account's VP code under its validity-predicate
// key in tx scope. This and update_validity_predicate are the only
// sanctioned ways to write a reserved VP key; a direct write is a write-log
// violation.
func (w *WriteLog) InitAccount(charger GasCharger, vpKey storekey.Key, code []byte) error {
	if err := charger.Consume(uint64(vpKey.Len() + len(code))); err != nil {
		return err
	}
	w.txWrites.set(vpKey, Entry{Kind: OpInitAccount, Value: append([]byte(nil), code...)})
	return nil
}

// SeedBlock stages a write directly into block scope, bypassing tx scope
// and gas accounting. Used only by InitChain to install genesis subspace
// and vp_key entries before any transaction has run.
func (w *WriteLog) SeedBlock(key storekey.Key, value []byte) {
	w.blockWrites.set(key, Entry{Kind: OpWrite, Value: append([]byte(nil), value...)})
}

// Read resolves a key through tx scope, then block scope, then the
// underlying committed storage. A Delete entry in either overlay yields
// "absent" without falling through further.
func (w *WriteLog) Read(storage StorageReader, key storekey.Key) ([]byte, bool, error) {
	if e, ok := w.txWrites.get(key); ok {
		return resolveEntry(e)
	}
	if e, ok := w.blockWrites.get(key); ok {
		return resolveEntry(e)
	}
	return storage.Read(key)
}

func resolveEntry(e Entry) ([]byte, bool, error) {
	switch e.Kind {
	case OpDelete:
		return nil, false, nil
	default:
		return e.Value, true, nil
	}
}

// GetKeys returns the union of tx- and block-scope touched keys, de-
// duplicated, preserving first-seen order. This is the verifier-set seed
// for VP discovery.
func (w *WriteLog) GetKeys() []storekey.Key {
	seen := make(map[string]bool)
	var out []storekey.Key
	for _, k := range w.blockWrites.keys() {
		if !seen[k.String()] {
			seen[k.String()] = true
			out = append(out, k)
		}
	}
	for _, k := range w.txWrites.keys() {
		if !seen[k.String()] {
			seen[k.String()] = true
			out = append(out, k)
		}
	}
	return out
}

// CommitTx merges tx-scope writes into block scope; on key conflict the tx
// entry wins (it reflects the more recent write). The tx scope is cleared
// for the next transaction.
func (w *WriteLog) CommitTx() {
	for _, k := range w.txWrites.keys() {
		e, _ := w.txWrites.get(k)
		w.blockWrites.set(k, e)
	}
	w.txWrites = newEntries()
}

// DropTx discards tx-scope writes; block scope and committed storage are
// untouched, so the state observable via Read reverts to exactly what it
// was before the transaction began.
func (w *WriteLog) DropTx() {
	w.txWrites = newEntries()
}

// CommitBlock writes every block-scope (key, value/delete) pair into the
// backing store via writer, then clears block scope for the next block.
func (w *WriteLog) CommitBlock(writer BlockWriter) error {
	for _, k := range w.blockWrites.keys() {
		e, _ := w.blockWrites.get(k)
		switch e.Kind {
		case OpDelete:
			if err := writer.Delete(k); err != nil {
				return err
			}
		default:
			if err := writer.Write(k, e.Value); err != nil {
				return err
			}
		}
	}
	w.blockWrites = newEntries()
	return nil
}

// BlockWriter is the sink CommitBlock folds surviving writes into: the SMT
// and subspace map of the storage facade.
type BlockWriter interface {
	Write(key storekey.Key, value []byte) error
	Delete(key storekey.Key) error
}
