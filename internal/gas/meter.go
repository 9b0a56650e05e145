// Package gas implements per-tx and per-block gas accounting with
// saturating arithmetic and deterministic overflow errors.
package gas

import "fmt"

// ErrOutOfGas is returned when a charge would exceed the active ceiling.
// The caller's tx is rejected; the meter's state is left unchanged (no
// partial charge is ever applied).
type ErrOutOfGas struct {
	Requested uint64
	Used      uint64
	Limit     uint64
	Scope     string // "tx" or "block"
}

func (e *ErrOutOfGas) Error() string {
	return fmt.Sprintf("out of gas (%s): used=%d requested=%d limit=%d", e.Scope, e.Used, e.Requested, e.Limit)
}

// Meter tracks gas usage for one block, with a nested per-tx ceiling that
// resets at the start of every transaction.
type Meter struct {
	blockLimit uint64
	blockUsed  uint64

	txLimit uint64
	txUsed  uint64
}

// NewMeter constructs a Meter with the given per-block and per-tx ceilings.
func NewMeter(blockLimit, txLimit uint64) *Meter {
	return &Meter{blockLimit: blockLimit, txLimit: txLimit}
}

// BeginTx resets the per-tx counter; called once per ApplyTx before any
// charge is made for that transaction.
func (m *Meter) BeginTx() {
	m.txUsed = 0
}

// Consume charges cost against both the tx and block ceilings. Saturating:
// a charge that would overflow either ceiling is rejected in full and
// neither counter is mutated, so a rejected tx never leaves partial gas
// side effects behind (mirrored by the write-log drop on VP rejection).
func (m *Meter) Consume(cost uint64) error {
	if m.txUsed+cost < m.txUsed || m.txUsed+cost > m.txLimit {
		return &ErrOutOfGas{Requested: cost, Used: m.txUsed, Limit: m.txLimit, Scope: "tx"}
	}
	if m.blockUsed+cost < m.blockUsed || m.blockUsed+cost > m.blockLimit {
		return &ErrOutOfGas{Requested: cost, Used: m.blockUsed, Limit: m.blockLimit, Scope: "block"}
	}
	m.txUsed += cost
	m.blockUsed += cost
	return nil
}

// TxUsed returns gas consumed by the current transaction.
func (m *Meter) TxUsed() uint64 { return m.txUsed }

// BlockUsed returns gas consumed so far this block.
func (m *Meter) BlockUsed() uint64 { return m.blockUsed }

// TxRemaining returns the gas still available to the current transaction.
func (m *Meter) TxRemaining() uint64 {
	if m.txUsed >= m.txLimit {
		return 0
	}
	return m.txLimit - m.txUsed
}
