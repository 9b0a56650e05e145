package gas

// HostCall identifies a chargeable host-call kind.
type HostCall string

const (
	CallDecodeTx          HostCall = "decode_tx"
	CallRead              HostCall = "read"
	CallHasKey            HostCall = "has_key"
	CallWrite             HostCall = "write"
	CallDelete            HostCall = "delete"
	CallIterPrefix        HostCall = "iter_prefix"
	CallIterNext          HostCall = "iter_next"
	CallInsertVerifier    HostCall = "insert_verifier"
	CallUpdateVP          HostCall = "update_validity_predicate"
	CallInitAccount       HostCall = "init_account"
	CallGetChainID        HostCall = "get_chain_id"
	CallGetBlockHeight    HostCall = "get_block_height"
	CallGetBlockHash      HostCall = "get_block_hash"
	CallVerifyTxSignature HostCall = "verify_tx_signature"
	CallEvalVP            HostCall = "eval"
	CallLogString         HostCall = "log_string"
)

// DefaultCost is charged for any call with no table entry. Kept
// deliberately high so an un-priced operation is punished rather than
// silently priced at zero.
const DefaultCost uint64 = 10_000

var baseCosts = map[HostCall]uint64{
	CallDecodeTx:          1_000,
	CallRead:              100,
	CallHasKey:            50,
	CallWrite:             200,
	CallDelete:            150,
	CallIterPrefix:        300,
	CallIterNext:          50,
	CallInsertVerifier:    50,
	CallUpdateVP:          500,
	CallInitAccount:       1_000,
	CallGetChainID:        10,
	CallGetBlockHeight:    10,
	CallGetBlockHash:      10,
	CallVerifyTxSignature: 2_000,
	CallEvalVP:            5_000,
	CallLogString:         20,
}

// BaseCost returns the fixed base cost of a host call; the per-op variable
// component (key length + value length for storage ops) is added by the
// caller on top of this.
func BaseCost(call HostCall) uint64 {
	if cost, ok := baseCosts[call]; ok {
		return cost
	}
	return DefaultCost
}
