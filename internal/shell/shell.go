// Package shell implements the transaction protocol: the apply/dry-run
// pipeline and the shell's own state machine, driven by the consensus
// host's command channel (the command loop lives in host.go).
package shell

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"vpledger/internal/address"
	"vpledger/internal/gas"
	"vpledger/internal/hostenv"
	"vpledger/internal/ledgererr"
	"vpledger/internal/smt"
	"vpledger/internal/storage"
	"vpledger/internal/storekey"
	"vpledger/internal/wasmvm"
	"vpledger/internal/wireproto"
	"vpledger/pkg/logging"
)

// State is the shell's position in its lifecycle:
// Idle -> InitChain -> Idle -> BeginBlock -> (ApplyTx|MempoolValidate)* -> EndBlock -> Commit -> Idle.
type State int

const (
	StateIdle State = iota
	StateBlockOpen
)

// GasLimits configures the per-block and per-tx gas ceilings a new block's
// gas.Meter is constructed with.
type GasLimits struct {
	Block uint64
	Tx    uint64
}

// VPResult is the per-verifier outcome of one ApplyTx's VP evaluation pass.
type VPResult struct {
	Addr     string
	Accepted bool
	Err      string // non-empty if evaluation itself errored (counted as rejection)
}

// TxResult is ApplyTx's aggregated result.
type TxResult struct {
	GasUsed     uint64
	Accepted    bool
	AcceptedVPs []string
	RejectedVPs []string
	Errors      []string
}

// Shell is the single owner of the Merkle tree, subspaces, write log, and
// gas meter for one block at a time; it must be driven by exactly one
// goroutine (the command loop in host.go enforces this).
type Shell struct {
	st     *storage.Storage
	limits GasLimits
	meter  *gas.Meter
	state  State

	log *logrus.Entry
}

// New constructs a Shell over an opened Storage.
func New(st *storage.Storage, limits GasLimits) *Shell {
	return &Shell{
		st:     st,
		limits: limits,
		state:  StateIdle,
		log:    logging.For("shell"),
	}
}

// ErrWrongState is returned when a command is issued out of turn relative
// to the shell's lifecycle.
type ErrWrongState struct {
	Command string
	State   State
}

func (e *ErrWrongState) Error() string {
	return fmt.Sprintf("shell: %s invalid in state %d", e.Command, e.State)
}

// InitChain seeds genesis. Valid only from Idle; the shell remains Idle
// afterward (InitChain -> Idle per the state machine).
func (s *Shell) InitChain(chainID string, seeds map[string][]byte) error {
	if s.state != StateIdle {
		return &ErrWrongState{Command: "InitChain", State: s.state}
	}
	if err := s.st.InitChain(chainID, seeds); err != nil {
		return ledgererr.Wrap(ledgererr.KindStorage, fmt.Errorf("shell: InitChain: %w", err))
	}
	s.log.Infof("InitChain chain_id=%s seeds=%d", chainID, len(seeds))
	return nil
}

// BeginBlock opens a new block and a fresh gas meter, entering StateBlockOpen.
func (s *Shell) BeginBlock(hash common.Hash, height uint64) error {
	if s.state != StateIdle {
		return &ErrWrongState{Command: "BeginBlock", State: s.state}
	}
	if err := s.st.BeginBlock(hash, height); err != nil {
		return ledgererr.Wrap(ledgererr.KindStorage, fmt.Errorf("shell: BeginBlock: %w", err))
	}
	s.meter = gas.NewMeter(s.limits.Block, s.limits.Tx)
	s.state = StateBlockOpen
	s.log.Infof("BeginBlock height=%d", height)
	return nil
}

// EndBlock is a pipeline marker between the last ApplyTx and Commit; it
// performs no storage mutation (the write log already reflects every
// committed tx) but is a required step of the block lifecycle.
func (s *Shell) EndBlock(height uint64) error {
	if s.state != StateBlockOpen {
		return &ErrWrongState{Command: "EndBlock", State: s.state}
	}
	s.log.Infof("EndBlock height=%d block_gas_used=%d", height, s.meter.BlockUsed())
	return nil
}

// Commit folds the block's write log into the SMT and subspace snapshot and
// persists it, returning to StateIdle.
func (s *Shell) Commit() (smt.H256, error) {
	if s.state != StateBlockOpen {
		return smt.H256{}, &ErrWrongState{Command: "Commit", State: s.state}
	}
	root, err := s.st.Commit()
	if err != nil {
		return smt.H256{}, ledgererr.Wrap(ledgererr.KindStorage, fmt.Errorf("shell: Commit: %w", err))
	}
	s.state = StateIdle
	s.meter = nil
	s.log.Infof("Commit root=%x", root)
	return root, nil
}

// ApplyTx runs the deterministic apply pipeline against the shell's live
// write log: decode, gas, tx WASM, verifier discovery, VP evaluation,
// commit-or-drop.
func (s *Shell) ApplyTx(txBytes []byte) (uint64, TxResult, error) {
	if s.state != StateBlockOpen {
		return 0, TxResult{}, &ErrWrongState{Command: "ApplyTx", State: s.state}
	}
	return runApplyTx(s.st, s.meter, txBytes)
}

// DryRunTx runs the same pipeline against a clone of the write log,
// producing a result for AbciQuery{path="dry_run_tx"} without ever
// mutating the shell.
func (s *Shell) DryRunTx(txBytes []byte) (uint64, TxResult, error) {
	clone := s.st.CloneForDryRun()
	meter := gas.NewMeter(s.limits.Block, s.limits.Tx)
	return runApplyTx(clone, meter, txBytes)
}

// runApplyTx is the pipeline body shared by ApplyTx and DryRunTx, operating
// entirely through the passed-in storage/meter so the dry-run caller can
// supply throwaway ones.
func runApplyTx(st *storage.Storage, meter *gas.Meter, txBytes []byte) (uint64, TxResult, error) {
	// 1. Decode. A malformed envelope has no storage effect and is not gas
	// charged; the decode charge applies only to well-formed envelopes.
	tx, err := wireproto.DecodeTx(txBytes)
	if err != nil {
		return 0, TxResult{Errors: []string{err.Error()}},
			ledgererr.Wrap(ledgererr.KindDecode, fmt.Errorf("shell: decode tx: %w", err))
	}

	// 2. Charge fixed decoding gas.
	meter.BeginTx()
	if err := meter.Consume(gas.BaseCost(gas.CallDecodeTx)); err != nil {
		return meter.TxUsed(), TxResult{GasUsed: meter.TxUsed(), Errors: []string{err.Error()}},
			ledgererr.Wrap(ledgererr.KindWASM, err)
	}

	// 3. Fresh VerifierSet + PrefixIterators + isolated write-log view,
	// sharing the shell's underlying overlay by reference.
	txHost := hostenv.NewTxHost(st, meter)

	// 4. Run transaction WASM with the tx host API.
	if err := runTxWASM(st, txHost, tx); err != nil {
		st.WriteLog().DropTx()
		res := TxResult{GasUsed: meter.TxUsed(), Errors: []string{err.Error()}}
		return meter.TxUsed(), res, ledgererr.Wrap(ledgererr.KindWASM, err)
	}

	// 5. Verifier discovery: addr(k) for every touched key, union explicit
	// verifiers from insert_verifier.
	verifiers := make(map[string]bool, len(txHost.Verifiers))
	for a := range txHost.Verifiers {
		verifiers[a] = true
	}
	for _, k := range txHost.WriteLog.GetKeys() {
		seg, ok := k.LeadingSegment()
		if !ok {
			continue
		}
		if _, err := address.Decode(seg); err == nil {
			verifiers[seg] = true
		}
	}

	// 6. VP evaluation: each verifier's vp_code must exist and returns a
	// boolean; aggregate accepted = AND of all results. Verifiers are
	// evaluated in sorted address order so the reported VP lists are
	// identical across nodes.
	res := TxResult{}
	accepted := true
	keysChanged := txHost.WriteLog.GetKeys()
	sorted := make([]string, 0, len(verifiers))
	for v := range verifiers {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)
	for _, v := range sorted {
		ok, verr := evalVP(st, meter, v, tx.Data, keysChanged, sorted)
		if verr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("vp %s: %v", v, verr))
			res.RejectedVPs = append(res.RejectedVPs, v)
			accepted = false
			continue
		}
		if ok {
			res.AcceptedVPs = append(res.AcceptedVPs, v)
		} else {
			res.RejectedVPs = append(res.RejectedVPs, v)
			accepted = false
		}
	}
	res.Accepted = accepted
	res.GasUsed = meter.TxUsed()

	// 7. Commit or drop the tx-scoped write log.
	if accepted {
		st.WriteLog().CommitTx()
	} else {
		st.WriteLog().DropTx()
	}
	return res.GasUsed, res, nil
}

// runTxWASM compiles and instantiates tx.Code, binds the tx host API, and
// invokes the "apply_tx" entrypoint with tx.Data written into guest memory
// at a fixed scratch offset, passed to the entrypoint as a (ptr,len) pair.
func runTxWASM(st *storage.Storage, txHost *hostenv.TxHost, tx wireproto.Tx) error {
	mod, err := wasmvm.Compile(tx.Code)
	if err != nil {
		return fmt.Errorf("compile tx wasm: %w", err)
	}
	imports := txHost.BuildImports(mod.Store())
	inst, err := mod.Instantiate(imports)
	if err != nil {
		return fmt.Errorf("instantiate tx wasm: %w", err)
	}
	txHost.BindMemory(inst)

	const scratchPtr = 0
	if len(tx.Data) > 0 {
		if err := inst.WriteBytes(scratchPtr, tx.Data); err != nil {
			return fmt.Errorf("write tx_data into guest memory: %w", err)
		}
	}
	ret, err := inst.CallEntrypointArgs("apply_tx", scratchPtr, int32(len(tx.Data)))
	if err != nil {
		return fmt.Errorf("apply_tx trapped: %w", err)
	}
	if ret != 0 {
		return fmt.Errorf("apply_tx returned non-zero status %d", ret)
	}
	return nil
}

// evalVP loads addr's vp_code from the post write-log view and runs it with
// a fresh VPHost, returning its boolean verdict. verifiers is the full set
// the transaction is being verified against, addr included.
func evalVP(st *storage.Storage, meter *gas.Meter, addr string, txData []byte, keysChanged []storekey.Key, verifiers []string) (bool, error) {
	code, ok, err := st.ReadPost(storekey.VPKey(addr))
	if err != nil {
		return false, fmt.Errorf("read vp_code: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("vp_code for %s does not exist", addr)
	}
	return runVP(st, meter, addr, txData, keysChanged, verifiers, code, 0)
}

// maxNestedEvalDepth bounds the vp eval host call to a single level of
// nesting; a nested VP cannot itself nest further.
const maxNestedEvalDepth = 1

func runVP(st *storage.Storage, meter *gas.Meter, addr string, txData []byte, keysChanged []storekey.Key, verifiers []string, code []byte, depth int) (bool, error) {
	vpHost := hostenv.NewVPHost(st, meter, addr, txData, keysChanged, verifiers)

	verify := func(pk, data, sig []byte) bool {
		return verifyEd25519(pk, data, sig)
	}
	runNested := func(nestedCode, input []byte) (bool, error) {
		if depth+1 > maxNestedEvalDepth {
			return false, fmt.Errorf("nested eval depth exceeded")
		}
		return runVP(st, meter, addr, input, keysChanged, verifiers, nestedCode, depth+1)
	}

	mod, err := wasmvm.Compile(code)
	if err != nil {
		return false, fmt.Errorf("compile vp wasm: %w", err)
	}
	imports := vpHost.BuildImports(mod.Store(), verify, runNested)
	inst, err := mod.Instantiate(imports)
	if err != nil {
		return false, fmt.Errorf("instantiate vp wasm: %w", err)
	}
	vpHost.BindMemory(inst)

	// tx_data, keys_changed, and verifiers live back to back in guest
	// memory, each handed to the entrypoint as its own (ptr,len) pair.
	keysBlob := encodeKeys(keysChanged)
	verifiersBlob := []byte(strings.Join(verifiers, "\n"))
	const txDataPtr = 0
	keysPtr := txDataPtr + int32(len(txData))
	verifiersPtr := keysPtr + int32(len(keysBlob))
	for _, blob := range []struct {
		ptr  int32
		data []byte
	}{
		{txDataPtr, txData},
		{keysPtr, keysBlob},
		{verifiersPtr, verifiersBlob},
	} {
		if len(blob.data) == 0 {
			continue
		}
		if err := inst.WriteBytes(blob.ptr, blob.data); err != nil {
			return false, fmt.Errorf("write vp input into guest memory: %w", err)
		}
	}

	ret, err := inst.CallEntrypointArgs("validate_tx",
		txDataPtr, int32(len(txData)),
		keysPtr, int32(len(keysBlob)),
		verifiersPtr, int32(len(verifiersBlob)))
	if err != nil {
		return false, fmt.Errorf("validate_tx trapped: %w", err)
	}
	return ret == 1, nil
}

// encodeKeys newline-joins keys_changed's wire forms, the guest-side
// encoding this module uses for any list-of-Key argument.
func encodeKeys(keys []storekey.Key) []byte {
	var out []byte
	for i, k := range keys {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, []byte(k.String())...)
	}
	return out
}
