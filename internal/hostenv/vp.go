package hostenv

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"vpledger/internal/gas"
	"vpledger/internal/storage"
	"vpledger/internal/storekey"
	"vpledger/internal/wasmvm"
	"vpledger/internal/writelog"
)

// VPHost is the native-backed state for one validity-predicate evaluation's
// vp host API: paired read_pre/read_post, has_key_pre/has_key_post,
// iter_prefix with iter_pre_next/iter_post_next, block info,
// verify_tx_signature, eval (nested VP evaluation), log_string.
//
// The VP sees a frozen pre view (committed storage at block start) and a
// post view (pre + write-log overlay); Storage.ReadPre/ReadPost already
// implement exactly that split.
type VPHost struct {
	Storage   *storage.Storage
	Gas       *gas.Meter
	WriteLog  *writelog.WriteLog
	PreIters  *IterTable
	PostIters *IterTable
	Addr      string
	TxData    []byte
	Keys      []storekey.Key
	Verifiers []string
	Logs      []string

	inst *wasmvm.Instance
}

// NewVPHost constructs a fresh per-verifier host. verifiers is the full set
// the transaction's VPs are being evaluated for, including addr itself.
func NewVPHost(st *storage.Storage, meter *gas.Meter, addr string, txData []byte, keysChanged []storekey.Key, verifiers []string) *VPHost {
	return &VPHost{
		Storage:   st,
		Gas:       meter,
		WriteLog:  st.WriteLog(),
		PreIters:  NewIterTable(),
		PostIters: NewIterTable(),
		Addr:      addr,
		TxData:    txData,
		Keys:      keysChanged,
		Verifiers: verifiers,
	}
}

func (h *VPHost) charge(call gas.HostCall) error { return h.Gas.Consume(gas.BaseCost(call)) }

// IterPrefix opens one prefix iterator id covering both views: the same id
// is subsequently advanced through the pre view by IterPreNext and through
// the post view by IterPostNext, each tracking its own position.
func (h *VPHost) IterPrefix(prefix storekey.Key) (uint64, error) {
	if err := h.charge(gas.CallIterPrefix); err != nil {
		return 0, err
	}
	preKeys, err := h.Storage.IterPrefixPre(prefix)
	if err != nil {
		return 0, err
	}
	postKeys, err := h.Storage.IterPrefixPost(prefix)
	if err != nil {
		return 0, err
	}
	id := h.PreIters.Open(preKeys)
	postID := h.PostIters.Open(postKeys)
	if id != postID {
		// Both tables are only ever opened here, in lockstep.
		return 0, fmt.Errorf("hostenv: iterator tables out of sync: %d != %d", id, postID)
	}
	return id, nil
}

// IterPreNext/IterPostNext are the native-call forms of
// iter_pre_next/iter_post_next.
func (h *VPHost) IterPreNext(id uint64) (storekey.Key, []byte, bool, error) {
	if err := h.charge(gas.CallIterNext); err != nil {
		return storekey.Key{}, nil, false, err
	}
	k, ok := h.PreIters.Next(id)
	if !ok {
		return storekey.Key{}, nil, false, nil
	}
	v, present, err := h.Storage.ReadPre(k)
	return k, v, present, err
}

func (h *VPHost) IterPostNext(id uint64) (storekey.Key, []byte, bool, error) {
	if err := h.charge(gas.CallIterNext); err != nil {
		return storekey.Key{}, nil, false, err
	}
	k, ok := h.PostIters.Next(id)
	if !ok {
		return storekey.Key{}, nil, false, nil
	}
	v, present, err := h.Storage.ReadPost(k)
	return k, v, present, err
}

// ReadPre/ReadPost are the native-call forms of read_pre/read_post.
func (h *VPHost) ReadPre(key storekey.Key) ([]byte, bool, error) {
	if err := h.charge(gas.CallRead); err != nil {
		return nil, false, err
	}
	return h.Storage.ReadPre(key)
}

func (h *VPHost) ReadPost(key storekey.Key) ([]byte, bool, error) {
	if err := h.charge(gas.CallRead); err != nil {
		return nil, false, err
	}
	return h.Storage.ReadPost(key)
}

// HasKeyPre/HasKeyPost are the native-call forms of has_key_pre/has_key_post.
func (h *VPHost) HasKeyPre(key storekey.Key) (bool, error) {
	if err := h.charge(gas.CallHasKey); err != nil {
		return false, err
	}
	return h.Storage.HasPre(key)
}

func (h *VPHost) HasKeyPost(key storekey.Key) (bool, error) {
	if err := h.charge(gas.CallHasKey); err != nil {
		return false, err
	}
	return h.Storage.HasPost(key)
}

// VerifyTxSignature is the native-call form of verify_tx_signature(pk,
// data, sig). Ed25519 verification is out of this package's domain model;
// it delegates to the caller-supplied verify function (internal/shell
// passes its Ed25519 check), kept here as a seam so tests can inject a
// stub verifier.
func (h *VPHost) VerifyTxSignature(verify func(pk, data, sig []byte) bool, pk, data, sig []byte) (bool, error) {
	if err := h.charge(gas.CallVerifyTxSignature); err != nil {
		return false, err
	}
	return verify(pk, data, sig), nil
}

// Eval is the native-call form of eval(vp_code, input) -> bool: a nested
// VP evaluation, delegated to runNested. internal/shell's runNested runs the
// nested VP on a fresh wasmvm instance with input as its tx data and the
// same storage pre/post views, address, changed keys and verifiers as the
// calling VP; the view is not narrowed. It allows one level of nesting.
// This is the only sanctioned re-entry into WASM from within a guest call.
func (h *VPHost) Eval(runNested func(code, input []byte) (bool, error), code, input []byte) (bool, error) {
	if err := h.charge(gas.CallEvalVP); err != nil {
		return false, err
	}
	return runNested(code, input)
}

// LogString is the native-call form of log_string(msg).
func (h *VPHost) LogString(msg string) error {
	if err := h.charge(gas.CallLogString); err != nil {
		return err
	}
	h.Logs = append(h.Logs, msg)
	return nil
}

// GetChainID, GetBlockHeight, GetBlockHash are the vp host API's block-info
// calls, identical in shape to TxHost's namesakes: both tx and vp WASM read
// the same frozen block metadata for the duration of one invocation.
func (h *VPHost) GetChainID() (string, error) {
	if err := h.charge(gas.CallGetChainID); err != nil {
		return "", err
	}
	return h.Storage.ChainID(), nil
}

func (h *VPHost) GetBlockHeight() (uint64, error) {
	if err := h.charge(gas.CallGetBlockHeight); err != nil {
		return 0, err
	}
	return h.Storage.Height(), nil
}

func (h *VPHost) GetBlockHash() ([32]byte, error) {
	if err := h.charge(gas.CallGetBlockHash); err != nil {
		return [32]byte{}, err
	}
	return h.Storage.BlockHash(), nil
}

// BindMemory attaches the instantiated module's linear memory.
func (h *VPHost) BindMemory(inst *wasmvm.Instance) { h.inst = inst }

func (h *VPHost) memReadRaw(ptr, length int32) ([]byte, error) {
	if h.inst == nil {
		return nil, fmt.Errorf("hostenv: memory not bound")
	}
	return h.inst.ReadBytes(ptr, length)
}

func (h *VPHost) memWriteRaw(ptr int32, data []byte) error {
	if h.inst == nil {
		return fmt.Errorf("hostenv: memory not bound")
	}
	return h.inst.WriteBytes(ptr, data)
}

// BuildImports wires VPHost's native calls into a wasmer.ImportObject.
// verify and runNested are injected by the caller (internal/shell), which
// owns both the signature-verification primitive and the recursive
// single-nesting eval dispatch.
func (h *VPHost) BuildImports(store *wasmer.Store, verify func(pk, data, sig []byte) bool, runNested func(code, input []byte) (bool, error)) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	readPre := i32Func(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostRead(args, h.ReadPre)
	})
	readPost := i32Func(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostRead(args, h.ReadPost)
	})
	hasKeyPre := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostHasKey(args, h.HasKeyPre)
	})
	hasKeyPost := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostHasKey(args, h.HasKeyPost)
	})

	verifySig := i32Func(store, 6, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		pkPtr, pkLen, dPtr, dLen, sPtr, sLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32(), args[4].I32(), args[5].I32()
		pk, err := h.memReadRaw(pkPtr, pkLen)
		if err != nil {
			return nil, err
		}
		data, err := h.memReadRaw(dPtr, dLen)
		if err != nil {
			return nil, err
		}
		sig, err := h.memReadRaw(sPtr, sLen)
		if err != nil {
			return nil, err
		}
		ok, err := h.VerifyTxSignature(verify, pk, data, sig)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if ok {
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	eval := i32Func(store, 4, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		cPtr, cLen, iPtr, iLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
		code, err := h.memReadRaw(cPtr, cLen)
		if err != nil {
			return nil, err
		}
		input, err := h.memReadRaw(iPtr, iLen)
		if err != nil {
			return nil, err
		}
		ok, err := h.Eval(runNested, code, input)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if ok {
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	logString := i32Func(store, 2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		p, l := args[0].I32(), args[1].I32()
		msg, err := h.memReadRaw(p, l)
		if err != nil {
			return nil, err
		}
		return []wasmer.Value{}, h.LogString(string(msg))
	})

	iterPrefix := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostIterPrefix(args, h.IterPrefix)
	})
	iterPreNext := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostIterNext(args, h.IterPreNext)
	})
	iterPostNext := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return h.hostIterNext(args, h.IterPostNext)
	})

	getChainID := i32Func(store, 1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		dstPtr := args[0].I32()
		id, err := h.GetChainID()
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.memWriteRaw(dstPtr, []byte(id)); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(id)))}, nil
	})
	getBlockHeight := i32Func(store, 0, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		height, err := h.GetBlockHeight()
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(int32(height))}, nil
	})
	getBlockHash := i32Func(store, 1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		dstPtr := args[0].I32()
		hash, err := h.GetBlockHash()
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.memWriteRaw(dstPtr, hash[:]); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(hash)))}, nil
	})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"read_pre":            readPre,
		"read_post":           readPost,
		"has_key_pre":         hasKeyPre,
		"has_key_post":        hasKeyPost,
		"iter_prefix":         iterPrefix,
		"iter_pre_next":       iterPreNext,
		"iter_post_next":      iterPostNext,
		"verify_tx_signature": verifySig,
		"eval":                eval,
		"log_string":          logString,
		"get_chain_id":        getChainID,
		"get_block_height":    getBlockHeight,
		"get_block_hash":      getBlockHash,
	})
	return imports
}

func (h *VPHost) hostIterPrefix(args []wasmer.Value, open func(storekey.Key) (uint64, error)) ([]wasmer.Value, error) {
	pPtr, pLen := args[0].I32(), args[1].I32()
	prefixBytes, err := h.memReadRaw(pPtr, pLen)
	if err != nil {
		return nil, err
	}
	prefix, err := storekey.Parse(string(prefixBytes))
	if err != nil {
		return []wasmer.Value{wasmer.NewI32(-1)}, nil
	}
	id, err := open(prefix)
	if err != nil {
		return []wasmer.Value{wasmer.NewI32(-1)}, nil
	}
	return []wasmer.Value{wasmer.NewI32(int32(id))}, nil
}

func (h *VPHost) hostIterNext(args []wasmer.Value, next func(uint64) (storekey.Key, []byte, bool, error)) ([]wasmer.Value, error) {
	id, dstPtr := args[0].I32(), args[1].I32()
	_, val, ok, err := next(uint64(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []wasmer.Value{wasmer.NewI32(wasmvm.AbsentLen)}, nil
	}
	if err := h.memWriteRaw(dstPtr, val); err != nil {
		return nil, err
	}
	return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
}

func (h *VPHost) hostRead(args []wasmer.Value, read func(storekey.Key) ([]byte, bool, error)) ([]wasmer.Value, error) {
	kPtr, kLen, dstPtr := args[0].I32(), args[1].I32(), args[2].I32()
	keyBytes, err := h.memReadRaw(kPtr, kLen)
	if err != nil {
		return nil, err
	}
	key, err := storekey.Parse(string(keyBytes))
	if err != nil {
		return []wasmer.Value{wasmer.NewI32(wasmvm.AbsentLen)}, nil
	}
	val, ok, err := read(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []wasmer.Value{wasmer.NewI32(wasmvm.AbsentLen)}, nil
	}
	if err := h.memWriteRaw(dstPtr, val); err != nil {
		return nil, err
	}
	return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
}

func (h *VPHost) hostHasKey(args []wasmer.Value, has func(storekey.Key) (bool, error)) ([]wasmer.Value, error) {
	kPtr, kLen := args[0].I32(), args[1].I32()
	keyBytes, err := h.memReadRaw(kPtr, kLen)
	if err != nil {
		return nil, err
	}
	key, err := storekey.Parse(string(keyBytes))
	if err != nil {
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	}
	ok, err := has(key)
	if err != nil {
		return nil, err
	}
	if ok {
		return []wasmer.Value{wasmer.NewI32(1)}, nil
	}
	return []wasmer.Value{wasmer.NewI32(0)}, nil
}
