package hostenv

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"vpledger/internal/address"
	"vpledger/internal/gas"
	"vpledger/internal/storage"
	"vpledger/internal/storekey"
	"vpledger/internal/wasmvm"
	"vpledger/internal/writelog"
)

// TxHost is the native-backed state for one tx invocation's host API:
// read/has_key/write/delete/iter_prefix/iter_next/insert_verifier/
// update_validity_predicate/init_account/get_chain_id/get_block_height/
// get_block_hash/log_string.
//
// The same TxHost backs both the WASM-bound import object built by
// BuildImports and a direct Go-call path usable without a WASM runtime at
// all, with identical semantics.
type TxHost struct {
	Storage   *storage.Storage
	Gas       *gas.Meter
	WriteLog  *writelog.WriteLog
	Iters     *IterTable
	Verifiers map[string]bool
	Logs      []string

	inst *wasmvm.Instance
}

// NewTxHost constructs a fresh per-tx host, isolated gas/iterator state.
func NewTxHost(st *storage.Storage, meter *gas.Meter) *TxHost {
	return &TxHost{
		Storage:   st,
		Gas:       meter,
		WriteLog:  st.WriteLog(),
		Iters:     NewIterTable(),
		Verifiers: make(map[string]bool),
	}
}

func (h *TxHost) charge(call gas.HostCall) error {
	return h.Gas.Consume(gas.BaseCost(call))
}

// Read is the native-call form of the tx host's read(key).
func (h *TxHost) Read(key storekey.Key) ([]byte, bool, error) {
	if err := h.charge(gas.CallRead); err != nil {
		return nil, false, err
	}
	return h.Storage.ReadPost(key)
}

// HasKey is the native-call form of has_key.
func (h *TxHost) HasKey(key storekey.Key) (bool, error) {
	if err := h.charge(gas.CallHasKey); err != nil {
		return false, err
	}
	return h.Storage.HasPost(key)
}

// Write is the native-call form of write(key,val). Writing a reserved
// vp_key directly is a write-log violation; only InitAccount and
// UpdateValidityPredicate may stage a vp_key entry.
func (h *TxHost) Write(key storekey.Key, value []byte) error {
	if key.IsVP() {
		return fmt.Errorf("hostenv: direct write to reserved vp_key %q", key.String())
	}
	if err := h.charge(gas.CallWrite); err != nil {
		return err
	}
	return h.WriteLog.Write(h.Gas, key, value)
}

// Delete is the native-call form of delete(key).
func (h *TxHost) Delete(key storekey.Key) error {
	if err := h.charge(gas.CallDelete); err != nil {
		return err
	}
	return h.WriteLog.Delete(h.Gas, key)
}

// IterPrefix is the native-call form of iter_prefix(prefix) -> iter_id.
func (h *TxHost) IterPrefix(prefix storekey.Key) (uint64, error) {
	if err := h.charge(gas.CallIterPrefix); err != nil {
		return 0, err
	}
	keys, err := h.Storage.IterPrefixPost(prefix)
	if err != nil {
		return 0, err
	}
	return h.Iters.Open(keys), nil
}

// IterNext is the native-call form of iter_next(iter_id).
func (h *TxHost) IterNext(id uint64) (storekey.Key, []byte, bool, error) {
	if err := h.charge(gas.CallIterNext); err != nil {
		return storekey.Key{}, nil, false, err
	}
	k, ok := h.Iters.Next(id)
	if !ok {
		return storekey.Key{}, nil, false, nil
	}
	v, present, err := h.Storage.ReadPost(k)
	if err != nil || !present {
		return k, nil, present, err
	}
	return k, v, true, nil
}

// InsertVerifier is the native-call form of insert_verifier(addr).
func (h *TxHost) InsertVerifier(addr string) error {
	if err := h.charge(gas.CallInsertVerifier); err != nil {
		return err
	}
	h.Verifiers[addr] = true
	return nil
}

// UpdateValidityPredicate is the native-call form of
// update_validity_predicate(addr, code): the sanctioned path for mutating
// an existing account's vp_key.
func (h *TxHost) UpdateValidityPredicate(addr string, code []byte) error {
	if err := h.charge(gas.CallUpdateVP); err != nil {
		return err
	}
	return h.WriteLog.Write(h.Gas, storekey.VPKey(addr), code)
}

// InitAccount is the native-call form of init_account(code) -> addr: mints
// a new Established address from the storage's address generator and
// stages its vp_key in one write-log entry.
func (h *TxHost) InitAccount(rngSource []byte, code []byte) (address.Address, error) {
	if err := h.charge(gas.CallInitAccount); err != nil {
		return address.Address{}, err
	}
	gen := h.Storage.AddressGen()
	addr := gen.Generate(rngSource)
	h.Storage.SetAddressGen(gen)
	if err := h.WriteLog.InitAccount(h.Gas, storekey.VPKey(addr.String()), code); err != nil {
		return address.Address{}, err
	}
	return addr, nil
}

// GetChainID, GetBlockHeight, GetBlockHash are the native-call forms of
// their namesake host calls.
func (h *TxHost) GetChainID() (string, error) {
	if err := h.charge(gas.CallGetChainID); err != nil {
		return "", err
	}
	return h.Storage.ChainID(), nil
}

func (h *TxHost) GetBlockHeight() (uint64, error) {
	if err := h.charge(gas.CallGetBlockHeight); err != nil {
		return 0, err
	}
	return h.Storage.Height(), nil
}

func (h *TxHost) GetBlockHash() ([32]byte, error) {
	if err := h.charge(gas.CallGetBlockHash); err != nil {
		return [32]byte{}, err
	}
	return h.Storage.BlockHash(), nil
}

// LogString is the native-call form of log_string(msg).
func (h *TxHost) LogString(msg string) error {
	if err := h.charge(gas.CallLogString); err != nil {
		return err
	}
	h.Logs = append(h.Logs, msg)
	return nil
}

// BuildImports wires TxHost's native calls into a wasmer.ImportObject under
// the "env" namespace, using the (ptr,len) marshalling convention.
func (h *TxHost) BuildImports(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := i32Func(store, 3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		kPtr, kLen, dstPtr := args[0].I32(), args[1].I32(), args[2].I32()
		keyBytes, err := h.memReadRaw(kPtr, kLen)
		if err != nil {
			return nil, err
		}
		key, err := storekey.Parse(string(keyBytes))
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(wasmvm.AbsentLen)}, nil
		}
		val, ok, err := h.Read(key)
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
	})

	write := i32Func(store, 4, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		kPtr, kLen, vPtr, vLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
		keyBytes, err := h.memReadRaw(kPtr, kLen)
		if err != nil {
			return nil, err
		}
		valBytes, err := h.memReadRaw(vPtr, vLen)
		if err != nil {
			return nil, err
		}
		key, err := storekey.Parse(string(keyBytes))
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.Write(key, valBytes); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	deleteFn := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		kPtr, kLen := args[0].I32(), args[1].I32()
		keyBytes, err := h.memReadRaw(kPtr, kLen)
		if err != nil {
			return nil, err
		}
		key, err := storekey.Parse(string(keyBytes))
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.Delete(key); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
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

	hasKey := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		kPtr, kLen := args[0].I32(), args[1].I32()
		keyBytes, err := h.memReadRaw(kPtr, kLen)
		if err != nil {
			return nil, err
		}
		key, err := storekey.Parse(string(keyBytes))
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		}
		ok, err := h.HasKey(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	iterPrefix := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		pPtr, pLen := args[0].I32(), args[1].I32()
		prefixBytes, err := h.memReadRaw(pPtr, pLen)
		if err != nil {
			return nil, err
		}
		prefix, err := storekey.Parse(string(prefixBytes))
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		id, err := h.IterPrefix(prefix)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(int32(id))}, nil
	})

	iterNext := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		id, dstPtr := args[0].I32(), args[1].I32()
		_, val, ok, err := h.IterNext(uint64(id))
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
	})

	insertVerifier := i32Func(store, 2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		aPtr, aLen := args[0].I32(), args[1].I32()
		addrBytes, err := h.memReadRaw(aPtr, aLen)
		if err != nil {
			return nil, err
		}
		if err := h.InsertVerifier(string(addrBytes)); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	updateVP := i32Func(store, 4, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		aPtr, aLen, cPtr, cLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
		addrBytes, err := h.memReadRaw(aPtr, aLen)
		if err != nil {
			return nil, err
		}
		code, err := h.memReadRaw(cPtr, cLen)
		if err != nil {
			return nil, err
		}
		if err := h.UpdateValidityPredicate(string(addrBytes), code); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	initAccount := i32Func(store, 4, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		cPtr, cLen, rngPtr, rngLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
		code, err := h.memReadRaw(cPtr, cLen)
		if err != nil {
			return nil, err
		}
		rng, err := h.memReadRaw(rngPtr, rngLen)
		if err != nil {
			return nil, err
		}
		addr, err := h.InitAccount(rng, code)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		encoded, err := addr.Encode()
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.memWriteRaw(cPtr, []byte(encoded)); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(encoded)))}, nil
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
		"read":                        read,
		"has_key":                     hasKey,
		"write":                       write,
		"delete":                      deleteFn,
		"iter_prefix":                 iterPrefix,
		"iter_next":                   iterNext,
		"insert_verifier":             insertVerifier,
		"update_validity_predicate":   updateVP,
		"init_account":                initAccount,
		"get_chain_id":                getChainID,
		"get_block_height":            getBlockHeight,
		"get_block_hash":              getBlockHash,
		"log_string":                  logString,
	})
	return imports
}

// BindMemory attaches the instantiated module's linear memory to this host,
// completing the two-step wire-up Instantiate requires (build imports,
// instantiate, then bind memory for subsequent host-call marshalling).
func (h *TxHost) BindMemory(inst *wasmvm.Instance) { h.inst = inst }

func (h *TxHost) memReadRaw(ptr, length int32) ([]byte, error) {
	if h.inst == nil {
		return nil, fmt.Errorf("hostenv: memory not bound")
	}
	return h.inst.ReadBytes(ptr, length)
}

func (h *TxHost) memWriteRaw(ptr int32, data []byte) error {
	if h.inst == nil {
		return fmt.Errorf("hostenv: memory not bound")
	}
	return h.inst.WriteBytes(ptr, data)
}
