package hostenv

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"vpledger/internal/wasmvm"
)

// MMCommand is one of the three commands a matchmaker WASM run may emit;
// commands are collected during the run and applied after it returns.
type MMCommand struct {
	Kind      MMCommandKind
	TxData    []byte   // InjectTx
	IntentIDs []string // RemoveIntents
	State     []byte   // UpdateData
}

// MMCommandKind tags an MMCommand's variant.
type MMCommandKind int

const (
	MMInjectTx MMCommandKind = iota
	MMRemoveIntents
	MMUpdateData
)

// MMHost is the native-backed state for one matchmaker WASM invocation's
// host API: send_match, update_data, remove_intents, log_string. It is a
// small capability object passed explicitly into each matchmaker call;
// commands are collected rather than applied inline.
type MMHost struct {
	Commands []MMCommand
	Logs     []string

	inst *wasmvm.Instance
}

// NewMMHost constructs a fresh per-invocation matchmaker host.
func NewMMHost() *MMHost { return &MMHost{} }

// SendMatch is the native-call form of send_match(tx_data): stages an
// InjectTx command.
func (h *MMHost) SendMatch(txData []byte) {
	h.Commands = append(h.Commands, MMCommand{Kind: MMInjectTx, TxData: append([]byte(nil), txData...)})
}

// UpdateData is the native-call form of update_data(state): stages an
// UpdateData command.
func (h *MMHost) UpdateData(state []byte) {
	h.Commands = append(h.Commands, MMCommand{Kind: MMUpdateData, State: append([]byte(nil), state...)})
}

// RemoveIntents is the native-call form of remove_intents(ids): stages a
// RemoveIntents command.
func (h *MMHost) RemoveIntents(ids []string) {
	h.Commands = append(h.Commands, MMCommand{Kind: MMRemoveIntents, IntentIDs: append([]string(nil), ids...)})
}

// LogString is the native-call form of log_string(msg).
func (h *MMHost) LogString(msg string) { h.Logs = append(h.Logs, msg) }

// BindMemory attaches the instantiated module's linear memory.
func (h *MMHost) BindMemory(inst *wasmvm.Instance) { h.inst = inst }

func (h *MMHost) memReadRaw(ptr, length int32) ([]byte, error) {
	if h.inst == nil {
		return nil, fmt.Errorf("hostenv: memory not bound")
	}
	return h.inst.ReadBytes(ptr, length)
}

// BuildImports wires MMHost's native calls into a wasmer.ImportObject.
// remove_intents receives a newline-joined list of ascii intent ids (the
// guest-side encoding of set<IntentId> over the (ptr,len) convention).
func (h *MMHost) BuildImports(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	sendMatch := i32Func(store, 2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		p, l := args[0].I32(), args[1].I32()
		data, err := h.memReadRaw(p, l)
		if err != nil {
			return nil, err
		}
		h.SendMatch(data)
		return []wasmer.Value{}, nil
	})

	updateData := i32Func(store, 2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		p, l := args[0].I32(), args[1].I32()
		data, err := h.memReadRaw(p, l)
		if err != nil {
			return nil, err
		}
		h.UpdateData(data)
		return []wasmer.Value{}, nil
	})

	removeIntents := i32Func(store, 2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		p, l := args[0].I32(), args[1].I32()
		raw, err := h.memReadRaw(p, l)
		if err != nil {
			return nil, err
		}
		h.RemoveIntents(splitIDs(string(raw)))
		return []wasmer.Value{}, nil
	})

	logString := i32Func(store, 2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		p, l := args[0].I32(), args[1].I32()
		msg, err := h.memReadRaw(p, l)
		if err != nil {
			return nil, err
		}
		h.LogString(string(msg))
		return []wasmer.Value{}, nil
	})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"send_match":     sendMatch,
		"update_data":    updateData,
		"remove_intents": removeIntents,
		"log_string":     logString,
	})
	return imports
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\n' {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}
	out = append(out, raw[start:])
	return out
}
