package hostenv

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"vpledger/internal/wasmvm"
)

// FilterHost is the native-backed state for one intent-filter WASM
// invocation's host API: log_string only. The filter module's
// single entry point, validate(intent_bytes) -> bool, carries its argument
// via the (ptr,len) convention and its result as the i32 return value of
// CallEntrypointArgs; it needs no other host call to do its job.
type FilterHost struct {
	Logs []string
	inst *wasmvm.Instance
}

// NewFilterHost constructs a fresh per-invocation filter host.
func NewFilterHost() *FilterHost { return &FilterHost{} }

// LogString is the native-call form of log_string(msg).
func (h *FilterHost) LogString(msg string) { h.Logs = append(h.Logs, msg) }

// BindMemory attaches the instantiated module's linear memory.
func (h *FilterHost) BindMemory(inst *wasmvm.Instance) { h.inst = inst }

func (h *FilterHost) memReadRaw(ptr, length int32) ([]byte, error) {
	if h.inst == nil {
		return nil, fmt.Errorf("hostenv: memory not bound")
	}
	return h.inst.ReadBytes(ptr, length)
}

// BuildImports wires FilterHost's single host call into a
// wasmer.ImportObject.
func (h *FilterHost) BuildImports(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

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
		"log_string": logString,
	})
	return imports
}
