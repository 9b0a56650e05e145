package wasmvm

import (
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// ErrNoMemoryExport is returned when a module does not export a linear
// memory named "memory", which every guest kind requires.
var ErrNoMemoryExport = errors.New("wasmvm: module does not export \"memory\"")

// AbsentLen is the sentinel negative length a host call returns to signal
// "absent" (e.g. a read of an unset key), distinct from a zero-length value.
const AbsentLen int32 = -1

// Module is a validated, compiled WASM module ready for instantiation.
// One Module is compiled once and may be instantiated many times (e.g. one
// VP module evaluated for many verifiers within the same block).
type Module struct {
	engine *wasmer.Engine
	store  *wasmer.Store
	module *wasmer.Module
}

// Compile validates code against the strict feature profile, then compiles
// it with wasmer.
func Compile(code []byte) (*Module, error) {
	if err := ValidateModule(code); err != nil {
		return nil, err
	}
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, fmt.Errorf("wasmvm: compile: %w", err)
	}
	return &Module{engine: engine, store: store, module: mod}, nil
}

// Instance is one instantiation of a Module, bound to a host import object
// for the duration of a single guest invocation. An Instance must not be
// shared across concurrently executing guest calls.
type Instance struct {
	instance *wasmer.Instance
	memory   *wasmer.Memory
}

// Instantiate links imports (the host-call import object built by
// internal/hostenv for the appropriate guest kind) and instantiates the
// module, capturing its exported linear memory.
func (m *Module) Instantiate(imports *wasmer.ImportObject) (*Instance, error) {
	inst, err := wasmer.NewInstance(m.module, imports)
	if err != nil {
		return nil, fmt.Errorf("wasmvm: instantiate: %w", err)
	}
	mem, err := inst.Exports.GetMemory("memory")
	if err != nil {
		return nil, ErrNoMemoryExport
	}
	return &Instance{instance: inst, memory: mem}, nil
}

// ReadBytes copies len bytes from the guest's linear memory at ptr. It is
// the host side of the (ptr,len) marshalling convention.
func (i *Instance) ReadBytes(ptr, length int32) ([]byte, error) {
	data := i.memory.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, fmt.Errorf("wasmvm: out-of-bounds memory read ptr=%d len=%d mem=%d", ptr, length, len(data))
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

// WriteBytes writes value into the guest's linear memory starting at ptr.
// The guest is responsible for allocating a large-enough buffer before
// calling a host function that writes into it (size first, then read).
func (i *Instance) WriteBytes(ptr int32, value []byte) error {
	data := i.memory.Data()
	if ptr < 0 || int(ptr)+len(value) > len(data) {
		return fmt.Errorf("wasmvm: out-of-bounds memory write ptr=%d len=%d mem=%d", ptr, len(value), len(data))
	}
	copy(data[ptr:], value)
	return nil
}

// CallEntrypoint invokes the guest's named entrypoint export with no
// arguments, per guest-kind conventions: tx modules export "apply_tx", VP
// modules export "validate_tx", matchmaker modules export "match_intent",
// filter modules export "validate". The specific name is supplied by the
// caller (internal/shell, internal/gossip, internal/matchmaker), not
// hardcoded here.
func (i *Instance) CallEntrypoint(name string) (int32, error) {
	return i.CallEntrypointArgs(name)
}

// CallEntrypointArgs invokes the guest's named entrypoint export with i32
// arguments: the (ptr,len) pair(s) locating the guest-memory-resident
// payload (tx_data, intent_data, ...) a caller wrote in beforehand with
// WriteBytes.
func (i *Instance) CallEntrypointArgs(name string, args ...int32) (int32, error) {
	fn, err := i.instance.Exports.GetFunction(name)
	if err != nil {
		return 0, fmt.Errorf("wasmvm: entrypoint %q not exported: %w", name, err)
	}
	wasmArgs := make([]interface{}, len(args))
	for idx, a := range args {
		wasmArgs[idx] = a
	}
	ret, err := fn(wasmArgs...)
	if err != nil {
		return 0, fmt.Errorf("wasmvm: entrypoint %q trapped: %w", name, err)
	}
	if ret == nil {
		return 0, nil
	}
	i32, ok := ret.(int32)
	if !ok {
		return 0, fmt.Errorf("wasmvm: entrypoint %q returned non-i32 value", name)
	}
	return i32, nil
}

// Store exposes the underlying wasmer store, needed by internal/hostenv to
// build wasmer.NewFunction host-call bindings against the same store the
// module was compiled with.
func (m *Module) Store() *wasmer.Store { return m.store }
