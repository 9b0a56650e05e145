package gossip

import (
	"fmt"

	"vpledger/internal/hostenv"
	"vpledger/internal/wasmvm"
)

// Filter wraps an optional compiled WASM module exposing its single entry
// point validate(intent) -> bool. A nil *Filter means accept-all.
type Filter struct {
	mod *wasmvm.Module
}

// CompileFilter validates and compiles filter WASM code.
func CompileFilter(code []byte) (*Filter, error) {
	mod, err := wasmvm.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("gossip: compile filter: %w", err)
	}
	return &Filter{mod: mod}, nil
}

// Apply runs validate(intent_bytes) -> bool. A nil Filter always accepts.
func (f *Filter) Apply(intentBytes []byte) (bool, error) {
	if f == nil {
		return true, nil
	}
	host := hostenv.NewFilterHost()
	imports := host.BuildImports(f.mod.Store())
	inst, err := f.mod.Instantiate(imports)
	if err != nil {
		return false, fmt.Errorf("gossip: instantiate filter: %w", err)
	}
	host.BindMemory(inst)

	const ptr = 0
	if len(intentBytes) > 0 {
		if err := inst.WriteBytes(ptr, intentBytes); err != nil {
			return false, fmt.Errorf("gossip: write intent into guest memory: %w", err)
		}
	}
	ret, err := inst.CallEntrypointArgs("validate", ptr, int32(len(intentBytes)))
	if err != nil {
		return false, fmt.Errorf("gossip: validate trapped: %w", err)
	}
	return ret == 1, nil
}
