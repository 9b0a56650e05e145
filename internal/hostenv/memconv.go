package hostenv

import "github.com/wasmerio/wasmer-go/wasmer"

// i32Func builds a wasmer.Function whose signature is nParams i32 inputs
// and nResults i32 outputs, the shape of every host call here, since
// every argument and result in the (ptr,len) marshalling convention is a
// guest-memory offset, a length, or a small integer/boolean.
func i32Func(store *wasmer.Store, nParams, nResults int, f func([]wasmer.Value) ([]wasmer.Value, error)) *wasmer.Function {
	params := make([]wasmer.ValueKind, nParams)
	results := make([]wasmer.ValueKind, nResults)
	for i := range params {
		params[i] = wasmer.ValueKind(wasmer.I32)
	}
	for i := range results {
		results[i] = wasmer.ValueKind(wasmer.I32)
	}
	return wasmer.NewFunction(store, wasmer.NewFunctionType(wasmer.NewValueTypes(params...), wasmer.NewValueTypes(results...)), f)
}
