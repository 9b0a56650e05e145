// Package wasmvm implements untrusted-module validation and instantiation:
// a strict WASM feature-profile gate, plus a generic (ptr,len)
// linear-memory marshalling wrapper shared by every guest kind.
//
// wasmer-go's exported Go API does not surface per-proposal feature
// toggles, so the profile gate is enforced by statically rejecting the
// opcodes and section shapes each disallowed proposal introduces, before
// the module ever reaches wasmer.NewModule.
package wasmvm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidModule is returned for a malformed WASM binary (bad magic,
// truncated LEB128, truncated section).
var ErrInvalidModule = errors.New("wasmvm: invalid module binary")

// ErrFeatureViolation is returned when a module uses a WASM feature the
// strict deterministic profile disables.
var ErrFeatureViolation = errors.New("wasmvm: disallowed feature")

const (
	wasmMagic   = 0x6d736100 // "\0asm"
	wasmVersion = 1
)

// section ids per the WASM binary format (core spec, non-custom sections).
const (
	secCustom = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
	secDataCount
)

// ValidateModule statically checks code against the strict profile:
// reference-types OFF, multi-value OFF, bulk-memory OFF, module-linking
// OFF, SIMD OFF, threads OFF, tail-call OFF, deterministic-only ON (no
// floating point), multi-memory OFF, exceptions OFF, memory64 OFF.
// It rejects on the first violation found; a module that passes is not
// guaranteed valid WASM in every other respect; wasmer.NewModule still
// performs full structural validation at compile time.
func ValidateModule(code []byte) error {
	if len(code) < 8 {
		return fmt.Errorf("%w: too short", ErrInvalidModule)
	}
	if binary.LittleEndian.Uint32(code[0:4]) != wasmMagic {
		return fmt.Errorf("%w: bad magic", ErrInvalidModule)
	}
	if binary.LittleEndian.Uint32(code[4:8]) != wasmVersion {
		return fmt.Errorf("%w: unsupported version", ErrInvalidModule)
	}

	memoryCount := 0
	b := code[8:]
	for len(b) > 0 {
		id := b[0]
		b = b[1:]
		size, n, err := readULEB128(b)
		if err != nil {
			return fmt.Errorf("%w: section length: %v", ErrInvalidModule, err)
		}
		b = b[n:]
		if uint64(len(b)) < size {
			return fmt.Errorf("%w: truncated section %d", ErrInvalidModule, id)
		}
		body := b[:size]
		b = b[size:]

		switch id {
		case secType:
			if err := checkTypeSection(body); err != nil {
				return err
			}
		case secMemory:
			count, err := checkMemorySection(body)
			if err != nil {
				return err
			}
			memoryCount += count
		case secTable:
			if err := checkTableSection(body); err != nil {
				return err
			}
		case secCode:
			if err := checkCodeSection(body); err != nil {
				return err
			}
		}
	}
	if memoryCount > 1 {
		return fmt.Errorf("%w: multi-memory (%d memories)", ErrFeatureViolation, memoryCount)
	}
	return nil
}

// checkTypeSection rejects multi-value: every function type must have at
// most one result.
func checkTypeSection(body []byte) error {
	count, n, err := readULEB128(body)
	if err != nil {
		return fmt.Errorf("%w: type section count: %v", ErrInvalidModule, err)
	}
	body = body[n:]
	for i := uint64(0); i < count; i++ {
		if len(body) == 0 || body[0] != 0x60 {
			return fmt.Errorf("%w: expected functype tag", ErrInvalidModule)
		}
		body = body[1:]
		nParams, n, err := readULEB128(body)
		if err != nil {
			return fmt.Errorf("%w: param count: %v", ErrInvalidModule, err)
		}
		body = body[n:]
		if uint64(len(body)) < nParams {
			return fmt.Errorf("%w: truncated param types", ErrInvalidModule)
		}
		if err := checkValueTypes(body[:nParams]); err != nil {
			return err
		}
		body = body[nParams:]

		nResults, n, err := readULEB128(body)
		if err != nil {
			return fmt.Errorf("%w: result count: %v", ErrInvalidModule, err)
		}
		body = body[n:]
		if nResults > 1 {
			return fmt.Errorf("%w: multi-value (%d results)", ErrFeatureViolation, nResults)
		}
		if uint64(len(body)) < nResults {
			return fmt.Errorf("%w: truncated result types", ErrInvalidModule)
		}
		if err := checkValueTypes(body[:nResults]); err != nil {
			return err
		}
		body = body[nResults:]
	}
	return nil
}

// checkValueTypes rejects reference types (funcref 0x70, externref 0x6f)
// appearing as value types, v128 (SIMD, 0x7b), and the float types f32/f64
// (deterministic-only: NaN bit patterns are not reproducible across
// implementations).
func checkValueTypes(types []byte) error {
	for _, t := range types {
		switch t {
		case 0x70, 0x6f:
			return fmt.Errorf("%w: reference type in value position", ErrFeatureViolation)
		case 0x7b:
			return fmt.Errorf("%w: v128 (SIMD) value type", ErrFeatureViolation)
		case 0x7d, 0x7c:
			return fmt.Errorf("%w: floating-point value type", ErrFeatureViolation)
		}
	}
	return nil
}

// checkTableSection rejects a table section declaring more than one table (a proxy
// for reference-types-driven multi-table setups) and non-funcref element
// types, which would indicate externref tables.
func checkTableSection(body []byte) error {
	count, n, err := readULEB128(body)
	if err != nil {
		return fmt.Errorf("%w: table section count: %v", ErrInvalidModule, err)
	}
	if count > 1 {
		return fmt.Errorf("%w: multiple tables", ErrFeatureViolation)
	}
	body = body[n:]
	for i := uint64(0); i < count; i++ {
		if len(body) == 0 {
			return fmt.Errorf("%w: truncated table type", ErrInvalidModule)
		}
		elemType := body[0]
		if elemType != 0x70 {
			return fmt.Errorf("%w: non-funcref table element", ErrFeatureViolation)
		}
		body = body[1:]
		if len(body) == 0 {
			return fmt.Errorf("%w: truncated table limits", ErrInvalidModule)
		}
		flags := body[0]
		body = body[1:]
		_, n, err := readULEB128(body)
		if err != nil {
			return fmt.Errorf("%w: table limits min: %v", ErrInvalidModule, err)
		}
		body = body[n:]
		if flags&0x01 != 0 {
			_, n, err := readULEB128(body)
			if err != nil {
				return fmt.Errorf("%w: table limits max: %v", ErrInvalidModule, err)
			}
			body = body[n:]
		}
	}
	return nil
}

// checkMemorySection rejects shared memories (threads proposal) and
// memory64 (index type i64, flags bit 0x04).
func checkMemorySection(body []byte) (int, error) {
	count, n, err := readULEB128(body)
	if err != nil {
		return 0, fmt.Errorf("%w: memory section count: %v", ErrInvalidModule, err)
	}
	body = body[n:]
	for i := uint64(0); i < count; i++ {
		if len(body) == 0 {
			return 0, fmt.Errorf("%w: truncated memory limits", ErrInvalidModule)
		}
		flags := body[0]
		body = body[1:]
		if flags&0x02 != 0 {
			return 0, fmt.Errorf("%w: shared memory (threads)", ErrFeatureViolation)
		}
		if flags&0x04 != 0 {
			return 0, fmt.Errorf("%w: memory64", ErrFeatureViolation)
		}
		_, n, err := readULEB128(body)
		if err != nil {
			return 0, fmt.Errorf("%w: memory min: %v", ErrInvalidModule, err)
		}
		body = body[n:]
		if flags&0x01 != 0 {
			_, n, err := readULEB128(body)
			if err != nil {
				return 0, fmt.Errorf("%w: memory max: %v", ErrInvalidModule, err)
			}
			body = body[n:]
		}
	}
	return int(count), nil
}

// forbiddenOpcode classifies single-byte opcodes belonging to disabled
// proposals: tail-call (return_call/return_call_indirect), exception
// handling (try/catch/throw/rethrow/delegate), reference types
// (ref.null/ref.is_null/ref.func, select-with-type, table.get/set), and
// every floating-point instruction (deterministic-only).
func forbiddenOpcode(op byte) bool {
	switch {
	case op == 0x12 || op == 0x13: // return_call, return_call_indirect
		return true
	case op >= 0x06 && op <= 0x0a: // try/catch/throw/rethrow/unwind
		return true
	case op == 0x18 || op == 0x19: // delegate, catch_all
		return true
	case op == 0xd0 || op == 0xd1 || op == 0xd2: // ref.null, ref.is_null, ref.func
		return true
	case op == 0x1c: // select with explicit value types
		return true
	case op == 0x25 || op == 0x26: // table.get, table.set
		return true
	case op == 0x43 || op == 0x44: // f32.const, f64.const
		return true
	case op == 0x2a || op == 0x2b || op == 0x38 || op == 0x39: // f32/f64 load/store
		return true
	case op >= 0x5b && op <= 0x66: // f32/f64 comparisons
		return true
	case op >= 0x8b && op <= 0xa6: // f32/f64 arithmetic
		return true
	case op >= 0xa8 && op <= 0xab: // i32.trunc_f*
		return true
	case op >= 0xae && op <= 0xbf: // i64.trunc_f*, f* conversions, reinterprets
		return true
	}
	return false
}

// checkCodeSection walks every function body instruction by instruction,
// skipping each opcode's immediates, and rejects forbidden opcodes and
// prefixes (0xfd SIMD, 0xfe threads/atomics, 0xfc sub-opcodes beyond the
// saturating-truncation range, which are bulk-memory). A structural walk is
// required: a flat byte scan would misread immediate bytes (e.g. the LEB128
// encoding of an i32.const operand) as opcodes.
func checkCodeSection(body []byte) error {
	count, n, err := readULEB128(body)
	if err != nil {
		return fmt.Errorf("%w: code section count: %v", ErrInvalidModule, err)
	}
	body = body[n:]
	for i := uint64(0); i < count; i++ {
		size, n, err := readULEB128(body)
		if err != nil {
			return fmt.Errorf("%w: function body size: %v", ErrInvalidModule, err)
		}
		body = body[n:]
		if uint64(len(body)) < size {
			return fmt.Errorf("%w: truncated function body", ErrInvalidModule)
		}
		if err := checkFunctionBody(body[:size], i); err != nil {
			return err
		}
		body = body[size:]
	}
	return nil
}

// checkFunctionBody parses one function body: its local declarations, then
// its instruction stream.
func checkFunctionBody(fn []byte, fnIndex uint64) error {
	nLocals, n, err := readULEB128(fn)
	if err != nil {
		return fmt.Errorf("%w: local decl count in function %d: %v", ErrInvalidModule, fnIndex, err)
	}
	fn = fn[n:]
	for i := uint64(0); i < nLocals; i++ {
		_, n, err := readULEB128(fn)
		if err != nil {
			return fmt.Errorf("%w: local count in function %d: %v", ErrInvalidModule, fnIndex, err)
		}
		fn = fn[n:]
		if len(fn) == 0 {
			return fmt.Errorf("%w: truncated local type in function %d", ErrInvalidModule, fnIndex)
		}
		if err := checkValueTypes(fn[:1]); err != nil {
			return err
		}
		fn = fn[1:]
	}

	for len(fn) > 0 {
		op := fn[0]
		fn = fn[1:]
		if forbiddenOpcode(op) {
			return fmt.Errorf("%w: opcode 0x%02x in function %d", ErrFeatureViolation, op, fnIndex)
		}
		var skip int
		switch {
		case op == 0x02 || op == 0x03 || op == 0x04: // block, loop, if: blocktype
			skip, err = skipBlockType(fn)
		case op == 0x0c || op == 0x0d: // br, br_if
			skip, err = skipLEBs(fn, 1)
		case op == 0x0e: // br_table: vec(labelidx) + default
			skip, err = skipBrTable(fn)
		case op == 0x10: // call
			skip, err = skipLEBs(fn, 1)
		case op == 0x11: // call_indirect: typeidx + tableidx
			skip, err = skipLEBs(fn, 2)
		case op >= 0x20 && op <= 0x24: // local/global get/set/tee
			skip, err = skipLEBs(fn, 1)
		case op >= 0x28 && op <= 0x3e: // loads/stores: memarg (align, offset)
			skip, err = skipLEBs(fn, 2)
		case op == 0x3f || op == 0x40: // memory.size, memory.grow
			skip, err = skipLEBs(fn, 1)
		case op == 0x41 || op == 0x42: // i32.const, i64.const
			skip, err = skipLEBs(fn, 1)
		case op == 0xfc: // saturating truncation vs bulk-memory
			var sub uint64
			var m int
			sub, m, err = readULEB128(fn)
			if err == nil && sub > 7 {
				return fmt.Errorf("%w: bulk-memory opcode 0xfc %d in function %d", ErrFeatureViolation, sub, fnIndex)
			}
			skip = m
		case op == 0xfd || op == 0xfe:
			return fmt.Errorf("%w: opcode prefix 0x%02x in function %d", ErrFeatureViolation, op, fnIndex)
		}
		if err != nil {
			if errors.Is(err, ErrFeatureViolation) {
				return err
			}
			return fmt.Errorf("%w: immediates of opcode 0x%02x in function %d: %v", ErrInvalidModule, op, fnIndex, err)
		}
		fn = fn[skip:]
	}
	return nil
}

// skipLEBs returns the byte length of count consecutive LEB128 varints.
// Signedness does not matter for skipping: both encodings terminate on the
// first byte without the continuation bit.
func skipLEBs(b []byte, count int) (int, error) {
	total := 0
	for i := 0; i < count; i++ {
		n, err := lebLen(b[total:])
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func lebLen(b []byte) (int, error) {
	for i := 0; i < len(b) && i < 10; i++ {
		if b[i]&0x80 == 0 {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("unterminated LEB128")
}

// skipBlockType handles the blocktype immediate of block/loop/if: either
// 0x40 (empty), a single value-type byte, or a multi-byte signed LEB type
// index. Float result types are rejected.
func skipBlockType(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("truncated blocktype")
	}
	switch b[0] {
	case 0x40, 0x7f, 0x7e: // empty, i32, i64
		return 1, nil
	case 0x7d, 0x7c, 0x7b, 0x70, 0x6f:
		return 0, fmt.Errorf("%w: disallowed blocktype 0x%02x", ErrFeatureViolation, b[0])
	}
	return lebLen(b)
}

func skipBrTable(b []byte) (int, error) {
	count, n, err := readULEB128(b)
	if err != nil {
		return 0, err
	}
	total := n
	for i := uint64(0); i <= count; i++ { // count targets plus the default
		m, err := lebLen(b[total:])
		if err != nil {
			return 0, err
		}
		total += m
	}
	return total, nil
}

// readULEB128 reads an unsigned LEB128 varint, returning its value and the
// number of bytes consumed.
func readULEB128(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		byt := b[i]
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("leb128 overflow")
		}
	}
	return 0, 0, fmt.Errorf("unexpected end of LEB128")
}
