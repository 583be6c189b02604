package wazevo

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tetratelabs/wabin/leb128"

	"github.com/wazevoproject/wazevo/internal/artifact"
	"github.com/wazevoproject/wazevo/internal/linker"
)

// moduleBuilder assembles a binary Wasm module byte-by-byte, the same
// section framing wasmmod.DecodeModule expects: a one-byte section id, a
// uleb128 byte count, then the section body.
type moduleBuilder struct {
	buf bytes.Buffer
}

func newModuleBuilder() *moduleBuilder {
	b := &moduleBuilder{}
	b.buf.Write([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})
	return b
}

func (b *moduleBuilder) section(id byte, body []byte) *moduleBuilder {
	b.buf.WriteByte(id)
	b.buf.Write(leb128.EncodeUint32(uint32(len(body))))
	b.buf.Write(body)
	return b
}

func (b *moduleBuilder) bytes() []byte { return b.buf.Bytes() }

func vec(n int, each func(i int) []byte) []byte {
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(n)))
	for i := 0; i < n; i++ {
		out.Write(each(i))
	}
	return out.Bytes()
}

func name(s string) []byte {
	return append(leb128.EncodeUint32(uint32(len(s))), []byte(s)...)
}

// funcType encodes a (params)->(results) func type, params/results given as
// raw Wasm value-type bytes (0x7F == i32, 0x7E == i64).
func funcType(params, results []byte) []byte {
	var out bytes.Buffer
	out.WriteByte(0x60)
	out.Write(leb128.EncodeUint32(uint32(len(params))))
	out.Write(params)
	out.Write(leb128.EncodeUint32(uint32(len(results))))
	out.Write(results)
	return out.Bytes()
}

const (
	valI32 = 0x7F
	valI64 = 0x7E
)

// code wraps a raw operator stream (no declared locals beyond the
// function's params) as one CodeSection entry: a uleb128 byte count, a
// zero local-group count, the body, and a trailing end opcode.
func code(body ...byte) []byte {
	var inner bytes.Buffer
	inner.Write(leb128.EncodeUint32(0)) // no extra local groups
	inner.Write(body)
	inner.WriteByte(0x0B) // end
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(inner.Len())))
	out.Write(inner.Bytes())
	return out.Bytes()
}

func u32(v uint32) []byte { return leb128.EncodeUint32(v) }
func i32c(v int32) []byte { return append([]byte{0x41}, leb128.EncodeInt32(v)...) }

// addModuleBytes builds a single-function module: func (i32,i32)->i32 doing
// local.get 0; local.get 1; i32.add, exported as "add".
func addModuleBytes() []byte {
	typeSec := vec(1, func(int) []byte { return funcType([]byte{valI32, valI32}, []byte{valI32}) })
	funcSec := vec(1, func(int) []byte { return u32(0) })
	exportSec := vec(1, func(int) []byte { return append(name("add"), 0x00 /* func */, 0x00) })
	codeSec := vec(1, func(int) []byte {
		return code(0x20, 0x00, 0x20, 0x01, 0x6A) // local.get 0; local.get 1; i32.add
	})
	return newModuleBuilder().
		section(1, typeSec).
		section(3, funcSec).
		section(7, exportSec).
		section(10, codeSec).
		bytes()
}

// callerModuleBytes builds a two-function module: func0 (type ()->i32)
// calls func1 (type i32->i32, local.get 0; i32.const 1; i32.add) with a
// literal argument, exercising an intra-module call relocation.
func callerModuleBytes() []byte {
	typeSec := vec(2, func(i int) []byte {
		if i == 0 {
			return funcType(nil, []byte{valI32})
		}
		return funcType([]byte{valI32}, []byte{valI32})
	})
	funcSec := vec(2, func(i int) []byte { return u32(uint32(i)) })
	exportSec := vec(1, func(int) []byte { return append(name("run"), 0x00, 0x00) })
	codeSec := vec(2, func(i int) []byte {
		if i == 0 {
			body := append(append([]byte{}, i32c(5)...), 0x10, 0x01) // i32.const 5; call 1
			return code(body...)
		}
		body := append([]byte{0x20, 0x00}, i32c(1)...) // local.get 0; i32.const 1
		body = append(body, 0x6A)                      // i32.add
		return code(body...)
	})
	return newModuleBuilder().
		section(1, typeSec).
		section(3, funcSec).
		section(7, exportSec).
		section(10, codeSec).
		bytes()
}

// importCallModuleBytes builds a module that imports one function and
// calls it directly, the case CompileModule must reject.
func importCallModuleBytes() []byte {
	typeSec := vec(1, func(int) []byte { return funcType(nil, nil) })
	importSec := vec(1, func(int) []byte {
		return append(append(name("env"), name("host")...), 0x00, 0x00) // func, type 0
	})
	funcSec := vec(1, func(int) []byte { return u32(0) })
	codeSec := vec(1, func(int) []byte { return code(0x10, 0x00) }) // call 0 (the import)
	return newModuleBuilder().
		section(1, typeSec).
		section(2, importSec).
		section(3, funcSec).
		section(10, codeSec).
		bytes()
}

func TestCompileModuleSingleFunction(t *testing.T) {
	e := NewEngine(NewEngineConfig())
	cm, err := e.CompileModule(addModuleBytes())
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	if len(cm.FunctionOffsets) != 1 || cm.FunctionOffsets[0] != 0 {
		t.Fatalf("unexpected function offsets: %v", cm.FunctionOffsets)
	}
	if len(cm.Code) == 0 {
		t.Fatal("expected non-empty compiled code")
	}
	if len(cm.Artifact.Relocations) != 0 {
		t.Fatalf("expected no relocations, got %d", len(cm.Artifact.Relocations))
	}
}

func TestCompileModuleIntraModuleCallRelocationPatched(t *testing.T) {
	e := NewEngine(NewEngineConfig())
	cm, err := e.CompileModule(callerModuleBytes())
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	if len(cm.Artifact.Relocations) == 0 {
		t.Fatal("expected at least one relocation for the intra-module call")
	}

	offsetByName := make(map[string]uint32)
	for _, f := range cm.Artifact.Functions {
		offsetByName[f.Name] = f.CodeOffset
	}

	for _, r := range cm.Artifact.Relocations {
		if r.Kind != artifact.RelocationDirectCall {
			t.Fatalf("unexpected relocation kind %v", r.Kind)
		}
		wantTarget, ok := offsetByName[r.SymbolName]
		if !ok {
			t.Fatalf("relocation targets unknown function %q", r.SymbolName)
		}
		rel := int32(cm.Code[r.CodeOffset]) | int32(cm.Code[r.CodeOffset+1])<<8 |
			int32(cm.Code[r.CodeOffset+2])<<16 | int32(cm.Code[r.CodeOffset+3])<<24
		gotTarget := uint32(int32(r.CodeOffset+4) + rel)
		if gotTarget != wantTarget {
			t.Fatalf("relocation at %d resolves to %d, want %d (func %s)",
				r.CodeOffset, gotTarget, wantTarget, r.SymbolName)
		}
	}
}

func TestCompileModuleRejectsDirectImportCall(t *testing.T) {
	e := NewEngine(NewEngineConfig())
	_, err := e.CompileModule(importCallModuleBytes())
	if err == nil {
		t.Fatal("expected an error compiling a module that calls an import directly")
	}
}

func TestCompileModuleDecodeError(t *testing.T) {
	e := NewEngine(NewEngineConfig())
	if _, err := e.CompileModule([]byte("not wasm")); err == nil {
		t.Fatal("expected a decode error for a non-Wasm payload")
	}
}

func TestEngineInstantiateMissingImportReturnsLinkError(t *testing.T) {
	e := NewEngine(NewEngineConfig())
	cm, err := e.CompileModule(importCallModuleBytesNoCall())
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	_, err = cm.Instantiate(e, "consumer")
	if err == nil {
		t.Fatal("expected a link error for an unresolved import")
	}
	var linkErr *linker.LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected a *linker.LinkError, got %T: %v", err, err)
	}
}

// importCallModuleBytesNoCall is importCallModuleBytes's import/type
// shape without the actual call, used where only Resolve's behavior
// against a missing exporter is under test (CompileModule would reject
// the call-to-import form before Instantiate ever runs).
func importCallModuleBytesNoCall() []byte {
	typeSec := vec(1, func(int) []byte { return funcType(nil, nil) })
	importSec := vec(1, func(int) []byte {
		return append(append(name("env"), name("host")...), 0x00, 0x00)
	})
	return newModuleBuilder().
		section(1, typeSec).
		section(2, importSec).
		bytes()
}
