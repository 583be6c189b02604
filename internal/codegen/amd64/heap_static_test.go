package amd64

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/codegen"
	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/ir"
	"github.com/wazevoproject/wazevo/internal/testing/require"
	"github.com/wazevoproject/wazevo/internal/types"
)

// buildLoadFunction builds a function computing a single i32 load at the
// given static offset off its one (post-hidden-params) i32 index argument.
func buildLoadFunction(staticOffset uint32) *ir.Function {
	sig := &types.Signature{Params: []types.ValueType{types.I32}, Results: []types.ValueType{types.I32}, Conv: types.WasmDefault}
	f := ir.NewFunction("load", sig)
	b := ir.NewBuilder(f)
	entry := f.CreateBlock()
	f.SetEntryBlock(entry)
	b.Cursor.GotoBottom()
	b.Cursor.InsertBlock(entry)
	b.Cursor.GotoBlockStart(entry)
	f.AppendBlockParam(entry, types.I64) // exec ctx
	f.AppendBlockParam(entry, types.I64) // module ctx
	idx := f.AppendBlockParam(entry, types.I32)
	addr := b.HeapAddr(types.I64, idx, 0, staticOffset, 4)
	v := b.Load(types.I32, addr)
	b.Return([]ids.ValueIndex{v})
	return f
}

// requireDecodesCleanly walks code with x86asm end to end, failing the
// test on the first byte sequence that doesn't decode as valid x86-64 —
// the same malformed-ModRM/REX regression guard TestMachineCompileAddDisassembles
// uses.
func requireDecodesCleanly(t *testing.T, code []byte) {
	t.Helper()
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			t.Fatalf("x86asm failed to decode instruction at offset %d (bytes %x): %v", off, code[off:min(off+16, len(code))], err)
		}
		if inst.Len == 0 {
			t.Fatalf("x86asm returned zero-length instruction at offset %d", off)
		}
		off += inst.Len
	}
}

func TestMachineCompileStaticHeapCheckedDisassembles(t *testing.T) {
	f := buildLoadFunction(8)
	fnABI := abi.AMD64.Classify(f.Signature)

	m := NewMachine()
	m.SetStaticHeap(&codegen.StaticHeapConfig{Bound: 1 << 20, GuardSize: 1 << 16})
	buf, err := m.Compile(f, fnABI, true)
	require.NoError(t, err)
	require.True(t, len(buf.Code) > 0, "expected non-empty code buffer")
	requireDecodesCleanly(t, buf.Code)
}

func TestMachineCompileStaticHeapElidedDisassembles(t *testing.T) {
	f := buildLoadFunction(8)
	fnABI := abi.AMD64.Classify(f.Signature)

	m := NewMachine()
	m.SetStaticHeap(&codegen.StaticHeapConfig{Bound: 1 << 32, GuardSize: 1 << 32})
	buf, err := m.Compile(f, fnABI, true)
	require.NoError(t, err)
	requireDecodesCleanly(t, buf.Code)
}

func TestMachineCompileStaticHeapAlwaysOOBDisassembles(t *testing.T) {
	f := buildLoadFunction(8)
	fnABI := abi.AMD64.Classify(f.Signature)

	m := NewMachine()
	m.SetStaticHeap(&codegen.StaticHeapConfig{Bound: 4, GuardSize: 0})
	buf, err := m.Compile(f, fnABI, true)
	require.NoError(t, err)
	requireDecodesCleanly(t, buf.Code)
	require.True(t, len(buf.Traps) > 0, "expected the always-OOB site to record a trap")
}
