package amd64

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/ir"
	"github.com/wazevoproject/wazevo/internal/testing/require"
	"github.com/wazevoproject/wazevo/internal/types"
)

// buildAddFunction constructs a function computing i32.add on its two
// (post-hidden-params) arguments and returning the result, the same
// "add two i32s" scenario spec.md names as the simplest end-to-end case.
func buildAddFunction() *ir.Function {
	sig := &types.Signature{Params: []types.ValueType{types.I32, types.I32}, Results: []types.ValueType{types.I32}, Conv: types.WasmDefault}
	f := ir.NewFunction("add", sig)
	b := ir.NewBuilder(f)
	entry := f.CreateBlock()
	f.SetEntryBlock(entry)
	b.Cursor.GotoBottom()
	b.Cursor.InsertBlock(entry)
	b.Cursor.GotoBlockStart(entry)
	f.AppendBlockParam(entry, types.I64) // exec ctx
	f.AppendBlockParam(entry, types.I64) // module ctx
	p0 := f.AppendBlockParam(entry, types.I32)
	p1 := f.AppendBlockParam(entry, types.I32)
	sum := b.BinOp(ir.OpIadd, types.I32, p0, p1)
	b.Return([]ids.ValueIndex{sum})
	return f
}

func TestMachineCompileAddDisassembles(t *testing.T) {
	f := buildAddFunction()
	fnABI := abi.AMD64.Classify(f.Signature)

	m := NewMachine()
	buf, err := m.Compile(f, fnABI, true)
	require.NoError(t, err)
	require.True(t, len(buf.Code) > 0, "expected non-empty code buffer")

	// Walk the emitted bytes with x86asm to confirm every instruction the
	// encoder wrote decodes as valid x86-64, catching malformed ModRM/REX
	// byte sequences that a hand-rolled encoder is prone to.
	code := buf.Code
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
