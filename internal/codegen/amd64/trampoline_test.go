package amd64

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/testing/require"
	"github.com/wazevoproject/wazevo/internal/types"
)

func decodesCleanly(t *testing.T, code []byte) {
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

func TestCompileArrayToNativeTrampolineDisassembles(t *testing.T) {
	sig := &types.Signature{Params: []types.ValueType{types.I32, types.I32}, Results: []types.ValueType{types.I32}, Conv: types.WasmDefault}
	fnABI := abi.AMD64.Classify(sig)

	buf, err := CompileArrayToNativeTrampoline(fnABI)
	require.NoError(t, err)
	require.True(t, len(buf.Code) > 0, "expected non-empty code buffer")
	decodesCleanly(t, buf.Code)
}

func TestCompileNativeToArrayTrampolineDisassembles(t *testing.T) {
	sig := &types.Signature{Params: []types.ValueType{types.I32, types.I32}, Results: []types.ValueType{types.I32}, Conv: types.WasmDefault}
	fnABI := abi.AMD64.Classify(sig)

	buf, err := CompileNativeToArrayTrampoline(fnABI, 24)
	require.NoError(t, err)
	require.True(t, len(buf.Code) > 0, "expected non-empty code buffer")
	decodesCleanly(t, buf.Code)
}
