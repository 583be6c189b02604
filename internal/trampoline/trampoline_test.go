package trampoline

import (
	"math"
	"testing"

	"github.com/wazevoproject/wazevo/internal/runtime"
	"github.com/wazevoproject/wazevo/internal/testing/require"
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
)

func TestRawToValsAndBack(t *testing.T) {
	vts := []types.ValueType{types.I32, types.I64, types.F32, types.F64}
	raw := []uint64{
		uint64(uint32(int32(-7))),
		uint64(int64(42)),
		uint64(math.Float32bits(1.5)),
		math.Float64bits(2.5),
	}
	vals := RawToVals(raw, vts, 99)
	require.Equal(t, int32(-7), vals[0].I32())
	require.Equal(t, int64(42), vals[1].I64())
	require.Equal(t, float32(1.5), vals[2].F32())
	require.Equal(t, float64(2.5), vals[3].F64())
	for _, v := range vals {
		require.Equal(t, uint64(99), v.StoreID())
	}

	out := make([]uint64, len(raw))
	ValsToRaw(vals, out)
	require.Equal(t, raw, out)
}

func TestInvokeAddI32(t *testing.T) {
	add := func(args []runtime.Val) ([]runtime.Val, trap.Code) {
		return []runtime.Val{runtime.I32Val(1, args[0].I32()+args[1].I32())}, trap.CodeNone
	}
	raw := []uint64{uint64(uint32(3)), uint64(uint32(4))}
	code := Invoke(1, add, []types.ValueType{types.I32, types.I32}, []types.ValueType{types.I32}, raw)
	require.Equal(t, trap.CodeNone, code)
	require.Equal(t, uint64(7), raw[0])
}

func TestInvokePropagatesTrap(t *testing.T) {
	failing := func(args []runtime.Val) ([]runtime.Val, trap.Code) {
		return nil, trap.CodeIntegerDivisionByZero
	}
	raw := []uint64{0}
	code := Invoke(1, failing, []types.ValueType{types.I32}, nil, raw)
	require.Equal(t, trap.CodeIntegerDivisionByZero, code)
}
