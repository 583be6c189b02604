// Package runtime implements the host-facing value surface and the
// module/store bookkeeping a compiled function's execution context and
// module context pointers point into (spec.md C10). Grounded on
// inkeliz-wazero/internal/wasm/store.go for the Store/ModuleInstance
// shape and on original_source/crates/api/src/values.rs +
// crates/api/src/externals.rs for the store-id-on-every-Val invariant
// SPEC_FULL.md's Supplemented features section calls out.
package runtime

import (
	"math"

	"github.com/wazevoproject/wazevo/internal/types"
)

// Val is a host-facing Wasm value: one of i32/i64/f32/f64 (stored as a
// raw 64-bit pattern per spec §3's SSA value representation) or a
// nullable reference. storeID pins every Val to the Store it was read
// out of; CheckStore rejects a Val crossing into a different Store the same
// way wasmtime's externals.rs does, since a Ref's Index is only
// meaningful relative to the table/instance slice of its origin store.
type Val struct {
	typ     types.ValueType
	bits    uint64
	ref     Ref
	storeID uint64
}

// Ref is a nullable reference value: either a funcref (identifying a
// function by combined index space position) or an externref (an opaque
// host-supplied id). V128 is not folded into Ref, and Val has no V128
// case either: it stores at most 64 bits of numeric payload and has no
// V128 constructor.
type Ref struct {
	Heap     types.HeapType
	Null     bool
	FuncAddr uint32 // valid when Heap == HeapFunc/HeapConcreteFunc and !Null.
	ExternID uint64 // valid when Heap == HeapExtern and !Null.
}

func I32Val(storeID uint64, v int32) Val {
	return Val{typ: types.I32, bits: uint64(uint32(v)), storeID: storeID}
}

func I64Val(storeID uint64, v int64) Val {
	return Val{typ: types.I64, bits: uint64(v), storeID: storeID}
}

func F32Val(storeID uint64, v float32) Val {
	return Val{typ: types.F32, bits: uint64(math.Float32bits(v)), storeID: storeID}
}

func F64Val(storeID uint64, v float64) Val {
	return Val{typ: types.F64, bits: math.Float64bits(v), storeID: storeID}
}

func RefVal(storeID uint64, r Ref) Val {
	return Val{typ: types.Ref, ref: r, storeID: storeID}
}

func (v Val) Type() types.ValueType { return v.typ }
func (v Val) StoreID() uint64       { return v.storeID }

func (v Val) I32() int32 { return int32(uint32(v.bits)) }
func (v Val) I64() int64 { return int64(v.bits) }
func (v Val) F32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Val) F64() float64 { return math.Float64frombits(v.bits) }
func (v Val) Ref() Ref     { return v.ref }

// RawBits returns the stored bit pattern of a numeric Val (zero for a
// reference Val), the form an argument slot holds.
func (v Val) RawBits() uint64 { return v.bits }

// CheckStore returns false when v did not originate from store, the
// cross-store rejection externals.rs performs before using a Ref's
// index against a different store's table/instance slices.
func (v Val) CheckStore(storeID uint64) bool {
	return v.typ != types.Ref || v.ref.Null || v.storeID == storeID
}

// NullRef returns the null reference of the given heap type.
func NullRef(heap types.HeapType) Ref { return Ref{Heap: heap, Null: true} }
