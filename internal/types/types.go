// Package types implements the Wasm value-type and signature registry
// (spec.md C2): primitive value types, nullable-reference heap types,
// function signatures, and the engine-global shared type id that makes two
// structurally equal signatures compare equal across modules for
// call_indirect type checks (spec.md §3, §4.10).
package types

import (
	"fmt"
	"sync"
)

// ValueType is a primitive Wasm value type.
type ValueType byte

const (
	I32 ValueType = iota
	I64
	F32
	F64
	V128
	// Ref is the single tag every reference type shares. IR values
	// (ir.ValueData) carry only this tag, not a RefType, so funcref and
	// externref values are not distinguished in the IR; a runtime.Ref
	// carries its own HeapType.
	Ref
)

func (v ValueType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case Ref:
		return "ref"
	default:
		return fmt.Sprintf("valuetype(%d)", byte(v))
	}
}

// Bits returns the natural register width for v, used by the ABI and the
// ALU-operation lowering to pick 32- vs 64-bit instruction forms.
func (v ValueType) Bits() int {
	switch v {
	case I32, F32:
		return 32
	case I64, F64, Ref:
		return 64
	case V128:
		return 128
	default:
		panic(fmt.Sprintf("bits: %s", v))
	}
}

func (v ValueType) IsFloat() bool { return v == F32 || v == F64 }
func (v ValueType) IsInt() bool   { return v == I32 || v == I64 }

// HeapType enumerates the heap types a reference can point into, per
// spec.md §3. ConcreteFunc/ConcreteStruct/ConcreteArray carry a Signature
// (by TypeID) instead of being bare enum tags.
type HeapType byte

const (
	HeapFunc HeapType = iota
	HeapConcreteFunc
	HeapNoFunc
	HeapExtern
	HeapNoExtern
	HeapAny
	HeapEq
	HeapI31
	HeapStruct
	HeapConcreteStruct
	HeapArray
	HeapConcreteArray
	HeapNone
)

// RefType is a nullable reference to a HeapType. A null reference is typed
// by its RefType, not by a universal "null" value — this is what lets a
// null funcref and a null externref remain distinguishable without extra
// bookkeeping (spec.md §3).
type RefType struct {
	Nullable bool
	Heap     HeapType
	// Concrete is the TypeID of the pointee signature when Heap is one of
	// the Concrete* variants; zero otherwise.
	Concrete TypeID
}

func (r RefType) String() string {
	n := ""
	if r.Nullable {
		n = "null "
	}
	switch r.Heap {
	case HeapConcreteFunc:
		return fmt.Sprintf("(ref %s%d)", n, r.Concrete)
	default:
		return fmt.Sprintf("(ref %sheap%d)", n, r.Heap)
	}
}

// CallConv tags the calling convention a Signature was classified under.
// Only one is implemented in depth (WasmDefault) but the tag exists because
// host-to-guest and guest-to-guest calls use distinct ABI treatment for the
// hidden vmctx/retptr parameters (spec.md §4.3, §4.11).
type CallConv byte

const (
	WasmDefault CallConv = iota
	GoHostCall
	ArrayCall
)

// Signature is a deduplicated function type: parameter/result value types
// plus a calling convention tag.
type Signature struct {
	Params  []ValueType
	Results []ValueType
	Conv    CallConv
}

func (s *Signature) key() string {
	b := make([]byte, 0, len(s.Params)+len(s.Results)+2)
	b = append(b, byte(s.Conv), '|')
	for _, p := range s.Params {
		b = append(b, byte(p))
	}
	b = append(b, '>')
	for _, r := range s.Results {
		b = append(b, byte(r))
	}
	return string(b)
}

func (s *Signature) String() string {
	return fmt.Sprintf("%v -> %v", s.Params, s.Results)
}

// TypeID is the engine-global shared id for a structurally-equal
// signature. Two modules compiled by the same Registry agree on this
// integer for equal signatures, which is what a compiled call_indirect
// compares against at runtime (spec.md's GLOSSARY: "Shared type ID").
type TypeID uint32

// Registry deduplicates Signatures across every module compiled by one
// engine. Lookups are read-mostly (one RWMutex, readers proceed in
// parallel, writers serialize) per spec.md §5's scheduling model for
// "Global registries".
type Registry struct {
	mu      sync.RWMutex
	byKey   map[string]TypeID
	sigs    []*Signature
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]TypeID)}
}

// Intern returns the shared TypeID for sig, assigning a fresh one the first
// time a structurally distinct signature is seen.
func (r *Registry) Intern(sig *Signature) TypeID {
	key := sig.key()

	r.mu.RLock()
	if id, ok := r.byKey[key]; ok {
		r.mu.RUnlock()
		return id
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another writer may have interned this key while we waited
	// for the exclusive lock.
	if id, ok := r.byKey[key]; ok {
		return id
	}
	id := TypeID(len(r.sigs))
	r.sigs = append(r.sigs, sig)
	r.byKey[key] = id
	return id
}

// Lookup returns the Signature registered under id. Panics if id was never
// interned by this Registry — a mismatched TypeID crossing engines is a
// programmer-contract violation per spec.md §7.
func (r *Registry) Lookup(id TypeID) *Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.sigs) {
		panic(fmt.Sprintf("types: shared type id %d not registered in this engine", id))
	}
	return r.sigs[id]
}

// Equal reports whether two signatures are structurally identical. Used by
// the table/call_indirect BadSignature check when a concrete Signature
// (rather than a bare TypeID) is available, e.g. during linking.
func Equal(a, b *Signature) bool {
	return a.key() == b.key()
}
