package runtime

import (
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
	"github.com/wazevoproject/wazevo/internal/wasmmod"
)

// BuiltinFunc is the signature every entry in VMContext's builtin table
// has: raw-bits arguments in, raw-bits (or a Ref, for the funcref slow
// path) result out, a trap.Code when something goes wrong. Compiled code
// calls through this table rather than inlining memory.grow/table
// access/lazy-funcref logic at every call site, matching how
// other_examples/fe000123_..._amd64-machine.go routes these through
// builtinFunctionAddr instead of a full inline expansion.
type BuiltinFunc func(vmctx *VMContext, arg uint64) (uint64, trap.Code)

// builtin table indices; must match internal/codegen/amd64.builtinID's
// ordering exactly since the amd64/arm64 backends index this table by a
// fixed displacement computed from this same enumeration.
const (
	builtinMemoryGrow = iota
	builtinLazyFuncrefInit
	builtinTableAccess
	numBuiltins
)

// VMContext is the module-context structure compiled code reaches
// through a fixed register (R13 on amd64, X28 on arm64, s11 on riscv64).
// Field order matches the byte displacements internal/codegen/amd64's
// heapAddr/globalAccess/callBuiltin hardcode (memory length at +0, base
// pointer at +8, guard-page sentinel at +16, builtin table starting at
// +24) — a real implementation would either generate these offsets from
// this struct's layout via reflection/unsafe.Offsetof or pin them with
// struct tags; this repo keeps the two in sync by convention and
// documents the coupling here rather than hiding it.
type VMContext struct {
	MemoryLen  uint64
	MemoryBase uintptr
	GuardPage  uintptr
	Builtins   [numBuiltins]BuiltinFunc

	Globals   []uint64 // raw bit patterns, indexed by global index.
	GlobalRefs []Ref    // parallel slice used only for Ref-typed globals.

	inst *Instance
}

// Instance is one instantiated module: its linear memory, tables,
// globals, and the compiled function addresses its own call_indirect and
// the linker's export table resolve against. Grounded on
// inkeliz-wazero/internal/wasm/store.go's ModuleInstance (Memory, Globals,
// Tables, Exports fields; lifecycle tied to the owning Store).
type Instance struct {
	Name string

	Memory    []byte
	MemoryMax uint32 // pages; 0 means unbounded up to the implementation limit.

	Tables []Table

	Globals []Val

	// FuncAddrs maps the module's combined function index space to an
	// opaque compiled-code address (a CodeMemory offset in a real build;
	// kept abstract here since spec.md's C8 emits byte buffers, and
	// wiring those into executable mmap'd memory is a platform-specific
	// concern spec.md leaves to the embedder).
	FuncAddrs []uint32
	FuncTypes []types.TypeID

	// Module is the decoded form this instance was built from, kept
	// around so internal/linker can resolve a later module's imports
	// against this instance's ExportSection without re-decoding or
	// duplicating export bookkeeping here.
	Module *wasmmod.Module

	VMCtx *VMContext
	Store *Store
}

// Table is one table instance: a dense slice of Refs plus the element
// type it was declared with.
type Table struct {
	ElemType types.RefType
	Elems    []Ref
	Max      *uint32
}

// Grow appends n new null-initialized entries, returning the previous
// size, or -1 if growth would exceed Max (mirrors the Wasm table.grow
// failure-is-a-return-value-not-a-trap convention).
func (t *Table) Grow(n uint32) int32 {
	old := len(t.Elems)
	if t.Max != nil && uint32(old)+n > *t.Max {
		return -1
	}
	for i := uint32(0); i < n; i++ {
		t.Elems = append(t.Elems, NullRef(t.ElemType.Heap))
	}
	return int32(old)
}

// SetMemory installs mem as this instance's linear memory (freshly
// allocated for a locally defined memory, or aliased from an exporting
// instance for an imported one) and refreshes the VMContext fields
// compiled code's heap_addr reads, the same bookkeeping GrowMemory does
// after appending pages.
func (inst *Instance) SetMemory(mem []byte, max uint32) {
	inst.Memory = mem
	inst.MemoryMax = max
	inst.VMCtx.MemoryLen = uint64(len(mem))
	if len(mem) > 0 {
		inst.VMCtx.MemoryBase = memoryBaseAddr(mem)
	}
}

// GrowMemory implements the memory.grow builtin: delta pages appended if
// within MemoryMax, else -1. The VMContext's MemoryLen/MemoryBase fields
// are refreshed afterward so compiled code's next heap_addr sees the new
// bound (grown memory may have moved, matching wasmtime's own
// grow-may-relocate contract for a non-static heap style).
func (inst *Instance) GrowMemory(deltaPages uint32) int32 {
	const pageSize = 65536
	oldPages := uint32(len(inst.Memory) / pageSize)
	if inst.MemoryMax != 0 && oldPages+deltaPages > inst.MemoryMax {
		return -1
	}
	inst.Memory = append(inst.Memory, make([]byte, int(deltaPages)*pageSize)...)
	inst.VMCtx.MemoryLen = uint64(len(inst.Memory))
	if len(inst.Memory) > 0 {
		inst.VMCtx.MemoryBase = memoryBaseAddr(inst.Memory)
	}
	return int32(oldPages)
}
