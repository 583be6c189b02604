package ir

import (
	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
)

// Builder is a thin convenience layer over Function + Cursor, matching
// the shape of frontend.go's own Compiler-as-builder: one emit method per
// instruction shape, each appending at the cursor and returning the
// result value (or nothing, for terminators/stores). internal/frontend
// drives this directly from the Wasm operand stack.
type Builder struct {
	F      *Function
	Cursor *Cursor
}

func NewBuilder(f *Function) *Builder {
	return &Builder{F: f, Cursor: NewCursor(f.Layout())}
}

func (b *Builder) emit(inst Instruction) ids.InstIndex {
	idx := b.F.PushInst(inst)
	b.Cursor.InsertInst(idx)
	return idx
}

func (b *Builder) emitResult(inst Instruction, t types.ValueType) ids.ValueIndex {
	idx := b.emit(inst)
	return b.F.CreateResult(idx, t)
}

// Iconst emits an integer constant of type t (I32 or I64); bits is stored
// as given (the translator zero-extends i32 constants).
func (b *Builder) Iconst(t types.ValueType, bits uint64) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpIconst, Type: t, Imm64: bits}, t)
}

func (b *Builder) F32const(bits uint32) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpF32const, Type: types.F32, Imm64: uint64(bits)}, types.F32)
}

func (b *Builder) F64const(bits uint64) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpF64const, Type: types.F64, Imm64: bits}, types.F64)
}

// BinOp emits a two-operand arithmetic/bitwise instruction.
func (b *Builder) BinOp(op Opcode, t types.ValueType, x, y ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: op, Type: t, Args: []ids.ValueIndex{x, y}}, t)
}

// UnOp emits a one-operand instruction (clz/ctz/popcnt/sqrt/...).
func (b *Builder) UnOp(op Opcode, t types.ValueType, x ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: op, Type: t, Args: []ids.ValueIndex{x}}, t)
}

func (b *Builder) Icmp(cc IntCC, x, y ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpIcmp, Type: types.I32, Imm64: uint64(cc), Args: []ids.ValueIndex{x, y}}, types.I32)
}

func (b *Builder) Fcmp(cc FloatCC, x, y ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpFcmp, Type: types.I32, Imm64: uint64(cc), Args: []ids.ValueIndex{x, y}}, types.I32)
}

func (b *Builder) Select(t types.ValueType, cond, then, els ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpSelect, Type: t, Args: []ids.ValueIndex{cond, then, els}}, t)
}

// HeapAddr emits the address-computation + bounds-check instruction that
// internal/codegen's amd64/arm64 lowering expands into the real
// dynamic/static bounds check and (when spectre mitigation is on) the
// conditional-move-to-guard-page sequence. staticOffset is the Wasm
// memarg's constant offset immediate, folded in here rather than at the
// eventual Load/Store so codegen has one place to reason about the
// combined "index + offset" bound; accessSize is the width in bytes of
// the load/store this address feeds, which the static heap style needs
// to decide whether a site is statically always-OOB or check-free
// (codegen.StaticHeapConfig.Classify). Imm2 packs memoryIndex in its low
// 32 bits and accessSize in its high 32 bits.
func (b *Builder) HeapAddr(ptrType types.ValueType, index ids.ValueIndex, memoryIndex, staticOffset, accessSize uint32) ids.ValueIndex {
	imm2 := uint64(memoryIndex) | uint64(accessSize)<<32
	return b.emitResult(Instruction{Op: OpHeapAddr, Type: ptrType, Args: []ids.ValueIndex{index}, Imm64: uint64(staticOffset), Imm2: imm2}, ptrType)
}

func (b *Builder) Load(t types.ValueType, addr ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpLoad, Type: t, Args: []ids.ValueIndex{addr}}, t)
}

func (b *Builder) Store(addr, value ids.ValueIndex) {
	b.emit(Instruction{Op: OpStore, Args: []ids.ValueIndex{addr, value}})
}

func (b *Builder) MemorySize(memIndex uint32) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpMemorySize, Type: types.I32, Imm64: uint64(memIndex)}, types.I32)
}

func (b *Builder) MemoryGrow(memIndex uint32, delta ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpMemoryGrow, Type: types.I32, Imm64: uint64(memIndex), Args: []ids.ValueIndex{delta}}, types.I32)
}

func (b *Builder) VarGet(t types.ValueType, localIdx uint32) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpVarGet, Type: t, Imm64: uint64(localIdx)}, t)
}

func (b *Builder) VarSet(localIdx uint32, value ids.ValueIndex) {
	b.emit(Instruction{Op: OpVarSet, Imm64: uint64(localIdx), Args: []ids.ValueIndex{value}})
}

func (b *Builder) GlobalGet(t types.ValueType, idx uint32) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpGlobalGet, Type: t, Imm64: uint64(idx)}, t)
}

func (b *Builder) GlobalSet(idx uint32, value ids.ValueIndex) {
	b.emit(Instruction{Op: OpGlobalSet, Imm64: uint64(idx), Args: []ids.ValueIndex{value}})
}

func (b *Builder) TableGet(t types.ValueType, tableIdx uint32, index ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpTableGet, Type: t, Imm64: uint64(tableIdx), Args: []ids.ValueIndex{index}}, t)
}

func (b *Builder) TableSet(tableIdx uint32, index, value ids.ValueIndex) {
	b.emit(Instruction{Op: OpTableSet, Imm64: uint64(tableIdx), Args: []ids.ValueIndex{index, value}})
}

func (b *Builder) RefNull(t types.ValueType) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpRefNull, Type: t}, t)
}

func (b *Builder) RefIsNull(ref ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpRefIsNull, Type: types.I32, Args: []ids.ValueIndex{ref}}, types.I32)
}

func (b *Builder) RefFunc(funcIdx uint32) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpRefFunc, Type: types.Ref, Imm64: uint64(funcIdx)}, types.Ref)
}

// LazyFuncrefInit emits the slow-path fetch for a table slot whose raw
// bit pattern (rawSlot) might still carry the "uninitialized" tag bit; the
// backend lowers this to a branch around a call into the runtime builtin
// that materializes the real funcref on first read (spec's lazy funcref
// initialization scenario).
func (b *Builder) LazyFuncrefInit(rawSlot ids.ValueIndex) ids.ValueIndex {
	return b.emitResult(Instruction{Op: OpLazyFuncrefInit, Type: types.Ref, Args: []ids.ValueIndex{rawSlot}}, types.Ref)
}

// Call emits a direct call; results are returned in order.
func (b *Builder) Call(funcIdx uint32, sig *types.Signature, args []ids.ValueIndex) []ids.ValueIndex {
	inst := Instruction{Op: OpCall, Imm64: uint64(funcIdx), Args: args}
	idx := b.emit(inst)
	return b.multiResult(idx, sig.Results)
}

// CallIndirect emits an indirect call through a table; expectedType is
// the shared TypeID the lowered BadSignature check compares the callee's
// own TypeID against before transferring control.
func (b *Builder) CallIndirect(tableIdx uint32, expectedType types.TypeID, sig *types.Signature, tableSlot ids.ValueIndex, args []ids.ValueIndex) []ids.ValueIndex {
	allArgs := append([]ids.ValueIndex{tableSlot}, args...)
	inst := Instruction{Op: OpCallIndirect, Imm64: uint64(tableIdx), Imm2: uint64(expectedType), Args: allArgs}
	idx := b.emit(inst)
	return b.multiResult(idx, sig.Results)
}

func (b *Builder) multiResult(idx ids.InstIndex, results []types.ValueType) []ids.ValueIndex {
	if len(results) == 0 {
		return nil
	}
	// Only the first result is wired through CreateResult's single-value
	// slot; additional results piggyback as synthetic "pick" values sharing
	// the same defining instruction index, with BlockParamIdx repurposed
	// to carry the result position for multi-value calls.
	out := make([]ids.ValueIndex, len(results))
	for i, t := range results {
		out[i] = b.F.values.Push(ValueData{Type: t, DefInst: idx, BlockParamIdx: i})
	}
	b.F.insts.Get(idx).Result = out[0]
	return out
}

// Jump emits an unconditional branch, a block terminator.
func (b *Builder) Jump(target ids.BlockIndex, args []ids.ValueIndex) {
	b.emit(Instruction{Op: OpJump, TargetBlock: target, TargetArgs: args})
}

// Brz/Brnz emit a conditional branch with both arms explicit, a block
// terminator (the "else" arm is the fallthrough target, never implicit).
func (b *Builder) Brz(cond ids.ValueIndex, thenBlk ids.BlockIndex, thenArgs []ids.ValueIndex, elseBlk ids.BlockIndex, elseArgs []ids.ValueIndex) {
	b.emit(Instruction{Op: OpBrz, Args: []ids.ValueIndex{cond}, TargetBlock: thenBlk, TargetArgs: thenArgs, ElseBlock: elseBlk, ElseArgs: elseArgs})
}

func (b *Builder) Brnz(cond ids.ValueIndex, thenBlk ids.BlockIndex, thenArgs []ids.ValueIndex, elseBlk ids.BlockIndex, elseArgs []ids.ValueIndex) {
	b.emit(Instruction{Op: OpBrnz, Args: []ids.ValueIndex{cond}, TargetBlock: thenBlk, TargetArgs: thenArgs, ElseBlock: elseBlk, ElseArgs: elseArgs})
}

func (b *Builder) BrTable(index ids.ValueIndex, targets []ids.BlockIndex) {
	b.emit(Instruction{Op: OpBrTable, Args: []ids.ValueIndex{index}, JumpTable: targets})
}

func (b *Builder) Return(values []ids.ValueIndex) {
	b.emit(Instruction{Op: OpReturn, Args: values})
}

// Trap emits an unconditional trap, a block terminator, used for Wasm's
// `unreachable` instruction. A statically out-of-bounds static-heap
// access does not go through this: the amd64 backend emits that trap
// itself while lowering OpHeapAddr.
func (b *Builder) Trap(code trap.Code) {
	b.emit(Instruction{Op: OpTrap, TrapCode: code})
}

// Trapz/Trapnz emit a conditional trap that falls through when the
// condition doesn't match; NOT a terminator, so normal control flow
// continues in the same block afterward. Codegen does not split the
// block: the backends lower the trap inline.
func (b *Builder) Trapz(cond ids.ValueIndex, code trap.Code) {
	b.emit(Instruction{Op: OpTrapz, Args: []ids.ValueIndex{cond}, TrapCode: code})
}

func (b *Builder) Trapnz(cond ids.ValueIndex, code trap.Code) {
	b.emit(Instruction{Op: OpTrapnz, Args: []ids.ValueIndex{cond}, TrapCode: code})
}
