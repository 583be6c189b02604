// Package ir implements the compiler-core intermediate representation
// (spec.md C3/C4): a typed-arena SSA Function made of extended basic
// blocks (EBBs), a separate doubly-linked Layout tracking block and
// instruction order, and a Cursor for in-place editing — grounded directly
// on original_source/lib/cretonne/src/ir/layout.rs (Cranelift's own
// layout/cursor split) and on the instruction-payload shapes seen in the
// retrieved wazevo backend/frontend files.
package ir

import (
	"fmt"

	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
)

// Opcode is the IR-level operator set. This is deliberately much smaller
// than the Wasm opcode set: many Wasm operators (the various load/store
// widths, the signed/unsigned comparison families) collapse onto a
// handful of parameterized IR opcodes the same way wazevo's ssa.Opcode
// does.
type Opcode byte

const (
	OpInvalid Opcode = iota

	// Constants.
	OpIconst // Imm64 holds the bit pattern, zero-extended to 64 bits for i32.
	OpF32const
	OpF64const

	// Integer arithmetic.
	OpIadd
	OpIsub
	OpImul
	OpSdiv
	OpUdiv
	OpSrem
	OpUrem
	OpBand
	OpBor
	OpBxor
	OpIshl
	OpSshr
	OpUshr
	OpRotl
	OpRotr
	OpClz
	OpCtz
	OpPopcnt
	OpIcmp // Imm64 holds the IntCC condition code.

	// Float arithmetic.
	OpFadd
	OpFsub
	OpFmul
	OpFdiv
	OpFsqrt
	OpFcmp // Imm64 holds the FloatCC condition code.

	// Conversions.
	OpSExtend
	OpUExtend
	OpIreduce

	// Memory.
	OpLoad  // Args[0]=address (already bounds-checked; the static offset is folded in by OpHeapAddr).
	OpStore // Args[0]=address (as for OpLoad), Args[1]=value.
	OpHeapAddr // Args[0]=wasm i32 index. Imm64=static offset. Imm2=memoryIndex | accessSize<<32. Emits the bounds check + base add; Type is the pointer width.
	OpMemorySize
	OpMemoryGrow // Args[0]=delta in pages.

	// Locals. Unlike every other value in this IR, a local is a mutable
	// slot rather than a single static definition: OpVarGet/OpVarSet read
	// and write local index Imm64 directly. The backends give each local
	// index one dedicated stack slot for the whole function rather than
	// promoting locals through block params at merge points.
	OpVarGet // Imm64 = local index.
	OpVarSet // Args[0]=value. Imm64 = local index.

	// Globals.
	OpGlobalGet // Imm64 = global index.
	OpGlobalSet // Args[0]=value. Imm64 = global index.

	// Tables / references.
	OpTableGet   // Args[0]=index. Imm64=table index.
	OpTableSet   // Args[0]=index, Args[1]=value. Imm64=table index.
	OpRefNull
	OpRefIsNull
	OpRefFunc // Imm64 = function index.
	OpLazyFuncrefInit // Args[0]=raw table slot bits. Slow-path lowering target, see spec's lazy funcref scenario.

	// Calls.
	OpCall         // Imm64 = function index. Args = arguments.
	OpCallIndirect // Args[0]=table index value, Args[1:]=arguments. Imm64=table index literal, Imm2=expected TypeID.

	// Control flow (terminators; must be the last instruction of a block).
	OpJump       // TargetBlock, TargetArgs.
	OpBrz        // Args[0]=condition. TargetBlock/ElseBlock, TargetArgs/ElseArgs.
	OpBrnz       // Args[0]=condition. TargetBlock/ElseBlock, TargetArgs/ElseArgs.
	OpBrTable    // Args[0]=index. JumpTable = targets, last entry is the default.
	OpReturn     // Args = return values.
	OpTrap       // TrapCode. Unconditional trap.
	OpTrapz      // Args[0]=condition; traps if zero. TrapCode. Falls through otherwise (not a terminator).
	OpTrapnz     // Args[0]=condition; traps if nonzero. TrapCode. Not a terminator.

	OpSelect // Args[0]=condition, Args[1]=then, Args[2]=else.
)

func (o Opcode) IsTerminator() bool {
	switch o {
	case OpJump, OpBrz, OpBrnz, OpBrTable, OpReturn, OpTrap:
		return true
	default:
		return false
	}
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", byte(o))
}

var opcodeNames = map[Opcode]string{
	OpIconst: "iconst", OpF32const: "f32const", OpF64const: "f64const",
	OpIadd: "iadd", OpIsub: "isub", OpImul: "imul", OpSdiv: "sdiv", OpUdiv: "udiv",
	OpSrem: "srem", OpUrem: "urem", OpBand: "band", OpBor: "bor", OpBxor: "bxor",
	OpIshl: "ishl", OpSshr: "sshr", OpUshr: "ushr", OpRotl: "rotl", OpRotr: "rotr",
	OpClz: "clz", OpCtz: "ctz", OpPopcnt: "popcnt", OpIcmp: "icmp",
	OpFadd: "fadd", OpFsub: "fsub", OpFmul: "fmul", OpFdiv: "fdiv", OpFsqrt: "fsqrt", OpFcmp: "fcmp",
	OpSExtend: "sextend", OpUExtend: "uextend", OpIreduce: "ireduce",
	OpVarGet: "var_get", OpVarSet: "var_set",
	OpLoad: "load", OpStore: "store", OpHeapAddr: "heap_addr",
	OpMemorySize: "memory_size", OpMemoryGrow: "memory_grow",
	OpGlobalGet: "global_get", OpGlobalSet: "global_set",
	OpTableGet: "table_get", OpTableSet: "table_set",
	OpRefNull: "ref_null", OpRefIsNull: "ref_is_null", OpRefFunc: "ref_func",
	OpLazyFuncrefInit: "lazy_funcref_init",
	OpCall: "call", OpCallIndirect: "call_indirect",
	OpJump: "jump", OpBrz: "brz", OpBrnz: "brnz", OpBrTable: "br_table",
	OpReturn: "return", OpTrap: "trap", OpTrapz: "trapz", OpTrapnz: "trapnz",
	OpSelect: "select",
}

// IntCC / FloatCC are condition codes for Icmp/Fcmp, stashed in Imm64.
type IntCC byte

const (
	IntEq IntCC = iota
	IntNe
	IntSLt
	IntSLe
	IntSGt
	IntSGe
	IntULt
	IntULe
	IntUGt
	IntUGe
)

type FloatCC byte

const (
	FloatEq FloatCC = iota
	FloatNe
	FloatLt
	FloatLe
	FloatGt
	FloatGe
)

// Instruction is one IR operation. Only the fields relevant to Opcode are
// populated; this mirrors the "one big struct, mostly-zero payload" shape
// used throughout the retrieved wazevo backend instruction types rather
// than a Go interface-per-opcode (which would defeat dense arena storage).
type Instruction struct {
	Op     Opcode
	Args   []ids.ValueIndex
	Result ids.ValueIndex // NullValue if the instruction has no result.
	Type   types.ValueType

	Imm64 uint64
	Imm2  uint64 // memoryIndex | accessSize<<32 for heap_addr; expected TypeID for call_indirect.

	TargetBlock ids.BlockIndex
	TargetArgs  []ids.ValueIndex
	ElseBlock   ids.BlockIndex
	ElseArgs    []ids.ValueIndex
	JumpTable   []ids.BlockIndex // OpBrTable only; last entry is the default target.

	TrapCode trap.Code

	// layout linkage, owned by Layout (see layout.go). Never touched
	// directly outside this package.
	prev, next ids.InstIndex
	block      ids.BlockIndex
}

// ValueData describes where an SSA value comes from: either a block
// parameter or an instruction result.
type ValueData struct {
	Type types.ValueType
	// DefInst is NullInst when the value is a block parameter instead.
	DefInst ids.InstIndex
	// DefBlock is set when this value is a block parameter (DefInst is
	// NullInst in that case); BlockParamIdx is its position.
	DefBlock       ids.BlockIndex
	BlockParamIdx  int
}

// Block is one extended basic block: a list of block parameters (the SSA
// replacement for phi nodes) plus instruction-order linkage owned by
// Layout.
type Block struct {
	Params     []ids.ValueIndex
	ParamTypes []types.ValueType

	// layout linkage, owned by Layout.
	prev, next           ids.BlockIndex
	firstInst, lastInst  ids.InstIndex
}
