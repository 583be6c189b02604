// Package abi materializes a Wasm-level Signature into a concrete calling
// convention for one target ISA: which arguments/results live in which
// integer or float registers, which spill to the stack, and the hidden
// parameters every Wasm-to-Wasm call carries (the vmctx/module-context
// pointer pair), grounded on frontend.go's SignatureForWasmFunctionType
// (the "+2" convention: every compiled function takes the execution
// context pointer and the module context pointer ahead of its declared
// Wasm parameters) and on the amd64/arm64 machine files' FunctionABI
// usage in lowerCall / CompileGoFunctionTrampoline.
package abi

import (
	"github.com/wazevoproject/wazevo/internal/types"
)

// RegClass distinguishes integer/pointer registers from floating-point
// ones; V128 arguments use the float class at double width.
type RegClass byte

const (
	ClassInt RegClass = iota
	ClassFloat
)

// ArgLoc is where a single argument or result lives after classification:
// either a numbered register of the given class, or a stack slot at the
// given byte offset from the ABI's defined stack-argument base.
type ArgLoc struct {
	Type        types.ValueType
	InRegister  bool
	Class       RegClass
	Reg         int
	StackOffset int32
}

// FunctionABI is the materialized calling convention for one Signature on
// one ISA.
type FunctionABI struct {
	Args, Rets     []ArgLoc
	ArgStackBytes  int32
	RetStackBytes  int32
	// StackAlign is the ISA's stack alignment requirement, copied from
	// ISA.StackAlignBytes by Classify.
	StackAlign int32
}

// ISA is the per-architecture register inventory and materialization
// knobs; Classify below is shared across every ISA and only consults
// this table, matching how the pack's machine files each declare their
// own integer/float argument register orders but share the "args in
// registers, then stack, left to right" classification algorithm.
type ISA struct {
	Name             string
	WordBits         int
	IntArgRegs       []int
	FloatArgRegs     []int
	IntRetRegs       []int
	FloatRetRegs     []int
	StackAlignBytes  int32

	// CalleeSavedInt/CalleeSavedFloat list the registers this ISA's ABI
	// requires a callee to preserve across a call, in the order a
	// backend's prologue pushes them (amd64's emitPrologue; its
	// emitEpilogue pops in reverse). A register only appears in a compiled function's actual
	// save/restore sequence when that function's own body clobbers it;
	// see ComputeFrameLayout.
	CalleeSavedInt   []int
	CalleeSavedFloat []int
}

// Classify assigns registers/stack slots to sig's parameters and results
// under conv, prepending the two hidden vmctx/module-context pointer
// arguments for WasmDefault and GoHostCall conventions (ArrayCall, used
// by the uniform array-call trampoline entry point, passes everything
// through a single pointer+length pair instead and is classified
// specially by internal/trampoline).
func (isa *ISA) Classify(sig *types.Signature) *FunctionABI {
	var params []types.ValueType
	if sig.Conv == types.WasmDefault || sig.Conv == types.GoHostCall {
		// Hidden exec-context and module-context pointers, per
		// frontend.go's SignatureForWasmFunctionType "+2" convention.
		params = append(params, ptrValueType(isa), ptrValueType(isa))
	}
	params = append(params, sig.Params...)

	fa := &FunctionABI{StackAlign: isa.StackAlignBytes}
	fa.Args, fa.ArgStackBytes = isa.classifySlice(params, isa.IntArgRegs, isa.FloatArgRegs)
	fa.Rets, fa.RetStackBytes = isa.classifySlice(sig.Results, isa.IntRetRegs, isa.FloatRetRegs)
	return fa
}

func ptrValueType(isa *ISA) types.ValueType {
	if isa.WordBits == 32 {
		return types.I32
	}
	return types.I64
}

func (isa *ISA) classifySlice(vts []types.ValueType, intRegs, floatRegs []int) ([]ArgLoc, int32) {
	nextInt, nextFloat := 0, 0
	var stackOffset int32
	out := make([]ArgLoc, len(vts))
	for i, vt := range vts {
		class := ClassInt
		if vt.IsFloat() || vt == types.V128 {
			class = ClassFloat
		}
		regs := intRegs
		next := &nextInt
		if class == ClassFloat {
			regs = floatRegs
			next = &nextFloat
		}
		if *next < len(regs) {
			out[i] = ArgLoc{Type: vt, InRegister: true, Class: class, Reg: regs[*next]}
			*next++
			continue
		}
		width := int32(vt.Bits() / 8)
		stackOffset = alignUp(stackOffset, width)
		out[i] = ArgLoc{Type: vt, InRegister: false, Class: class, StackOffset: stackOffset}
		stackOffset += width
	}
	return out, alignUp(stackOffset, 8)
}

func alignUp(v, align int32) int32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
