package amd64

import (
	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/codegen"
)

// loadDisp/storeDisp emit `mov dst, [base+disp32]` / `mov [base+disp32],
// src` for 8-byte GPRs, adding the SIB byte ModRM's rm=100 encoding
// requires whenever base is RSP or R12 (the one ModRM/SIB wrinkle the
// rest of this package's disp-addressed lowerings never hit, since they
// only ever address through R13).
func loadDisp(buf *codegen.Buffer, dst, base int, disp int32) {
	buf.Byte(rex(true, dst, 0, base))
	buf.Byte(0x8B)
	emitModRMBase(buf, dst, base, disp)
}

func storeDisp(buf *codegen.Buffer, base int, disp int32, src int) {
	buf.Byte(rex(true, src, 0, base))
	buf.Byte(0x89)
	emitModRMBase(buf, src, base, disp)
}

func emitModRMBase(buf *codegen.Buffer, reg, base int, disp int32) {
	buf.Byte(modrm(2, reg, base))
	if base&7 == 4 {
		buf.Byte(0x24) // SIB: no index, base as given.
	}
	buf.U32(uint32(disp))
}

// CompileArrayToNativeTrampoline emits the glue a host call into a
// compiled function goes through: unpack a flat array of raw 64-bit
// value slots into fnABI's register/stack argument locations, call the
// target, then pack results back into the same array in place. Grounded
// on CompileGoFunctionTrampoline's save/marshal-args/exit/restore/
// unmarshal-results shape
// (other_examples/f2c8166f_..._abi_go_call.go), adapted from arm64's
// execution-context-struct marshaling to this package's own
// indirect-call-through-register convention (callBuiltin) since this
// repo has no separate Go-runtime-stack-safety concern to model.
//
// Calling convention of the generated trampoline itself: RDI=exec
// context, RSI=module context, RDX=vals (*uint64, fnABI.Args-2 input
// slots, reused in place for fnABI.Rets on return), RCX=target function
// address. RDI/RSI need no marshaling: the trampoline and its target
// share the same abi.ISA.Classify "+2" convention, so the hidden
// context pointers already sit in the registers the target expects.
//
// ClassFloat locations are left unmarshaled, matching the reduced SSE
// support already documented on OpF32const/OpF64const in machine.go;
// every end-to-end scenario spec.md names is integer-only.
func CompileArrayToNativeTrampoline(fnABI *abi.FunctionABI) (*codegen.Buffer, error) {
	m := &Machine{buf: codegen.NewBuffer()}
	buf := m.buf

	m.pushReg(RBP)
	m.movRegReg(RBP, RSP, true)
	m.movRegReg(R15, RCX, true) // stash target addr; RCX may be an int arg register.

	// valsPtrSlot is where RDX (the vals pointer) is parked across the
	// call, since RDX also doubles as this ABI's second integer return
	// register and would otherwise be clobbered by the callee.
	frame := int32(fnABI.ArgStackBytes) + 8
	valsPtrSlot := int32(fnABI.ArgStackBytes)

	subRsp(buf, frame)
	storeDisp(buf, RSP, valsPtrSlot, RDX)
	// RDX is also the first Wasm integer argument register, so the slots
	// are read through a copy of the vals pointer in R10.
	m.movRegReg(R10, RDX, true)

	for i, loc := range fnABI.Args[2:] {
		if loc.Class != abi.ClassInt {
			continue
		}
		slotDisp := int32(i * 8)
		if loc.InRegister {
			loadDisp(buf, loc.Reg, R10, slotDisp)
		} else {
			loadDisp(buf, R11, R10, slotDisp)
			storeDisp(buf, RSP, loc.StackOffset, R11)
		}
	}

	buf.Byte(rex(false, 0, 0, R15))
	buf.Byte(0xFF)
	buf.Byte(modrm(3, 2, R15)) // call r15

	loadDisp(buf, R11, RSP, valsPtrSlot) // R11 now holds vals, RDX may hold a live result.
	for i, loc := range fnABI.Rets {
		if loc.Class != abi.ClassInt {
			continue
		}
		slotDisp := int32(i * 8)
		if loc.InRegister {
			storeDisp(buf, R11, slotDisp, loc.Reg)
		} else {
			loadDisp(buf, R10, RSP, loc.StackOffset)
			storeDisp(buf, R11, slotDisp, R10)
		}
	}

	addRsp(buf, frame)
	m.popReg(RBP)
	m.ret()
	return buf, nil
}

// CompileNativeToArrayTrampoline emits the inverse glue: entered from
// compiled code's own call convention (exec ctx/module ctx in the
// standard registers, remaining args in fnABI's register/stack
// locations), it packs those into a flat vals array, calls a host
// function through the import slot at module-context displacement
// importSlotDisp, unpacks the returned vals back into fnABI.Rets's
// locations, and returns to the compiled-code caller. Used when compiled
// code invokes a host import (spec §4.11's "native -> array-call"
// direction).
//
// importSlotDisp works exactly like callBuiltin's builtin-table
// displacement: the host function pointer lives in a fixed slot off the
// module-context pointer (R13), so no new relocation kind is needed —
// one trampoline is generated per (signature, import index) pair, with
// the index baked in as this compile-time constant.
func CompileNativeToArrayTrampoline(fnABI *abi.FunctionABI, importSlotDisp int32) (*codegen.Buffer, error) {
	m := &Machine{buf: codegen.NewBuffer()}
	buf := m.buf

	m.pushReg(RBP)
	m.movRegReg(RBP, RSP, true)

	numSlots := len(fnABI.Args) - 2
	if n := len(fnABI.Rets); n > numSlots {
		numSlots = n
	}
	frame := int32(numSlots) * 8

	subRsp(buf, frame)

	for i, loc := range fnABI.Args[2:] {
		if loc.Class != abi.ClassInt {
			continue
		}
		slotDisp := int32(i * 8)
		if loc.InRegister {
			storeDisp(buf, RSP, slotDisp, loc.Reg)
		} else {
			loadDisp(buf, R11, RBP, loc.StackOffset+16) // incoming stack args sit above the saved RBP/return addr.
			storeDisp(buf, RSP, slotDisp, R11)
		}
	}

	// RDI/RSI (exec ctx, module ctx) are already correctly positioned for
	// the array-call entry point's own "+2" convention; RDX = &vals.
	m.movRegReg(RDX, RSP, true)
	loadDisp(buf, R15, R13, importSlotDisp)
	buf.Byte(rex(false, 0, 0, R15))
	buf.Byte(0xFF)
	buf.Byte(modrm(3, 2, R15)) // call r15

	for i, loc := range fnABI.Rets {
		if loc.Class != abi.ClassInt {
			continue
		}
		slotDisp := int32(i * 8)
		if loc.InRegister {
			loadDisp(buf, loc.Reg, RSP, slotDisp)
		}
	}

	addRsp(buf, frame)
	m.popReg(RBP)
	m.ret()
	return buf, nil
}

func subRsp(buf *codegen.Buffer, n int32) {
	if n <= 0 {
		return
	}
	buf.Byte(rex(true, 0, 0, RSP))
	buf.Byte(0x81)
	buf.Byte(modrm(3, 5, RSP)) // sub r/m64, imm32 (/5)
	buf.U32(uint32(n))
}

func addRsp(buf *codegen.Buffer, n int32) {
	if n <= 0 {
		return
	}
	buf.Byte(rex(true, 0, 0, RSP))
	buf.Byte(0x81)
	buf.Byte(modrm(3, 0, RSP)) // add r/m64, imm32 (/0)
	buf.U32(uint32(n))
}
