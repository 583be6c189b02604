package arm64

import (
	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/codegen"
)

// ldrImm/strImm emit the 64-bit LDR/STR (immediate, unsigned offset)
// encoding, imm12 scaled by 8 per the instruction's own 64-bit-variant
// convention.
func ldrImm(buf *codegen.Buffer, rt, rn int, byteOffset int32) {
	buf.U32(0xF9400000 | uint32(byteOffset/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

func strImm(buf *codegen.Buffer, rt, rn int, byteOffset int32) {
	buf.U32(0xF9000000 | uint32(byteOffset/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

func subSP(buf *codegen.Buffer, n uint32) {
	if n == 0 {
		return
	}
	buf.U32(0xD1000000 | n<<10 | 0x3FF) // sub sp, sp, #n
}

func addSP(buf *codegen.Buffer, n uint32) {
	if n == 0 {
		return
	}
	buf.U32(0x91000000 | n<<10 | 0x3FF) // add sp, sp, #n
}

func movRegRaw(buf *codegen.Buffer, dst, src int) {
	buf.U32(0xAA0003E0 | uint32(src)<<16 | uint32(dst)) // orr dst, xzr, src
}

// CompileArrayToNativeTrampoline emits the glue a host call into a
// compiled function goes through, at this backend's established reduced
// depth: register-passed integer arguments/results only, no stack-slot
// marshaling (matching the same representative-subset scope this
// package's doc comment states for ordinary function bodies). Grounded
// on other_examples/f2c8166f_..._abi_go_call.go's save/marshal/call/
// restore/unmarshal shape, adapted to this repo's indirect-call-through-
// register convention instead of arm64's Go-runtime-stack-safety
// bookkeeping.
//
// Calling convention of the generated trampoline itself: X0=exec
// context, X1=module context, X2=vals (*uint64), X3=target function
// address.
func CompileArrayToNativeTrampoline(fnABI *abi.FunctionABI) (*codegen.Buffer, error) {
	buf := codegen.NewBuffer()

	buf.U32(0xA9BF7BFD) // stp x29, x30, [sp, #-16]!
	buf.U32(0x910003FD) // mov x29, sp

	const scratchVals, scratchTarget, scratchReload = 9, 10, 11
	movRegRaw(buf, scratchVals, 2)   // save vals ptr (X2) before it's overwritten below.
	movRegRaw(buf, scratchTarget, 3) // save target addr (X3) likewise.

	subSP(buf, 16)
	strImm(buf, scratchVals, 31, 0) // 31 = sp; park vals ptr across the call.

	for i, loc := range fnABI.Args[2:] {
		if loc.Class != abi.ClassInt || !loc.InRegister {
			continue
		}
		ldrImm(buf, loc.Reg, scratchVals, int32(i*8))
	}

	buf.U32(0xD63F0000 | uint32(scratchTarget)<<5) // blr x10

	ldrImm(buf, scratchReload, 31, 0) // 31 = sp; reload vals ptr, possibly clobbered by the callee.
	for i, loc := range fnABI.Rets {
		if loc.Class != abi.ClassInt {
			continue
		}
		strImm(buf, loc.Reg, scratchReload, int32(i*8))
	}

	addSP(buf, 16)
	buf.U32(0xA8C17BFD) // ldp x29, x30, [sp], #16
	buf.U32(0xD65F03C0) // ret
	return buf, nil
}
