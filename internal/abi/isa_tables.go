package abi

// Register numbers below are ISA-native encodings, matching the register
// numbering the corresponding internal/codegen/<isa> package's own
// register constants use, so an ArgLoc.Reg value can be fed straight into
// the encoder without translation.

// AMD64 follows the System V AMD64 ABI integer/float argument order
// (RDI, RSI, RDX, RCX, R8, R9 / XMM0-7), the same order
// other_examples/fe000123_..._amd64-machine.go's lowerCall assumes when
// it walks a FunctionABI.
var AMD64 = &ISA{
	Name:            "amd64",
	WordBits:        64,
	IntArgRegs:      []int{7, 6, 2, 1, 8, 9},       // RDI, RSI, RDX, RCX, R8, R9
	FloatArgRegs:    []int{0, 1, 2, 3, 4, 5, 6, 7}, // XMM0-7
	IntRetRegs:      []int{0, 2},                   // RAX, RDX
	FloatRetRegs:    []int{0, 1},                   // XMM0, XMM1
	StackAlignBytes: 16,
	// CalleeSavedInt: the System V ABI also reserves RBP, R13, R14, R15
	// as callee-saved, but RBP is already unconditionally pushed/popped
	// by the frame-pointer prologue/epilogue and R13-R15 are reserved by
	// this backend (R13/R14 for the module-context/execution-context
	// pointers in machine.go, R15 as trampoline scratch), so only RBX and R12 are ever candidates for the
	// conditional clobber save/restore.
	CalleeSavedInt: []int{3, 12}, // RBX, R12
}

// ARM64 follows AAPCS64: X0-X7 integer/pointer args, V0-V7 float args,
// X0/X1 and V0/V1 for results. Grounded on
// other_examples/f2c8166f_..._abi_go_call.go's arg/ret marshaling order.
var ARM64 = &ISA{
	Name:            "arm64",
	WordBits:        64,
	IntArgRegs:      []int{0, 1, 2, 3, 4, 5, 6, 7},
	FloatArgRegs:    []int{0, 1, 2, 3, 4, 5, 6, 7},
	IntRetRegs:      []int{0, 1},
	FloatRetRegs:    []int{0, 1},
	StackAlignBytes: 16,
	// CalleeSavedInt: AAPCS64 reserves X19-X28, but X27/X28 already carry
	// this backend's execution-context/module-context pointers and X29
	// is already unconditionally saved/restored as the frame pointer, so
	// only X19-X25 (the allocator's integer pool tops out at X25; see
	// Allocate(m.fa, 26, 32) in machine.go) are clobber-save candidates.
	CalleeSavedInt: []int{19, 20, 21, 22, 23, 24, 25},
	// CalleeSavedFloat: AAPCS64 callee-saved D8-D15 (low 64 bits of
	// V8-V15).
	CalleeSavedFloat: []int{8, 9, 10, 11, 12, 13, 14, 15},
}

// RISCV64 follows the standard integer/FP calling convention (a0-a7,
// fa0-fa7), per original_source/cranelift/codegen/src/isa/riscv64/abi.rs.
var RISCV64 = &ISA{
	Name:            "riscv64",
	WordBits:        64,
	IntArgRegs:      []int{10, 11, 12, 13, 14, 15, 16, 17}, // a0-a7
	FloatArgRegs:    []int{10, 11, 12, 13, 14, 15, 16, 17}, // fa0-fa7
	IntRetRegs:      []int{10, 11},
	FloatRetRegs:    []int{10, 11},
	StackAlignBytes: 16,
	// CalleeSavedInt/Float: s0-s11 (x8-x9, x18-x27) and fs0-fs11
	// (f8-f9, f18-f27) per the standard RISC-V calling convention. Data
	// only; this backend has no encoder yet to consume it.
	CalleeSavedInt:   []int{8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27},
	CalleeSavedFloat: []int{8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27},
}

// S390X follows the Linux on z/Architecture ELF ABI (r2-r6 integer args,
// f0/f2/f4/f6 float args). This ISA is a minimal, justified stub in
// internal/codegen/s390x — only classification lives here, no encoder —
// since spec.md only requires the ISA be "present", not fully lowered.
var S390X = &ISA{
	Name:            "s390x",
	WordBits:        64,
	IntArgRegs:      []int{2, 3, 4, 5, 6},
	FloatArgRegs:    []int{0, 2, 4, 6},
	IntRetRegs:      []int{2},
	FloatRetRegs:    []int{0},
	StackAlignBytes: 8,
	// CalleeSavedInt/Float: r6-r13 and f8-f15 per the Linux on
	// z/Architecture ELF ABI. Data only; no encoder exists for this ISA.
	CalleeSavedInt:   []int{6, 7, 8, 9, 10, 11, 12, 13},
	CalleeSavedFloat: []int{8, 9, 10, 11, 12, 13, 14, 15},
}

// ByName returns the ISA table for a codegen target name ("amd64",
// "arm64", "riscv64", "s390x"), or nil if unrecognized.
func ByName(name string) *ISA {
	switch name {
	case "amd64":
		return AMD64
	case "arm64":
		return ARM64
	case "riscv64":
		return RISCV64
	case "s390x":
		return S390X
	default:
		return nil
	}
}
