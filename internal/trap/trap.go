// Package trap defines the closed trap-code taxonomy (spec.md §4.9) and the
// unwind metadata a trapping or interrupted frame needs to restore caller
// state. Trap is a plain value type, never a panic: it is constructed once
// a trap condition is known and threaded up through the trampoline
// boundary exactly like wazero's sys.ExitCode / wazevoapi.ExitCode, so a
// guest trap never unwinds through arbitrary Go call frames.
package trap

import "fmt"

// Code enumerates every way a compiled function can abort execution
// without returning. This set is closed: adding a case here is the only
// place new guest-visible failure reasons may be introduced.
type Code byte

const (
	CodeNone Code = iota
	CodeUnreachableCodeReached
	CodeHeapOutOfBounds
	CodeTableOutOfBounds
	CodeBadSignature
	CodeStackOverflow
	CodeIntegerDivisionByZero
	CodeIntegerOverflow
	CodeBadConversionToInteger
	CodeIndirectCallToNull
	CodeInterrupt
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeUnreachableCodeReached:
		return "unreachable"
	case CodeHeapOutOfBounds:
		return "heap out of bounds"
	case CodeTableOutOfBounds:
		return "table out of bounds"
	case CodeBadSignature:
		return "indirect call signature mismatch"
	case CodeStackOverflow:
		return "call stack exhausted"
	case CodeIntegerDivisionByZero:
		return "integer division by zero"
	case CodeIntegerOverflow:
		return "integer overflow"
	case CodeBadConversionToInteger:
		return "invalid conversion to integer"
	case CodeIndirectCallToNull:
		return "indirect call to null function"
	case CodeInterrupt:
		return "interrupted"
	default:
		return fmt.Sprintf("trap(%d)", byte(c))
	}
}

// Trap is the value propagated from the point a trap is detected up to
// the trampoline boundary that converts it into the host-facing error
// type. It is a plain Go value, passed through return values and the
// execution-context scratch fields the amd64/arm64 exit sequences write
// to, never a panic recovered somewhere up the stack.
type Trap struct {
	Code Code
	// PC is the guest instruction pointer (absolute, within the code
	// buffer) that trapped, used to look up source/unwind side-table
	// entries for error reporting.
	PC uint64
}

func (t Trap) Error() string { return fmt.Sprintf("wasm trap: %s", t.Code) }

// UnwindOp is one step of a frame's unwind program: how to restore the
// previous frame's registers when unwinding past this frame, grounded on
// the PushFrameRegs/DefineNewFrame/SaveReg vocabulary named in spec.md
// §4.9 directly (no ambiguity to resolve against original_source/ here,
// since Cranelift's own unwind info lives in a crate not present in this
// pack).
type UnwindOp byte

const (
	UnwindPushFrameRegs UnwindOp = iota
	UnwindDefineNewFrame
	UnwindSaveReg
)

// UnwindEntry is one recorded unwind action at a given code offset within
// a function, used to walk the stack past a trapping or interrupted frame
// without corrupting caller-saved state.
type UnwindEntry struct {
	CodeOffset uint32
	Op         UnwindOp
	// Reg/StackOffset are interpreted per Op: SaveReg records which
	// register was spilled and at what offset from the frame pointer;
	// PushFrameRegs/DefineNewFrame carry the frame-pointer/stack-pointer
	// delta instead.
	Reg         uint16
	StackOffset int32
}

// UnwindInfo is the ordered unwind program for one compiled function.
type UnwindInfo struct {
	Entries []UnwindEntry
}
