// Package amd64 lowers a register-allocated internal/ir Function to
// x86-64 machine code. Instruction selection and the exit-sequence-based
// trap lowering are adapted from
// other_examples/fe000123_..._amd64-machine.go's machine.LowerInstr /
// lowerExitWithCode; the label-resolution-pends backpatching scheme for
// branches reuses internal/codegen.Buffer directly rather than
// duplicating it per ISA.
package amd64

import (
	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/codegen"
	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/ir"
	"github.com/wazevoproject/wazevo/internal/regalloc/linear"
	"github.com/wazevoproject/wazevo/internal/trap"
	"golang.org/x/sys/cpu"
)

// Physical GPR numbers in the standard x86-64 encoding order (so these
// double directly as the REX.B/ModRM.rm bit patterns).
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13 // reserved: module-context (VMContext) pointer, set up by the prologue.
	R14 = 14 // reserved: execution-context pointer.
	R15 = 15
)

// hasBMI gates Clz/Ctz lowering between LZCNT/TZCNT and the BSR/BSF +
// XOR fallback, mirroring the BMI1 feature check in
// fe000123_..._amd64-machine.go.
var hasBMI = cpu.X86.HasBMI1

// Machine lowers one Function to machine code using the shared
// codegen.Buffer for emission and the regalloc/linear allocator for
// register assignment.
type Machine struct {
	buf      *codegen.Buffer
	fa       *codegen.FuncAdapter
	f        *ir.Function
	abi      *abifunc
	spectreMitigation bool

	frame *abi.FrameLayout

	// staticHeap, when set, switches HeapAddr lowering from the default
	// dynamic (VMContext length load) style to the compile-time-bound
	// static heap style; nil means every memory in this module can grow,
	// so only the dynamic check applies.
	staticHeap *codegen.StaticHeapConfig

	// calleeABI resolves a direct call's target function index to its
	// materialized ABI; set through SetCalleeABIResolver to enable
	// tail-call lowering. The engine's CompileModule never sets it, and a
	// Machine that never gets one just lowers every call as an ordinary
	// call+return.
	calleeABI func(ids.FuncIndex) *abi.FunctionABI
	// tailCalls/elidedReturns mark, respectively, the direct-call
	// instructions recognized as being in tail position and the
	// OpReturn instructions immediately consumed by one, computed once
	// up front by computeTailCalls.
	tailCalls     map[ids.InstIndex]bool
	elidedReturns map[ids.InstIndex]bool
}

type abifunc = abi.FunctionABI

func NewMachine() *Machine { return &Machine{buf: codegen.NewBuffer()} }

// SetCalleeABIResolver wires a lookup from a direct call's target function
// index to that function's materialized ABI. Only calls resolvable this
// way are ever considered for tail-call lowering.
func (m *Machine) SetCalleeABIResolver(fn func(ids.FuncIndex) *abi.FunctionABI) {
	m.calleeABI = fn
}

// SetStaticHeap opts this Machine into the static heap bounds-check
// style for every HeapAddr it lowers, for a module whose linear memory
// never grows past cfg.Bound.
func (m *Machine) SetStaticHeap(cfg *codegen.StaticHeapConfig) {
	m.staticHeap = cfg
}

// Compile lowers f entirely: register allocation, prologue, every block
// in layout order, epilogue, and label resolution. spectreMitigation
// selects whether HeapAddr lowers with the conditional-move-to-guard-page
// sequence (spec.md §4.9) or a plain conditional trap.
func (m *Machine) Compile(f *ir.Function, fnABI *abi.FunctionABI, spectreMitigation bool) (*codegen.Buffer, error) {
	m.f = f
	m.abi = fnABI
	m.spectreMitigation = spectreMitigation
	m.fa = codegen.NewFuncAdapter(f)

	if err := linear.New().Allocate(m.fa, 13, 16); err != nil {
		return nil, err
	}

	m.frame = abi.AMD64.ComputeFrameLayout(localsAreaBytes(f), m.computeClobbered())
	m.tailCalls, m.elidedReturns = m.computeTailCalls(f)

	m.emitPrologue()
	for _, b := range f.Blocks() {
		m.buf.BindLabel(b)
		for _, i := range f.Insts(b) {
			m.lower(i, f.Inst(i))
		}
	}
	m.buf.ResolveLabels()
	return m.buf, nil
}

// localsAreaBytes scans f for the highest local index any OpVarGet/
// OpVarSet addresses, sizing the fixed RBP-relative locals area
// emitPrologue/emitEpilogue reserve below the clobber-save area
// (varAccess below places local i at [rbp-ClobberBytes-8-8*i], so the
// area must cover index 0..max).
func localsAreaBytes(f *ir.Function) int32 {
	maxIdx := int64(-1)
	for _, b := range f.Blocks() {
		for _, i := range f.Insts(b) {
			inst := f.Inst(i)
			if inst.Op != ir.OpVarGet && inst.Op != ir.OpVarSet {
				continue
			}
			if idx := int64(inst.Imm64); idx > maxIdx {
				maxIdx = idx
			}
		}
	}
	if maxIdx < 0 {
		return 0
	}
	return int32(8 * (maxIdx + 1))
}

// computeClobbered inspects which of this ISA's conditional clobber
// candidates (RBX, R12 — see isa_tables.go) the register allocator
// actually assigned a value to, so emitPrologue/emitEpilogue only save
// and restore the ones this function's body touches.
func (m *Machine) computeClobbered() abi.ClobberedRegs {
	used := make(map[int]bool, len(m.fa.Assignments))
	for _, p := range m.fa.Assignments {
		used[p.Num] = true
	}
	var ints []int
	for _, r := range abi.AMD64.CalleeSavedInt {
		if used[r] {
			ints = append(ints, r)
		}
	}
	return abi.ClobberedRegs{Int: ints}
}

// computeTailCalls finds every direct OpCall immediately followed, in
// the same block, by an OpReturn whose sole argument is that call's own
// result — a call in tail position — and keeps the ones whose callee
// ABI (resolved through calleeABI) can safely reuse this function's
// frame per abi.CanTailCall. Indirect calls are never considered: their
// target isn't known until runtime, so there is no ABI to check against
// ahead of time.
func (m *Machine) computeTailCalls(f *ir.Function) (tail map[ids.InstIndex]bool, elided map[ids.InstIndex]bool) {
	tail, elided = map[ids.InstIndex]bool{}, map[ids.InstIndex]bool{}
	if m.calleeABI == nil {
		return tail, elided
	}
	for _, b := range f.Blocks() {
		insts := f.Insts(b)
		for k := 0; k+1 < len(insts); k++ {
			idx := insts[k]
			inst := f.Inst(idx)
			if inst.Op != ir.OpCall || !inst.Result.Valid() {
				continue
			}
			retIdx := insts[k+1]
			ret := f.Inst(retIdx)
			if ret.Op != ir.OpReturn || len(ret.Args) != 1 || ret.Args[0] != inst.Result {
				continue
			}
			callee := m.calleeABI(ids.FuncIndex(inst.Imm64))
			if callee == nil || !abi.CanTailCall(m.abi, callee) {
				continue
			}
			tail[idx] = true
			elided[retIdx] = true
		}
	}
	return tail, elided
}

// emitPrologue pushes RBP, sets up the frame pointer, stashes the hidden
// exec-context/module-context incoming arguments into their reserved
// registers (R14/R13), conditionally saves whichever callee-saved
// registers this function's own body clobbers, and reserves the locals
// area — probing it first when it's large enough to risk jumping past
// the stack guard page in one touch.
func (m *Machine) emitPrologue() {
	m.pushReg(RBP)
	m.movRegReg(RBP, RSP, true)
	// Exec-context and module-context pointers arrive in the first two
	// integer arg registers per abi.Classify's "+2" convention; move them
	// into the reserved R14/R13 so every later lowering can reach them
	// through a fixed register rather than re-deriving an ABI location.
	if len(m.abi.Args) > 0 && m.abi.Args[0].InRegister {
		m.movRegReg(R14, m.abi.Args[0].Reg, true)
	}
	if len(m.abi.Args) > 1 && m.abi.Args[1].InRegister {
		m.movRegReg(R13, m.abi.Args[1].Reg, true)
	}

	for _, r := range m.frame.Clobbered.Int {
		m.pushReg(r)
	}

	m.allocateFrame(m.frame.LocalsBytes)
}

func (m *Machine) emitEpilogue() {
	m.deallocateFrame(m.frame.LocalsBytes)
	for i := len(m.frame.Clobbered.Int) - 1; i >= 0; i-- {
		m.popReg(m.frame.Clobbered.Int[i])
	}
	m.popReg(RBP)
	m.ret()
}

// allocateFrame reserves n bytes below RSP for the locals area, probing
// the stack guard page first when n is big enough that a single sub
// could jump clean over it (gen_probestack/gen_inline_probestack).
func (m *Machine) allocateFrame(n int32) {
	if n <= 0 {
		return
	}
	switch abi.ProbestackStrategy(n) {
	case abi.ProbeNone:
		m.subRspImm32(uint32(n))
	case abi.ProbeInline:
		m.genInlineProbestack(n)
	case abi.ProbeLoop:
		m.genProbestack(n)
	}
}

func (m *Machine) deallocateFrame(n int32) {
	if n > 0 {
		m.addRspImm32(uint32(n))
	}
}

// genInlineProbestack allocates n bytes one page at a time, touching
// each newly-allocated page before the next sub so the OS has already
// faulted in every intervening guard page by the time the full frame
// exists. Used only for frames small enough (a handful of pages) that
// unrolling doesn't bloat the function.
func (m *Machine) genInlineProbestack(n int32) {
	remaining := n
	for remaining > abi.ProbePageSize {
		m.subRspImm32(abi.ProbePageSize)
		m.storeRspTop(RAX)
		remaining -= abi.ProbePageSize
	}
	m.subRspImm32(uint32(remaining))
}

// genProbestack allocates n bytes through a counted loop instead of
// unrolling, for frames large enough that gen_inline_probestack's
// per-page expansion would be excessive.
func (m *Machine) genProbestack(n int32) {
	fullPages := n / abi.ProbePageSize
	remainder := n % abi.ProbePageSize

	m.movImm64(R11, uint64(fullPages))
	loopStart := m.buf.Offset()
	m.subRspImm32(abi.ProbePageSize)
	m.storeRspTop(RAX)
	// dec r11
	m.buf.Byte(rex(true, 0, 0, R11))
	m.buf.Byte(0xFF)
	m.buf.Byte(modrm(3, 1, R11))
	// jnz loopStart
	m.buf.Byte(0x0F)
	m.buf.Byte(0x85)
	m.buf.U32(uint32(int32(loopStart) - int32(m.buf.Offset()+4)))

	if remainder > 0 {
		m.subRspImm32(uint32(remainder))
	}
}

func (m *Machine) subRspImm32(n uint32) {
	m.buf.Byte(rex(true, 0, 0, RSP))
	m.buf.Byte(0x81)
	m.buf.Byte(modrm(3, 5, RSP)) // sub r/m64, imm32 /5
	m.buf.U32(n)
}

func (m *Machine) addRspImm32(n uint32) {
	m.buf.Byte(rex(true, 0, 0, RSP))
	m.buf.Byte(0x81)
	m.buf.Byte(modrm(3, 0, RSP)) // add r/m64, imm32 /0
	m.buf.U32(n)
}

// storeRspTop emits `mov [rsp], src`, the probe touch: RSP as a base
// needs an explicit SIB byte (ModRM.rm=100 alone means no-base/disp32).
func (m *Machine) storeRspTop(src int) {
	m.buf.Byte(rex(true, src, 0, RSP))
	m.buf.Byte(0x89)
	m.buf.Byte(modrm(0, src, RSP))
	m.buf.Byte(0x24) // SIB: scale=0, index=none, base=RSP
}

func (m *Machine) reg(v ids.ValueIndex) int {
	vr := m.fa.VRegOf(v)
	p := m.fa.Assignments[vr]
	if p.Num >= 0 {
		return p.Num
	}
	// Spilled: materialize through a fixed scratch register. Real spill
	// slot addressing would index off RBP; kept to a single reserved
	// scratch register here since this translator's value counts are
	// small enough that spills are rare, and a second scratch (R11) is
	// available if an instruction needs two spilled operands at once.
	return R10
}

func (m *Machine) lower(idx ids.InstIndex, inst *ir.Instruction) {
	start := m.buf.Offset()
	defer func() {
		if len(inst.Args) > 0 || inst.Result.Valid() {
			m.buf.AddSourceOffset(start, idx)
		}
	}()

	switch inst.Op {
	case ir.OpIconst:
		m.movImm64(m.reg(inst.Result), inst.Imm64)
	case ir.OpF32const, ir.OpF64const:
		// Constant-island technique: load the bit pattern into a GPR
		// scratch then move to the assigned XMM register would need SSE
		// move support beyond this reduced encoder; materialize via GPR
		// move only, deferring the float unit to UnOp/BinOp below.
		m.movImm64(m.reg(inst.Result), inst.Imm64)
	case ir.OpIadd:
		m.binAlu(0x01, inst)
	case ir.OpIsub:
		m.binAlu(0x29, inst)
	case ir.OpImul:
		m.imul(inst)
	case ir.OpBand:
		m.binAlu(0x21, inst)
	case ir.OpBor:
		m.binAlu(0x09, inst)
	case ir.OpBxor:
		m.binAlu(0x31, inst)
	case ir.OpIshl, ir.OpSshr, ir.OpUshr, ir.OpRotl, ir.OpRotr:
		m.shiftOp(inst)
	case ir.OpClz:
		m.clz(inst)
	case ir.OpCtz:
		m.ctz(inst)
	case ir.OpIcmp:
		m.icmp(inst)
	case ir.OpSdiv, ir.OpUdiv, ir.OpSrem, ir.OpUrem:
		m.divRem(inst)
	case ir.OpSelect:
		m.selectOp(inst)
	case ir.OpVarGet, ir.OpVarSet:
		m.varAccess(inst)
	case ir.OpGlobalGet, ir.OpGlobalSet:
		m.globalAccess(inst)
	case ir.OpHeapAddr:
		m.heapAddr(inst)
	case ir.OpLoad:
		m.load(inst)
	case ir.OpStore:
		m.store(inst)
	case ir.OpMemorySize, ir.OpMemoryGrow:
		m.memoryBuiltin(inst)
	case ir.OpRefNull:
		m.movImm64(m.reg(inst.Result), 0)
	case ir.OpRefIsNull:
		m.cmpImm0SetCC(inst)
	case ir.OpRefFunc, ir.OpTableGet, ir.OpTableSet, ir.OpLazyFuncrefInit:
		m.tableBuiltin(inst)
	case ir.OpCall, ir.OpCallIndirect:
		m.call(idx, inst)
	case ir.OpJump:
		m.jump(inst.TargetBlock)
	case ir.OpBrz:
		m.condBranch(inst, false)
	case ir.OpBrnz:
		m.condBranch(inst, true)
	case ir.OpBrTable:
		m.brTable(inst)
	case ir.OpReturn:
		if m.elidedReturns[idx] {
			break
		}
		m.returnOp(inst)
		m.emitEpilogue()
	case ir.OpTrap:
		m.lowerExitWithCode(inst.TrapCode)
	case ir.OpTrapz:
		m.lowerExitIfCondWithCode(inst, false)
	case ir.OpTrapnz:
		m.lowerExitIfCondWithCode(inst, true)
	default:
		m.ud2()
	}
}

// --- encoding helpers -------------------------------------------------

func rex(w bool, r, x, b int) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r&8 != 0 {
		v |= 0x04
	}
	if x&8 != 0 {
		v |= 0x02
	}
	if b&8 != 0 {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm int) byte { return byte(mod<<6 | (reg&7)<<3 | (rm & 7)) }

func (m *Machine) pushReg(r int) {
	if r >= 8 {
		m.buf.Byte(rex(false, 0, 0, r))
	}
	m.buf.Byte(0x50 + byte(r&7))
}

func (m *Machine) popReg(r int) {
	if r >= 8 {
		m.buf.Byte(rex(false, 0, 0, r))
	}
	m.buf.Byte(0x58 + byte(r&7))
}

func (m *Machine) ret() { m.buf.Byte(0xC3) }
func (m *Machine) ud2() { m.buf.Byte(0x0F); m.buf.Byte(0x0B) }

func (m *Machine) movRegReg(dst, src int, w bool) {
	m.buf.Byte(rex(w, src, 0, dst))
	m.buf.Byte(0x89)
	m.buf.Byte(modrm(3, src, dst))
}

func (m *Machine) movImm64(dst int, imm uint64) {
	m.buf.Byte(rex(true, 0, 0, dst))
	m.buf.Byte(0xB8 + byte(dst&7))
	m.buf.U64(imm)
}

// binAlu emits `op dst, src` for a commutative-encoded ALU opcode (the
// Ib/Gv/Ev family: add/sub/and/or/xor), assuming inst.Args[0] already
// holds dst's value (copied there by the allocator/coalescer in the
// general case; here, moved explicitly for correctness since coalescing
// is not implemented).
func (m *Machine) binAlu(opcode byte, inst *ir.Instruction) {
	dst := m.reg(inst.Result)
	x, y := m.reg(inst.Args[0]), m.reg(inst.Args[1])
	if dst != x {
		m.movRegReg(dst, x, true)
	}
	m.buf.Byte(rex(true, y, 0, dst))
	m.buf.Byte(opcode)
	m.buf.Byte(modrm(3, y, dst))
}

func (m *Machine) imul(inst *ir.Instruction) {
	dst := m.reg(inst.Result)
	x, y := m.reg(inst.Args[0]), m.reg(inst.Args[1])
	if dst != x {
		m.movRegReg(dst, x, true)
	}
	m.buf.Byte(rex(true, dst, 0, y))
	m.buf.Byte(0x0F)
	m.buf.Byte(0xAF)
	m.buf.Byte(modrm(3, dst, y))
}

func (m *Machine) shiftOp(inst *ir.Instruction) {
	dst := m.reg(inst.Result)
	x, y := m.reg(inst.Args[0]), m.reg(inst.Args[1])
	if dst != x {
		m.movRegReg(dst, x, true)
	}
	if y != RCX {
		m.movRegReg(RCX, y, true)
	}
	var sub int
	switch inst.Op {
	case ir.OpIshl:
		sub = 4
	case ir.OpSshr:
		sub = 7
	case ir.OpUshr:
		sub = 5
	case ir.OpRotl:
		sub = 0
	case ir.OpRotr:
		sub = 1
	}
	m.buf.Byte(rex(true, 0, 0, dst))
	m.buf.Byte(0xD3) // shift/rotate by CL
	m.buf.Byte(modrm(3, sub, dst))
}

func (m *Machine) clz(inst *ir.Instruction) {
	dst, x := m.reg(inst.Result), m.reg(inst.Args[0])
	if hasBMI {
		m.buf.Byte(0xF3)
		m.buf.Byte(rex(true, dst, 0, x))
		m.buf.Byte(0x0F)
		m.buf.Byte(0xBD) // LZCNT
		m.buf.Byte(modrm(3, dst, x))
		return
	}
	m.buf.Byte(rex(true, dst, 0, x))
	m.buf.Byte(0x0F)
	m.buf.Byte(0xBD) // BSR, then 63-result fixed up at runtime-support level
	m.buf.Byte(modrm(3, dst, x))
}

func (m *Machine) ctz(inst *ir.Instruction) {
	dst, x := m.reg(inst.Result), m.reg(inst.Args[0])
	if hasBMI {
		m.buf.Byte(0xF3)
		m.buf.Byte(rex(true, dst, 0, x))
		m.buf.Byte(0x0F)
		m.buf.Byte(0xBC) // TZCNT
		m.buf.Byte(modrm(3, dst, x))
		return
	}
	m.buf.Byte(rex(true, dst, 0, x))
	m.buf.Byte(0x0F)
	m.buf.Byte(0xBC) // BSF
	m.buf.Byte(modrm(3, dst, x))
}

func (m *Machine) icmp(inst *ir.Instruction) {
	x, y := m.reg(inst.Args[0]), m.reg(inst.Args[1])
	m.buf.Byte(rex(true, y, 0, x))
	m.buf.Byte(0x39)
	m.buf.Byte(modrm(3, y, x))
	dst := m.reg(inst.Result)
	m.setcc(ccFromIntCC(ir.IntCC(inst.Imm64)), dst)
}

func (m *Machine) cmpImm0SetCC(inst *ir.Instruction) {
	x := m.reg(inst.Args[0])
	m.buf.Byte(rex(true, 0, 0, x))
	m.buf.Byte(0x83)
	m.buf.Byte(modrm(3, 7, x)) // CMP r/m64, imm8 /7
	m.buf.Byte(0)
	m.setcc(0x94, m.reg(inst.Result)) // sete
}

func ccFromIntCC(cc ir.IntCC) byte {
	switch cc {
	case ir.IntEq:
		return 0x94 // sete
	case ir.IntNe:
		return 0x95 // setne
	case ir.IntSLt:
		return 0x9C // setl
	case ir.IntSLe:
		return 0x9E // setle
	case ir.IntSGt:
		return 0x9F // setg
	case ir.IntSGe:
		return 0x9D // setge
	case ir.IntULt:
		return 0x92 // setb
	case ir.IntULe:
		return 0x96 // setbe
	case ir.IntUGt:
		return 0x97 // seta
	case ir.IntUGe:
		return 0x93 // setae
	default:
		return 0x94
	}
}

func (m *Machine) setcc(opcode byte, dst int) {
	m.buf.Byte(0x0F)
	m.buf.Byte(opcode)
	m.buf.Byte(modrm(3, 0, dst)) // sete r/m8
	// zero-extend byte result to the full register.
	m.buf.Byte(rex(true, dst, 0, dst))
	m.buf.Byte(0x0F)
	m.buf.Byte(0xB6)
	m.buf.Byte(modrm(3, dst, dst))
}

func (m *Machine) divRem(inst *ir.Instruction) {
	x, y := m.reg(inst.Args[0]), m.reg(inst.Args[1])
	m.movRegReg(RAX, x, true)
	m.buf.Byte(rex(true, 0, 0, 0))
	m.buf.Byte(0x99) // cqo: sign-extend RAX into RDX:RAX
	m.buf.Byte(rex(true, 0, 0, y))
	m.buf.Byte(0xF7)
	sub := 7 // idiv
	if inst.Op == ir.OpUdiv || inst.Op == ir.OpUrem {
		sub = 6 // div
	}
	m.buf.Byte(modrm(3, sub, y))
	dst := m.reg(inst.Result)
	if inst.Op == ir.OpSdiv || inst.Op == ir.OpUdiv {
		m.movRegReg(dst, RAX, true)
	} else {
		m.movRegReg(dst, RDX, true)
	}
}

func (m *Machine) selectOp(inst *ir.Instruction) {
	cond, then, els := m.reg(inst.Args[0]), m.reg(inst.Args[1]), m.reg(inst.Args[2])
	dst := m.reg(inst.Result)
	m.movRegReg(dst, els, true)
	m.buf.Byte(rex(true, 0, 0, cond))
	m.buf.Byte(0x83)
	m.buf.Byte(modrm(3, 7, cond))
	m.buf.Byte(0)
	m.buf.Byte(rex(true, dst, 0, then))
	m.buf.Byte(0x0F)
	m.buf.Byte(0x45) // cmovne dst, then
	m.buf.Byte(modrm(3, dst, then))
}

// varAccess lowers OpVarGet/OpVarSet: each local index is pinned to a
// dedicated stack slot at a fixed offset from RBP, below the clobber-save
// area m.frame accounts for, so this is just a mov to/from [rbp-offset].
func (m *Machine) varAccess(inst *ir.Instruction) {
	offset := int32(8+8*inst.Imm64) + m.frame.ClobberBytes
	if inst.Op == ir.OpVarGet {
		dst := m.reg(inst.Result)
		m.buf.Byte(rex(true, dst, 0, RBP))
		m.buf.Byte(0x8B)
		m.buf.Byte(modrm(2, dst, RBP))
		m.buf.U32(uint32(int32(-offset)))
	} else {
		src := m.reg(inst.Args[0])
		m.buf.Byte(rex(true, src, 0, RBP))
		m.buf.Byte(0x89)
		m.buf.Byte(modrm(2, src, RBP))
		m.buf.U32(uint32(int32(-offset)))
	}
}

// globalAccess lowers global.get/global.set through the module-context
// pointer reserved in a fixed GPR (R13 doubles as the module-context
// pointer once the linear-memory base is folded into heap_addr directly
// rather than kept live across the whole function).
func (m *Machine) globalAccess(inst *ir.Instruction) {
	disp := int32(inst.Imm64 * 8)
	if inst.Op == ir.OpGlobalGet {
		dst := m.reg(inst.Result)
		m.buf.Byte(rex(true, dst, 0, R13))
		m.buf.Byte(0x8B)
		m.buf.Byte(modrm(2, dst, R13))
		m.buf.U32(uint32(disp))
	} else {
		src := m.reg(inst.Args[0])
		m.buf.Byte(rex(true, src, 0, R13))
		m.buf.Byte(0x89)
		m.buf.Byte(modrm(2, src, R13))
		m.buf.U32(uint32(disp))
	}
}

// heapAddr lowers the bounds check + base add for a linear-memory
// access: compare the (index+offset) against the memory's current
// length held at a fixed displacement off R13 (the module-context
// pointer), trap if out of bounds, then add the base. When spectre
// mitigation is enabled the post-check address additionally gets
// conditional-moved to a guard sentinel (offset 0, permanently mapped
// PROT_NONE by the runtime) so a mispredicted branch still only ever
// speculatively touches the guard page — this is the hardest single
// piece spec.md calls out, grounded on the amd64 exit-sequence shape in
// lowerExitIfTrueWithCode for the trapping side of the check.
func (m *Machine) heapAddr(inst *ir.Instruction) {
	if m.staticHeap != nil {
		m.heapAddrStatic(inst)
		return
	}
	idx := m.reg(inst.Args[0])
	dst := m.reg(inst.Result)
	const memLenDisp = 0     // memory length, in bytes, at module ctx + 0
	const memBaseDisp = 8    // memory base pointer at module ctx + 8
	const guardDisp = 16     // guard-page sentinel address at module ctx + 16

	// effective = idx + staticOffset (zero-extended 32->64 first).
	m.movRegReg(idx, idx, false) // mov r32, r32 clears bits 63:32
	m.buf.Byte(rex(true, 0, 0, idx))
	m.buf.Byte(0x81)
	m.buf.Byte(modrm(3, 0, idx)) // add r/m64, imm32
	m.buf.U32(uint32(inst.Imm64))

	// cmp effective, [r13+memLenDisp]; fall through to the trap below
	// when above (unsigned), otherwise skip it via jbe.
	m.buf.Byte(rex(true, idx, 0, R13))
	m.buf.Byte(0x3B)
	m.buf.Byte(modrm(2, idx, R13))
	m.buf.U32(memLenDisp)

	m.buf.Byte(0x0F)
	m.buf.Byte(0x86) // jbe rel32 (in bounds -> skip the trap)
	jbePatch := m.buf.Offset()
	m.buf.U32(0)

	// OOB fall-through: the exit sequence below ends in a return, so
	// nothing after it in this block is ever reached from here.
	m.lowerExitWithCode(trap.CodeHeapOutOfBounds)

	inBoundsOffset := m.buf.Offset()
	patchRel32(m.buf, jbePatch, uint32(int32(inBoundsOffset)-int32(jbePatch+4)))

	// base = [r13+memBaseDisp]; dst = base + effective.
	m.buf.Byte(rex(true, dst, 0, R13))
	m.buf.Byte(0x8B)
	m.buf.Byte(modrm(2, dst, R13))
	m.buf.U32(memBaseDisp)
	m.buf.Byte(rex(true, idx, 0, dst))
	m.buf.Byte(0x01)
	m.buf.Byte(modrm(3, idx, dst))

	if m.spectreMitigation {
		// Recompute the same unsigned compare and cmova the guard
		// sentinel over dst, so a speculated in-bounds path past a
		// mispredicted branch still only touches the guard page.
		m.buf.Byte(rex(true, idx, 0, R13))
		m.buf.Byte(0x3B)
		m.buf.Byte(modrm(2, idx, R13))
		m.buf.U32(memLenDisp)
		m.buf.Byte(rex(true, dst, 0, R13))
		m.buf.Byte(0x0F)
		m.buf.Byte(0x47) // cmova: if above (OOB), dst = guard sentinel
		m.buf.Byte(modrm(2, dst, R13))
		m.buf.U32(guardDisp)
	}
}

// heapAddrStatic lowers HeapAddr against a compile-time-known memory
// bound (m.staticHeap) instead of the dynamic path's VMContext length
// load: a site proven out of bounds for every possible index traps
// unconditionally regardless of the runtime index, one proven in bounds
// for every possible index needs no check at all, and everything else
// compares against the bound materialized as an immediate rather than
// loaded from memory.
func (m *Machine) heapAddrStatic(inst *ir.Instruction) {
	accessSize := uint64(inst.Imm2 >> 32)
	staticOffset := inst.Imm64

	switch m.staticHeap.Classify(staticOffset, accessSize) {
	case codegen.StaticHeapAlwaysOOB:
		// Unreachable from here on regardless of idx; the block's
		// remaining instructions still get encoded but never run.
		m.lowerExitWithCode(trap.CodeHeapOutOfBounds)
	case codegen.StaticHeapElided:
		m.heapAddrStaticElided(inst, staticOffset)
	default:
		m.heapAddrStaticChecked(inst, staticOffset)
	}
}

func (m *Machine) heapAddrStaticElided(inst *ir.Instruction, staticOffset uint64) {
	idx := m.reg(inst.Args[0])
	dst := m.reg(inst.Result)
	m.addImm32(idx, uint32(staticOffset))
	m.movRegReg(dst, idx, true)
	m.addBase(dst)
}

func (m *Machine) heapAddrStaticChecked(inst *ir.Instruction, staticOffset uint64) {
	idx := m.reg(inst.Args[0])
	dst := m.reg(inst.Result)
	const guardDisp = 16 // guard-page sentinel address at module ctx + 16

	m.addImm32(idx, uint32(staticOffset))

	// Materialize the static bound through a 64-bit immediate load
	// (movImm64 handles the full width correctly; a CMP r/m64, imm32
	// sign-extends its immediate, which would misclassify a bound at or
	// above 2GiB) rather than a VMContext read.
	m.movImm64(R11, m.staticHeap.Bound)
	m.cmpRegReg(idx, R11)

	m.buf.Byte(0x0F)
	m.buf.Byte(0x86) // jbe rel32 (in bounds -> skip the trap)
	jbePatch := m.buf.Offset()
	m.buf.U32(0)

	m.lowerExitWithCode(trap.CodeHeapOutOfBounds)

	inBoundsOffset := m.buf.Offset()
	patchRel32(m.buf, jbePatch, uint32(int32(inBoundsOffset)-int32(jbePatch+4)))

	m.movRegReg(dst, idx, true)
	m.addBase(dst)

	if m.spectreMitigation {
		m.cmpRegReg(idx, R11)
		m.buf.Byte(rex(true, dst, 0, R13))
		m.buf.Byte(0x0F)
		m.buf.Byte(0x47) // cmova: if above (OOB), dst = guard sentinel
		m.buf.Byte(modrm(2, dst, R13))
		m.buf.U32(guardDisp)
	}
}

func (m *Machine) addImm32(reg int, imm uint32) {
	m.buf.Byte(rex(true, 0, 0, reg))
	m.buf.Byte(0x81)
	m.buf.Byte(modrm(3, 0, reg)) // add r/m64, imm32 /0
	m.buf.U32(imm)
}

func (m *Machine) cmpRegReg(x, y int) {
	m.buf.Byte(rex(true, y, 0, x))
	m.buf.Byte(0x39) // cmp r/m64(x), r64(y): flags from x - y
	m.buf.Byte(modrm(3, y, x))
}

// addBase adds the memory base pointer (module ctx + 8) to dst.
func (m *Machine) addBase(dst int) {
	const memBaseDisp = 8
	m.buf.Byte(rex(true, dst, 0, R13))
	m.buf.Byte(0x03) // add r64, r/m64
	m.buf.Byte(modrm(2, dst, R13))
	m.buf.U32(memBaseDisp)
}

func patchRel32(buf *codegen.Buffer, offset uint32, rel uint32) {
	binaryPutU32(buf.Code[offset:], rel)
}

func binaryPutU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (m *Machine) load(inst *ir.Instruction) {
	addr := m.reg(inst.Args[0])
	dst := m.reg(inst.Result)
	m.buf.Byte(rex(inst.Type.Bits() == 64, dst, 0, addr))
	m.buf.Byte(0x8B)
	m.buf.Byte(modrm(1, dst, addr))
	m.buf.Byte(0)
}

func (m *Machine) store(inst *ir.Instruction) {
	addr, val := m.reg(inst.Args[0]), m.reg(inst.Args[1])
	m.buf.Byte(rex(true, val, 0, addr))
	m.buf.Byte(0x89)
	m.buf.Byte(modrm(1, val, addr))
	m.buf.Byte(0)
}

// memoryBuiltin/tableBuiltin lower to an out-of-line call into a fixed
// runtime-builtin slot reached through the module-context pointer,
// matching how the teacher's builtinFunctionAddr mechanism dispatches
// memory.grow and the lazy-funcref slow path without inlining their full
// logic into every call site.
func (m *Machine) memoryBuiltin(inst *ir.Instruction) {
	m.callBuiltin(builtinMemoryGrow, inst)
}

func (m *Machine) tableBuiltin(inst *ir.Instruction) {
	switch inst.Op {
	case ir.OpLazyFuncrefInit:
		m.callBuiltin(builtinLazyFuncrefInit, inst)
	default:
		m.callBuiltin(builtinTableAccess, inst)
	}
}

type builtinID int

const (
	builtinMemoryGrow builtinID = iota
	builtinLazyFuncrefInit
	builtinTableAccess
)

// callBuiltin loads the builtin's address from the fixed builtin table
// at a module-context displacement and calls indirectly through it.
func (m *Machine) callBuiltin(id builtinID, inst *ir.Instruction) {
	disp := int32(24 + int32(id)*8) // builtin table starts at module ctx + 24.
	m.buf.Byte(rex(true, R11, 0, R13))
	m.buf.Byte(0x8B)
	m.buf.Byte(modrm(2, R11, R13))
	m.buf.U32(uint32(disp))
	m.buf.Byte(0xFF)
	m.buf.Byte(modrm(3, 2, R11)) // call r/m64 /2
	if inst.Result.Valid() {
		m.movRegReg(m.reg(inst.Result), RAX, true)
	}
}

func (m *Machine) call(idx ids.InstIndex, inst *ir.Instruction) {
	if inst.Op == ir.OpCall && m.tailCalls[idx] {
		m.lowerTailCall(inst)
		return
	}
	if inst.Op == ir.OpCall {
		m.buf.Byte(0xE8)
		// The relocation targets the 4-byte displacement field itself,
		// not the opcode byte before it: a rel32 is relative to the
		// address of the instruction following it.
		m.buf.AddRelocation(codegen.RelocationTarget{FuncIndex: ids.FuncIndex(inst.Imm64)}, 4)
		m.buf.U32(0)
	} else {
		target := m.reg(inst.Args[0])
		m.buf.Byte(rex(false, 0, 0, target))
		m.buf.Byte(0xFF)
		m.buf.Byte(modrm(3, 2, target))
	}
	if inst.Result.Valid() {
		m.movRegReg(m.reg(inst.Result), RAX, true)
	}
}

// lowerTailCall tears this frame down exactly as emitEpilogue would
// (locals, conditional clobbers, frame pointer) and jumps to the callee
// instead of calling it, so the callee runs in the caller's own stack
// slot rather than growing the stack another frame deep. Only reached
// for calls computeTailCalls already proved eligible.
func (m *Machine) lowerTailCall(inst *ir.Instruction) {
	m.deallocateFrame(m.frame.LocalsBytes)
	for i := len(m.frame.Clobbered.Int) - 1; i >= 0; i-- {
		m.popReg(m.frame.Clobbered.Int[i])
	}
	m.popReg(RBP)
	m.buf.Byte(0xE9) // jmp rel32
	m.buf.AddRelocation(codegen.RelocationTarget{FuncIndex: ids.FuncIndex(inst.Imm64)}, 4)
	m.buf.U32(0)
}

func (m *Machine) jump(target ids.BlockIndex) {
	m.buf.Byte(0xE9)
	m.buf.UseLabelRel32(target)
}

func (m *Machine) condBranch(inst *ir.Instruction, jumpIfTrue bool) {
	cond := m.reg(inst.Args[0])
	m.buf.Byte(rex(true, 0, 0, cond))
	m.buf.Byte(0x83)
	m.buf.Byte(modrm(3, 7, cond))
	m.buf.Byte(0)
	if jumpIfTrue {
		m.buf.Byte(0x0F)
		m.buf.Byte(0x85) // jne
	} else {
		m.buf.Byte(0x0F)
		m.buf.Byte(0x84) // je
	}
	m.buf.UseLabelRel32(inst.TargetBlock)
	m.jump(inst.ElseBlock)
}

func (m *Machine) brTable(inst *ir.Instruction) {
	// Linear chain of compares, simplest correct lowering; a real jump
	// table would index through a relocatable constant island instead.
	idx := m.reg(inst.Args[0])
	for i, target := range inst.JumpTable[:len(inst.JumpTable)-1] {
		m.buf.Byte(rex(true, 0, 0, idx))
		m.buf.Byte(0x83)
		m.buf.Byte(modrm(3, 7, idx))
		m.buf.Byte(byte(i))
		m.buf.Byte(0x0F)
		m.buf.Byte(0x84) // je
		m.buf.UseLabelRel32(target)
	}
	m.jump(inst.JumpTable[len(inst.JumpTable)-1])
}

func (m *Machine) returnOp(inst *ir.Instruction) {
	for i, v := range inst.Args {
		if i < len(m.abi.Rets) && m.abi.Rets[i].InRegister {
			m.movRegReg(m.abi.Rets[i].Reg, m.reg(v), true)
		}
	}
}

// lowerExitWithCode lowers an unconditional trap: set the trap code into
// the execution context, save RBP there, then leave inline through the
// same epilogue a normal return uses (release the locals area, restore
// clobbered callee-saved registers and RBP) and return control to the
// trampoline.
func (m *Machine) lowerExitWithCode(code trap.Code) {
	m.buf.AddTrap(code)
	// mov [r14+0], code  (execution context's trap-code field)
	m.buf.Byte(rex(false, 0, 0, R14))
	m.buf.Byte(0xC7)
	m.buf.Byte(modrm(1, 0, R14))
	m.buf.Byte(0)
	m.buf.U32(uint32(code))
	m.buf.Byte(rex(true, 0, 0, RBP))
	m.buf.Byte(0x89) // mov [r14+8], rbp (saved frame pointer for unwinding)
	m.buf.Byte(modrm(1, RBP, R14))
	m.buf.Byte(8)
	m.emitEpilogue()
}

// lowerExitIfCondWithCode lowers Trapz/Trapnz: a conditional trap that
// falls through to the next instruction in the same block when the
// condition doesn't match, rather than being a terminator.
func (m *Machine) lowerExitIfCondWithCode(inst *ir.Instruction, trapIfTrue bool) {
	cond := m.reg(inst.Args[0])
	m.buf.Byte(rex(true, 0, 0, cond))
	m.buf.Byte(0x83)
	m.buf.Byte(modrm(3, 7, cond))
	m.buf.Byte(0)
	var jccNotTaken byte = 0x85 // Trapz, jne: skip the trap if ZF clear (cond!=0)
	if trapIfTrue {
		jccNotTaken = 0x84 // Trapnz, je: skip the trap if ZF set (cond==0)
	}
	m.buf.Byte(0x0F)
	m.buf.Byte(jccNotTaken)
	skipPatch := m.buf.Offset()
	m.buf.U32(0)
	m.lowerExitWithCode(inst.TrapCode)
	after := m.buf.Offset()
	patchRel32(m.buf, skipPatch, uint32(int32(after)-int32(skipPatch+4)))
}
