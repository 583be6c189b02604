package codegen

import (
	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/ir"
	"github.com/wazevoproject/wazevo/internal/regalloc"
	"github.com/wazevoproject/wazevo/internal/types"
)

// FuncAdapter implements regalloc.Function/Block/Instr over an
// internal/ir.Function, so the linear-scan allocator (or any future
// implementation of the same interfaces) can run against real IR without
// either package depending on the other's concrete types. Block
// parameters are modeled as a synthetic pseudo-instruction at the head
// of each block that "defines" every param VReg, the usual way an SSA
// allocator treats phi/block-param definitions.
type FuncAdapter struct {
	F *ir.Function

	valueVReg map[ids.ValueIndex]regalloc.VReg
	nextVReg  uint32

	blocks   []ids.BlockIndex
	succs    map[ids.BlockIndex][]ids.BlockIndex
	preds    map[ids.BlockIndex][]ids.BlockIndex

	Assignments map[regalloc.VReg]regalloc.PhysReg
}

func NewFuncAdapter(f *ir.Function) *FuncAdapter {
	a := &FuncAdapter{
		F:           f,
		valueVReg:   make(map[ids.ValueIndex]regalloc.VReg),
		succs:       make(map[ids.BlockIndex][]ids.BlockIndex),
		preds:       make(map[ids.BlockIndex][]ids.BlockIndex),
		Assignments: make(map[regalloc.VReg]regalloc.PhysReg),
	}
	a.blocks = f.Blocks()
	for _, b := range a.blocks {
		for _, p := range f.BlockParams(b) {
			a.vregOf(p)
		}
		for _, i := range f.Insts(b) {
			inst := f.Inst(i)
			if inst.Result.Valid() {
				a.vregOf(inst.Result)
			}
			for _, arg := range inst.Args {
				a.vregOf(arg)
			}
			for _, succ := range successorsOf(inst) {
				a.succs[b] = append(a.succs[b], succ)
				a.preds[succ] = append(a.preds[succ], b)
			}
		}
	}
	return a
}

func successorsOf(inst *ir.Instruction) []ids.BlockIndex {
	switch inst.Op {
	case ir.OpJump:
		return []ids.BlockIndex{inst.TargetBlock}
	case ir.OpBrz, ir.OpBrnz:
		return []ids.BlockIndex{inst.TargetBlock, inst.ElseBlock}
	case ir.OpBrTable:
		return inst.JumpTable
	default:
		return nil
	}
}

func (a *FuncAdapter) vregOf(v ids.ValueIndex) regalloc.VReg {
	if vr, ok := a.valueVReg[v]; ok {
		return vr
	}
	class := regalloc.ClassInt
	if t := a.F.ValueType(v); t.IsFloat() || t == types.V128 {
		class = regalloc.ClassFloat
	}
	vr := regalloc.NewVReg(a.nextVReg, class)
	a.nextVReg++
	a.valueVReg[v] = vr
	return vr
}

func (a *FuncAdapter) VRegOf(v ids.ValueIndex) regalloc.VReg { return a.vregOf(v) }

func (a *FuncAdapter) NumVRegs() int { return int(a.nextVReg) }

func (a *FuncAdapter) Assign(v regalloc.VReg, p regalloc.PhysReg) { a.Assignments[v] = p }

func (a *FuncAdapter) Blocks() []regalloc.Block {
	out := make([]regalloc.Block, len(a.blocks))
	for i, b := range a.blocks {
		out[i] = &blockAdapter{a: a, id: i, block: b}
	}
	return out
}

type blockAdapter struct {
	a     *FuncAdapter
	id    int
	block ids.BlockIndex
}

func (b *blockAdapter) ID() int { return b.id }

func (b *blockAdapter) Succs() []int {
	var out []int
	for _, s := range b.a.succs[b.block] {
		out = append(out, blockOrdinal(b.a, s))
	}
	return out
}

func (b *blockAdapter) Preds() []int {
	var out []int
	for _, p := range b.a.preds[b.block] {
		out = append(out, blockOrdinal(b.a, p))
	}
	return out
}

func blockOrdinal(a *FuncAdapter, block ids.BlockIndex) int {
	for i, b := range a.blocks {
		if b == block {
			return i
		}
	}
	panic("codegen: unknown block")
}

func (b *blockAdapter) Instrs() []regalloc.Instr {
	f := b.a.F
	params := f.BlockParams(b.block)
	out := make([]regalloc.Instr, 0, len(f.Insts(b.block))+1)
	if len(params) > 0 {
		defs := make([]regalloc.VReg, len(params))
		for i, p := range params {
			defs[i] = b.a.vregOf(p)
		}
		out = append(out, &paramDefInstr{defs: defs})
	}
	for _, i := range f.Insts(b.block) {
		out = append(out, &instAdapter{a: b.a, inst: f.Inst(i)})
	}
	return out
}

// paramDefInstr is the synthetic "def every block param" pseudo-instr
// inserted at the head of each block's Instrs() for liveness purposes
// only; it never appears in the real instruction stream.
type paramDefInstr struct{ defs []regalloc.VReg }

func (p *paramDefInstr) Defs() []regalloc.VReg { return p.defs }
func (p *paramDefInstr) Uses() []regalloc.VReg { return nil }
func (p *paramDefInstr) IsCall() bool          { return false }
func (p *paramDefInstr) IsCopy() bool          { return false }

type instAdapter struct {
	a    *FuncAdapter
	inst *ir.Instruction
}

func (i *instAdapter) Defs() []regalloc.VReg {
	if !i.inst.Result.Valid() {
		return nil
	}
	return []regalloc.VReg{i.a.vregOf(i.inst.Result)}
}

func (i *instAdapter) Uses() []regalloc.VReg {
	out := make([]regalloc.VReg, 0, len(i.inst.Args)+len(i.inst.TargetArgs)+len(i.inst.ElseArgs))
	for _, v := range i.inst.Args {
		out = append(out, i.a.vregOf(v))
	}
	for _, v := range i.inst.TargetArgs {
		out = append(out, i.a.vregOf(v))
	}
	for _, v := range i.inst.ElseArgs {
		out = append(out, i.a.vregOf(v))
	}
	return out
}

func (i *instAdapter) IsCall() bool {
	return i.inst.Op == ir.OpCall || i.inst.Op == ir.OpCallIndirect
}

func (i *instAdapter) IsCopy() bool { return false }
