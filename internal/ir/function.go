package ir

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/types"
)

// Function is one compilation unit: a pool of blocks and instructions plus
// the Layout ordering them, and a pool of SSA values. Values, blocks and
// instructions are never removed once pushed — a block or instruction that
// ends up unreferenced after a rewrite just drops out of the Layout walk,
// per the arena ownership model (nothing aliases an Idx across Functions,
// and Reset() is the only bulk-free operation, used to recycle a Function
// between compilations).
type Function struct {
	Name      string
	Signature *types.Signature

	blocks ids.Arena[ids.BlockIndex, Block]
	insts  ids.Arena[ids.InstIndex, Instruction]
	values ids.Arena[ids.ValueIndex, ValueData]
	layout *Layout

	entry ids.BlockIndex
}

// NewFunction returns an empty Function ready for the frontend to build
// an entry block into.
func NewFunction(name string, sig *types.Signature) *Function {
	f := &Function{Name: name, Signature: sig, entry: ids.NullBlock}
	f.layout = NewLayout(&f.blocks, &f.insts)
	return f
}

func (f *Function) Layout() *Layout { return f.layout }

func (f *Function) EntryBlock() ids.BlockIndex { return f.entry }

// CreateBlock allocates a new, not-yet-placed block.
func (f *Function) CreateBlock() ids.BlockIndex {
	return f.blocks.Push(Block{})
}

// AppendBlockParam adds a parameter of type t to b and returns its fresh
// SSA value.
func (f *Function) AppendBlockParam(b ids.BlockIndex, t types.ValueType) ids.ValueIndex {
	blk := f.blocks.Get(b)
	idx := len(blk.Params)
	v := f.values.Push(ValueData{Type: t, DefInst: ids.NullInst, DefBlock: b, BlockParamIdx: idx})
	blk.Params = append(blk.Params, v)
	blk.ParamTypes = append(blk.ParamTypes, t)
	return v
}

func (f *Function) BlockParams(b ids.BlockIndex) []ids.ValueIndex { return f.blocks.Get(b).Params }

// SetEntryBlock designates b as the function's entry; must be called
// exactly once, before any other block is placed, since the entry block's
// parameters are what the ABI materializes incoming arguments into.
func (f *Function) SetEntryBlock(b ids.BlockIndex) {
	f.entry = b
}

// PushInst allocates inst in the arena without placing it in any block's
// instruction order; callers place it via a Cursor.
func (f *Function) PushInst(inst Instruction) ids.InstIndex {
	return f.insts.Push(inst)
}

// CreateResult allocates a fresh SSA value defined by inst, of type t.
func (f *Function) CreateResult(inst ids.InstIndex, t types.ValueType) ids.ValueIndex {
	v := f.values.Push(ValueData{Type: t, DefInst: inst, DefBlock: ids.NullBlock})
	f.insts.Get(inst).Result = v
	return v
}

func (f *Function) Inst(i ids.InstIndex) *Instruction    { return f.insts.Get(i) }
func (f *Function) Block(b ids.BlockIndex) *Block         { return f.blocks.Get(b) }
func (f *Function) ValueType(v ids.ValueIndex) types.ValueType { return f.values.Get(v).Type }
func (f *Function) ValueDef(v ids.ValueIndex) ValueData   { return *f.values.Get(v) }

// Blocks returns block indexes in layout order.
func (f *Function) Blocks() []ids.BlockIndex {
	var out []ids.BlockIndex
	for b := f.layout.FirstBlock(); b.Valid(); b = f.layout.NextBlock(b) {
		out = append(out, b)
	}
	return out
}

// Insts returns instruction indexes of b in layout order.
func (f *Function) Insts(b ids.BlockIndex) []ids.InstIndex {
	var out []ids.InstIndex
	for i := f.layout.FirstInst(b); i.Valid(); i = f.layout.NextInst(i) {
		out = append(out, i)
	}
	return out
}

// Dump renders the function as a readable listing of blocks and
// instructions, with a spew dump of each instruction's payload — mirrors
// the debug dump every backend.Compiler.Format() in the retrieved wazevo
// files produces, used behind internal/debug's print-gates rather than
// unconditionally.
func (f *Function) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function %s%s:\n", f.Name, f.Signature)
	for _, b := range f.Blocks() {
		blk := f.Block(b)
		fmt.Fprintf(&sb, "%s(", b)
		for i, p := range blk.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s:%s", p, blk.ParamTypes[i])
		}
		sb.WriteString("):\n")
		for _, i := range f.Insts(b) {
			inst := f.Inst(i)
			fmt.Fprintf(&sb, "    %s = %s %s\n", inst.Result, inst.Op, spew.Sdump(inst.Args))
		}
	}
	return sb.String()
}
