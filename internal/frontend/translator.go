// Package frontend translates one Wasm function body into internal/ir
// Function form: an operand stack plus a control-frame stack driving
// block/loop/if into extended basic blocks, adapted directly from the
// teacher's internal/wazeroir/compiler.go (controlFrame, controlFrames,
// the stack/unreachableState bookkeeping in handleInstruction) but
// emitting into the arena+layout IR instead of a flat wazeroir operation
// slice, cross-checked against frontend.go's SSA-variable-per-local and
// "+2" hidden-parameter convention for the translated function's
// signature.
package frontend

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wabin/leb128"

	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/ir"
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
	"github.com/wazevoproject/wazevo/internal/wasmmod"
)

type frameKind byte

const (
	frameBlock frameKind = iota
	frameLoop
	frameIf
)

// controlFrame is one entry of the control-flow stack, mirroring
// compiler.go's controlFrame: what construct it is, where a `br` to it
// lands, what the stack height was on entry (so a `br`/`end` can
// reconcile value-stack height against the construct's declared arity),
// and whether code following this point is statically unreachable.
type controlFrame struct {
	kind frameKind

	// branchTarget is where `br N` targeting this frame jumps: the loop
	// header for frameLoop, the shared follow-up block otherwise.
	branchTarget ids.BlockIndex
	// followUp is the block code continues in once this construct's
	// `end` is reached; for a loop this differs from branchTarget.
	followUp ids.BlockIndex

	resultTypes []types.ValueType
	stackLenAtEntry int

	// elseBlock is valid only for frameIf, and is where the `else`
	// operator (if present) starts emitting.
	elseBlock ids.BlockIndex
	sawElse   bool

	unreachable bool
}

// Translator holds all per-function state threading the Wasm operator
// walk into the IR builder.
type Translator struct {
	mod  *wasmmod.Module
	sigs *types.Registry

	b *ir.Builder

	stack  []ids.ValueIndex
	frames []controlFrame

	localTypes []types.ValueType
	numParams  int

	// endReturnTypes are the enclosing function's result types, used by
	// `return` and by the implicit `end` of the outermost frame.
	endReturnTypes []types.ValueType
}

// TranslateFunction builds the IR Function for the funcIdx'th
// module-defined function (i.e. mod.CodeSection[funcIdx], whose Wasm
// index is mod.ImportFuncCount()+funcIdx).
func TranslateFunction(mod *wasmmod.Module, sigs *types.Registry, funcIdx uint32, name string) (*ir.Function, error) {
	typeIdxs := mod.AllFunctionTypeIndexes()
	wasmFuncIdx := mod.ImportFuncCount() + funcIdx
	if int(wasmFuncIdx) >= len(typeIdxs) {
		return nil, errors.Errorf("frontend: function index %d out of range", funcIdx)
	}
	ft := mod.TypeSection[typeIdxs[wasmFuncIdx]]
	sig := &types.Signature{Params: ft.Params, Results: ft.Results, Conv: types.WasmDefault}
	sigs.Intern(sig)

	code := mod.CodeSection[funcIdx]

	f := ir.NewFunction(name, sig)
	b := ir.NewBuilder(f)

	entry := f.CreateBlock()
	f.SetEntryBlock(entry)
	b.Cursor.GotoBottom()
	b.Cursor.InsertBlock(entry)
	b.Cursor.GotoBlockStart(entry)

	// Hidden exec-context / module-context pointers per the "+2" ABI
	// convention, then the declared Wasm parameters.
	f.AppendBlockParam(entry, types.I64)
	f.AppendBlockParam(entry, types.I64)
	wasmParams := make([]ids.ValueIndex, len(ft.Params))
	for i, pt := range ft.Params {
		wasmParams[i] = f.AppendBlockParam(entry, pt)
	}

	localTypes := append(append([]types.ValueType{}, ft.Params...), code.LocalTypes...)

	t := &Translator{
		mod: mod, sigs: sigs, b: b,
		localTypes:     localTypes,
		numParams:      len(ft.Params),
		endReturnTypes: ft.Results,
	}

	// Materialize params into their local slots, then zero-init declared
	// locals, mirroring compiler.go's calcLocalIndexToStackHeight +
	// declareWasmLocals.
	for i, v := range wasmParams {
		b.VarSet(uint32(i), v)
	}
	for i := len(ft.Params); i < len(localTypes); i++ {
		b.VarSet(uint32(i), zeroValue(b, localTypes[i]))
	}

	exitBlock := f.CreateBlock()
	for _, rt := range ft.Results {
		f.AppendBlockParam(exitBlock, rt)
	}
	t.frames = append(t.frames, controlFrame{
		kind: frameBlock, branchTarget: exitBlock, followUp: exitBlock,
		resultTypes: ft.Results, stackLenAtEntry: 0,
	})

	r := bytes.NewReader(code.Body)
	if err := t.run(r); err != nil {
		return nil, errors.Wrapf(err, "frontend: translating function %d", funcIdx)
	}

	// Outermost frame's `end` lands here: wire exitBlock to emit Return.
	b.Cursor.GotoBottom()
	b.Cursor.InsertBlock(exitBlock)
	b.Cursor.GotoBlockStart(exitBlock)
	b.Return(f.BlockParams(exitBlock))

	return f, nil
}

func zeroValue(b *ir.Builder, t types.ValueType) ids.ValueIndex {
	switch t {
	case types.F32:
		return b.F32const(0)
	case types.F64:
		return b.F64const(0)
	case types.Ref:
		return b.RefNull(types.Ref)
	default:
		return b.Iconst(t, 0)
	}
}

func (t *Translator) curFrame() *controlFrame   { return &t.frames[len(t.frames)-1] }
func (t *Translator) push(v ids.ValueIndex)      { t.stack = append(t.stack, v) }
func (t *Translator) pop() ids.ValueIndex {
	v := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return v
}

func (t *Translator) markUnreachable() {
	f := t.curFrame()
	f.unreachable = true
	t.stack = t.stack[:f.stackLenAtEntry]
}

// run walks every operator in r, dispatching into the IR builder.
func (t *Translator) run(r *bytes.Reader) error {
	for r.Len() > 0 {
		opByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		op := wasmmod.Opcode(opByte)
		if err := t.step(op, r); err != nil {
			return errors.Wrapf(err, "at %s", wasmmod.InstructionName(op))
		}
		if op == wasmmod.OpcodeEnd && len(t.frames) == 0 {
			return nil
		}
	}
	return nil
}

func u32(r *bytes.Reader) (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	return v, err
}

func i32(r *bytes.Reader) (int32, error) {
	v, _, err := leb128.DecodeInt32(r)
	return v, err
}

func i64(r *bytes.Reader) (int64, error) {
	v, _, err := leb128.DecodeInt64(r)
	return v, err
}

func readMemarg(r *bytes.Reader) (align, offset uint32, err error) {
	if align, err = u32(r); err != nil {
		return
	}
	offset, err = u32(r)
	return
}

func (t *Translator) step(op wasmmod.Opcode, r *bytes.Reader) error {
	unreachable := t.curFrame().unreachable

	switch op {
	case wasmmod.OpcodeUnreachable:
		if !unreachable {
			t.b.Trap(trap.CodeUnreachableCodeReached)
			t.markUnreachable()
		}
		return nil
	case wasmmod.OpcodeNop:
		return nil
	case wasmmod.OpcodeBlock, wasmmod.OpcodeLoop, wasmmod.OpcodeIf:
		return t.enterConstruct(op, r, unreachable)
	case wasmmod.OpcodeElse:
		return t.handleElse(unreachable)
	case wasmmod.OpcodeEnd:
		return t.handleEnd(unreachable)
	case wasmmod.OpcodeBr:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.branch(idx)
			t.markUnreachable()
		}
		return nil
	case wasmmod.OpcodeBrIf:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			cond := t.pop()
			t.condBranch(idx, cond)
		}
		return nil
	case wasmmod.OpcodeBrTable:
		return t.handleBrTable(r, unreachable)
	case wasmmod.OpcodeReturn:
		if !unreachable {
			vals := t.popN(len(t.endReturnTypes))
			t.b.Return(vals)
			t.markUnreachable()
		}
		return nil
	case wasmmod.OpcodeCall:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if unreachable {
			return nil
		}
		return t.handleCall(idx)
	case wasmmod.OpcodeCallIndirect:
		typeIdx, err := u32(r)
		if err != nil {
			return err
		}
		tableIdx, err := u32(r)
		if err != nil {
			return err
		}
		if unreachable {
			return nil
		}
		return t.handleCallIndirect(typeIdx, tableIdx)
	case wasmmod.OpcodeDrop:
		if !unreachable {
			t.pop()
		}
		return nil
	case wasmmod.OpcodeSelect:
		if !unreachable {
			cond := t.pop()
			b2 := t.pop()
			a := t.pop()
			rt := t.b.F.ValueType(a)
			t.push(t.b.Select(rt, cond, a, b2))
		}
		return nil
	case wasmmod.OpcodeLocalGet:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.VarGet(t.localTypes[idx], idx))
		}
		return nil
	case wasmmod.OpcodeLocalSet:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.b.VarSet(idx, t.pop())
		}
		return nil
	case wasmmod.OpcodeLocalTee:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			v := t.pop()
			t.b.VarSet(idx, v)
			t.push(v)
		}
		return nil
	case wasmmod.OpcodeGlobalGet:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			gt := t.mod.AllGlobalTypes()[idx]
			t.push(t.b.GlobalGet(gt.ValType, idx))
		}
		return nil
	case wasmmod.OpcodeGlobalSet:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.b.GlobalSet(idx, t.pop())
		}
		return nil
	case wasmmod.OpcodeI32Load, wasmmod.OpcodeI64Load, wasmmod.OpcodeF32Load, wasmmod.OpcodeF64Load:
		return t.handleLoad(op, r, unreachable)
	case wasmmod.OpcodeI32Store, wasmmod.OpcodeI64Store, wasmmod.OpcodeF32Store, wasmmod.OpcodeF64Store:
		return t.handleStore(op, r, unreachable)
	case wasmmod.OpcodeMemorySize:
		if _, err := r.ReadByte(); err != nil { // memory index, reserved byte
			return err
		}
		if !unreachable {
			t.push(t.b.MemorySize(0))
		}
		return nil
	case wasmmod.OpcodeMemoryGrow:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.MemoryGrow(0, t.pop()))
		}
		return nil
	case wasmmod.OpcodeI32Const:
		v, err := i32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.Iconst(types.I32, uint64(uint32(v))))
		}
		return nil
	case wasmmod.OpcodeI64Const:
		v, err := i64(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.Iconst(types.I64, uint64(v)))
		}
		return nil
	case wasmmod.OpcodeF32Const:
		var buf [4]byte
		if _, err := r.Read(buf[:]); err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.F32const(leU32(buf[:])))
		}
		return nil
	case wasmmod.OpcodeF64Const:
		var buf [8]byte
		if _, err := r.Read(buf[:]); err != nil {
			return err
		}
		if !unreachable {
			lo, hi := leU32(buf[0:4]), leU32(buf[4:8])
			t.push(t.b.F64const(uint64(lo) | uint64(hi)<<32))
		}
		return nil
	case wasmmod.OpcodeRefNull:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.RefNull(types.Ref))
		}
		return nil
	case wasmmod.OpcodeRefIsNull:
		if !unreachable {
			t.push(t.b.RefIsNull(t.pop()))
		}
		return nil
	case wasmmod.OpcodeRefFunc:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			t.push(t.b.RefFunc(idx))
		}
		return nil
	case wasmmod.OpcodeTableGet:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			raw := t.b.TableGet(types.Ref, idx, t.pop())
			t.push(t.b.LazyFuncrefInit(raw))
		}
		return nil
	case wasmmod.OpcodeTableSet:
		idx, err := u32(r)
		if err != nil {
			return err
		}
		if !unreachable {
			v := t.pop()
			i := t.pop()
			t.b.TableSet(idx, i, v)
		}
		return nil
	default:
		return t.handleNumeric(op, unreachable)
	}
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (t *Translator) popN(n int) []ids.ValueIndex {
	out := make([]ids.ValueIndex, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = t.pop()
	}
	return out
}

func (t *Translator) handleLoad(op wasmmod.Opcode, r *bytes.Reader, unreachable bool) error {
	_, offset, err := readMemarg(r)
	if err != nil {
		return err
	}
	if unreachable {
		return nil
	}
	idx := t.pop()
	var rt types.ValueType
	switch op {
	case wasmmod.OpcodeI32Load:
		rt = types.I32
	case wasmmod.OpcodeI64Load:
		rt = types.I64
	case wasmmod.OpcodeF32Load:
		rt = types.F32
	case wasmmod.OpcodeF64Load:
		rt = types.F64
	}
	addr := t.b.HeapAddr(types.I64, idx, 0, offset, uint32(rt.Bits()/8))
	t.push(t.b.Load(rt, addr))
	return nil
}

func (t *Translator) handleStore(op wasmmod.Opcode, r *bytes.Reader, unreachable bool) error {
	_, offset, err := readMemarg(r)
	if err != nil {
		return err
	}
	if unreachable {
		return nil
	}
	val := t.pop()
	idx := t.pop()
	var accessSize uint32
	switch op {
	case wasmmod.OpcodeI32Store, wasmmod.OpcodeF32Store:
		accessSize = 4
	case wasmmod.OpcodeI64Store, wasmmod.OpcodeF64Store:
		accessSize = 8
	}
	addr := t.b.HeapAddr(types.I64, idx, 0, offset, accessSize)
	t.b.Store(addr, val)
	return nil
}

func (t *Translator) handleCall(idx uint32) error {
	typeIdxs := t.mod.AllFunctionTypeIndexes()
	ft := t.mod.TypeSection[typeIdxs[idx]]
	sig := &types.Signature{Params: ft.Params, Results: ft.Results, Conv: types.WasmDefault}
	args := t.popN(len(ft.Params))
	results := t.b.Call(idx, sig, args)
	for _, res := range results {
		t.push(res)
	}
	return nil
}

func (t *Translator) handleCallIndirect(typeIdx, tableIdx uint32) error {
	ft := t.mod.TypeSection[typeIdx]
	sig := &types.Signature{Params: ft.Params, Results: ft.Results, Conv: types.WasmDefault}
	expected := t.sigs.Intern(sig)
	slot := t.pop()
	args := t.popN(len(ft.Params))
	resolved := t.b.LazyFuncrefInit(slot)
	results := t.b.CallIndirect(tableIdx, expected, sig, resolved, args)
	for _, res := range results {
		t.push(res)
	}
	return nil
}

func (t *Translator) handleBrTable(r *bytes.Reader, unreachable bool) error {
	n, err := u32(r)
	if err != nil {
		return err
	}
	targets := make([]uint32, n)
	for i := range targets {
		if targets[i], err = u32(r); err != nil {
			return err
		}
	}
	def, err := u32(r)
	if err != nil {
		return err
	}
	if unreachable {
		return nil
	}
	idx := t.pop()
	blocks := make([]ids.BlockIndex, 0, n+1)
	for _, d := range targets {
		blocks = append(blocks, t.frameAt(d).branchTarget)
	}
	blocks = append(blocks, t.frameAt(def).branchTarget)
	t.b.BrTable(idx, blocks)
	t.markUnreachable()
	return nil
}

func (t *Translator) frameAt(depth uint32) *controlFrame {
	return &t.frames[len(t.frames)-1-int(depth)]
}

func (t *Translator) branch(depth uint32) {
	f := t.frameAt(depth)
	args := t.popN(len(f.resultTypes))
	if f.kind == frameLoop {
		// Loop back-edges carry no arguments in this translator's
		// simplified locals-as-mutable-slots model (see ir.OpVarSet);
		// values live in locals, not loop block params.
		t.b.Jump(f.branchTarget, nil)
	} else {
		t.b.Jump(f.branchTarget, args)
	}
}

func (t *Translator) condBranch(depth uint32, cond ids.ValueIndex) {
	f := t.frameAt(depth)
	fallthroughBlock := t.b.F.CreateBlock()
	if f.kind == frameLoop {
		t.b.Brnz(cond, f.branchTarget, nil, fallthroughBlock, nil)
	} else {
		args := make([]ids.ValueIndex, len(f.resultTypes))
		copy(args, t.stack[len(t.stack)-len(f.resultTypes):])
		t.b.Brnz(cond, f.branchTarget, args, fallthroughBlock, nil)
	}
	t.b.Cursor.GotoBottom()
	t.b.Cursor.InsertBlock(fallthroughBlock)
	t.b.Cursor.GotoBlockStart(fallthroughBlock)
}

func (t *Translator) enterConstruct(op wasmmod.Opcode, r *bytes.Reader, unreachable bool) error {
	bt, err := wasmmod.DecodeBlockType(r)
	if err != nil {
		return err
	}
	var results []types.ValueType
	switch {
	case bt.HasSingle:
		results = []types.ValueType{bt.Single}
	case bt.HasTypeIndex:
		return errors.New("frontend: multi-value block types are not supported")
	}

	if unreachable {
		// Still track nesting depth so a matching `end`/`else` pops
		// correctly, but never emit code.
		t.frames = append(t.frames, controlFrame{kind: kindOf(op), resultTypes: results, unreachable: true, stackLenAtEntry: len(t.stack)})
		return nil
	}

	switch op {
	case wasmmod.OpcodeBlock:
		follow := t.b.F.CreateBlock()
		for _, rt := range results {
			t.b.F.AppendBlockParam(follow, rt)
		}
		t.frames = append(t.frames, controlFrame{
			kind: frameBlock, branchTarget: follow, followUp: follow,
			resultTypes: results, stackLenAtEntry: len(t.stack),
		})
	case wasmmod.OpcodeLoop:
		header := t.b.F.CreateBlock()
		t.b.Jump(header, nil)
		t.b.Cursor.GotoBottom()
		t.b.Cursor.InsertBlock(header)
		t.b.Cursor.GotoBlockStart(header)
		t.frames = append(t.frames, controlFrame{
			kind: frameLoop, branchTarget: header, followUp: t.b.F.CreateBlock(),
			resultTypes: results, stackLenAtEntry: len(t.stack),
		})
	case wasmmod.OpcodeIf:
		cond := t.pop()
		thenBlock := t.b.F.CreateBlock()
		elseBlock := t.b.F.CreateBlock()
		follow := t.b.F.CreateBlock()
		for _, rt := range results {
			t.b.F.AppendBlockParam(follow, rt)
		}
		t.b.Brnz(cond, thenBlock, nil, elseBlock, nil)
		t.b.Cursor.GotoBottom()
		t.b.Cursor.InsertBlock(thenBlock)
		t.b.Cursor.GotoBlockStart(thenBlock)
		t.frames = append(t.frames, controlFrame{
			kind: frameIf, branchTarget: follow, followUp: follow, elseBlock: elseBlock,
			resultTypes: results, stackLenAtEntry: len(t.stack),
		})
	}
	return nil
}

func kindOf(op wasmmod.Opcode) frameKind {
	switch op {
	case wasmmod.OpcodeLoop:
		return frameLoop
	case wasmmod.OpcodeIf:
		return frameIf
	default:
		return frameBlock
	}
}

func (t *Translator) handleElse(unreachable bool) error {
	f := t.curFrame()
	if f.unreachable {
		f.sawElse = true
		return nil
	}
	if f.kind != frameIf {
		return errors.New("frontend: else without matching if")
	}
	if !unreachable {
		args := t.popN(len(f.resultTypes))
		t.b.Jump(f.followUp, args)
	}
	t.stack = t.stack[:f.stackLenAtEntry]
	f.sawElse = true
	t.b.Cursor.GotoBottom()
	t.b.Cursor.InsertBlock(f.elseBlock)
	t.b.Cursor.GotoBlockStart(f.elseBlock)
	return nil
}

func (t *Translator) handleEnd(unreachable bool) error {
	f := t.curFrame()
	if f.unreachable {
		t.frames = t.frames[:len(t.frames)-1]
		if len(t.frames) == 0 {
			return nil
		}
		t.stack = t.stack[:f.stackLenAtEntry]
		return nil
	}

	switch f.kind {
	case frameIf:
		if !f.sawElse {
			// No else arm: falling through to the shared follow-up
			// block with the operand stack's current values directly
			// (an if/end with a non-empty result type but no else is
			// only valid when resultTypes equals the if's param types,
			// which this translator does not model separately — the
			// values already on the stack are exactly what flows
			// through).
			args := t.popN(len(f.resultTypes))
			t.b.Jump(f.followUp, args)
			t.b.Cursor.GotoBottom()
			t.b.Cursor.InsertBlock(f.elseBlock)
			t.b.Cursor.GotoBlockStart(f.elseBlock)
			t.b.Jump(f.followUp, args)
		} else if !unreachable {
			args := t.popN(len(f.resultTypes))
			t.b.Jump(f.followUp, args)
		}
		t.stack = t.stack[:f.stackLenAtEntry]
		t.frames = t.frames[:len(t.frames)-1]
		t.b.Cursor.GotoBottom()
		t.b.Cursor.InsertBlock(f.followUp)
		t.b.Cursor.GotoBlockStart(f.followUp)
		for _, p := range t.b.F.BlockParams(f.followUp) {
			t.push(p)
		}
	case frameLoop:
		if !unreachable {
			t.b.Jump(f.followUp, nil)
		}
		t.stack = t.stack[:f.stackLenAtEntry]
		t.frames = t.frames[:len(t.frames)-1]
		t.b.Cursor.GotoBottom()
		t.b.Cursor.InsertBlock(f.followUp)
		t.b.Cursor.GotoBlockStart(f.followUp)
	default: // frameBlock, including the synthetic outermost frame.
		if len(t.frames) == 1 {
			// Outermost frame: its `end` is handled by the caller
			// (TranslateFunction wires the exit block itself).
			if !unreachable {
				args := t.popN(len(f.resultTypes))
				t.b.Jump(f.followUp, args)
			}
			t.frames = t.frames[:0]
			return nil
		}
		if !unreachable {
			args := t.popN(len(f.resultTypes))
			t.b.Jump(f.followUp, args)
		}
		t.stack = t.stack[:f.stackLenAtEntry]
		t.frames = t.frames[:len(t.frames)-1]
		t.b.Cursor.GotoBottom()
		t.b.Cursor.InsertBlock(f.followUp)
		t.b.Cursor.GotoBlockStart(f.followUp)
		for _, p := range t.b.F.BlockParams(f.followUp) {
			t.push(p)
		}
	}
	return nil
}

func (t *Translator) handleNumeric(op wasmmod.Opcode, unreachable bool) error {
	if unreachable {
		return nil
	}
	switch op {
	case wasmmod.OpcodeI32Eqz:
		t.push(t.b.Icmp(ir.IntEq, t.pop(), t.b.Iconst(types.I32, 0)))
	case wasmmod.OpcodeI64Eqz:
		t.push(t.b.Icmp(ir.IntEq, t.pop(), t.b.Iconst(types.I64, 0)))
	case wasmmod.OpcodeI32Eq, wasmmod.OpcodeI64Eq:
		y, x := t.pop(), t.pop()
		t.push(t.b.Icmp(ir.IntEq, x, y))
	case wasmmod.OpcodeI32Ne, wasmmod.OpcodeI64Ne:
		y, x := t.pop(), t.pop()
		t.push(t.b.Icmp(ir.IntNe, x, y))
	case wasmmod.OpcodeI32LtS:
		t.binIcmp(ir.IntSLt)
	case wasmmod.OpcodeI32LtU:
		t.binIcmp(ir.IntULt)
	case wasmmod.OpcodeI32GtS:
		t.binIcmp(ir.IntSGt)
	case wasmmod.OpcodeI32GtU:
		t.binIcmp(ir.IntUGt)
	case wasmmod.OpcodeI32LeS:
		t.binIcmp(ir.IntSLe)
	case wasmmod.OpcodeI32LeU:
		t.binIcmp(ir.IntULe)
	case wasmmod.OpcodeI32GeS:
		t.binIcmp(ir.IntSGe)
	case wasmmod.OpcodeI32GeU:
		t.binIcmp(ir.IntUGe)
	case wasmmod.OpcodeI32Add:
		t.binArith(ir.OpIadd, types.I32)
	case wasmmod.OpcodeI32Sub:
		t.binArith(ir.OpIsub, types.I32)
	case wasmmod.OpcodeI32Mul:
		t.binArith(ir.OpImul, types.I32)
	case wasmmod.OpcodeI32DivS:
		t.binTrapArith(ir.OpSdiv, types.I32)
	case wasmmod.OpcodeI32DivU:
		t.binTrapArith(ir.OpUdiv, types.I32)
	case wasmmod.OpcodeI32RemS:
		t.binTrapArith(ir.OpSrem, types.I32)
	case wasmmod.OpcodeI32RemU:
		t.binTrapArith(ir.OpUrem, types.I32)
	case wasmmod.OpcodeI32And:
		t.binArith(ir.OpBand, types.I32)
	case wasmmod.OpcodeI32Or:
		t.binArith(ir.OpBor, types.I32)
	case wasmmod.OpcodeI32Xor:
		t.binArith(ir.OpBxor, types.I32)
	case wasmmod.OpcodeI32Shl:
		t.binArith(ir.OpIshl, types.I32)
	case wasmmod.OpcodeI32ShrS:
		t.binArith(ir.OpSshr, types.I32)
	case wasmmod.OpcodeI32ShrU:
		t.binArith(ir.OpUshr, types.I32)
	case wasmmod.OpcodeI32Rotl:
		t.binArith(ir.OpRotl, types.I32)
	case wasmmod.OpcodeI32Rotr:
		t.binArith(ir.OpRotr, types.I32)
	case wasmmod.OpcodeI32Clz:
		t.push(t.b.UnOp(ir.OpClz, types.I32, t.pop()))
	case wasmmod.OpcodeI32Ctz:
		t.push(t.b.UnOp(ir.OpCtz, types.I32, t.pop()))
	case wasmmod.OpcodeI32Popcnt:
		t.push(t.b.UnOp(ir.OpPopcnt, types.I32, t.pop()))
	case wasmmod.OpcodeI64Add:
		t.binArith(ir.OpIadd, types.I64)
	case wasmmod.OpcodeI64Sub:
		t.binArith(ir.OpIsub, types.I64)
	case wasmmod.OpcodeI64Mul:
		t.binArith(ir.OpImul, types.I64)
	case wasmmod.OpcodeF32Add:
		t.binArith(ir.OpFadd, types.F32)
	case wasmmod.OpcodeF32Sub:
		t.binArith(ir.OpFsub, types.F32)
	case wasmmod.OpcodeF32Mul:
		t.binArith(ir.OpFmul, types.F32)
	case wasmmod.OpcodeF32Div:
		t.binArith(ir.OpFdiv, types.F32)
	case wasmmod.OpcodeF32Sqrt:
		t.push(t.b.UnOp(ir.OpFsqrt, types.F32, t.pop()))
	case wasmmod.OpcodeF64Add:
		t.binArith(ir.OpFadd, types.F64)
	case wasmmod.OpcodeF64Sub:
		t.binArith(ir.OpFsub, types.F64)
	case wasmmod.OpcodeF64Mul:
		t.binArith(ir.OpFmul, types.F64)
	case wasmmod.OpcodeF64Div:
		t.binArith(ir.OpFdiv, types.F64)
	case wasmmod.OpcodeF64Sqrt:
		t.push(t.b.UnOp(ir.OpFsqrt, types.F64, t.pop()))
	default:
		return fmt.Errorf("frontend: unsupported opcode %s", wasmmod.InstructionName(op))
	}
	return nil
}

func (t *Translator) binArith(op ir.Opcode, rt types.ValueType) {
	y, x := t.pop(), t.pop()
	t.push(t.b.BinOp(op, rt, x, y))
}

func (t *Translator) binIcmp(cc ir.IntCC) {
	y, x := t.pop(), t.pop()
	t.push(t.b.Icmp(cc, x, y))
}

// binTrapArith emits a division/remainder op guarded by the
// divide-by-zero trap check spec.md §4.9 requires; codegen further
// expands the divide itself into the INT_MIN/-1 overflow-trap special
// case for signed division.
func (t *Translator) binTrapArith(op ir.Opcode, rt types.ValueType) {
	y, x := t.pop(), t.pop()
	t.b.Trapz(y, trap.CodeIntegerDivisionByZero)
	t.push(t.b.BinOp(op, rt, x, y))
}
