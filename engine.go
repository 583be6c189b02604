// Package wazevo is the embedder-facing entry point: Engine decodes and
// compiles a Wasm binary for one target ISA, and CompiledModule.Instantiate
// links it against a runtime.Store per spec.md's §4.10 linker/instantiation
// flow, grounded directly on the retrieved wazevo engine.go's
// engine/compileModule/compiledModule shape (per-function compile loop,
// 16-byte-aligned concatenation into one code buffer, a combined-index-space
// relocation pass once every local function's final offset is known).
//
// Running the compiled code itself — mapping the resulting byte buffer into
// executable memory and jumping into it — is the one piece this package
// does not do: internal/runtime.Instance.FuncAddrs is deliberately an
// abstract offset rather than a real pointer, and wiring that into
// executable mmap'd memory is the platform-specific concern left to the
// embedder (see DESIGN.md).
package wazevo

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/artifact"
	"github.com/wazevoproject/wazevo/internal/codegen"
	"github.com/wazevoproject/wazevo/internal/codegen/amd64"
	"github.com/wazevoproject/wazevo/internal/codegen/arm64"
	"github.com/wazevoproject/wazevo/internal/frontend"
	"github.com/wazevoproject/wazevo/internal/ir"
	"github.com/wazevoproject/wazevo/internal/linker"
	"github.com/wazevoproject/wazevo/internal/runtime"
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
	"github.com/wazevoproject/wazevo/internal/wasmmod"
)

// Target selects which internal/codegen backend an Engine compiles
// through. riscv64/s390x are deliberately not offered here: both remain
// minimal/ISA-table-only backends (see DESIGN.md's C6/C8 entries), and
// neither exposes the call-relocation patching this driver needs to link
// a multi-function module.
type Target byte

const (
	TargetAMD64 Target = iota
	TargetARM64
)

func (t Target) String() string {
	switch t {
	case TargetAMD64:
		return "amd64"
	case TargetARM64:
		return "arm64"
	default:
		return fmt.Sprintf("target(%d)", byte(t))
	}
}

func (t Target) isa() *abi.ISA {
	switch t {
	case TargetAMD64:
		return abi.AMD64
	case TargetARM64:
		return abi.ARM64
	default:
		panic(fmt.Sprintf("wazevo: unsupported target %v", t))
	}
}

// machine is the subset of each per-ISA Machine type this driver depends
// on; amd64.Machine and arm64.Machine both satisfy it.
type machine interface {
	Compile(f *ir.Function, fnABI *abi.FunctionABI, spectreMitigation bool) (*codegen.Buffer, error)
}

func (t Target) newMachine() machine {
	switch t {
	case TargetAMD64:
		return amd64.NewMachine()
	case TargetARM64:
		return arm64.NewMachine()
	default:
		panic(fmt.Sprintf("wazevo: unsupported target %v", t))
	}
}

func (t Target) patchCallRel32(code []byte, codeOffset, target uint32) {
	switch t {
	case TargetAMD64:
		amd64.PatchCallRel32(code, codeOffset, target)
	case TargetARM64:
		arm64.PatchCallRel32(code, codeOffset, target)
	}
}

// Engine owns the shared types.Registry every module it compiles agrees
// on (so two modules it links together see the same TypeID for
// structurally equal signatures, spec.md §4.10 point 1) and the Store
// instances compiled through it get instantiated into.
type Engine struct {
	Target            Target
	Types             *types.Registry
	SpectreMitigation bool

	staticHeap      codegen.StaticHeapConfig
	staticHeapSet   bool
	fuelBudget      uint64

	store *runtime.Store
}

// NewEngine builds an Engine from cfg, ready to compile modules for
// cfg.Target(). Pass NewEngineConfig() for the defaults.
func NewEngine(cfg EngineConfig) *Engine {
	reg := types.NewRegistry()
	staticHeap, staticHeapSet := cfg.StaticHeap()
	return &Engine{
		Target:            cfg.Target(),
		Types:             reg,
		SpectreMitigation: cfg.SpectreMitigation(),
		staticHeap:        staticHeap,
		staticHeapSet:     staticHeapSet,
		fuelBudget:        cfg.FuelBudget(),
		store:             runtime.NewStore(reg),
	}
}

// staticHeapSetter is implemented by the per-ISA Machine types that
// support the static-heap bounds-check style (currently amd64 only; see
// DESIGN.md). When an Engine requests a static heap for a target whose
// Machine doesn't implement this, CompileModule returns an error.
type staticHeapSetter interface {
	SetStaticHeap(cfg *codegen.StaticHeapConfig)
}

// Store returns the runtime.Store every module compiled by this Engine
// instantiates into.
func (e *Engine) Store() *runtime.Store { return e.store }

// CompiledModule is one Wasm binary decoded and compiled for an Engine's
// target ISA, ready to be instantiated any number of times.
type CompiledModule struct {
	Module *wasmmod.Module
	Target Target

	// Code is every locally defined function's machine code, concatenated
	// in FunctionSection order with each function 16-byte aligned, the
	// same layout the retrieved engine.go's compileModule builds before
	// handing the result to platform.MmapCodeSegment.
	Code []byte
	// FunctionOffsets maps a local function index to its start offset in
	// Code.
	FunctionOffsets []uint32
	// FuncTypes is the shared TypeID for every function in the combined
	// (imports-then-defined) index space.
	FuncTypes []types.TypeID

	Artifact *artifact.Artifact
}

type compiledFunc struct {
	name string
	buf  *codegen.Buffer
}

// CompileModule decodes wasmBytes and compiles every locally defined
// function for e.Target, resolving intra-module call relocations once
// every function's final offset in the combined Code buffer is known.
func (e *Engine) CompileModule(wasmBytes []byte) (*CompiledModule, error) {
	mod, err := wasmmod.DecodeModule(wasmBytes)
	if err != nil {
		return nil, errors.Wrap(err, "wazevo: decoding module")
	}

	typeIDs := make([]types.TypeID, len(mod.TypeSection))
	for i := range mod.TypeSection {
		ft := &mod.TypeSection[i]
		typeIDs[i] = e.Types.Intern(&types.Signature{Params: ft.Params, Results: ft.Results, Conv: types.WasmDefault})
	}

	allTypeIdx := mod.AllFunctionTypeIndexes()
	funcTypes := make([]types.TypeID, len(allTypeIdx))
	for i, ti := range allTypeIdx {
		funcTypes[i] = typeIDs[ti]
	}

	importFuncCount := mod.ImportFuncCount()
	names := functionNames(mod, importFuncCount)
	isa := e.Target.isa()

	locals := make([]compiledFunc, len(mod.CodeSection))
	for i := range mod.CodeSection {
		fidx := importFuncCount + uint32(i)
		f, err := frontend.TranslateFunction(mod, e.Types, uint32(i), names[fidx])
		if err != nil {
			return nil, errors.Wrapf(err, "wazevo: translating function %d", fidx)
		}
		sig := mod.TypeSection[mod.FunctionSection[i]]
		fnABI := isa.Classify(&types.Signature{Params: sig.Params, Results: sig.Results, Conv: types.WasmDefault})
		mach := e.Target.newMachine()
		if e.staticHeapSet {
			setter, ok := mach.(staticHeapSetter)
			if !ok {
				return nil, errors.Errorf("wazevo: target %v has no static heap lowering", e.Target)
			}
			setter.SetStaticHeap(&e.staticHeap)
		}
		buf, err := mach.Compile(f, fnABI, e.SpectreMitigation)
		if err != nil {
			return nil, errors.Wrapf(err, "wazevo: compiling function %d", fidx)
		}
		locals[i] = compiledFunc{name: names[fidx], buf: buf}
	}

	cm := &CompiledModule{
		Module:          mod,
		Target:          e.Target,
		FunctionOffsets: make([]uint32, len(locals)),
		FuncTypes:       funcTypes,
	}

	art := &artifact.Artifact{TargetTriple: e.Target.String(), ABITag: "wazevo-default"}
	for i, lf := range locals {
		for len(cm.Code)%16 != 0 {
			cm.Code = append(cm.Code, 0)
		}
		offset := uint32(len(cm.Code))
		cm.FunctionOffsets[i] = offset
		fidx := importFuncCount + uint32(i)

		for _, r := range lf.buf.Relocs {
			if r.Target.IsImport || uint32(r.Target.FuncIndex) < importFuncCount {
				return nil, errors.Errorf(
					"wazevo: function %d (%s) calls an imported function directly; "+
						"this backend has no indirect import-call slot yet, only intra-module calls link",
					fidx, lf.name)
			}
			art.Relocations = append(art.Relocations, artifact.RelocationEntry{
				CodeOffset: offset + r.CodeOffset,
				Kind:       artifact.RelocationDirectCall,
				SymbolName: names[uint32(r.Target.FuncIndex)],
			})
		}
		unwindStart := len(art.Unwind)
		for _, u := range lf.buf.Unwind.Entries {
			art.Unwind = append(art.Unwind, trap.UnwindEntry{
				CodeOffset: offset + u.CodeOffset, Op: u.Op, Reg: u.Reg, StackOffset: u.StackOffset,
			})
		}
		trapStart := len(art.Traps)
		for _, t := range lf.buf.Traps {
			art.Traps = append(art.Traps, artifact.TrapEntry{CodeOffset: offset + t.CodeOffset, TrapCode: t.Code})
		}
		art.Functions = append(art.Functions, artifact.FunctionEntry{
			Name: lf.name, CodeOffset: offset, CodeLength: uint32(len(lf.buf.Code)),
			SigID: funcTypes[fidx], UnwindOffset: uint32(unwindStart), TrapTableOffset: uint32(trapStart),
		})
		cm.Code = append(cm.Code, lf.buf.Code...)
	}

	// Every local function's final offset is now fixed: patch intra-module
	// call relocations directly, matching the retrieved engine.go's
	// machine.ResolveRelocations pass (there keyed by ssa.FuncRef against
	// refToBinaryOffset; here keyed by the combined function index against
	// FunctionOffsets).
	for i, lf := range locals {
		base := cm.FunctionOffsets[i]
		for _, r := range lf.buf.Relocs {
			targetLocal := uint32(r.Target.FuncIndex) - importFuncCount
			target := cm.FunctionOffsets[targetLocal]
			e.Target.patchCallRel32(cm.Code, base+r.CodeOffset, target)
		}
	}

	art.TypeIDs = typeIDs
	art.Code = cm.Code
	cm.Artifact = art
	return cm, nil
}

// Instantiate performs spec.md §4.10 points 1-2 against e's Store: resolve
// name's imports, allocate locally defined memory/tables/globals, run
// element and data segment initializers, and register the result as name.
// It deliberately stops short of point 3 (running the start function):
// the instance's FuncAddrs are offsets into cm.Code, not real function pointers, so
// calling into one means the embedder has already mapped cm.Code into
// executable memory and knows how to bridge that call - exactly the step
// internal/runtime.Instance.FuncAddrs's doc comment calls out as left to
// the embedder. Callers that need the start function run should dispatch
// through FuncAddrs[*mod.StartSection] themselves once they can.
func (cm *CompiledModule) Instantiate(e *Engine, name string) (*runtime.Instance, error) {
	mod := cm.Module
	resolved, err := linker.Resolve(e.store, mod)
	if err != nil {
		return nil, err
	}

	inst := e.store.NewInstance(name)
	inst.Module = mod

	importFuncCount := mod.ImportFuncCount()
	inst.FuncAddrs = make([]uint32, importFuncCount+uint32(len(cm.FunctionOffsets)))
	inst.FuncTypes = make([]types.TypeID, len(inst.FuncAddrs))
	for i, f := range resolved.Funcs {
		inst.FuncAddrs[i] = f.Addr
		inst.FuncTypes[i] = f.TypeID
	}
	for i, off := range cm.FunctionOffsets {
		inst.FuncAddrs[importFuncCount+uint32(i)] = off
		inst.FuncTypes[importFuncCount+uint32(i)] = cm.FuncTypes[importFuncCount+uint32(i)]
	}

	if len(mod.MemorySection) > 0 {
		mt := mod.MemorySection[0]
		const pageSize = 65536
		mem := make([]byte, int(mt.Min)*pageSize)
		max := uint32(0)
		if mt.Max != nil {
			max = *mt.Max
		}
		inst.SetMemory(mem, max)
	} else if resolved.Memory != nil {
		// Imported memory: alias the exporter's backing slice directly so
		// growth on either side of the import stays visible to the other,
		// the same live-sharing real engines give a single linear memory
		// instance, and take MemoryMax from the exporter, whose limits
		// linker.Resolve has already checked against this importer's
		// declared memory type.
		inst.SetMemory(resolved.Memory.Source.Memory, resolved.Memory.Source.MemoryMax)
	}

	// inst.Tables holds only locally defined tables, in local-index-space;
	// an imported table is reachable only through resolved.Tables, not
	// through inst.Tables (see DESIGN.md's table-import-scope decision).
	inst.Tables = make([]runtime.Table, len(mod.TableSection))
	for i, tt := range mod.TableSection {
		inst.Tables[i] = runtime.Table{ElemType: tt.ElemType, Max: tt.Max}
		inst.Tables[i].Grow(tt.Min)
	}

	allGlobalTypes := mod.AllGlobalTypes()
	inst.VMCtx.Globals = make([]uint64, len(allGlobalTypes))
	inst.VMCtx.GlobalRefs = make([]runtime.Ref, len(allGlobalTypes))
	inst.Globals = make([]runtime.Val, len(allGlobalTypes))
	for i, ig := range resolved.Globals {
		if ig.Ref != nil {
			inst.VMCtx.GlobalRefs[i] = *ig.Ref
			inst.Globals[i] = runtime.RefVal(e.store.ID(), *ig.Ref)
		} else {
			inst.VMCtx.Globals[i] = *ig.Bits
			inst.Globals[i] = rawValOf(e.store.ID(), ig.ValType, *ig.Bits)
		}
	}
	importGlobalCount := uint32(len(resolved.Globals))
	for i, g := range mod.GlobalSection {
		idx := importGlobalCount + uint32(i)
		v, err := evalConstExpr(g.Init, inst)
		if err != nil {
			return nil, errors.Wrapf(err, "wazevo: evaluating global %d initializer", idx)
		}
		if g.Type.ValType == types.Ref {
			inst.VMCtx.GlobalRefs[idx] = v.Ref()
			inst.Globals[idx] = v
		} else {
			inst.VMCtx.Globals[idx] = v.RawBits()
			inst.Globals[idx] = v
		}
	}

	importTableCount := uint32(len(resolved.Tables))
	for _, seg := range mod.ElementSection {
		offVal, err := evalConstExpr(seg.Offset, inst)
		if err != nil {
			return nil, errors.Wrap(err, "wazevo: evaluating element segment offset")
		}
		off := uint32(offVal.I32())
		if seg.TableIndex < importTableCount {
			continue // imported table target: see DESIGN.md's table-import-scope decision.
		}
		tbl := &inst.Tables[seg.TableIndex-importTableCount]
		for i, fidx := range seg.FuncIndexes {
			if int(off)+i >= len(tbl.Elems) {
				return nil, errors.Errorf("wazevo: element segment writes past table %d bound", seg.TableIndex)
			}
			tbl.Elems[int(off)+i] = runtime.Ref{Heap: types.HeapFunc, FuncAddr: inst.FuncAddrs[fidx]}
		}
	}

	for _, seg := range mod.DataSection {
		offVal, err := evalConstExpr(seg.Offset, inst)
		if err != nil {
			return nil, errors.Wrap(err, "wazevo: evaluating data segment offset")
		}
		off := uint32(offVal.I32())
		if int(off)+len(seg.Init) > len(inst.Memory) {
			return nil, errors.Errorf("wazevo: data segment writes past memory bound")
		}
		copy(inst.Memory[off:], seg.Init)
	}

	e.store.Register(name, inst)
	return inst, nil
}

func rawValOf(storeID uint64, vt types.ValueType, bits uint64) runtime.Val {
	switch vt {
	case types.I32:
		return runtime.I32Val(storeID, int32(bits))
	case types.I64:
		return runtime.I64Val(storeID, int64(bits))
	case types.F32:
		return runtime.F32Val(storeID, math.Float32frombits(uint32(bits)))
	default:
		return runtime.F64Val(storeID, math.Float64frombits(bits))
	}
}

// evalConstExpr evaluates the handful of const-expr forms wasmmod.DecodeModule
// accepts (i32/i64/f32/f64.const, global.get, ref.null, ref.func) against
// inst's already-populated import globals, matching the subset
// wasmmod.decodeConstExpr itself restricts initializers to.
func evalConstExpr(ce wasmmod.ConstExpr, inst *runtime.Instance) (runtime.Val, error) {
	storeID := inst.Store.ID()
	switch ce.Opcode {
	case wasmmod.OpcodeI32Const:
		return runtime.I32Val(storeID, int32(uint32(ce.ValueLo))), nil
	case wasmmod.OpcodeI64Const:
		return runtime.I64Val(storeID, int64(ce.ValueLo)), nil
	case wasmmod.OpcodeF32Const:
		return runtime.F32Val(storeID, math.Float32frombits(uint32(ce.ValueLo))), nil
	case wasmmod.OpcodeF64Const:
		return runtime.F64Val(storeID, math.Float64frombits(ce.ValueLo)), nil
	case wasmmod.OpcodeGlobalGet:
		if int(ce.GlobalIndex) >= len(inst.Globals) {
			return runtime.Val{}, errors.Errorf("global.get index %d out of range", ce.GlobalIndex)
		}
		return inst.Globals[ce.GlobalIndex], nil
	case wasmmod.OpcodeRefNull:
		return runtime.RefVal(storeID, runtime.NullRef(types.HeapFunc)), nil
	case wasmmod.OpcodeRefFunc:
		fidx := uint32(ce.ValueLo)
		return runtime.RefVal(storeID, runtime.Ref{Heap: types.HeapFunc, FuncAddr: inst.FuncAddrs[fidx]}), nil
	default:
		return runtime.Val{}, errors.Errorf("unsupported const expr opcode 0x%x", byte(ce.Opcode))
	}
}

func functionNames(mod *wasmmod.Module, importFuncCount uint32) []string {
	total := importFuncCount + uint32(len(mod.FunctionSection))
	names := make([]string, total)
	for i := range names {
		names[i] = fmt.Sprintf("func%d", i)
	}
	if mod.NameSection != nil {
		for idx, n := range mod.NameSection.FuncNames {
			if idx < total {
				names[idx] = n
			}
		}
	}
	for _, exp := range mod.ExportSection {
		if exp.Kind == wasmmod.ExternFunc && exp.Index < total {
			names[exp.Index] = exp.Name
		}
	}
	return names
}
