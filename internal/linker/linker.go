// Package linker resolves one module's declared imports against the
// instances already registered in a runtime.Store, type-checking each
// one under Wasm's import-subtyping rules before an Instance is built
// from the result (spec.md §4.10). Grounded directly on
// inkeliz-wazero/internal/wasm/store.go's resolveImports and its
// errorMinSizeMismatch/errorMaxSizeMismatch/errorInvalidImport family,
// collapsed here into one LinkError type with a Kind tag instead of one
// constructor per failure mode.
package linker

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/wazevoproject/wazevo/internal/runtime"
	"github.com/wazevoproject/wazevo/internal/types"
	"github.com/wazevoproject/wazevo/internal/wasmmod"
)

// LinkError reports a single import that could not be satisfied.
type LinkError struct {
	Kind   string // "not_found", "kind_mismatch", "signature_mismatch", "mutability_mismatch", "value_type_mismatch", "min_size", "max_size".
	Module string
	Name   string
	Reason error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error: %s.%s: %s: %v", e.Module, e.Name, e.Kind, e.Reason)
}

func (e *LinkError) Unwrap() error { return e.Reason }

// ImportedFunc is a resolved function import: the exporter's compiled
// code address plus the shared TypeID so call_indirect's BadSignature
// check still works across the module boundary.
type ImportedFunc struct {
	Addr   uint32
	TypeID types.TypeID
}

// ImportedMemory points at the exporting Instance; Wasm's MVP allows at
// most one memory per module so there is never more than one of these
// per ResolvedImports.
type ImportedMemory struct {
	Source *runtime.Instance
}

// ImportedGlobal aliases the exporting instance's VMContext storage
// directly (Bits for numeric globals, Ref for Ref-typed ones), so a
// write through an imported mutable global is visible to the exporter
// without any explicit synchronization step.
type ImportedGlobal struct {
	ValType types.ValueType
	Bits    *uint64
	Ref     *runtime.Ref
}

// ResolvedImports is the outcome of matching one module's
// ImportSection against a Store's registered instances, in declaration
// order, ready to occupy the low indices of the new instance's
// combined function/table/global index spaces (imports-then-defined,
// matching wasmmod.Module.AllFunctionTypeIndexes's own convention).
type ResolvedImports struct {
	Funcs   []ImportedFunc
	Tables  []*runtime.Table
	Memory  *ImportedMemory
	Globals []ImportedGlobal
}

// Resolve matches mod's imports against store's already-registered
// instances. Each imported function's signature is compared structurally
// against the importer's own TypeSection entry; a shared types.Registry
// isn't required for this check since Wasm signature equality is
// structural, not identity-based (spec §4.10 point 1).
func Resolve(store *runtime.Store, mod *wasmmod.Module) (*ResolvedImports, error) {
	out := &ResolvedImports{}
	for _, imp := range mod.ImportSection {
		srcInst, ok := store.Lookup(imp.Module)
		if !ok {
			return nil, &LinkError{Kind: "not_found", Module: imp.Module, Name: imp.Name,
				Reason: errors.Errorf("module %q not instantiated", imp.Module)}
		}
		exp, ok := findExport(srcInst, imp.Name)
		if !ok {
			return nil, &LinkError{Kind: "not_found", Module: imp.Module, Name: imp.Name,
				Reason: errors.Errorf("no export named %q", imp.Name)}
		}
		if exp.Kind != imp.Kind {
			return nil, &LinkError{Kind: "kind_mismatch", Module: imp.Module, Name: imp.Name,
				Reason: errors.Errorf("wanted kind %d, got %d", imp.Kind, exp.Kind)}
		}

		switch imp.Kind {
		case wasmmod.ExternFunc:
			resolved, err := resolveFunc(imp, exp, mod, srcInst)
			if err != nil {
				return nil, err
			}
			out.Funcs = append(out.Funcs, resolved)
		case wasmmod.ExternTable:
			resolved, err := resolveTable(imp, srcInst, exp.Index)
			if err != nil {
				return nil, err
			}
			out.Tables = append(out.Tables, resolved)
		case wasmmod.ExternMemory:
			if err := checkMemory(imp, srcInst); err != nil {
				return nil, err
			}
			out.Memory = &ImportedMemory{Source: srcInst}
		case wasmmod.ExternGlobal:
			resolved, err := resolveGlobal(imp, srcInst, exp.Index)
			if err != nil {
				return nil, err
			}
			out.Globals = append(out.Globals, resolved)
		default:
			return nil, &LinkError{Kind: "kind_mismatch", Module: imp.Module, Name: imp.Name,
				Reason: errors.Errorf("unknown extern kind %d", imp.Kind)}
		}
	}
	return out, nil
}

func findExport(inst *runtime.Instance, name string) (wasmmod.Export, bool) {
	if inst.Module == nil {
		return wasmmod.Export{}, false
	}
	for _, e := range inst.Module.ExportSection {
		if e.Name == name {
			return e, true
		}
	}
	return wasmmod.Export{}, false
}

func resolveFunc(imp wasmmod.Import, exp wasmmod.Export, mod *wasmmod.Module, src *runtime.Instance) (ImportedFunc, error) {
	want := mod.TypeSection[imp.DescFuncTypeIndex]
	gotTypeIdx := src.Module.AllFunctionTypeIndexes()[exp.Index]
	got := src.Module.TypeSection[gotTypeIdx]
	if !signatureEqual(want, got) {
		return ImportedFunc{}, &LinkError{Kind: "signature_mismatch", Module: imp.Module, Name: imp.Name,
			Reason: errors.Errorf("%+v != %+v", want, got)}
	}
	return ImportedFunc{Addr: src.FuncAddrs[exp.Index], TypeID: src.FuncTypes[exp.Index]}, nil
}

func signatureEqual(a, b wasmmod.FunctionType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

func resolveTable(imp wasmmod.Import, src *runtime.Instance, idx wasmmod.Index) (*runtime.Table, error) {
	t := &src.Tables[idx]
	want := imp.DescTable
	if want.Min > uint32(len(t.Elems)) {
		return nil, &LinkError{Kind: "min_size", Module: imp.Module, Name: imp.Name,
			Reason: errors.Errorf("%d > %d", want.Min, len(t.Elems))}
	}
	if want.Max != nil {
		if t.Max == nil {
			return nil, &LinkError{Kind: "max_size", Module: imp.Module, Name: imp.Name,
				Reason: errors.Errorf("importer requires a max of %d, exporter has none", *want.Max)}
		}
		if *want.Max < *t.Max {
			return nil, &LinkError{Kind: "max_size", Module: imp.Module, Name: imp.Name,
				Reason: errors.Errorf("%d < %d", *want.Max, *t.Max)}
		}
	}
	return t, nil
}

func checkMemory(imp wasmmod.Import, src *runtime.Instance) error {
	const pageSize = 65536
	want := imp.DescMemory
	gotPages := uint32(len(src.Memory) / pageSize)
	if want.Min > gotPages {
		return &LinkError{Kind: "min_size", Module: imp.Module, Name: imp.Name,
			Reason: errors.Errorf("%d > %d", want.Min, gotPages)}
	}
	if want.Max != nil && src.MemoryMax != 0 && *want.Max < src.MemoryMax {
		return &LinkError{Kind: "max_size", Module: imp.Module, Name: imp.Name,
			Reason: errors.Errorf("%d < %d", *want.Max, src.MemoryMax)}
	}
	return nil
}

func resolveGlobal(imp wasmmod.Import, src *runtime.Instance, idx wasmmod.Index) (ImportedGlobal, error) {
	want := imp.DescGlobal
	got := src.Module.AllGlobalTypes()[idx]
	if want.Mutable != got.Mutable {
		return ImportedGlobal{}, &LinkError{Kind: "mutability_mismatch", Module: imp.Module, Name: imp.Name,
			Reason: errors.Errorf("%t != %t", want.Mutable, got.Mutable)}
	}
	if want.ValType != got.ValType {
		return ImportedGlobal{}, &LinkError{Kind: "value_type_mismatch", Module: imp.Module, Name: imp.Name,
			Reason: errors.Errorf("%v != %v", want.ValType, got.ValType)}
	}
	ig := ImportedGlobal{ValType: got.ValType}
	if got.ValType == types.Ref {
		ig.Ref = &src.VMCtx.GlobalRefs[idx]
	} else {
		ig.Bits = &src.VMCtx.Globals[idx]
	}
	return ig, nil
}
