package linker

import (
	"testing"

	"github.com/wazevoproject/wazevo/internal/runtime"
	"github.com/wazevoproject/wazevo/internal/testing/require"
	"github.com/wazevoproject/wazevo/internal/types"
	"github.com/wazevoproject/wazevo/internal/wasmmod"
)

func newStoreWithExporter(t *testing.T) (*runtime.Store, *wasmmod.Module) {
	t.Helper()
	store := runtime.NewStore(types.NewRegistry())

	exporterMod := &wasmmod.Module{
		TypeSection: []wasmmod.FunctionType{
			{Params: []types.ValueType{types.I32, types.I32}, Results: []types.ValueType{types.I32}},
		},
		FunctionSection: []wasmmod.Index{0},
		TableSection:    []wasmmod.TableType{{ElemType: types.RefType{Nullable: true, Heap: types.HeapFunc}, Min: 2}},
		GlobalSection: []wasmmod.Global{
			{Type: wasmmod.GlobalType{ValType: types.I32, Mutable: true}},
		},
		MemorySection: []wasmmod.MemoryType{{Min: 1}},
		ExportSection: []wasmmod.Export{
			{Name: "add", Kind: wasmmod.ExternFunc, Index: 0},
			{Name: "tbl", Kind: wasmmod.ExternTable, Index: 0},
			{Name: "counter", Kind: wasmmod.ExternGlobal, Index: 0},
			{Name: "mem", Kind: wasmmod.ExternMemory, Index: 0},
		},
	}

	exporter := store.NewInstance("exporter")
	exporter.Module = exporterMod
	exporter.FuncAddrs = []uint32{0x1000}
	exporter.FuncTypes = []types.TypeID{0}
	exporter.Tables = []runtime.Table{{ElemType: exporterMod.TableSection[0].ElemType, Elems: make([]runtime.Ref, 2)}}
	exporter.Memory = make([]byte, 65536)
	exporter.VMCtx.Globals = []uint64{42}
	exporter.VMCtx.GlobalRefs = []runtime.Ref{{}}
	store.Register("exporter", exporter)

	return store, exporterMod
}

func TestResolveFunc(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		TypeSection: []wasmmod.FunctionType{
			{Params: []types.ValueType{types.I32, types.I32}, Results: []types.ValueType{types.I32}},
		},
		ImportSection: []wasmmod.Import{
			{Module: "exporter", Name: "add", Kind: wasmmod.ExternFunc, DescFuncTypeIndex: 0},
		},
	}
	resolved, err := Resolve(store, importer)
	require.NoError(t, err)
	require.Equal(t, 1, len(resolved.Funcs))
	require.Equal(t, uint32(0x1000), resolved.Funcs[0].Addr)
}

func TestResolveFuncSignatureMismatch(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		TypeSection: []wasmmod.FunctionType{
			{Params: []types.ValueType{types.I64}, Results: []types.ValueType{types.I32}},
		},
		ImportSection: []wasmmod.Import{
			{Module: "exporter", Name: "add", Kind: wasmmod.ExternFunc, DescFuncTypeIndex: 0},
		},
	}
	_, err := Resolve(store, importer)
	require.Error(t, err)
	linkErr, ok := err.(*LinkError)
	require.True(t, ok, "expected *LinkError")
	require.Equal(t, "signature_mismatch", linkErr.Kind)
}

func TestResolveModuleNotFound(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		ImportSection: []wasmmod.Import{
			{Module: "nope", Name: "add", Kind: wasmmod.ExternFunc},
		},
	}
	_, err := Resolve(store, importer)
	require.Error(t, err)
	linkErr, ok := err.(*LinkError)
	require.True(t, ok, "expected *LinkError")
	require.Equal(t, "not_found", linkErr.Kind)
}

func TestResolveTableMinSizeViolation(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		ImportSection: []wasmmod.Import{
			{Module: "exporter", Name: "tbl", Kind: wasmmod.ExternTable,
				DescTable: wasmmod.TableType{ElemType: types.RefType{Nullable: true, Heap: types.HeapFunc}, Min: 10}},
		},
	}
	_, err := Resolve(store, importer)
	require.Error(t, err)
	linkErr, ok := err.(*LinkError)
	require.True(t, ok, "expected *LinkError")
	require.Equal(t, "min_size", linkErr.Kind)
}

func TestResolveGlobalMutabilityMismatch(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		ImportSection: []wasmmod.Import{
			{Module: "exporter", Name: "counter", Kind: wasmmod.ExternGlobal,
				DescGlobal: wasmmod.GlobalType{ValType: types.I32, Mutable: false}},
		},
	}
	_, err := Resolve(store, importer)
	require.Error(t, err)
	linkErr, ok := err.(*LinkError)
	require.True(t, ok, "expected *LinkError")
	require.Equal(t, "mutability_mismatch", linkErr.Kind)
}

func TestResolveGlobalAliasesExporterStorage(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		ImportSection: []wasmmod.Import{
			{Module: "exporter", Name: "counter", Kind: wasmmod.ExternGlobal,
				DescGlobal: wasmmod.GlobalType{ValType: types.I32, Mutable: true}},
		},
	}
	resolved, err := Resolve(store, importer)
	require.NoError(t, err)
	require.Equal(t, uint64(42), *resolved.Globals[0].Bits)

	exporter, _ := store.Lookup("exporter")
	exporter.VMCtx.Globals[0] = 7
	require.Equal(t, uint64(7), *resolved.Globals[0].Bits)
}

func TestResolveMemory(t *testing.T) {
	store, _ := newStoreWithExporter(t)
	importer := &wasmmod.Module{
		ImportSection: []wasmmod.Import{
			{Module: "exporter", Name: "mem", Kind: wasmmod.ExternMemory, DescMemory: wasmmod.MemoryType{Min: 1}},
		},
	}
	resolved, err := Resolve(store, importer)
	require.NoError(t, err)
	require.Equal(t, "exporter", resolved.Memory.Source.Name)
}
