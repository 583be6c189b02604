// Package wasmmod holds the decoded-module data structures the IR builder
// (internal/frontend) consumes, and the binary-format decoder that produces
// them.
//
// spec.md treats ".wat parsing" and "the binary WebAssembly
// decoder/validator" as an upstream collaborator that is out of scope for
// the compiler/runtime core; here that collaborator is
// github.com/tetratelabs/wabin, used for LEB128 varint decoding (the
// low-level piece every Wasm binary reader needs and the piece a pack file
// imports it for standalone). Section framing and the per-function
// opcode walk remain this package's and internal/frontend's job
// respectively, since those are core IR-construction territory, not
// upstream-collaborator territory.
package wasmmod

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wabin/leb128"

	"github.com/wazevoproject/wazevo/internal/types"
)

// Index is a generic Wasm index-space index (function, type, global, ...).
type Index = uint32

// FunctionType mirrors types.Signature at the Wasm-source level: plain
// value types, no calling-convention tag yet (that is added when the
// frontend lifts it to an ir/types.Signature for a specific call site).
type FunctionType struct {
	Params, Results []types.ValueType
}

func (f *FunctionType) ParamNumInUint64() int { return len(f.Params) }

// GlobalType describes a module or imported global.
type GlobalType struct {
	ValType types.ValueType
	Mutable bool
}

// Global is a module-defined global with its constant initializer.
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// ConstExpr is the result of evaluating a Wasm constant expression
// (global.get of an imported immutable global, or a literal).
type ConstExpr struct {
	Opcode  Opcode
	ValueLo uint64
	ValueHi uint64 // only used for v128.const
	// GlobalIndex is valid when Opcode == OpcodeGlobalGet.
	GlobalIndex Index
}

// TableType describes a module or imported table.
type TableType struct {
	ElemType types.RefType
	Min      uint32
	Max      *uint32
}

// MemoryType describes a module or imported memory, in 64KiB pages.
type MemoryType struct {
	Min, Cap uint32
	Max      *uint32
	Is64     bool // memory64 proposal; spec.md's worked examples assume 32-bit.
}

// ExternKind tags the kind of an import or export.
type ExternKind byte

const (
	ExternFunc ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

// Import describes a single imported item.
type Import struct {
	Module, Name string
	Kind         ExternKind
	// DescFunc/DescTable/DescMemory/DescGlobal hold the one relevant
	// descriptor for Kind.
	DescFuncTypeIndex Index
	DescTable         TableType
	DescMemory        MemoryType
	DescGlobal        GlobalType
}

// Export describes a single exported item.
type Export struct {
	Name  string
	Kind  ExternKind
	Index Index
}

// Code is one function body: declared local types (params are not
// repeated here) and the raw, not-yet-walked operator stream.
type Code struct {
	LocalTypes []types.ValueType
	Body       []byte
}

// ElementSegment initializes a range of one table with a list of function
// indices (spec.md §4.8's lazy-funcref-initialized tables are populated
// from these at instantiation, but the *compiled code's* lazy fetch still
// goes through the slow-path builtin the first time a given slot is read).
type ElementSegment struct {
	TableIndex Index
	Offset     ConstExpr
	FuncIndexes []Index
}

// DataSegment initializes a range of one memory with literal bytes.
type DataSegment struct {
	MemoryIndex Index
	Offset      ConstExpr
	Init        []byte
}

// Module is the fully decoded form of one Wasm binary.
type Module struct {
	TypeSection     []FunctionType
	ImportSection   []Import
	FunctionSection []Index // type index per defined function
	TableSection    []TableType
	MemorySection   []MemoryType
	GlobalSection   []Global
	ExportSection   []Export
	StartSection    *Index
	ElementSection  []ElementSegment
	CodeSection     []Code
	DataSection     []DataSegment
	NameSection     *NameSection
}

// NameSection carries debug names; entirely optional and never load-bearing
// for correctness.
type NameSection struct {
	ModuleName string
	FuncNames  map[Index]string
}

// ImportFuncCount returns the number of imported functions, i.e. the index
// of the first module-defined function in the combined function space.
func (m *Module) ImportFuncCount() Index {
	var n Index
	for _, imp := range m.ImportSection {
		if imp.Kind == ExternFunc {
			n++
		}
	}
	return n
}

// AllFunctionTypeIndexes returns the type index for every function in the
// combined (imports-then-defined) index space.
func (m *Module) AllFunctionTypeIndexes() []Index {
	out := make([]Index, 0, len(m.ImportSection)+len(m.FunctionSection))
	for _, imp := range m.ImportSection {
		if imp.Kind == ExternFunc {
			out = append(out, imp.DescFuncTypeIndex)
		}
	}
	out = append(out, m.FunctionSection...)
	return out
}

// AllGlobalTypes returns the GlobalType for every global in the combined
// index space.
func (m *Module) AllGlobalTypes() []GlobalType {
	out := make([]GlobalType, 0, len(m.ImportSection)+len(m.GlobalSection))
	for _, imp := range m.ImportSection {
		if imp.Kind == ExternGlobal {
			out = append(out, imp.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		out = append(out, g.Type)
	}
	return out
}

const (
	magic   = 0x6d736100 // "\0asm"
	version = 0x00000001
)

// section ids, in the order Wasm binaries require them to appear.
const (
	sectionCustom = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

// DecodeModule decodes a binary Wasm module. Only the subset of the format
// exercised by this repo's end-to-end scenarios (spec.md §8) and the ABI
// surface needed to compile real functions is implemented; unsupported
// section contents return a wrapped CompileError-shaped error rather than
// silently mis-parsing.
func DecodeModule(b []byte) (*Module, error) {
	r := bytes.NewReader(b)

	var magicBuf [8]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, errors.Wrap(err, "wasmmod: reading module header")
	}
	gotMagic := leBytesToU32(magicBuf[0:4])
	gotVersion := leBytesToU32(magicBuf[4:8])
	if gotMagic != magic {
		return nil, errors.Errorf("wasmmod: invalid magic number 0x%x", gotMagic)
	}
	if gotVersion != version {
		return nil, errors.Errorf("wasmmod: unsupported version 0x%x", gotVersion)
	}

	m := &Module{}
	for r.Len() > 0 {
		idByte, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "wasmmod: reading section id")
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, errors.Wrap(err, "wasmmod: reading section size")
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errors.Wrap(err, "wasmmod: reading section body")
		}
		sr := bytes.NewReader(body)
		if err := decodeSection(m, int(idByte), sr); err != nil {
			return nil, errors.Wrapf(err, "wasmmod: decoding section %d", idByte)
		}
	}
	return m, nil
}

func leBytesToU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeSection(m *Module, id int, r *bytes.Reader) error {
	switch id {
	case sectionCustom:
		return nil // names/debuginfo: not load-bearing, skip.
	case sectionType:
		return decodeTypeSection(m, r)
	case sectionImport:
		return decodeImportSection(m, r)
	case sectionFunction:
		return decodeIndexVec(r, &m.FunctionSection)
	case sectionTable:
		return decodeTableSection(m, r)
	case sectionMemory:
		return decodeMemorySection(m, r)
	case sectionGlobal:
		return decodeGlobalSection(m, r)
	case sectionExport:
		return decodeExportSection(m, r)
	case sectionStart:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		m.StartSection = &idx
		return nil
	case sectionElement:
		return decodeElementSection(m, r)
	case sectionCode:
		return decodeCodeSection(m, r)
	case sectionData:
		return decodeDataSection(m, r)
	default:
		return errors.Errorf("unknown section id %d", id)
	}
}

func decodeValueType(r *bytes.Reader) (types.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0x7F:
		return types.I32, nil
	case 0x7E:
		return types.I64, nil
	case 0x7D:
		return types.F32, nil
	case 0x7C:
		return types.F64, nil
	case 0x7B:
		return types.V128, nil
	case 0x70, 0x6F: // funcref, externref
		return types.Ref, nil
	default:
		return 0, errors.Errorf("invalid value type byte 0x%x", b)
	}
}

func decodeIndexVec(r *bytes.Reader, out *[]Index) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	*out = make([]Index, n)
	for i := range *out {
		v, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		(*out)[i] = v
	}
	return nil
}

func decodeTypeSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.TypeSection = make([]FunctionType, n)
	for i := range m.TypeSection {
		tag, err := r.ReadByte()
		if err != nil {
			return err
		}
		if tag != 0x60 {
			return errors.Errorf("expected func type tag 0x60, got 0x%x", tag)
		}
		np, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		params := make([]types.ValueType, np)
		for j := range params {
			if params[j], err = decodeValueType(r); err != nil {
				return err
			}
		}
		nr, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		results := make([]types.ValueType, nr)
		for j := range results {
			if results[j], err = decodeValueType(r); err != nil {
				return err
			}
		}
		m.TypeSection[i] = FunctionType{Params: params, Results: results}
	}
	return nil
}

func decodeName(r *bytes.Reader) (string, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeImportSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.ImportSection = make([]Import, n)
	for i := range m.ImportSection {
		mod, err := decodeName(r)
		if err != nil {
			return err
		}
		name, err := decodeName(r)
		if err != nil {
			return err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Name: name, Kind: ExternKind(kindByte)}
		switch imp.Kind {
		case ExternFunc:
			idx, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return err
			}
			imp.DescFuncTypeIndex = idx
		case ExternTable:
			tt, err := decodeTableType(r)
			if err != nil {
				return err
			}
			imp.DescTable = tt
		case ExternMemory:
			mt, err := decodeMemoryType(r)
			if err != nil {
				return err
			}
			imp.DescMemory = mt
		case ExternGlobal:
			gt, err := decodeGlobalType(r)
			if err != nil {
				return err
			}
			imp.DescGlobal = gt
		default:
			return errors.Errorf("invalid import kind %d", kindByte)
		}
		m.ImportSection[i] = imp
	}
	return nil
}

func decodeLimits(r *bytes.Reader) (min uint32, max *uint32, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	min, _, err = leb128.DecodeUint32(r)
	if err != nil {
		return 0, nil, err
	}
	if flag == 1 {
		m, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, nil, err
		}
		max = &m
	}
	return min, max, nil
}

func decodeTableType(r *bytes.Reader) (TableType, error) {
	elemByte, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	heap := types.HeapFunc
	if elemByte == 0x6F {
		heap = types.HeapExtern
	}
	min, max, err := decodeLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: types.RefType{Nullable: true, Heap: heap}, Min: min, Max: max}, nil
}

func decodeMemoryType(r *bytes.Reader) (MemoryType, error) {
	min, max, err := decodeLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Min: min, Cap: min, Max: max}, nil
}

func decodeGlobalType(r *bytes.Reader) (GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mb, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: vt, Mutable: mb == 1}, nil
}

func decodeTableSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.TableSection = make([]TableType, n)
	for i := range m.TableSection {
		if m.TableSection[i], err = decodeTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func decodeMemorySection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.MemorySection = make([]MemoryType, n)
	for i := range m.MemorySection {
		if m.MemorySection[i], err = decodeMemoryType(r); err != nil {
			return err
		}
	}
	return nil
}

func decodeConstExpr(r *bytes.Reader) (ConstExpr, error) {
	opByte, err := r.ReadByte()
	if err != nil {
		return ConstExpr{}, err
	}
	var ce ConstExpr
	ce.Opcode = Opcode(opByte)
	switch ce.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return ce, err
		}
		ce.ValueLo = uint64(uint32(v))
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return ce, err
		}
		ce.ValueLo = uint64(v)
	case OpcodeF32Const:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return ce, err
		}
		ce.ValueLo = uint64(leBytesToU32(buf[:]))
	case OpcodeF64Const:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return ce, err
		}
		lo := leBytesToU32(buf[0:4])
		hi := leBytesToU32(buf[4:8])
		ce.ValueLo = uint64(lo) | uint64(hi)<<32
	case OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return ce, err
		}
		ce.GlobalIndex = idx
	case OpcodeRefNull:
		if _, err := r.ReadByte(); err != nil { // heap type byte
			return ce, err
		}
	case OpcodeRefFunc:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return ce, err
		}
		ce.ValueLo = uint64(idx)
	default:
		return ce, errors.Errorf("unsupported const expr opcode 0x%x", opByte)
	}
	end, err := r.ReadByte()
	if err != nil {
		return ce, err
	}
	if end != byte(OpcodeEnd) {
		return ce, errors.Errorf("const expr missing end opcode, got 0x%x", end)
	}
	return ce, nil
}

func decodeGlobalSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.GlobalSection = make([]Global, n)
	for i := range m.GlobalSection {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return err
		}
		ce, err := decodeConstExpr(r)
		if err != nil {
			return err
		}
		m.GlobalSection[i] = Global{Type: gt, Init: ce}
	}
	return nil
}

func decodeExportSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.ExportSection = make([]Export, n)
	for i := range m.ExportSection {
		name, err := decodeName(r)
		if err != nil {
			return err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		m.ExportSection[i] = Export{Name: name, Kind: ExternKind(kindByte), Index: idx}
	}
	return nil
}

func decodeElementSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.ElementSection = make([]ElementSegment, n)
	for i := range m.ElementSection {
		flag, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		var seg ElementSegment
		switch flag {
		case 0: // active, table 0, expr offset, vec(funcidx)
			off, err := decodeConstExpr(r)
			if err != nil {
				return err
			}
			seg.Offset = off
			if err := decodeIndexVec(r, &seg.FuncIndexes); err != nil {
				return err
			}
		default:
			return errors.Errorf("unsupported element segment flag %d", flag)
		}
		m.ElementSection[i] = seg
	}
	return nil
}

func decodeCodeSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.CodeSection = make([]Code, n)
	for i := range m.CodeSection {
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		cr := bytes.NewReader(body)
		nl, _, err := leb128.DecodeUint32(cr)
		if err != nil {
			return err
		}
		var locals []types.ValueType
		for j := uint32(0); j < nl; j++ {
			cnt, _, err := leb128.DecodeUint32(cr)
			if err != nil {
				return err
			}
			vt, err := decodeValueType(cr)
			if err != nil {
				return err
			}
			for k := uint32(0); k < cnt; k++ {
				locals = append(locals, vt)
			}
		}
		rest := make([]byte, cr.Len())
		if _, err := io.ReadFull(cr, rest); err != nil {
			return err
		}
		m.CodeSection[i] = Code{LocalTypes: locals, Body: rest}
	}
	return nil
}

func decodeDataSection(m *Module, r *bytes.Reader) error {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	m.DataSection = make([]DataSegment, n)
	for i := range m.DataSection {
		flag, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flag {
		case 0:
			off, err := decodeConstExpr(r)
			if err != nil {
				return err
			}
			seg.Offset = off
			ln, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return err
			}
			buf := make([]byte, ln)
			if _, err := io.ReadFull(r, buf); err != nil {
				return err
			}
			seg.Init = buf
		default:
			return errors.Errorf("unsupported data segment flag %d", flag)
		}
		m.DataSection[i] = seg
	}
	return nil
}

// InstructionName renders a mnemonic for debug traces, mirroring the
// teacher's wasm.InstructionName used throughout compiler.go's debug
// logging.
func InstructionName(op Opcode) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("opcode(0x%x)", byte(op))
}
