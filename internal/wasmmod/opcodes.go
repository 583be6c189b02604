package wasmmod

import (
	"bytes"

	"github.com/tetratelabs/wabin/leb128"

	"github.com/wazevoproject/wazevo/internal/types"
)

// Opcode is a single-byte Wasm operator. Only the subset the translator
// (internal/frontend) actually handles is named; anything else decodes as
// an opaque byte and the translator rejects it with a CompileError rather
// than silently skipping it.
type Opcode byte

const (
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	OpcodeBlock       Opcode = 0x02
	OpcodeLoop        Opcode = 0x03
	OpcodeIf          Opcode = 0x04
	OpcodeElse        Opcode = 0x05
	OpcodeEnd         Opcode = 0x0B
	OpcodeBr          Opcode = 0x0C
	OpcodeBrIf        Opcode = 0x0D
	OpcodeBrTable     Opcode = 0x0E
	OpcodeReturn      Opcode = 0x0F
	OpcodeCall        Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	OpcodeDrop   Opcode = 0x1A
	OpcodeSelect Opcode = 0x1B

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24

	OpcodeI32Load Opcode = 0x28
	OpcodeI64Load Opcode = 0x29
	OpcodeF32Load Opcode = 0x2A
	OpcodeF64Load Opcode = 0x2B

	OpcodeI32Store Opcode = 0x36
	OpcodeI64Store Opcode = 0x37
	OpcodeF32Store Opcode = 0x38
	OpcodeF64Store Opcode = 0x39

	OpcodeMemorySize Opcode = 0x3F
	OpcodeMemoryGrow Opcode = 0x40

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	OpcodeI32Eqz Opcode = 0x45
	OpcodeI32Eq  Opcode = 0x46
	OpcodeI32Ne  Opcode = 0x47
	OpcodeI32LtS Opcode = 0x48
	OpcodeI32LtU Opcode = 0x49
	OpcodeI32GtS Opcode = 0x4A
	OpcodeI32GtU Opcode = 0x4B
	OpcodeI32LeS Opcode = 0x4C
	OpcodeI32LeU Opcode = 0x4D
	OpcodeI32GeS Opcode = 0x4E
	OpcodeI32GeU Opcode = 0x4F

	OpcodeI64Eqz Opcode = 0x50
	OpcodeI64Eq  Opcode = 0x51
	OpcodeI64Ne  Opcode = 0x52

	OpcodeI32Add Opcode = 0x6A
	OpcodeI32Sub Opcode = 0x6B
	OpcodeI32Mul Opcode = 0x6C
	OpcodeI32DivS Opcode = 0x6D
	OpcodeI32DivU Opcode = 0x6E
	OpcodeI32RemS Opcode = 0x6F
	OpcodeI32RemU Opcode = 0x70
	OpcodeI32And Opcode = 0x71
	OpcodeI32Or  Opcode = 0x72
	OpcodeI32Xor Opcode = 0x73
	OpcodeI32Shl Opcode = 0x74
	OpcodeI32ShrS Opcode = 0x75
	OpcodeI32ShrU Opcode = 0x76
	OpcodeI32Rotl Opcode = 0x77
	OpcodeI32Rotr Opcode = 0x78
	OpcodeI32Clz  Opcode = 0x67
	OpcodeI32Ctz  Opcode = 0x68
	OpcodeI32Popcnt Opcode = 0x69

	OpcodeI64Add Opcode = 0x7C
	OpcodeI64Sub Opcode = 0x7D
	OpcodeI64Mul Opcode = 0x7E

	OpcodeF32Add Opcode = 0x92
	OpcodeF32Sub Opcode = 0x93
	OpcodeF32Mul Opcode = 0x94
	OpcodeF32Div Opcode = 0x95
	OpcodeF32Sqrt Opcode = 0x91

	OpcodeF64Add Opcode = 0xA0
	OpcodeF64Sub Opcode = 0xA1
	OpcodeF64Mul Opcode = 0xA2
	OpcodeF64Div Opcode = 0xA3
	OpcodeF64Sqrt Opcode = 0x9F

	// RefNull, RefIsNull, RefFunc: reference-type instructions used by the
	// lazy funcref init scenario (spec §8).
	OpcodeRefNull   Opcode = 0xD0
	OpcodeRefIsNull Opcode = 0xD1
	OpcodeRefFunc   Opcode = 0xD2

	OpcodeTableGet Opcode = 0x25
	OpcodeTableSet Opcode = 0x26
)

var opcodeNames = map[Opcode]string{
	OpcodeUnreachable: "unreachable", OpcodeNop: "nop", OpcodeBlock: "block",
	OpcodeLoop: "loop", OpcodeIf: "if", OpcodeElse: "else", OpcodeEnd: "end",
	OpcodeBr: "br", OpcodeBrIf: "br_if", OpcodeBrTable: "br_table",
	OpcodeReturn: "return", OpcodeCall: "call", OpcodeCallIndirect: "call_indirect",
	OpcodeDrop: "drop", OpcodeSelect: "select",
	OpcodeLocalGet: "local.get", OpcodeLocalSet: "local.set", OpcodeLocalTee: "local.tee",
	OpcodeGlobalGet: "global.get", OpcodeGlobalSet: "global.set",
	OpcodeI32Load: "i32.load", OpcodeI64Load: "i64.load", OpcodeF32Load: "f32.load", OpcodeF64Load: "f64.load",
	OpcodeI32Store: "i32.store", OpcodeI64Store: "i64.store", OpcodeF32Store: "f32.store", OpcodeF64Store: "f64.store",
	OpcodeMemorySize: "memory.size", OpcodeMemoryGrow: "memory.grow",
	OpcodeI32Const: "i32.const", OpcodeI64Const: "i64.const", OpcodeF32Const: "f32.const", OpcodeF64Const: "f64.const",
	OpcodeI32Eqz: "i32.eqz", OpcodeI32Eq: "i32.eq", OpcodeI32Ne: "i32.ne",
	OpcodeI32LtS: "i32.lt_s", OpcodeI32LtU: "i32.lt_u", OpcodeI32GtS: "i32.gt_s", OpcodeI32GtU: "i32.gt_u",
	OpcodeI32LeS: "i32.le_s", OpcodeI32LeU: "i32.le_u", OpcodeI32GeS: "i32.ge_s", OpcodeI32GeU: "i32.ge_u",
	OpcodeI64Eqz: "i64.eqz", OpcodeI64Eq: "i64.eq", OpcodeI64Ne: "i64.ne",
	OpcodeI32Add: "i32.add", OpcodeI32Sub: "i32.sub", OpcodeI32Mul: "i32.mul",
	OpcodeI32DivS: "i32.div_s", OpcodeI32DivU: "i32.div_u", OpcodeI32RemS: "i32.rem_s", OpcodeI32RemU: "i32.rem_u",
	OpcodeI32And: "i32.and", OpcodeI32Or: "i32.or", OpcodeI32Xor: "i32.xor",
	OpcodeI32Shl: "i32.shl", OpcodeI32ShrS: "i32.shr_s", OpcodeI32ShrU: "i32.shr_u",
	OpcodeI32Rotl: "i32.rotl", OpcodeI32Rotr: "i32.rotr",
	OpcodeI32Clz: "i32.clz", OpcodeI32Ctz: "i32.ctz", OpcodeI32Popcnt: "i32.popcnt",
	OpcodeI64Add: "i64.add", OpcodeI64Sub: "i64.sub", OpcodeI64Mul: "i64.mul",
	OpcodeF32Add: "f32.add", OpcodeF32Sub: "f32.sub", OpcodeF32Mul: "f32.mul", OpcodeF32Div: "f32.div", OpcodeF32Sqrt: "f32.sqrt",
	OpcodeF64Add: "f64.add", OpcodeF64Sub: "f64.sub", OpcodeF64Mul: "f64.mul", OpcodeF64Div: "f64.div", OpcodeF64Sqrt: "f64.sqrt",
	OpcodeRefNull: "ref.null", OpcodeRefIsNull: "ref.is_null", OpcodeRefFunc: "ref.func",
	OpcodeTableGet: "table.get", OpcodeTableSet: "table.set",
}

// BlockType is the decoded immediate of block/loop/if: either empty, a
// single value type, or a reference to a module type (multi-value block
// signature).
type BlockType struct {
	Empty   bool
	Single  types.ValueType
	HasSingle bool
	TypeIndex Index
	HasTypeIndex bool
}

// DecodeBlockType reads a block-type immediate, mirroring wabin/wasm's
// DecodeBlockType: 0x40 means empty, a value-type byte means a single
// result, and anything else is a signed LEB128 type-section index.
func DecodeBlockType(r *bytes.Reader) (BlockType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return BlockType{}, err
	}
	if b == 0x40 {
		return BlockType{Empty: true}, nil
	}
	switch b {
	case 0x7F, 0x7E, 0x7D, 0x7C, 0x7B, 0x70, 0x6F:
		if err := r.UnreadByte(); err != nil {
			return BlockType{}, err
		}
		vt, err := decodeValueType(r)
		if err != nil {
			return BlockType{}, err
		}
		return BlockType{HasSingle: true, Single: vt}, nil
	default:
		if err := r.UnreadByte(); err != nil {
			return BlockType{}, err
		}
		idx, _, err := leb128.DecodeInt33AsInt64(r)
		if err != nil {
			return BlockType{}, err
		}
		return BlockType{HasTypeIndex: true, TypeIndex: Index(idx)}, nil
	}
}
