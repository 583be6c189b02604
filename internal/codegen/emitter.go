// Package codegen turns a register-allocated internal/ir Function into a
// byte buffer of machine code plus side tables (relocations, a source
// offset map, trap records, unwind info), with one subpackage per target
// ISA (amd64, arm64, riscv64, s390x) implementing the actual instruction
// selection. This file holds the ISA-independent emission buffer and
// relocation bookkeeping shared by every subpackage, grounded on the
// Emit byte/4-bytes/8-bytes + AddRelocationInfo/AddSourceOffsetInfo shape
// of other_examples/c30a3b89_..._backend-compiler.go's backend.Compiler
// interface and the label-resolution-pends backpatching pattern in
// other_examples/fe000123_..._amd64-machine.go's Encode/ResolveRelocations.
package codegen

import (
	"encoding/binary"

	"github.com/wazevoproject/wazevo/internal/ids"
	"github.com/wazevoproject/wazevo/internal/trap"
)

// RelocationTarget is what a relocation's addend resolves against: either
// another function in the same artifact (direct call) or a named import
// resolved at link time.
type RelocationTarget struct {
	IsImport  bool
	FuncIndex ids.FuncIndex
	ImportIdx uint32
}

// Relocation records one not-yet-patched call-site displacement.
type Relocation struct {
	CodeOffset uint32
	Target     RelocationTarget
	// Size describes how to patch: it is the width in bytes of
	// the immediate field at CodeOffset (4 for a near call/jmp rel32).
	Size int
}

// SourceOffsetEntry maps a machine-code byte range back to the IR
// instruction that produced it, used for trap PC lookup and for the
// guard spec §8 describes against peephole optimizations silently
// shortening code out from under a recorded range (Start/End bracket the
// exact bytes the instruction occupies; nothing may narrow that window
// without updating the entry).
type SourceOffsetEntry struct {
	Start, End uint32
	InstIndex  ids.InstIndex
}

// TrapEntry maps one machine-code offset (where a trapping instruction
// or an exit-sequence jump target lives) to the trap code it reports.
type TrapEntry struct {
	CodeOffset uint32
	Code       trap.Code
}

// Buffer accumulates emitted bytes plus the side tables above. Every
// per-ISA machine backend embeds one.
type Buffer struct {
	Code      []byte
	Relocs    []Relocation
	SourceMap []SourceOffsetEntry
	Traps     []TrapEntry
	Unwind    trap.UnwindInfo

	// labelOffsets/pendingLabelUses implement the label-resolution-pends
	// pattern: a branch to a not-yet-placed block records a pending fixup
	// instead of blocking on knowing the target's final offset.
	labelOffsets    map[ids.BlockIndex]uint32
	pendingLabelUses []labelUse
}

type labelUse struct {
	label      ids.BlockIndex
	codeOffset uint32
	size       int // 1 (rel8) or 4 (rel32)
}

func NewBuffer() *Buffer {
	return &Buffer{labelOffsets: make(map[ids.BlockIndex]uint32)}
}

func (b *Buffer) Offset() uint32 { return uint32(len(b.Code)) }

func (b *Buffer) Byte(v byte) { b.Code = append(b.Code, v) }

func (b *Buffer) Bytes(v []byte) { b.Code = append(b.Code, v...) }

func (b *Buffer) U32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Code = append(b.Code, buf[:]...)
}

func (b *Buffer) U64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Code = append(b.Code, buf[:]...)
}

// BindLabel records that block now starts at the buffer's current
// offset; pending uses that target it are patched later, by
// ResolveLabels.
func (b *Buffer) BindLabel(block ids.BlockIndex) {
	b.labelOffsets[block] = b.Offset()
}

// UseLabelRel32 emits a placeholder 4-byte displacement for a branch to
// block, to be patched once every label is bound.
func (b *Buffer) UseLabelRel32(block ids.BlockIndex) {
	b.pendingLabelUses = append(b.pendingLabelUses, labelUse{label: block, codeOffset: b.Offset(), size: 4})
	b.U32(0)
}

// ResolveLabels patches every pending label use now that all blocks have
// been emitted and BindLabel'd, matching
// fe000123_..._amd64-machine.go:ResolveRelocations's backpatch pass.
func (b *Buffer) ResolveLabels() {
	for _, use := range b.pendingLabelUses {
		target, ok := b.labelOffsets[use.label]
		if !ok {
			panic("codegen: branch to a block that was never emitted")
		}
		rel := int32(target) - int32(use.codeOffset+uint32(use.size))
		switch use.size {
		case 4:
			binary.LittleEndian.PutUint32(b.Code[use.codeOffset:], uint32(rel))
		default:
			panic("codegen: unsupported label use width")
		}
	}
	b.pendingLabelUses = nil
}

func (b *Buffer) AddRelocation(target RelocationTarget, size int) {
	b.Relocs = append(b.Relocs, Relocation{CodeOffset: b.Offset(), Target: target, Size: size})
}

func (b *Buffer) AddSourceOffset(start uint32, inst ids.InstIndex) {
	b.SourceMap = append(b.SourceMap, SourceOffsetEntry{Start: start, End: b.Offset(), InstIndex: inst})
}

func (b *Buffer) AddTrap(code trap.Code) {
	b.Traps = append(b.Traps, TrapEntry{CodeOffset: b.Offset(), Code: code})
}
