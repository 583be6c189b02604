package arm64

import "encoding/binary"

// PatchCallRel32 patches the imm26 field of the BL instruction a call
// relocation left at codeOffset in code (opcode bits preserved), now that
// target's final offset in the same combined code buffer is known. AArch64
// branch immediates count 4-byte instruction words rather than bytes, so
// the byte delta is shifted right by 2 before being masked into the
// instruction's low 26 bits.
func PatchCallRel32(code []byte, codeOffset, target uint32) {
	delta := int32(target) - int32(codeOffset)
	imm26 := uint32(delta>>2) & 0x3FFFFFF
	word := binary.LittleEndian.Uint32(code[codeOffset:])
	word = (word &^ 0x3FFFFFF) | imm26
	binary.LittleEndian.PutUint32(code[codeOffset:], word)
}
