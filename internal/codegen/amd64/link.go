package amd64

import "encoding/binary"

// PatchCallRel32 patches the 4-byte displacement a call/jmp relocation
// left at codeOffset in code, now that target's final offset in the same
// combined code buffer is known. Once patched, the displacement is
// self-relative and needs no further adjustment if the whole buffer is
// later relocated to a different base address, the same property a real
// loader relies on for position-independent direct calls.
func PatchCallRel32(code []byte, codeOffset, target uint32) {
	rel := int32(target) - int32(codeOffset+4)
	binary.LittleEndian.PutUint32(code[codeOffset:], uint32(rel))
}
