package runtime

import "unsafe"

// memoryBaseAddr returns the address of mem's backing array, the same
// unsafe.Pointer-to-uintptr conversion wazero's own runtime uses to hand
// compiled code a raw base pointer for linear memory rather than a Go
// slice header, since generated machine code addresses memory directly
// through a register and has no notion of a slice's len/cap words.
func memoryBaseAddr(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}
