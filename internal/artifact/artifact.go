// Package artifact implements the portable compiled-module byte format
// spec.md §6 names: a header, a function table, a code section, a
// relocation section, an unwind section, a trap section, and a type-id
// section. Encode/Decode round-trip each other exactly (spec.md §8's
// encode(decode(bytes)) == bytes property) for the trap table, the
// relocation table, and the type-id table.
//
// There is no serialization library anywhere in the retrieved pack suited
// to a fixed, versioned binary layout like this one; the length-prefixed
// little-endian record style here is the same one internal/codegen's
// Buffer already uses for its own side tables (encoding/binary, no
// reflection), kept consistent rather than introducing a second
// convention for the same kind of data.
package artifact

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
)

// magic identifies this artifact format; Decode rejects anything else
// outright rather than guessing at a version.
var magic = [4]byte{'W', 'Z', 'V', 'O'}

// version is bumped whenever the on-disk layout changes incompatibly.
const version = 1

// FunctionEntry is one function table record: where its code lives in the
// code section, which shared signature it has, and where its unwind/trap
// side-table entries begin.
type FunctionEntry struct {
	Name            string
	CodeOffset      uint32
	CodeLength      uint32
	SigID           types.TypeID
	UnwindOffset    uint32
	TrapTableOffset uint32
}

// RelocationKind distinguishes what a relocation's addend resolves
// against.
type RelocationKind byte

const (
	// RelocationDirectCall targets another function in this same
	// artifact, identified by name.
	RelocationDirectCall RelocationKind = iota
	// RelocationImportCall targets an import slot resolved at link time.
	RelocationImportCall
)

// RelocationEntry is one not-yet-patched call-site displacement, named
// the way spec.md §6 describes it: code_offset, kind, symbol_name, addend.
type RelocationEntry struct {
	CodeOffset uint32
	Kind       RelocationKind
	SymbolName string
	Addend     int64
}

// TrapEntry is one trap-table record, sorted by CodeOffset per spec.md §6.
type TrapEntry struct {
	CodeOffset uint32
	TrapCode   trap.Code
	SourceLoc  uint32
}

// Artifact is the fully in-memory form of one compiled module, ready to
// either run directly or round-trip through Encode/Decode.
type Artifact struct {
	TargetTriple string
	ABITag       string

	Functions []FunctionEntry
	Code      []byte

	Relocations []RelocationEntry
	Unwind      []trap.UnwindEntry
	Traps       []TrapEntry

	// TypeIDs maps a module-local signature index to the engine-global
	// shared TypeID a Registry assigned it (spec.md §6's type-id
	// section).
	TypeIDs []types.TypeID
}

type byteWriter struct{ b []byte }

func (w *byteWriter) u8(v byte)     { w.b = append(w.b, v) }
func (w *byteWriter) u32(v uint32)  { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *byteWriter) u64(v uint64)  { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *byteWriter) i64(v int64)   { w.u64(uint64(v)) }
func (w *byteWriter) bytes(v []byte) {
	w.u32(uint32(len(v)))
	w.b = append(w.b, v...)
}
func (w *byteWriter) str(s string) { w.bytes([]byte(s)) }

// Encode serializes a into the portable byte format.
func Encode(a *Artifact) []byte {
	w := &byteWriter{}

	// Header.
	w.b = append(w.b, magic[:]...)
	w.u32(version)
	w.str(a.TargetTriple)
	w.str(a.ABITag)

	// Function table.
	w.u32(uint32(len(a.Functions)))
	for _, f := range a.Functions {
		w.str(f.Name)
		w.u32(f.CodeOffset)
		w.u32(f.CodeLength)
		w.u32(uint32(f.SigID))
		w.u32(f.UnwindOffset)
		w.u32(f.TrapTableOffset)
	}

	// Code section.
	w.bytes(a.Code)

	// Relocation section.
	w.u32(uint32(len(a.Relocations)))
	for _, r := range a.Relocations {
		w.u32(r.CodeOffset)
		w.u8(byte(r.Kind))
		w.str(r.SymbolName)
		w.i64(r.Addend)
	}

	// Unwind section.
	w.u32(uint32(len(a.Unwind)))
	for _, u := range a.Unwind {
		w.u32(u.CodeOffset)
		w.u8(byte(u.Op))
		w.u32(uint32(u.Reg))
		w.i64(int64(u.StackOffset))
	}

	// Trap section.
	w.u32(uint32(len(a.Traps)))
	for _, t := range a.Traps {
		w.u32(t.CodeOffset)
		w.u8(byte(t.TrapCode))
		w.u32(t.SourceLoc)
	}

	// Type-id section.
	w.u32(uint32(len(a.TypeIDs)))
	for _, id := range a.TypeIDs {
		w.u32(uint32(id))
	}

	return w.b
}

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) need(n int) error {
	if len(r.b)-r.off < n {
		return errors.Errorf("artifact: truncated input at offset %d, need %d more bytes", r.off, n)
	}
	return nil
}

func (r *byteReader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *byteReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return v, nil
}

func (r *byteReader) str() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

// Decode parses b into an Artifact. It rejects anything whose magic or
// version doesn't match outright rather than attempting best-effort
// recovery from a format it doesn't recognize.
func Decode(b []byte) (*Artifact, error) {
	if len(b) < 4 || [4]byte{b[0], b[1], b[2], b[3]} != magic {
		return nil, errors.New("artifact: bad magic")
	}
	r := &byteReader{b: b, off: 4}

	gotVersion, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: reading version")
	}
	if gotVersion != version {
		return nil, errors.Errorf("artifact: unsupported version %d (want %d)", gotVersion, version)
	}

	a := &Artifact{}
	if a.TargetTriple, err = r.str(); err != nil {
		return nil, errors.Wrap(err, "artifact: reading target triple")
	}
	if a.ABITag, err = r.str(); err != nil {
		return nil, errors.Wrap(err, "artifact: reading ABI tag")
	}

	numFuncs, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: reading function table length")
	}
	a.Functions = make([]FunctionEntry, numFuncs)
	for i := range a.Functions {
		f := &a.Functions[i]
		if f.Name, err = r.str(); err != nil {
			return nil, errors.Wrapf(err, "artifact: reading function %d name", i)
		}
		if f.CodeOffset, err = r.u32(); err != nil {
			return nil, err
		}
		if f.CodeLength, err = r.u32(); err != nil {
			return nil, err
		}
		sigID, err := r.u32()
		if err != nil {
			return nil, err
		}
		f.SigID = types.TypeID(sigID)
		if f.UnwindOffset, err = r.u32(); err != nil {
			return nil, err
		}
		if f.TrapTableOffset, err = r.u32(); err != nil {
			return nil, err
		}
	}

	if a.Code, err = r.bytes(); err != nil {
		return nil, errors.Wrap(err, "artifact: reading code section")
	}

	numRelocs, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: reading relocation table length")
	}
	a.Relocations = make([]RelocationEntry, numRelocs)
	for i := range a.Relocations {
		rel := &a.Relocations[i]
		if rel.CodeOffset, err = r.u32(); err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		rel.Kind = RelocationKind(kind)
		if rel.SymbolName, err = r.str(); err != nil {
			return nil, err
		}
		if rel.Addend, err = r.i64(); err != nil {
			return nil, err
		}
	}

	numUnwind, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: reading unwind table length")
	}
	a.Unwind = make([]trap.UnwindEntry, numUnwind)
	for i := range a.Unwind {
		u := &a.Unwind[i]
		if u.CodeOffset, err = r.u32(); err != nil {
			return nil, err
		}
		op, err := r.u8()
		if err != nil {
			return nil, err
		}
		u.Op = trap.UnwindOp(op)
		reg, err := r.u32()
		if err != nil {
			return nil, err
		}
		u.Reg = uint16(reg)
		stackOff, err := r.i64()
		if err != nil {
			return nil, err
		}
		u.StackOffset = int32(stackOff)
	}

	numTraps, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: reading trap table length")
	}
	a.Traps = make([]TrapEntry, numTraps)
	for i := range a.Traps {
		t := &a.Traps[i]
		if t.CodeOffset, err = r.u32(); err != nil {
			return nil, err
		}
		code, err := r.u8()
		if err != nil {
			return nil, err
		}
		t.TrapCode = trap.Code(code)
		if t.SourceLoc, err = r.u32(); err != nil {
			return nil, err
		}
	}

	numTypeIDs, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: reading type-id table length")
	}
	a.TypeIDs = make([]types.TypeID, numTypeIDs)
	for i := range a.TypeIDs {
		id, err := r.u32()
		if err != nil {
			return nil, err
		}
		a.TypeIDs[i] = types.TypeID(id)
	}

	return a, nil
}
