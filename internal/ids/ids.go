// Package ids defines the typed, phantom-tagged integer handles used to key
// every dense arena in the compiler core (functions, blocks, instructions,
// values, types, globals, tables, memories, signatures).
//
// Handles are cheap to copy, never reused within a single compilation, and
// the Go type system keeps an InstIndex from being accidentally used where a
// BlockIndex is expected, even though both are backed by uint32.
package ids

import "fmt"

// rawIndex is the underlying representation for every handle in this
// package. 2^32 entities of a single kind in one function is not a
// realistic limit.
type rawIndex = uint32

const nullRaw rawIndex = 0xffff_ffff

// BlockIndex identifies an extended basic block (EBB) within a Function.
type BlockIndex rawIndex

// NullBlock is the sentinel for "no block".
const NullBlock = BlockIndex(nullRaw)

// Valid reports whether b is not the null sentinel.
func (b BlockIndex) Valid() bool { return b != NullBlock }

func (b BlockIndex) String() string {
	if !b.Valid() {
		return "block<nil>"
	}
	return fmt.Sprintf("block%d", uint32(b))
}

// InstIndex identifies an instruction within a Function.
type InstIndex rawIndex

// NullInst is the sentinel for "no instruction".
const NullInst = InstIndex(nullRaw)

// Valid reports whether i is not the null sentinel.
func (i InstIndex) Valid() bool { return i != NullInst }

func (i InstIndex) String() string {
	if !i.Valid() {
		return "inst<nil>"
	}
	return fmt.Sprintf("inst%d", uint32(i))
}

// ValueIndex identifies an SSA value defined by an instruction or a block
// parameter.
type ValueIndex rawIndex

// NullValue is the sentinel for "no value" (e.g. an instruction with no
// result, such as a store).
const NullValue = ValueIndex(nullRaw)

// Valid reports whether v is not the null sentinel.
func (v ValueIndex) Valid() bool { return v != NullValue }

func (v ValueIndex) String() string {
	if !v.Valid() {
		return "v<nil>"
	}
	return fmt.Sprintf("v%d", uint32(v))
}

// FuncIndex identifies a function, either defined in the module or
// imported, by its position in the combined function index space.
type FuncIndex rawIndex

// NullFunc is the sentinel for "no function".
const NullFunc = FuncIndex(nullRaw)

// Valid reports whether f is not the null sentinel.
func (f FuncIndex) Valid() bool { return f != NullFunc }

func (f FuncIndex) String() string { return fmt.Sprintf("func%d", uint32(f)) }

// TypeIndex identifies a module-local function/struct/array type.
type TypeIndex rawIndex

// NullType is the sentinel for "no type".
const NullType = TypeIndex(nullRaw)

func (t TypeIndex) Valid() bool    { return t != NullType }
func (t TypeIndex) String() string { return fmt.Sprintf("type%d", uint32(t)) }

// GlobalIndex identifies a global in the combined global index space.
type GlobalIndex rawIndex

func (g GlobalIndex) String() string { return fmt.Sprintf("global%d", uint32(g)) }

// TableIndex identifies a table in the combined table index space.
type TableIndex rawIndex

func (t TableIndex) String() string { return fmt.Sprintf("table%d", uint32(t)) }

// MemoryIndex identifies a memory in the combined memory index space.
type MemoryIndex rawIndex

func (m MemoryIndex) String() string { return fmt.Sprintf("memory%d", uint32(m)) }

// LocalIndex identifies a Wasm local (params followed by declared locals).
type LocalIndex rawIndex

// Arena is a dense, append-only, index-keyed store of T. It never removes
// entries (an "unattached" or dead entity just stops being referenced from
// the Layout); this matches the compilation-lifetime ownership model in
// spec.md §3 ("Ownership").
type Arena[Idx ~uint32, T any] struct {
	items []T
}

// Push appends an item and returns its freshly minted index.
func (a *Arena[Idx, T]) Push(item T) Idx {
	idx := Idx(len(a.items))
	a.items = append(a.items, item)
	return idx
}

// Get returns a pointer to the item at idx so callers can mutate payloads
// in place (instruction operands, value type annotations, etc.).
func (a *Arena[Idx, T]) Get(idx Idx) *T {
	return &a.items[idx]
}

// Len returns the number of entries pushed so far.
func (a *Arena[Idx, T]) Len() int { return len(a.items) }

// Reset empties the arena for reuse across compilations, keeping the
// backing array's capacity.
func (a *Arena[Idx, T]) Reset() { a.items = a.items[:0] }
