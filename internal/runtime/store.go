package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
)

// Store owns every Instance compiled into it and the shared type
// Registry they all agree on for call_indirect's BadSignature check, the
// same dual responsibility inkeliz-wazero/internal/wasm/store.go's Store
// type has (module registry + shared type-id space). id is a
// process-wide monotonic counter so every Val a Store hands out carries
// a distinct StoreID for the cross-store rejection check in value.go.
type Store struct {
	mu        sync.Mutex
	instances map[string]*Instance
	types     *types.Registry
	id        uint64
}

var storeIDSeq uint64

func NewStore(registry *types.Registry) *Store {
	return &Store{
		instances: make(map[string]*Instance),
		types:     registry,
		id:        atomic.AddUint64(&storeIDSeq, 1),
	}
}

func (s *Store) ID() uint64 { return s.id }

// Register installs inst under name, replacing the registry entry if one
// already exists (re-instantiation is legal; the old Instance simply
// becomes unreachable from this Store, matching
// inkeliz-wazero/internal/wasm/store.go's overwrite-on-re-Instantiate
// behavior rather than erroring).
func (s *Store) Register(name string, inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.Store = s
	s.instances[name] = inst
}

func (s *Store) Lookup(name string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	return inst, ok
}

// Close drops every Instance reference so their linear memory becomes
// collectible; there is no explicit unmap step since this repo's
// Instance.Memory is a plain Go slice rather than an mmap'd region (spec
// §7 leaves host-memory-mapping strategy to the embedder).
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[string]*Instance)
}

// NewInstance allocates an Instance whose VMContext has the memory.grow
// builtin installed, ready for the linker to populate imports into before
// any compiled code runs against it. The lazy-funcref-init and
// table-access builtin slots are left nil.
func (s *Store) NewInstance(name string) *Instance {
	inst := &Instance{Name: name, Store: s}
	vmctx := &VMContext{inst: inst}
	vmctx.Builtins[builtinMemoryGrow] = func(vc *VMContext, arg uint64) (uint64, trap.Code) {
		return uint64(uint32(vc.inst.GrowMemory(uint32(arg)))), trap.CodeNone
	}
	inst.VMCtx = vmctx
	return inst
}
