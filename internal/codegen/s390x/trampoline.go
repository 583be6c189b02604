package s390x

import (
	"github.com/pkg/errors"

	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/codegen"
)

// CompileArrayToNativeTrampoline is unimplemented on this backend, for
// the same reason this package's Compile only handles OpReturn and the
// trap opcodes (see the package doc comment): there is no s390x material
// anywhere in the retrieved pack to ground any further instruction
// encoding on, trampoline marshaling included.
func CompileArrayToNativeTrampoline(*abi.FunctionABI) (*codegen.Buffer, error) {
	return nil, errors.New("s390x: trampoline generation not implemented (no grounded z/Architecture encoding in the pack)")
}

func CompileNativeToArrayTrampoline(*abi.FunctionABI, int32) (*codegen.Buffer, error) {
	return nil, errors.New("s390x: trampoline generation not implemented (no grounded z/Architecture encoding in the pack)")
}
