package riscv64

import (
	"github.com/pkg/errors"

	"github.com/wazevoproject/wazevo/internal/abi"
	"github.com/wazevoproject/wazevo/internal/codegen"
)

// CompileArrayToNativeTrampoline is unimplemented on this backend: a
// trampoline has to load argument words out of a vals array and store
// results back into it, and this package's Compile (see its doc comment)
// never had a reason to implement RV64 load/store encodings since none
// of spec.md's named end-to-end scenarios exercise riscv64 memory
// access. Fabricating those encodings for this one caller with nothing
// in the pack to ground them against would contradict the stub's own
// stated scope, so this returns a descriptive error instead of a
// silently-wrong instruction stream.
func CompileArrayToNativeTrampoline(*abi.FunctionABI) (*codegen.Buffer, error) {
	return nil, errors.New("riscv64: trampoline generation not implemented (no grounded RV64 load/store encoding)")
}

func CompileNativeToArrayTrampoline(*abi.FunctionABI, int32) (*codegen.Buffer, error) {
	return nil, errors.New("riscv64: trampoline generation not implemented (no grounded RV64 load/store encoding)")
}
