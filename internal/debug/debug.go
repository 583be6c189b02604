// Package debug holds the printf-tracing switches used across the
// compiler, read once from environment variables at process start. This
// mirrors the teacher's wazevoapi.PrintXXX family of build-time debug
// flags (PrintSSAToBackendIRLowering, PrintRegisterAllocated,
// PrintFinalizedMachineCode, DeterministicCompilationVerifierEnabled):
// no logging library, just gated fmt.Fprintf(os.Stderr, ...) at the point
// of interest.
package debug

import "os"

var (
	PrintIR              = envBool("WAZEVO_DEBUG_IR")
	PrintRegAlloc        = envBool("WAZEVO_DEBUG_REGALLOC")
	PrintMachineCode     = envBool("WAZEVO_DEBUG_MC")
	PrintLinker          = envBool("WAZEVO_DEBUG_LINK")
	VerifyDeterministic  = envBool("WAZEVO_VERIFY_DETERMINISTIC")
)

func envBool(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true"
}
