package codegen

import (
	"testing"

	"github.com/wazevoproject/wazevo/internal/testing/require"
)

func TestStaticHeapConfigClassify(t *testing.T) {
	cfg := &StaticHeapConfig{Bound: 1 << 20, GuardSize: 1 << 16}

	// staticOffset+accessSize already exceeds Bound: every index traps.
	require.Equal(t, StaticHeapAlwaysOOB, cfg.Classify(cfg.Bound+1, 8))
	require.Equal(t, StaticHeapAlwaysOOB, cfg.Classify(cfg.Bound, 8))

	// A small, in-bounds-able offset needs a runtime check since the
	// index itself still ranges far past Bound.
	require.Equal(t, StaticHeapCheckRequired, cfg.Classify(0, 8))
	require.Equal(t, StaticHeapCheckRequired, cfg.Classify(1024, 4))
}

func TestStaticHeapConfigClassifyElision(t *testing.T) {
	// Bound+GuardSize covers every u32 index plus offset/access size:
	// the 4GiB-memory-with-a-generous-guard case spec.md names.
	cfg := &StaticHeapConfig{Bound: 1 << 32, GuardSize: 1 << 32}
	require.Equal(t, StaticHeapElided, cfg.Classify(0, 8))
	require.Equal(t, StaticHeapElided, cfg.Classify(1<<16, 16))
}

func TestStaticHeapConfigClassifyBoundary(t *testing.T) {
	// Exactly at the Bound+GuardSize boundary: still elided (<=, not <).
	cfg := &StaticHeapConfig{Bound: 100, GuardSize: uint64(0xFFFFFFFF) - 100}
	require.Equal(t, StaticHeapElided, cfg.Classify(0, 0))

	// One byte past it: falls back to a runtime check.
	cfg2 := &StaticHeapConfig{Bound: 100, GuardSize: uint64(0xFFFFFFFF) - 101}
	require.Equal(t, StaticHeapCheckRequired, cfg2.Classify(0, 0))
}
