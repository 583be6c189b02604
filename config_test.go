package wazevo

import (
	"testing"

	"github.com/wazevoproject/wazevo/internal/testing/require"
)

func TestEngineConfigDefaults(t *testing.T) {
	cfg := NewEngineConfig()
	require.Equal(t, TargetAMD64, cfg.Target())
	require.True(t, cfg.SpectreMitigation())
	require.Equal(t, uint64(0), cfg.FuelBudget())
	_, enabled := cfg.StaticHeap()
	require.False(t, enabled)
}

func TestEngineConfigWithXXXReturnsNewValue(t *testing.T) {
	base := NewEngineConfig()
	derived := base.WithTarget(TargetARM64).WithSpectreMitigation(false).WithFuelBudget(1000)

	require.Equal(t, TargetAMD64, base.Target())
	require.True(t, base.SpectreMitigation())
	require.Equal(t, uint64(0), base.FuelBudget())

	require.Equal(t, TargetARM64, derived.Target())
	require.False(t, derived.SpectreMitigation())
	require.Equal(t, uint64(1000), derived.FuelBudget())
}

func TestEngineConfigWithStaticHeap(t *testing.T) {
	cfg := NewEngineConfig().WithStaticHeap(1<<20, 4096)
	sh, enabled := cfg.StaticHeap()
	require.True(t, enabled)
	require.Equal(t, uint64(1<<20), sh.Bound)
	require.Equal(t, uint64(4096), sh.GuardSize)

	reverted := cfg.WithStaticHeap(0, 0)
	_, enabled = reverted.StaticHeap()
	require.False(t, enabled)
}

func TestCompileModuleRejectsStaticHeapOnUnsupportedTarget(t *testing.T) {
	cfg := NewEngineConfig().WithTarget(TargetARM64).WithStaticHeap(1<<16, 0)
	e := NewEngine(cfg)
	_, err := e.CompileModule(addModuleBytes())
	require.Error(t, err)
}
