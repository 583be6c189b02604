package wazevo

import "github.com/wazevoproject/wazevo/internal/codegen"

// EngineConfig configures an Engine before NewEngine builds one.
// EngineConfig is immutable: every WithXXX method returns a new value
// rather than mutating the receiver, the same "WithXXX returns a new
// instance" idiom the teacher's RuntimeConfig/CompilerConfig use for
// every builder call.
type EngineConfig interface {
	// WithTarget selects the codegen backend NewEngine builds against.
	// Defaults to TargetAMD64.
	WithTarget(Target) EngineConfig

	// WithSpectreMitigation toggles the conditional-move-to-guard-page
	// bounds-check sequence (spec.md §4.9) versus a plain conditional
	// trap. Defaults to true.
	WithSpectreMitigation(bool) EngineConfig

	// WithStaticHeap switches a compiled module's bounds-check style from
	// the default dynamic heap (a runtime length load out of VMContext)
	// to a compile-time bound/guard-size pair, letting the backend elide
	// or fold checks at compile time (spec.md §4.9/§8). Passing a zero
	// bound reverts to the dynamic heap style. Only amd64 currently
	// implements the static heap lowering; CompileModule returns an error
	// if it is requested for a target that doesn't.
	WithStaticHeap(bound, guardSize uint64) EngineConfig

	// WithFuelBudget records a per-call fuel budget, which FuelBudget
	// returns. CompileModule emits no fuel checks: compiled code does not
	// decrement the budget or trap when it reaches zero, so the budget
	// has no effect on execution.
	WithFuelBudget(uint64) EngineConfig

	Target() Target
	SpectreMitigation() bool
	StaticHeap() (cfg codegen.StaticHeapConfig, enabled bool)
	FuelBudget() uint64
}

type engineConfig struct {
	target            Target
	spectreMitigation bool
	staticHeap        codegen.StaticHeapConfig
	staticHeapSet     bool
	fuelBudget        uint64
}

// NewEngineConfig returns the default EngineConfig: amd64, spectre
// mitigation on, dynamic heap style, fuel checking disabled.
func NewEngineConfig() EngineConfig {
	return &engineConfig{target: TargetAMD64, spectreMitigation: true}
}

func (c *engineConfig) clone() *engineConfig {
	cp := *c
	return &cp
}

func (c *engineConfig) WithTarget(t Target) EngineConfig {
	cp := c.clone()
	cp.target = t
	return cp
}

func (c *engineConfig) WithSpectreMitigation(v bool) EngineConfig {
	cp := c.clone()
	cp.spectreMitigation = v
	return cp
}

func (c *engineConfig) WithStaticHeap(bound, guardSize uint64) EngineConfig {
	cp := c.clone()
	if bound == 0 {
		cp.staticHeapSet = false
		cp.staticHeap = codegen.StaticHeapConfig{}
		return cp
	}
	cp.staticHeapSet = true
	cp.staticHeap = codegen.StaticHeapConfig{Bound: bound, GuardSize: guardSize}
	return cp
}

func (c *engineConfig) WithFuelBudget(budget uint64) EngineConfig {
	cp := c.clone()
	cp.fuelBudget = budget
	return cp
}

func (c *engineConfig) Target() Target               { return c.target }
func (c *engineConfig) SpectreMitigation() bool       { return c.spectreMitigation }
func (c *engineConfig) FuelBudget() uint64             { return c.fuelBudget }
func (c *engineConfig) StaticHeap() (codegen.StaticHeapConfig, bool) {
	return c.staticHeap, c.staticHeapSet
}
