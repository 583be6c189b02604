// Package linear implements a linear-scan register allocator against the
// regalloc.Function/Block/Instr contract. No third-party register
// allocation library exists anywhere in the retrieved pack for any
// source language, so this is a from-scratch implementation built to the
// shape the pack's own regalloc-api.go interfaces imply, rather than a
// port of any one example file; see DESIGN.md for that
// standard-library-only justification.
package linear

import (
	"sort"

	"github.com/wazevoproject/wazevo/internal/regalloc"
)

// liveRange is the [start, end] instruction-order interval over which one
// VReg is live, expressed in a single function-wide linear instruction
// numbering computed by numberInstrs.
type liveRange struct {
	vreg       regalloc.VReg
	start, end int
}

// Allocator is a straightforward linear-scan allocator: compute per-block
// liveness with a backward fixpoint, flatten each VReg's live blocks into
// one contiguous-enough range in layout-order numbering, sort ranges
// by start, and walk them left to right keeping an active set bounded by
// the physical register count, spilling the range whose end is furthest
// away when out of registers (Chaitin-style "furthest use" spill
// heuristic, the classic linear-scan rule).
type Allocator struct{}

func New() *Allocator { return &Allocator{} }

func (a *Allocator) Allocate(f regalloc.Function, numIntRegs, numFloatRegs int) error {
	blocks := f.Blocks()
	order, numberOf := numberInstrs(blocks)
	liveIn, liveOut := computeLiveness(blocks)
	ranges := buildRanges(f.NumVRegs(), blocks, numberOf, liveIn, liveOut)

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	assignByClass(f, ranges, regalloc.ClassInt, numIntRegs)
	assignByClass(f, ranges, regalloc.ClassFloat, numFloatRegs)

	_ = order
	return nil
}

// numberInstrs assigns each instruction a position in one function-wide
// linear order (blocks in the order Blocks() returns them, instructions
// within a block in order), used as the coordinate space for live ranges.
func numberInstrs(blocks []regalloc.Block) (order []regalloc.Instr, numberOf map[regalloc.Instr]int) {
	numberOf = make(map[regalloc.Instr]int)
	for _, b := range blocks {
		for _, in := range b.Instrs() {
			numberOf[in] = len(order)
			order = append(order, in)
		}
	}
	return order, numberOf
}

// computeLiveness runs the standard backward dataflow fixpoint:
// live_in[b] = use[b] U (live_out[b] - def[b]), live_out[b] = U live_in[s] for s in succ[b].
func computeLiveness(blocks []regalloc.Block) (liveIn, liveOut map[int]map[regalloc.VReg]bool) {
	byID := make(map[int]regalloc.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID()] = b
	}
	liveIn = make(map[int]map[regalloc.VReg]bool, len(blocks))
	liveOut = make(map[int]map[regalloc.VReg]bool, len(blocks))
	useSet := make(map[int]map[regalloc.VReg]bool, len(blocks))
	defSet := make(map[int]map[regalloc.VReg]bool, len(blocks))

	for _, b := range blocks {
		use, def := map[regalloc.VReg]bool{}, map[regalloc.VReg]bool{}
		for _, in := range b.Instrs() {
			for _, u := range in.Uses() {
				if !def[u] {
					use[u] = true
				}
			}
			for _, d := range in.Defs() {
				def[d] = true
			}
		}
		useSet[b.ID()], defSet[b.ID()] = use, def
		liveIn[b.ID()], liveOut[b.ID()] = map[regalloc.VReg]bool{}, map[regalloc.VReg]bool{}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range blocks {
			id := b.ID()
			out := map[regalloc.VReg]bool{}
			for _, s := range b.Succs() {
				for v := range liveIn[s] {
					out[v] = true
				}
			}
			in := map[regalloc.VReg]bool{}
			for v := range useSet[id] {
				in[v] = true
			}
			for v := range out {
				if !defSet[id][v] {
					in[v] = true
				}
			}
			if !setEqual(in, liveIn[id]) || !setEqual(out, liveOut[id]) {
				liveIn[id], liveOut[id] = in, out
				changed = true
			}
		}
	}
	return liveIn, liveOut
}

func setEqual(a, b map[regalloc.VReg]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// buildRanges derives one liveRange per VReg by scanning each block's
// instructions under the linear numbering, extending [start,end] to
// cover every def/use plus the block-spanning live-in/live-out gaps.
func buildRanges(numVRegs int, blocks []regalloc.Block, numberOf map[regalloc.Instr]int, liveIn, liveOut map[int]map[regalloc.VReg]bool) []liveRange {
	starts := make([]int, numVRegs)
	ends := make([]int, numVRegs)
	seen := make([]bool, numVRegs)
	vregs := make([]regalloc.VReg, numVRegs)
	touch := func(v regalloc.VReg, pos int) {
		id := int(v.ID())
		if id >= numVRegs {
			return
		}
		vregs[id] = v
		if !seen[id] {
			starts[id], ends[id], seen[id] = pos, pos, true
			return
		}
		if pos < starts[id] {
			starts[id] = pos
		}
		if pos > ends[id] {
			ends[id] = pos
		}
	}

	blockSpan := make(map[int][2]int, len(blocks))
	for _, b := range blocks {
		first, last := -1, -1
		for _, in := range b.Instrs() {
			pos := numberOf[in]
			if first == -1 {
				first = pos
			}
			last = pos
			for _, u := range in.Uses() {
				touch(u, pos)
			}
			for _, d := range in.Defs() {
				touch(d, pos)
			}
		}
		blockSpan[b.ID()] = [2]int{first, last}
	}
	for _, b := range blocks {
		span, ok := blockSpan[b.ID()]
		if !ok || span[0] == -1 {
			continue
		}
		for v := range liveIn[b.ID()] {
			touch(v, span[0])
		}
		for v := range liveOut[b.ID()] {
			touch(v, span[1])
		}
	}

	var out []liveRange
	for id := 0; id < numVRegs; id++ {
		if seen[id] {
			out = append(out, liveRange{vreg: vregs[id], start: starts[id], end: ends[id]})
		}
	}
	return out
}

// assignByClass runs the linear-scan active-set walk restricted to VRegs
// of one register class, since integer and float registers never compete
// for the same physical numbers.
func assignByClass(f regalloc.Function, ranges []liveRange, class regalloc.RegClass, numRegs int) {
	type active struct {
		r   liveRange
		reg int
	}
	var activeList []active
	freeRegs := make([]int, numRegs)
	for i := range freeRegs {
		freeRegs[i] = i
	}
	nextSpillSlot := 0

	for _, r := range ranges {
		if r.vreg.Class() != class {
			continue
		}
		// Expire active ranges that have ended before r.start.
		kept := activeList[:0]
		for _, a := range activeList {
			if a.r.end < r.start {
				freeRegs = append(freeRegs, a.reg)
			} else {
				kept = append(kept, a)
			}
		}
		activeList = kept

		if len(freeRegs) == 0 {
			// Spill the active range with the furthest end, matching the
			// classic linear-scan "furthest use" heuristic.
			furthestIdx := -1
			for i, a := range activeList {
				if furthestIdx == -1 || a.r.end > activeList[furthestIdx].r.end {
					furthestIdx = i
				}
			}
			if furthestIdx >= 0 && activeList[furthestIdx].r.end > r.end {
				spilled := activeList[furthestIdx]
				f.Assign(spilled.r.vreg, regalloc.PhysReg{VReg: spilled.r.vreg, Num: -(nextSpillSlot + 1)})
				nextSpillSlot++
				activeList[furthestIdx] = active{r: r, reg: spilled.reg}
				f.Assign(r.vreg, regalloc.PhysReg{VReg: r.vreg, Num: spilled.reg})
				continue
			}
			f.Assign(r.vreg, regalloc.PhysReg{VReg: r.vreg, Num: -(nextSpillSlot + 1)})
			nextSpillSlot++
			continue
		}

		reg := freeRegs[len(freeRegs)-1]
		freeRegs = freeRegs[:len(freeRegs)-1]
		activeList = append(activeList, active{r: r, reg: reg})
		f.Assign(r.vreg, regalloc.PhysReg{VReg: r.vreg, Num: reg})
	}
}
