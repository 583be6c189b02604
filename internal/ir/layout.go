package ir

import "github.com/wazevoproject/wazevo/internal/ids"

// Layout tracks the linear order of blocks within a Function and of
// instructions within each block, as two doubly-linked lists threaded
// directly through the Block/Instruction arena entries. This mirrors
// original_source/lib/cretonne/src/ir/layout.rs's split between "what an
// instruction/block IS" (the arena payload) and "WHERE it sits" (this
// type): order can be spliced, reversed, and walked in O(1) per step
// without touching instruction payloads at all.
type Layout struct {
	blocks *ids.Arena[ids.BlockIndex, Block]
	insts  *ids.Arena[ids.InstIndex, Instruction]

	firstBlock, lastBlock ids.BlockIndex
}

// NewLayout returns an empty Layout backed by the given arenas.
func NewLayout(blocks *ids.Arena[ids.BlockIndex, Block], insts *ids.Arena[ids.InstIndex, Instruction]) *Layout {
	return &Layout{
		blocks:     blocks,
		insts:      insts,
		firstBlock: ids.NullBlock,
		lastBlock:  ids.NullBlock,
	}
}

// FirstBlock / LastBlock return the null sentinel on an empty layout.
func (l *Layout) FirstBlock() ids.BlockIndex { return l.firstBlock }
func (l *Layout) LastBlock() ids.BlockIndex  { return l.lastBlock }

// NextBlock / PrevBlock walk block order; both return NullBlock past
// either end, so a forward walk is `for b := l.FirstBlock(); b.Valid(); b = l.NextBlock(b)`.
func (l *Layout) NextBlock(b ids.BlockIndex) ids.BlockIndex { return l.blocks.Get(b).next }
func (l *Layout) PrevBlock(b ids.BlockIndex) ids.BlockIndex { return l.blocks.Get(b).prev }

func (l *Layout) FirstInst(b ids.BlockIndex) ids.InstIndex { return l.blocks.Get(b).firstInst }
func (l *Layout) LastInst(b ids.BlockIndex) ids.InstIndex  { return l.blocks.Get(b).lastInst }

func (l *Layout) NextInst(i ids.InstIndex) ids.InstIndex { return l.insts.Get(i).next }
func (l *Layout) PrevInst(i ids.InstIndex) ids.InstIndex { return l.insts.Get(i).prev }

// InstBlock returns the block i currently sits in, or NullBlock if i has
// never been placed into the layout.
func (l *Layout) InstBlock(i ids.InstIndex) ids.BlockIndex { return l.insts.Get(i).block }

// AppendBlock appends a never-before-placed block to the end of the
// function's block order.
func (l *Layout) AppendBlock(b ids.BlockIndex) {
	blk := l.blocks.Get(b)
	blk.prev, blk.next = l.lastBlock, ids.NullBlock
	blk.firstInst, blk.lastInst = ids.NullInst, ids.NullInst
	if l.lastBlock.Valid() {
		l.blocks.Get(l.lastBlock).next = b
	} else {
		l.firstBlock = b
	}
	l.lastBlock = b
}

// InsertBlockAfter splices a never-before-placed block immediately after
// 'after' in block order.
func (l *Layout) InsertBlockAfter(b, after ids.BlockIndex) {
	afterBlk := l.blocks.Get(after)
	nextB := afterBlk.next
	blk := l.blocks.Get(b)
	blk.prev, blk.next = after, nextB
	blk.firstInst, blk.lastInst = ids.NullInst, ids.NullInst
	afterBlk.next = b
	if nextB.Valid() {
		l.blocks.Get(nextB).prev = b
	} else {
		l.lastBlock = b
	}
}

// InsertBlockBefore splices a never-before-placed block immediately
// before 'before' in block order.
func (l *Layout) InsertBlockBefore(b, before ids.BlockIndex) {
	beforeBlk := l.blocks.Get(before)
	prevB := beforeBlk.prev
	blk := l.blocks.Get(b)
	blk.prev, blk.next = prevB, before
	blk.firstInst, blk.lastInst = ids.NullInst, ids.NullInst
	beforeBlk.prev = b
	if prevB.Valid() {
		l.blocks.Get(prevB).next = b
	} else {
		l.firstBlock = b
	}
}

// AppendInst appends an instruction to the end of block b's instruction
// list.
func (l *Layout) AppendInst(i ids.InstIndex, b ids.BlockIndex) {
	inst := l.insts.Get(i)
	blk := l.blocks.Get(b)
	inst.block = b
	inst.prev, inst.next = blk.lastInst, ids.NullInst
	if blk.lastInst.Valid() {
		l.insts.Get(blk.lastInst).next = i
	} else {
		blk.firstInst = i
	}
	blk.lastInst = i
}

// InsertInstBefore splices i immediately before 'before' within its block.
func (l *Layout) InsertInstBefore(i, before ids.InstIndex) {
	beforeInst := l.insts.Get(before)
	b := beforeInst.block
	blk := l.blocks.Get(b)
	prevI := beforeInst.prev

	inst := l.insts.Get(i)
	inst.block = b
	inst.prev, inst.next = prevI, before
	beforeInst.prev = i
	if prevI.Valid() {
		l.insts.Get(prevI).next = i
	} else {
		blk.firstInst = i
	}
}

// InsertInstAfter splices i immediately after 'after' within its block.
func (l *Layout) InsertInstAfter(i, after ids.InstIndex) {
	afterInst := l.insts.Get(after)
	b := afterInst.block
	blk := l.blocks.Get(b)
	nextI := afterInst.next

	inst := l.insts.Get(i)
	inst.block = b
	inst.prev, inst.next = after, nextI
	afterInst.next = i
	if nextI.Valid() {
		l.insts.Get(nextI).prev = i
	} else {
		blk.lastInst = i
	}
}

// RemoveInst detaches i from its block's instruction order without
// touching the arena entry's payload; i must not be reused as a live
// instruction afterward unless reinserted.
func (l *Layout) RemoveInst(i ids.InstIndex) {
	inst := l.insts.Get(i)
	b := inst.block
	blk := l.blocks.Get(b)
	if inst.prev.Valid() {
		l.insts.Get(inst.prev).next = inst.next
	} else {
		blk.firstInst = inst.next
	}
	if inst.next.Valid() {
		l.insts.Get(inst.next).prev = inst.prev
	} else {
		blk.lastInst = inst.prev
	}
	inst.prev, inst.next, inst.block = ids.NullInst, ids.NullInst, ids.NullBlock
}

// SplitBlockAfter moves every instruction strictly after 'after' (within
// after's block) into newBlock, which is inserted immediately following
// after's block in block order. newBlock must already be pushed into the
// arena but not yet placed in the layout. The backends lower
// Trapz/Trapnz inline and do not split blocks for them.
func (l *Layout) SplitBlockAfter(after ids.InstIndex, newBlock ids.BlockIndex) {
	afterInst := l.insts.Get(after)
	oldBlock := afterInst.block
	oldBlk := l.blocks.Get(oldBlock)

	l.InsertBlockAfter(newBlock, oldBlock)
	newBlk := l.blocks.Get(newBlock)

	moved := afterInst.next
	if !moved.Valid() {
		return // nothing after 'after': split point was already the tail.
	}
	afterInst.next = ids.NullInst
	oldBlk.lastInst = after

	newBlk.firstInst = moved
	l.insts.Get(moved).prev = ids.NullInst
	last := moved
	for cur := moved; cur.Valid(); cur = l.insts.Get(cur).next {
		l.insts.Get(cur).block = newBlock
		last = cur
	}
	newBlk.lastInst = last
}
