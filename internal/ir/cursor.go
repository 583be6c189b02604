package ir

import "github.com/wazevoproject/wazevo/internal/ids"

// position tags where a Cursor currently sits.
type position byte

const (
	posNowhere position = iota
	posAtInst
	posBeforeBlock
	posAfterBlock
)

// Cursor is a mutable position into a Function's Layout, used by the
// frontend translator and any later rewrite pass to build or edit
// instruction streams without tracking explicit "insert here" indices by
// hand. Modeled directly on
// original_source/lib/cretonne/src/ir/layout.rs's Cursor: four position
// states (Nowhere / At(inst) / Before(block) / After(block)), and the
// same asymmetric behavior on InsertBlock described below.
type Cursor struct {
	layout *Layout
	pos    position
	inst   ids.InstIndex
	block  ids.BlockIndex
}

// NewCursor returns a Cursor positioned Nowhere.
func NewCursor(l *Layout) *Cursor { return &Cursor{layout: l, pos: posNowhere} }

// GotoTop positions the cursor Before the function's first block.
func (c *Cursor) GotoTop() {
	c.pos, c.block = posBeforeBlock, c.layout.FirstBlock()
}

// GotoBottom positions the cursor After the function's last block.
func (c *Cursor) GotoBottom() {
	c.pos, c.block = posAfterBlock, c.layout.LastBlock()
}

// GotoBlockStart positions the cursor Before b's first instruction,
// appending to b from there.
func (c *Cursor) GotoBlockStart(b ids.BlockIndex) {
	c.pos, c.block = posBeforeBlock, b
}

// GotoAfterInst positions the cursor At a specific instruction; the next
// Insert lands immediately after it.
func (c *Cursor) GotoAfterInst(i ids.InstIndex) {
	c.pos, c.inst = posAtInst, i
}

// CurrentBlock reports the block an At(inst)/Before(block)/After(block)
// cursor belongs to, or NullBlock when Nowhere.
func (c *Cursor) CurrentBlock() ids.BlockIndex {
	switch c.pos {
	case posAtInst:
		return c.layout.InstBlock(c.inst)
	case posBeforeBlock, posAfterBlock:
		return c.block
	default:
		return ids.NullBlock
	}
}

// InsertInst places a never-before-placed instruction at the cursor and
// advances the cursor to sit At the newly inserted instruction, matching
// layout.rs's Cursor::insert_inst ("leaves the cursor pointing at the new
// instruction").
func (c *Cursor) InsertInst(i ids.InstIndex) {
	switch c.pos {
	case posAtInst:
		c.layout.InsertInstAfter(i, c.inst)
	case posBeforeBlock:
		if first := c.layout.FirstInst(c.block); first.Valid() {
			c.layout.InsertInstBefore(i, first)
		} else {
			c.layout.AppendInst(i, c.block)
		}
	case posAfterBlock:
		panic("ir: InsertInst at an After(block) cursor has no instruction list to append to")
	default:
		panic("ir: InsertInst with cursor Nowhere")
	}
	c.pos, c.inst = posAtInst, i
}

// InsertBlock places a never-before-placed block at the cursor.
//
// This has the asymmetry layout.rs documents and deliberately preserves:
// from a Before(b) cursor the new block is spliced in immediately before
// b and the cursor is left Before(b) — still pointing at the same
// logical block, now one position later in the list. From an After(b)
// cursor (or Nowhere, at the very top/bottom of the function) the new
// block is spliced in immediately after the current position and the
// cursor moves to sit After the newly inserted block, so a sequence of
// InsertBlock calls from an After-positioned cursor appends blocks in
// the order they were inserted, while the same sequence from a
// Before-positioned cursor also keeps that order but places every block
// ahead of b rather than at the end. Callers that
// want "append N blocks in order" must use an After-positioned (or
// GotoBottom) cursor, not a Before-positioned one — this is inherited
// unchanged from Cranelift's Layout rather than "fixed", since both
// behaviors are useful in their respective calling conventions (prepend
// a single block vs. grow a block list at the tail).
func (c *Cursor) InsertBlock(b ids.BlockIndex) {
	switch c.pos {
	case posBeforeBlock:
		if c.block.Valid() {
			c.layout.InsertBlockBefore(b, c.block)
		} else {
			c.layout.AppendBlock(b)
			c.block = b
		}
		// Cursor stays Before the original target block; b now sits
		// immediately ahead of it in block order.
	case posAfterBlock, posNowhere:
		if c.block.Valid() {
			c.layout.InsertBlockAfter(b, c.block)
		} else {
			c.layout.AppendBlock(b)
		}
		c.pos, c.block = posAfterBlock, b
	case posAtInst:
		panic("ir: InsertBlock at an At(inst) cursor is undefined")
	default:
		panic("ir: unreachable cursor position")
	}
}
