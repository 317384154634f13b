package smc

import "smc-engine/internal/model"

// Ledger is the insertion-ordered order block store. It keeps up to twice
// the visible count so invalidation and capacity pruning stay independent.
type Ledger struct {
	blocks  []model.OrderBlock
	visible int
}

// NewLedger creates a ledger exposing the newest visible blocks.
func NewLedger(visible int) *Ledger {
	return &Ledger{
		blocks:  make([]model.OrderBlock, 0, 2*visible+1),
		visible: visible,
	}
}

// Append adds a block at the newest end.
func (l *Ledger) Append(ob model.OrderBlock) {
	l.blocks = append(l.blocks, ob)
}

// Invalidate drops every block broken by close, preserving the order of the
// survivors, and returns the dropped blocks.
func (l *Ledger) Invalidate(close float64) []model.OrderBlock {
	var dropped []model.OrderBlock
	kept := l.blocks[:0]
	for _, ob := range l.blocks {
		if ob.BrokenBy(close) {
			dropped = append(dropped, ob)
			continue
		}
		kept = append(kept, ob)
	}
	l.blocks = kept
	return dropped
}

// Prune drops the oldest blocks while more than twice the visible count
// remain. Returns how many were dropped.
func (l *Ledger) Prune() int {
	excess := len(l.blocks) - 2*l.visible
	if excess <= 0 {
		return 0
	}
	l.blocks = append(l.blocks[:0], l.blocks[excess:]...)
	return excess
}

// Visible returns a copy of the newest min(Len, visible count) blocks,
// oldest first.
func (l *Ledger) Visible() []model.OrderBlock {
	return visibleSuffix(l.blocks, l.visible)
}

// All returns a copy of every retained block, oldest first.
func (l *Ledger) All() []model.OrderBlock {
	out := make([]model.OrderBlock, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// Len returns the number of retained blocks.
func (l *Ledger) Len() int { return len(l.blocks) }

// Reset empties the ledger.
func (l *Ledger) Reset() { l.blocks = l.blocks[:0] }

func visibleSuffix(blocks []model.OrderBlock, visible int) []model.OrderBlock {
	start := len(blocks) - visible
	if start < 0 {
		start = 0
	}
	out := make([]model.OrderBlock, len(blocks)-start)
	copy(out, blocks[start:])
	return out
}
