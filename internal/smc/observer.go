package smc

import "smc-engine/internal/model"

// Observer receives detector events. Calls happen synchronously inside
// HandleBar, so implementations must be fast and must not call back into
// the detector.
type Observer interface {
	PivotRecorded(kind PivotKind, p Pivot)
	BlockBuilt(ob model.OrderBlock)
	BlockInvalidated(ob model.OrderBlock)
	BlocksPruned(n int)
	// HistoryClamped reports a builder scan that wanted bars older than the
	// bounded history still holds.
	HistoryClamped(wantFrom, first int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) PivotRecorded(PivotKind, Pivot)    {}
func (NopObserver) BlockBuilt(model.OrderBlock)       {}
func (NopObserver) BlockInvalidated(model.OrderBlock) {}
func (NopObserver) BlocksPruned(int)                  {}
func (NopObserver) HistoryClamped(int, int)           {}
