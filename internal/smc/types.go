// Package smc implements a streaming smart-money-concept detector: it tracks
// swing pivots over a rolling window and derives a bounded, self-pruning list
// of order blocks from confirmed pivot breaks.
package smc

import "smc-engine/internal/model"

// Direction is the regime the sliding window currently favours.
type Direction int8

const (
	// DirLow means a local top was just exceeded; the window seeks lows.
	DirLow Direction = iota
	// DirHigh means a local bottom was just undercut; the window seeks highs.
	DirHigh
)

func (d Direction) String() string {
	if d == DirHigh {
		return "HIGH"
	}
	return "LOW"
}

// PivotKind distinguishes the two pivots a detector keeps.
type PivotKind string

const (
	PivotHigh PivotKind = "high"
	PivotLow  PivotKind = "low"
)

// Pivot is a swing point. Bar is the zero value until the first pivot of its
// kind is recorded; always check Valid before reading it.
type Pivot struct {
	Index int       `json:"index"`
	Bar   model.Bar `json:"bar"`
	Valid bool      `json:"valid"`
}

// State is the detector's readiness.
type State int8

const (
	StateUninitialized State = iota
	StateHasInput
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateHasInput:
		return "HAS_INPUT"
	case StateInitialized:
		return "INITIALIZED"
	default:
		return "UNINITIALIZED"
	}
}
