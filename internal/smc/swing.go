package smc

import "math"

// classify updates the current direction from the sliding window and records
// a pivot when the direction flips. Requires at least Period+1 bars.
func (d *Detector) classify() {
	n := d.bars.Len()
	candIdx := n - d.cfg.Period - 1
	candidate, _ := d.bars.At(candIdx)

	hh, ll := math.Inf(-1), math.Inf(1)
	for i := candIdx + 1; i < n; i++ {
		b, _ := d.bars.At(i)
		hh = math.Max(hh, b.High)
		ll = math.Min(ll, b.Low)
	}

	switch {
	case candidate.High > hh:
		d.currDir = DirLow
	case candidate.Low < ll:
		d.currDir = DirHigh
	default:
		d.currDir = d.prevDir
	}

	switch {
	case d.prevDir == DirHigh && d.currDir == DirLow:
		d.swingHigh = Pivot{Index: candIdx, Bar: candidate, Valid: true}
		d.log.Debug("swing high recorded", "index", candIdx, "ts", candidate.TS, "high", candidate.High)
		d.obs.PivotRecorded(PivotHigh, d.swingHigh)
	case d.prevDir == DirLow && d.currDir == DirHigh:
		d.swingLow = Pivot{Index: candIdx, Bar: candidate, Valid: true}
		d.log.Debug("swing low recorded", "index", candIdx, "ts", candidate.TS, "low", candidate.Low)
		d.obs.PivotRecorded(PivotLow, d.swingLow)
	}
}
