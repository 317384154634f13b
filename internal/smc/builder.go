package smc

import "smc-engine/internal/model"

// build confirms at most one order block per bar. The bullish path has
// priority: the bearish path is only checked when no swing-high pivot is
// valid.
func (d *Detector) build(bar *model.Bar) {
	if d.swingHigh.Valid {
		if bar.Close > d.swingHigh.Bar.High {
			idx := d.selectBar(d.swingHigh.Index, func(b, best model.Bar) bool { return b.Low < best.Low })
			d.emit(idx, model.SideBuy)
			d.swingHigh.Valid = false
		}
		return
	}
	if d.swingLow.Valid && bar.Close < d.swingLow.Bar.Low {
		idx := d.selectBar(d.swingLow.Index, func(b, best model.Bar) bool { return b.High > best.High })
		d.emit(idx, model.SideSell)
		d.swingLow.Valid = false
	}
}

// selectBar scans the bars after the pivot up to, but excluding, the current
// bar. Only bars whose range is under twice the gauge value at that bar are
// eligible; better decides whether b beats the best so far, so ties keep the
// first occurrence. With no eligible bar the first scanned index is used,
// clamped to the current bar when the range is empty.
func (d *Detector) selectBar(pivotIdx int, better func(b, best model.Bar) bool) int {
	last := d.bars.Len() - 1 // current bar
	from := pivotIdx + 1
	if first := d.bars.First(); from < first {
		d.log.Warn("order block scan clamped to retained history",
			"want_from", from, "first", first, "history_cap", d.cfg.HistoryCap)
		d.obs.HistoryClamped(from, first)
		from = first
	}

	fallback := from
	if fallback > last {
		fallback = last
	}

	best, found := fallback, false
	var bestBar model.Bar
	for i := from; i < last; i++ {
		b, _ := d.bars.At(i)
		vol, _ := d.vols.At(i)
		if b.High-b.Low >= 2*vol {
			continue
		}
		if !found || better(b, bestBar) {
			best, bestBar, found = i, b, true
		}
	}
	return best
}

func (d *Detector) emit(idx int, side model.Side) {
	b, _ := d.bars.At(idx)
	ob := model.OrderBlock{Low: b.Low, High: b.High, TS: b.TS, Side: side}
	d.ledger.Append(ob)
	d.log.Debug("order block built", "side", side, "index", idx, "low", ob.Low, "high", ob.High, "ts", ob.TS)
	d.obs.BlockBuilt(ob)
}
