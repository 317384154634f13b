package indicator

// WilderATR is the classic Wilder-smoothed average true range.
// The first bar only seeds the previous close; the first Period true ranges
// are averaged, then ATR = (prev*(period-1) + tr) / period. Output matches
// TA-Lib's ATR bar for bar once ready.
type WilderATR struct {
	period  int
	count   int // true ranges received
	sum     float64
	current float64
	tr      trueRange
}

// NewWilderATR creates a Wilder ATR with the given period.
func NewWilderATR(period int) *WilderATR {
	return &WilderATR{period: period}
}

func (w *WilderATR) Name() string { return "ATR_" + TypeWilder }

func (w *WilderATR) Update(high, low, close float64) {
	if !w.tr.hasPrev {
		w.tr.next(high, low, close)
		return
	}
	tr := w.tr.next(high, low, close)
	w.count++

	if w.count <= w.period {
		// Accumulate for the initial SMA seed
		w.sum += tr
		w.current = w.sum / float64(w.count)
		return
	}

	w.current = (w.current*float64(w.period-1) + tr) / float64(w.period)
}

func (w *WilderATR) Value() float64 { return w.current }
func (w *WilderATR) Ready() bool    { return w.count >= w.period }

// Reset clears the gauge state for reuse.
func (w *WilderATR) Reset() {
	w.count = 0
	w.sum = 0
	w.current = 0
	w.tr.reset()
}

// Snapshot serializes the gauge state for checkpoint persistence.
func (w *WilderATR) Snapshot() GaugeSnapshot {
	return GaugeSnapshot{
		Type:      TypeWilder,
		Period:    w.period,
		Count:     w.count,
		Sum:       w.sum,
		Current:   w.current,
		PrevClose: w.tr.prevClose,
		HasPrev:   w.tr.hasPrev,
	}
}

// RestoreFromSnapshot restores the gauge from a checkpoint.
func (w *WilderATR) RestoreFromSnapshot(snap GaugeSnapshot) error {
	if err := snap.check(TypeWilder); err != nil {
		return err
	}
	w.period = snap.Period
	w.count = snap.Count
	w.sum = snap.Sum
	w.current = snap.Current
	w.tr = trueRange{prevClose: snap.PrevClose, hasPrev: snap.HasPrev}
	return nil
}
