package indicator

// ExpATR smooths true range exponentially.
// O(1) per update, no window storage.
type ExpATR struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
	tr         trueRange
}

// NewExpATR creates an exponential ATR with the given period.
func NewExpATR(period int) *ExpATR {
	return &ExpATR{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExpATR) Name() string { return "ATR_" + TypeExp }

func (e *ExpATR) Update(high, low, close float64) {
	tr := e.tr.next(high, low, close)
	e.count++

	if e.count <= e.period {
		// SMA seed until the window is full
		e.sum += tr
		e.current = e.sum / float64(e.count)
		return
	}

	e.current = (tr * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *ExpATR) Value() float64 { return e.current }
func (e *ExpATR) Ready() bool    { return e.count >= e.period }

// Reset clears the gauge state for reuse.
func (e *ExpATR) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
	e.tr.reset()
}

// Snapshot serializes the gauge state for checkpoint persistence.
func (e *ExpATR) Snapshot() GaugeSnapshot {
	return GaugeSnapshot{
		Type:       TypeExp,
		Period:     e.period,
		Multiplier: e.multiplier,
		Current:    e.current,
		Count:      e.count,
		Sum:        e.sum,
		PrevClose:  e.tr.prevClose,
		HasPrev:    e.tr.hasPrev,
	}
}

// RestoreFromSnapshot restores the gauge from a checkpoint.
func (e *ExpATR) RestoreFromSnapshot(snap GaugeSnapshot) error {
	if err := snap.check(TypeExp); err != nil {
		return err
	}
	e.period = snap.Period
	e.multiplier = snap.Multiplier
	e.current = snap.Current
	e.count = snap.Count
	e.sum = snap.Sum
	e.tr = trueRange{prevClose: snap.PrevClose, hasPrev: snap.HasPrev}
	return nil
}
