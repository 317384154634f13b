package indicator

// SimpleATR averages true range over a rolling window.
// Uses a preallocated circular buffer so the hot path does not allocate.
type SimpleATR struct {
	period  int
	buf     []float64 // preallocated circular buffer of true ranges
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
	tr      trueRange
}

// NewSimpleATR creates a simple ATR with the given period.
func NewSimpleATR(period int) *SimpleATR {
	return &SimpleATR{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SimpleATR) Name() string { return "ATR_" + TypeSimple }

func (s *SimpleATR) Update(high, low, close float64) {
	tr := s.tr.next(high, low, close)

	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = tr
	s.sum += tr
	s.idx = (s.idx + 1) % s.period
	s.count++

	s.current = s.sum / float64(min(s.count, s.period))
}

func (s *SimpleATR) Value() float64 { return s.current }
func (s *SimpleATR) Ready() bool    { return s.count >= s.period }

// Reset clears the gauge state for reuse.
func (s *SimpleATR) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	s.tr.reset()
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Snapshot serializes the gauge state for checkpoint persistence.
func (s *SimpleATR) Snapshot() GaugeSnapshot {
	bufCopy := make([]float64, len(s.buf))
	copy(bufCopy, s.buf)
	return GaugeSnapshot{
		Type:      TypeSimple,
		Period:    s.period,
		Buf:       bufCopy,
		Idx:       s.idx,
		Count:     s.count,
		Sum:       s.sum,
		Current:   s.current,
		PrevClose: s.tr.prevClose,
		HasPrev:   s.tr.hasPrev,
	}
}

// RestoreFromSnapshot restores the gauge from a checkpoint.
func (s *SimpleATR) RestoreFromSnapshot(snap GaugeSnapshot) error {
	if err := snap.check(TypeSimple); err != nil {
		return err
	}
	s.period = snap.Period
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	s.tr = trueRange{prevClose: snap.PrevClose, hasPrev: snap.HasPrev}
	s.buf = make([]float64, snap.Period)
	copy(s.buf, snap.Buf)
	return nil
}
