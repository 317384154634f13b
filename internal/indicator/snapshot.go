package indicator

import "fmt"

// Snapshottable is implemented by gauges that support state serialization.
type Snapshottable interface {
	Gauge
	Snapshot() GaugeSnapshot
	RestoreFromSnapshot(snap GaugeSnapshot) error
}

// GaugeSnapshot holds the serialized state of a single gauge instance.
type GaugeSnapshot struct {
	Type   string `json:"type"`   // "SIMPLE", "WILDER", "EXP"
	Period int    `json:"period"` // ATR window

	// SIMPLE fields
	Buf []float64 `json:"buf,omitempty"`
	Idx int       `json:"idx,omitempty"`

	Count   int     `json:"count"`
	Sum     float64 `json:"sum,omitempty"`
	Current float64 `json:"current"`

	// EXP fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// True range carry
	PrevClose float64 `json:"prev_close,omitempty"`
	HasPrev   bool    `json:"has_prev,omitempty"`
}

func (s GaugeSnapshot) check(want string) error {
	if s.Type != want {
		return fmt.Errorf("gauge snapshot type %q, expected %q", s.Type, want)
	}
	if s.Period <= 0 {
		return fmt.Errorf("gauge snapshot period=%d: must be positive", s.Period)
	}
	if want == TypeSimple && len(s.Buf) > s.Period {
		return fmt.Errorf("gauge snapshot buffer len=%d exceeds period=%d", len(s.Buf), s.Period)
	}
	return nil
}

// Config returns the gauge config this snapshot was taken from.
func (s GaugeSnapshot) Config() GaugeConfig {
	return GaugeConfig{Type: s.Type, Period: s.Period}
}

// RestoreGauge builds a gauge of the snapshot's type and restores it.
func RestoreGauge(snap GaugeSnapshot) (Gauge, error) {
	g, err := NewGauge(snap.Config())
	if err != nil {
		return nil, err
	}
	if err := g.(Snapshottable).RestoreFromSnapshot(snap); err != nil {
		return nil, err
	}
	return g, nil
}
