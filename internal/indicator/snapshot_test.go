package indicator

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, cfg := range []GaugeConfig{
		{Type: TypeSimple, Period: 5},
		{Type: TypeWilder, Period: 5},
		{Type: TypeExp, Period: 5},
	} {
		t.Run(cfg.Type, func(t *testing.T) {
			g, err := NewGauge(cfg)
			if err != nil {
				t.Fatal(err)
			}
			bars := zigzag(20)
			for _, b := range bars[:12] {
				g.Update(b.high, b.low, b.close)
			}

			snap := g.(Snapshottable).Snapshot()

			// Snapshots travel as JSON through Redis and SQLite
			data, err := json.Marshal(snap)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var decoded GaugeSnapshot
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			g2, err := RestoreGauge(decoded)
			if err != nil {
				t.Fatalf("restore failed: %v", err)
			}
			if g.Value() != g2.Value() {
				t.Errorf("value mismatch: source=%.6f restored=%.6f", g.Value(), g2.Value())
			}
			if g.Ready() != g2.Ready() {
				t.Errorf("ready mismatch: source=%v restored=%v", g.Ready(), g2.Ready())
			}

			for _, b := range bars[12:] {
				g.Update(b.high, b.low, b.close)
				g2.Update(b.high, b.low, b.close)
				if math.Abs(g.Value()-g2.Value()) > 1e-10 {
					t.Errorf("post-restore divergence: source=%.6f restored=%.6f", g.Value(), g2.Value())
				}
			}
		})
	}
}

func TestSnapshot_TypeMismatch(t *testing.T) {
	g := NewSimpleATR(5)
	snap := NewWilderATR(5).Snapshot()
	if err := g.RestoreFromSnapshot(snap); err == nil {
		t.Error("expected error restoring WILDER snapshot into SIMPLE gauge")
	}
}

func TestSnapshot_BadPeriod(t *testing.T) {
	if _, err := RestoreGauge(GaugeSnapshot{Type: TypeExp, Period: 0}); err == nil {
		t.Error("expected error for zero period")
	}
}
