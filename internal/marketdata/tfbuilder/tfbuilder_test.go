package tfbuilder

import (
	"testing"
	"time"

	"smc-engine/internal/model"
)

// makeBar creates a closed base bar at the given Unix second.
func makeBar(token string, tf int, unixSec int64, open, high, low, close_, vol float64) model.Bar {
	return model.Bar{
		Token:    token,
		Exchange: "NSE",
		TF:       tf,
		TS:       time.Unix(unixSec, 0).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close_,
		Volume:   vol,
	}
}

type collector struct {
	bars []model.Bar
}

func (c *collector) emit(b model.Bar) { c.bars = append(c.bars, b) }

func (c *collector) closed() []model.Bar {
	var out []model.Bar
	for _, b := range c.bars {
		if !b.Forming {
			out = append(out, b)
		}
	}
	return out
}

func alignedBase(tf int64) int64 {
	base := int64(1700000000)
	return base - base%tf
}

func TestBuilder_FiveMinuteFromOneMinute(t *testing.T) {
	b := New([]int{300})
	var out collector
	base := alignedBase(300)

	for i := int64(0); i < 5; i++ {
		f := float64(i)
		b.Process(makeBar("SBIN", 60, base+i*60, 500+f, 510+f, 490+f, 505+f, 100), out.emit)
	}
	if len(out.bars) != 0 {
		t.Fatalf("expected no output before bucket close, got %d bars", len(out.bars))
	}

	// Next bucket closes the first
	b.Process(makeBar("SBIN", 60, base+300, 600, 610, 590, 605, 100), out.emit)

	closed := out.closed()
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed bar, got %d", len(closed))
	}
	c := closed[0]
	if c.TF != 300 || c.Token != "SBIN" {
		t.Errorf("expected TF=300 SBIN, got TF=%d %s", c.TF, c.Token)
	}
	if !c.TS.Equal(time.Unix(base, 0)) {
		t.Errorf("expected ts=%d, got %v", base, c.TS)
	}
	if c.Open != 500 || c.High != 514 || c.Low != 490 || c.Close != 509 {
		t.Errorf("unexpected OHLC: %+v", c)
	}
	if c.Volume != 500 {
		t.Errorf("expected volume=500, got %v", c.Volume)
	}
}

func TestBuilder_PassThroughAndSkip(t *testing.T) {
	b := New([]int{60, 90, 120, 30})
	var out collector
	base := alignedBase(120)

	in := makeBar("TCS", 60, base, 1, 2, 0.5, 1.5, 10)
	b.Process(in, out.emit)

	if len(out.bars) != 1 {
		t.Fatalf("expected only the pass-through bar, got %d", len(out.bars))
	}
	if out.bars[0] != in {
		t.Errorf("pass-through bar changed: %+v", out.bars[0])
	}

	out.bars = nil
	b.Flush(out.emit)
	if len(out.bars) != 1 || out.bars[0].TF != 120 {
		t.Fatalf("expected one flushed TF=120 bar, got %+v", out.bars)
	}
}

func TestBuilder_EmitForming(t *testing.T) {
	b := New([]int{180})
	b.EmitForming = true
	var out collector
	base := alignedBase(180)

	b.Process(makeBar("INFY", 60, base, 10, 11, 9, 10.5, 1), out.emit)
	b.Process(makeBar("INFY", 60, base+60, 10.5, 12, 10, 11.5, 1), out.emit)

	if len(out.bars) != 2 {
		t.Fatalf("expected 2 forming snapshots, got %d", len(out.bars))
	}
	last := out.bars[1]
	if !last.Forming || last.High != 12 || last.Close != 11.5 || last.Volume != 2 {
		t.Errorf("unexpected forming snapshot: %+v", last)
	}
	if out.bars[0].High != 11 {
		t.Errorf("first snapshot mutated by later merge: %+v", out.bars[0])
	}
}

func TestBuilder_StaleBarRejected(t *testing.T) {
	b := New([]int{120})
	var out collector
	base := alignedBase(120)

	var stale []int
	b.OnStale = func(_ model.Bar, tf int) { stale = append(stale, tf) }

	b.Process(makeBar("NIFTY", 60, base, 100, 110, 90, 105, 1), out.emit)
	b.Process(makeBar("NIFTY", 60, base+120, 200, 210, 190, 205, 1), out.emit)
	b.Process(makeBar("NIFTY", 60, base+60, 50, 60, 40, 55, 1), out.emit)

	if len(stale) != 1 || stale[0] != 120 {
		t.Errorf("expected one stale rejection on TF=120, got %v", stale)
	}

	out.bars = nil
	b.Flush(out.emit)
	if len(out.bars) != 1 {
		t.Fatalf("expected 1 flushed bar, got %d", len(out.bars))
	}
	if out.bars[0].Low != 190 {
		t.Errorf("stale bar merged into forming bucket: %+v", out.bars[0])
	}
}

func TestBuilder_TokensIndependent(t *testing.T) {
	b := New([]int{120})
	var out collector
	base := alignedBase(120)

	b.Process(makeBar("A", 60, base, 1, 1, 1, 1, 1), out.emit)
	b.Process(makeBar("B", 60, base, 2, 2, 2, 2, 1), out.emit)
	b.Process(makeBar("A", 60, base+120, 3, 3, 3, 3, 1), out.emit)

	closed := out.closed()
	if len(closed) != 1 || closed[0].Token != "A" {
		t.Fatalf("expected only A closed, got %+v", closed)
	}

	out.bars = nil
	b.Flush(out.emit)
	if len(out.bars) != 2 || out.bars[0].Token != "A" || out.bars[1].Token != "B" {
		t.Errorf("expected flush of A then B, got %+v", out.bars)
	}
	for _, bar := range out.bars {
		if bar.Forming {
			t.Errorf("flushed bar still forming: %+v", bar)
		}
	}
}

func TestBuilder_IgnoresFormingInput(t *testing.T) {
	b := New([]int{60})
	var out collector
	in := makeBar("A", 60, alignedBase(60), 1, 1, 1, 1, 1)
	in.Forming = true
	b.Process(in, out.emit)
	if len(out.bars) != 0 {
		t.Errorf("forming input should be ignored, got %d bars", len(out.bars))
	}
}
