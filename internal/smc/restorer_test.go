package smc

import (
	"errors"
	"testing"

	"smc-engine/internal/model"
)

type fakeBarSource struct {
	bars map[int][]model.Bar
	err  error
}

func (f *fakeBarSource) ReadAllBars(tf int, afterTS int64) ([]model.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Bar
	for _, b := range f.bars[tf] {
		if b.TS.UnixNano() > afterTS {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestRestorer_NilSnapshotColdStarts(t *testing.T) {
	r := NewRestorer([]TFConfig{{TF: 60, Config: DefaultConfig()}})
	e, err := r.RestoreFromSnap(nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.DetectorCount() != 0 {
		t.Fatalf("expected empty engine, got %d detectors", e.DetectorCount())
	}
}

func TestRestorer_VersionMismatchColdStarts(t *testing.T) {
	r := NewRestorer([]TFConfig{{TF: 60, Config: DefaultConfig()}})
	e, err := r.RestoreFromSnap(&EngineSnapshot{Version: 99, Tokens: []TokenSnapshot{{Token: "A", TF: 60}}})
	if err != nil {
		t.Fatal(err)
	}
	if e.DetectorCount() != 0 {
		t.Fatalf("expected cold engine, got %d detectors", e.DetectorCount())
	}
}

func TestRestorer_ReplaySkipsForming(t *testing.T) {
	r := NewRestorer([]TFConfig{{TF: 60, Config: DefaultConfig()}})
	e, _ := r.RestoreFromSnap(nil)

	bars := []model.Bar{engineBar("A", 60, 0, 10), engineBar("A", 60, 1, 11), engineBar("A", 60, 2, 12)}
	bars[2].Forming = true
	if n := r.ReplayBars(e, bars); n != 2 {
		t.Fatalf("expected 2 replayed, got %d", n)
	}
}

func TestRestorer_BackfillLastPerKey(t *testing.T) {
	var tf60 []model.Bar
	for i, p := range rampPrices() {
		tf60 = append(tf60, engineBar("A", 60, i, p), engineBar("B", 60, i, p))
	}
	src := &fakeBarSource{bars: map[int][]model.Bar{60: tf60}}

	r := NewRestorer([]TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 5}}})
	e, _ := r.RestoreFromSnap(nil)

	updates := 0
	n := r.BackfillFromSQLite(e, src, 0, 20, func(*model.BlockUpdate) { updates++ })
	if n != 40 || updates != 40 {
		t.Fatalf("expected 40 bars fed and published, got %d/%d", n, updates)
	}
	for _, key := range []string{"NSE:A", "NSE:B"} {
		d, ok := e.Detector(60, key)
		if !ok || d.BarCount() != 20 {
			t.Fatalf("%s: expected the newest 20 bars, got %v", key, d)
		}
	}
}

func TestRestorer_BackfillReadError(t *testing.T) {
	r := NewRestorer([]TFConfig{{TF: 60, Config: DefaultConfig()}})
	e, _ := r.RestoreFromSnap(nil)
	if n := r.BackfillFromSQLite(e, &fakeBarSource{err: errors.New("disk gone")}, 0, 100, nil); n != 0 {
		t.Fatalf("expected 0 on read error, got %d", n)
	}
	if n := r.BackfillFromSQLite(e, nil, 0, 100, nil); n != 0 {
		t.Fatalf("expected 0 without a reader, got %d", n)
	}
}
