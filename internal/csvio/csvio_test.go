package csvio

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"smc-engine/internal/model"
)

func TestReadBars(t *testing.T) {
	in := `ts_event,open,high,low,close,volume
2024-01-02T09:15:00Z,100,101,99,100.5,1200
2024-01-02 09:16:00,100.5,102,100,101.5,900
1704187020,101.5,103,101,102,1500
1704187080000,102,102.5,100.5,101,800
`
	bars, err := ReadBars(strings.NewReader(in), "NSE", "26000", 60)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("expected 4 bars, got %d", len(bars))
	}

	base := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)
	for i, b := range bars {
		if want := base.Add(time.Duration(i) * time.Minute); !b.TS.Equal(want) {
			t.Errorf("bar %d: expected ts %v, got %v", i, want, b.TS)
		}
		if b.Token != "26000" || b.Exchange != "NSE" || b.TF != 60 {
			t.Errorf("bar %d: instrument not stamped: %+v", i, b)
		}
	}
	if bars[2].High != 103 || bars[2].Low != 101 || bars[2].Close != 102 || bars[2].Volume != 1500 {
		t.Errorf("unexpected OHLCV on bar 2: %+v", bars[2])
	}
}

func TestReadBars_BadTimestamp(t *testing.T) {
	in := "ts_event,open,high,low,close,volume\nyesterday,1,1,1,1,1\n"
	if _, err := ReadBars(strings.NewReader(in), "NSE", "26000", 60); err == nil {
		t.Fatal("expected an error for an unparseable timestamp")
	}
}

func TestTimestamp_UnixPrecision(t *testing.T) {
	want := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)
	cases := []string{
		"1704186900",
		"1704186900000",
		"1704186900000000",
		"1704186900000000000",
	}
	for _, c := range cases {
		var ts Timestamp
		if err := ts.UnmarshalCSV(c); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if !ts.Equal(want) {
			t.Errorf("%s: expected %v, got %v", c, want, ts.Time)
		}
	}
}

func TestWriteBlocks(t *testing.T) {
	blocks := []model.OrderBlock{
		{Low: 4.5, High: 5.5, TS: time.Date(2024, 1, 2, 9, 39, 0, 0, time.UTC), Side: model.SideBuy},
		{Low: 19.5, High: 20.5, TS: time.Date(2024, 1, 2, 9, 44, 0, 0, time.UTC), Side: model.SideSell},
	}

	var buf bytes.Buffer
	if err := WriteBlocks(&buf, blocks); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "low,high,ts_event,OrderBlockType" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[1] != "4.5,5.5,2024-01-02T09:39:00Z,BUY" {
		t.Errorf("unexpected row %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",SELL") {
		t.Errorf("expected SELL row, got %q", lines[2])
	}
}

func TestWriteBarsFile(t *testing.T) {
	bars := []model.Bar{
		{TS: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{TS: time.Date(2024, 1, 2, 9, 16, 0, 0, time.UTC), Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 20},
	}
	path := filepath.Join(t.TempDir(), "bars.csv")

	err := WriteFile(path, func(w io.Writer) error { return WriteBars(w, bars) })
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadBarsFile(path, "NSE", "26000", 60)
	if err != nil {
		t.Fatalf("ReadBarsFile: %v", err)
	}
	if len(got) != 2 || !got[1].TS.Equal(bars[1].TS) || got[1].High != 3 {
		t.Errorf("unexpected bars %+v", got)
	}
}

func TestReadBarsFile_Missing(t *testing.T) {
	if _, err := ReadBarsFile(filepath.Join(t.TempDir(), "nope.csv"), "NSE", "1", 60); err == nil {
		t.Fatal("expected error for missing file")
	}
}
