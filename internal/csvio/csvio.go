// Package csvio reads bar CSV files for backtests and writes bar and order
// block exports for charting.
package csvio

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"smc-engine/internal/model"

	"github.com/gocarina/gocsv"
)

// Timestamp is a CSV time cell. It reads RFC3339, "2006-01-02 15:04:05" (UTC)
// or unix integers in seconds, milliseconds, microseconds or nanoseconds,
// and writes RFC3339Nano.
type Timestamp struct {
	time.Time
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (ts Timestamp) MarshalCSV() (string, error) {
	return ts.UTC().Format(time.RFC3339Nano), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (ts *Timestamp) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		ts.Time = fromUnix(n, len(strings.TrimPrefix(s, "-")))
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("csvio: unrecognised timestamp %q", s)
}

func fromUnix(n int64, digits int) time.Time {
	switch {
	case digits >= 19:
		return time.Unix(0, n).UTC()
	case digits >= 16:
		return time.UnixMicro(n).UTC()
	case digits >= 13:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

// BarRow is one line of bars.csv.
type BarRow struct {
	TSEvent Timestamp `csv:"ts_event"`
	Open    float64   `csv:"open"`
	High    float64   `csv:"high"`
	Low     float64   `csv:"low"`
	Close   float64   `csv:"close"`
	Volume  float64   `csv:"volume"`
}

// BlockRow is one line of ob.csv.
type BlockRow struct {
	Low     float64   `csv:"low"`
	High    float64   `csv:"high"`
	TSEvent Timestamp `csv:"ts_event"`
	Type    string    `csv:"OrderBlockType"`
}

// ReadBars parses bar rows and stamps them with the instrument and TF.
// Rows keep file order.
func ReadBars(r io.Reader, exchange, token string, tf int) ([]model.Bar, error) {
	var rows []*BarRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("csvio: read bars: %w", err)
	}
	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, model.Bar{
			Token:    token,
			Exchange: exchange,
			TF:       tf,
			TS:       row.TSEvent.Time,
			Open:     row.Open,
			High:     row.High,
			Low:      row.Low,
			Close:    row.Close,
			Volume:   row.Volume,
		})
	}
	return bars, nil
}

// ReadBarsFile is ReadBars on a file path.
func ReadBarsFile(path, exchange, token string, tf int) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvio: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadBars(f, exchange, token, tf)
}

// WriteBars writes bars in bars.csv layout.
func WriteBars(w io.Writer, bars []model.Bar) error {
	rows := make([]*BarRow, len(bars))
	for i := range bars {
		b := &bars[i]
		rows[i] = &BarRow{
			TSEvent: Timestamp{b.TS},
			Open:    b.Open,
			High:    b.High,
			Low:     b.Low,
			Close:   b.Close,
			Volume:  b.Volume,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("csvio: write bars: %w", err)
	}
	return nil
}

// WriteBlocks writes order blocks in ob.csv layout.
func WriteBlocks(w io.Writer, blocks []model.OrderBlock) error {
	rows := make([]*BlockRow, len(blocks))
	for i, ob := range blocks {
		rows[i] = &BlockRow{
			Low:     ob.Low,
			High:    ob.High,
			TSEvent: Timestamp{ob.TS},
			Type:    string(ob.Side),
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("csvio: write blocks: %w", err)
	}
	return nil
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csvio: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
