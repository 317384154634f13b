package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"smc-engine/internal/model"
)

var baseTS = time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

func bar(token string, tf int, minute int) model.Bar {
	return model.Bar{
		Token:    token,
		Exchange: "NSE",
		TF:       tf,
		TS:       baseTS.Add(time.Duration(minute) * time.Minute),
		Close:    float64(minute),
		Forming:  true,
	}
}

type failingSource struct{}

func (failingSource) ReadAllBars(int, int64) ([]model.Bar, error) {
	return nil, errors.New("db locked")
}

func TestRun_OrdersAcrossTFs(t *testing.T) {
	src := StaticSource{
		bar("A", 60, 0), bar("A", 60, 1), bar("A", 60, 2), bar("A", 60, 3), bar("A", 60, 4),
		bar("A", 300, 0),
		bar("B", 60, 2),
		bar("A", 120, 0), // not requested
	}
	out := make(chan model.Bar, 16)

	n, err := New(src).Run(context.Background(), []int{300, 60}, 0, 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 bars, got %d", n)
	}
	close(out)

	var got []model.Bar
	for b := range out {
		got = append(got, b)
	}
	for i := 1; i < len(got); i++ {
		if got[i].TS.Before(got[i-1].TS) {
			t.Fatalf("bar %d out of order: %v before %v", i, got[i].TS, got[i-1].TS)
		}
	}
	// Equal timestamps keep source order: TF 300 was read first
	if got[0].TF != 300 || got[1].TF != 60 {
		t.Errorf("expected tf 300 then 60 at the first timestamp, got %d, %d", got[0].TF, got[1].TF)
	}
	for _, b := range got {
		if b.Forming {
			t.Fatal("replayed bars must be closed")
		}
	}
}

func TestRun_FromTS(t *testing.T) {
	src := StaticSource{bar("A", 60, 0), bar("A", 60, 1), bar("A", 60, 2)}
	out := make(chan model.Bar, 4)

	n, err := New(src).Run(context.Background(), []int{60}, baseTS.Add(time.Minute).UnixNano(), 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 bar after fromTS, got %d", n)
	}
	if b := <-out; b.Close != 2 {
		t.Errorf("expected the bar at minute 2, got %+v", b)
	}
}

func TestRun_SourceError(t *testing.T) {
	out := make(chan model.Bar, 1)
	if _, err := New(failingSource{}).Run(context.Background(), []int{60}, 0, 0, out); err == nil {
		t.Fatal("expected source error")
	}
}

func TestRun_Cancelled(t *testing.T) {
	src := StaticSource{bar("A", 60, 0), bar("A", 60, 1)}
	out := make(chan model.Bar) // unbuffered, never read
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := New(src).Run(ctx, []int{60}, 0, 0, out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing emitted, got %d", n)
	}
}

func TestRun_Empty(t *testing.T) {
	n, err := New(StaticSource{}).Run(context.Background(), []int{60}, 0, 1, make(chan model.Bar))
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}
