package ringbuf

import (
	"sync"
	"testing"
	"time"

	"smc-engine/internal/model"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := NewRing[model.Bar](4) // rounds to 4

	b1 := model.Bar{Token: "A", Open: 100}
	b2 := model.Bar{Token: "B", Open: 200}

	if !r.Push(b1) {
		t.Fatal("push b1 should succeed")
	}
	if !r.Push(b2) {
		t.Fatal("push b2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Token != "A" {
		t.Fatalf("expected A, got %v ok=%v", got.Token, ok)
	}

	got, ok = r.Pop()
	if !ok || got.Token != "B" {
		t.Fatalf("expected B, got %v ok=%v", got.Token, ok)
	}

	_, ok = r.Pop()
	if ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := NewRing[model.Bar](2)

	r.Push(model.Bar{Token: "1"})
	r.Push(model.Bar{Token: "2"})

	// Buffer is full
	ok := r.Push(model.Bar{Token: "3"})
	if ok {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := NewRing[model.Bar](4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.Bar{Token: "X", Open: float64(round*10 + i)}) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			b, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if b.Open != float64(round*10+i) {
				t.Fatalf("round %d pop %d: expected open=%d, got %.0f", round, i, round*10+i, b.Open)
			}
		}
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := NewRing[int](1024)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(i) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	// Consumer
	received := make([]int, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			v, ok := r.Pop()
			if ok {
				received = append(received, v)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	for i, v := range received {
		if v != i {
			t.Fatalf("at index %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
