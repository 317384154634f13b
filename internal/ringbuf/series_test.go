package ringbuf

import "testing"

func TestSeries_Unbounded(t *testing.T) {
	s := NewSeries[float64](0)
	for i := 0; i < 100; i++ {
		if idx := s.Push(float64(i)); idx != i {
			t.Fatalf("expected index %d, got %d", i, idx)
		}
	}
	if s.Len() != 100 || s.First() != 0 || s.Bounded() {
		t.Fatalf("unexpected shape len=%d first=%d bounded=%v", s.Len(), s.First(), s.Bounded())
	}
	v, ok := s.At(42)
	if !ok || v != 42 {
		t.Fatalf("At(42) = %.0f, %v", v, ok)
	}
	if _, ok := s.At(100); ok {
		t.Fatal("At(100) should be out of range")
	}
}

func TestSeries_BoundedEvicts(t *testing.T) {
	s := NewSeries[int](3) // rounds to 4
	if s.Cap() != 4 {
		t.Fatalf("expected cap=4, got %d", s.Cap())
	}
	for i := 0; i < 10; i++ {
		s.Push(i)
	}
	if s.Len() != 10 {
		t.Fatalf("expected len=10, got %d", s.Len())
	}
	if s.First() != 6 {
		t.Fatalf("expected first=6, got %d", s.First())
	}
	if _, ok := s.At(5); ok {
		t.Fatal("index 5 should be evicted")
	}
	for i := 6; i < 10; i++ {
		v, ok := s.At(i)
		if !ok || v != i {
			t.Fatalf("At(%d) = %d, %v", i, v, ok)
		}
	}
	vals := s.Values()
	if len(vals) != 4 || vals[0] != 6 || vals[3] != 9 {
		t.Fatalf("unexpected values %v", vals)
	}
}

func TestSeries_Reset(t *testing.T) {
	for _, capacity := range []int{0, 8} {
		s := NewSeries[int](capacity)
		for i := 0; i < 20; i++ {
			s.Push(i)
		}
		s.Reset()
		if s.Len() != 0 || s.First() != 0 {
			t.Fatalf("cap=%d: reset left len=%d first=%d", capacity, s.Len(), s.First())
		}
		if idx := s.Push(7); idx != 0 {
			t.Fatalf("cap=%d: expected index 0 after reset, got %d", capacity, idx)
		}
	}
}

func TestSeries_Restore(t *testing.T) {
	s := NewSeries[int](0)
	s.Restore(10, []int{10, 11, 12})
	if s.First() != 10 || s.Len() != 13 {
		t.Fatalf("unexpected shape first=%d len=%d", s.First(), s.Len())
	}
	if v, ok := s.At(11); !ok || v != 11 {
		t.Fatalf("At(11) = %d, %v", v, ok)
	}
	if idx := s.Push(13); idx != 13 {
		t.Fatalf("expected index 13, got %d", idx)
	}

	b := NewSeries[int](2)
	b.Restore(0, []int{0, 1, 2, 3, 4})
	if b.First() != 3 || b.Len() != 5 {
		t.Fatalf("bounded restore: first=%d len=%d", b.First(), b.Len())
	}
	if v, ok := b.At(4); !ok || v != 4 {
		t.Fatalf("At(4) = %d, %v", v, ok)
	}
}
