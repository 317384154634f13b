package gateway

import "testing"

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)

	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if want := int64(i) + 3; e.Seq != want {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, want)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(4)

	// Push 7 entries; the first 3 are evicted
	for i := int64(1); i <= 7; i++ {
		rb.Push(i, []byte("msg"))
	}

	if rb.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", rb.Len())
	}

	got := rb.Range(1, 10)
	if len(got) != 4 {
		t.Fatalf("Range(1,10): expected 4, got %d", len(got))
	}
	if got[0].Seq != 4 || got[3].Seq != 7 {
		t.Errorf("expected seqs 4..7, got %d..%d", got[0].Seq, got[3].Seq)
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(4)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'

	if got := rb.Range(1, 1); string(got[0].Data) != "abc" {
		t.Errorf("expected stored copy 'abc', got %q", got[0].Data)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.Range(1, 100); len(got) != 0 {
		t.Fatalf("empty buffer Range should return 0, got %d", len(got))
	}
}
