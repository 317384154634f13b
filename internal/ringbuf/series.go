package ringbuf

// Series is an append-only sequence addressed by absolute index (0 for the
// first value ever pushed). Unbounded series keep everything. Bounded series
// keep the most recent Cap() values; older indices become unavailable.
//
// Not safe for concurrent use.
type Series[T any] struct {
	buf   []T
	mask  int
	first int // absolute index of the oldest retained value
	n     int // total values pushed
	bound bool
}

// NewSeries creates a series. capacity <= 0 means unbounded; otherwise it is
// rounded up to the next power of two.
func NewSeries[T any](capacity int) *Series[T] {
	if capacity <= 0 {
		return &Series[T]{}
	}
	size := nextPow2(capacity)
	return &Series[T]{
		buf:   make([]T, size),
		mask:  size - 1,
		bound: true,
	}
}

// Push appends v and returns its absolute index.
func (s *Series[T]) Push(v T) int {
	idx := s.n
	if s.bound {
		s.buf[idx&s.mask] = v
		if s.n-s.first >= len(s.buf) {
			s.first++
		}
	} else {
		s.buf = append(s.buf, v)
	}
	s.n++
	return idx
}

// At returns the value at absolute index i. ok is false when i was never
// pushed or has been evicted.
func (s *Series[T]) At(i int) (T, bool) {
	if i < s.first || i >= s.n {
		var zero T
		return zero, false
	}
	if s.bound {
		return s.buf[i&s.mask], true
	}
	return s.buf[i-s.first], true
}

// Len returns the total number of values pushed, including evicted ones.
func (s *Series[T]) Len() int { return s.n }

// First returns the absolute index of the oldest retained value.
func (s *Series[T]) First() int { return s.first }

// Cap returns the retention bound, 0 when unbounded.
func (s *Series[T]) Cap() int {
	if !s.bound {
		return 0
	}
	return len(s.buf)
}

// Bounded reports whether old values are evicted.
func (s *Series[T]) Bounded() bool { return s.bound }

// Values returns a copy of the retained values, oldest first.
func (s *Series[T]) Values() []T {
	out := make([]T, 0, s.n-s.first)
	for i := s.first; i < s.n; i++ {
		v, _ := s.At(i)
		out = append(out, v)
	}
	return out
}

// Reset drops all values and restarts indexing at 0.
func (s *Series[T]) Reset() {
	s.first = 0
	s.n = 0
	if s.bound {
		var zero T
		for i := range s.buf {
			s.buf[i] = zero
		}
		return
	}
	s.buf = s.buf[:0]
}

// Restore replaces the contents with vals, the first of which sits at
// absolute index first. A bounded series keeps only the newest Cap() of them.
func (s *Series[T]) Restore(first int, vals []T) {
	s.Reset()
	if first < 0 {
		first = 0
	}
	if !s.bound {
		s.first = first
		s.n = first
		s.buf = append(s.buf, vals...)
		s.n += len(vals)
		return
	}
	if extra := len(vals) - len(s.buf); extra > 0 {
		first += extra
		vals = vals[extra:]
	}
	s.first = first
	s.n = first
	for _, v := range vals {
		s.buf[s.n&s.mask] = v
		s.n++
	}
}
