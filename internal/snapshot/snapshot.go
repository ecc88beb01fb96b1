// Package snapshot provides a derived slice that is rebuilt lazily from
// a versioned source of truth.
//
// The owner bumps a generation counter whenever the source changes,
// which is cheap. Consumers call Stale before use and Rebuild only when
// the generation they built from is out of date. Capacity grows by
// doubling and is never released, so steady-state use allocates nothing.
package snapshot

// Slice is a cached, generation-tagged slice. The zero value is stale
// for every generation. Slice does no locking.
type Slice[T any] struct {
	items []T
	gen   uint64
	built bool
}

// Stale reports whether s was built from a generation other than gen.
func (s *Slice[T]) Stale(gen uint64) bool {
	return !s.built || s.gen != gen
}

// Rebuild resizes s to n elements, growing capacity by doubling if
// needed, lets fill populate them and records gen as the generation s
// was built from.
func (s *Slice[T]) Rebuild(gen uint64, n int, fill func(dst []T)) {
	if n > cap(s.items) {
		c := max(cap(s.items), 1)
		for c < n {
			c *= 2
		}
		s.items = make([]T, n, c)
	} else {
		s.items = s.items[:n]
	}
	fill(s.items)
	s.gen = gen
	s.built = true
}

// Items returns the current contents. The slice is overwritten by the
// next Rebuild.
func (s *Slice[T]) Items() []T {
	return s.items
}

// Generation returns the generation s was last built from.
func (s *Slice[T]) Generation() uint64 {
	return s.gen
}

// Cap returns the capacity of the backing array.
func (s *Slice[T]) Cap() int {
	return cap(s.items)
}
