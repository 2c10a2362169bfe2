package engine

import "sync/atomic"

// Sequence hands out strictly increasing node ids. It is safe for concurrent
// use; persistence seeds it with the highest id already stored.
type Sequence struct {
	n atomic.Int64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt starts the sequence after start.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.n.Store(start)
	return s
}

func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

func (s *Sequence) Current() int64 {
	return s.n.Load()
}

// Observe raises the sequence to at least id.
func (s *Sequence) Observe(id int64) {
	for {
		cur := s.n.Load()
		if id <= cur || s.n.CompareAndSwap(cur, id) {
			return
		}
	}
}
