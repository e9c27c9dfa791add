package sampler

// Subsample keeps every n-th value and skips the rest. Skipped lazy values
// are never computed.
type Subsample struct {
	every int
	i     int
}

// NewSubsample keeps one value out of every n. n <= 1 keeps everything.
func NewSubsample(every int) *Subsample {
	if every < 1 {
		every = 1
	}
	return &Subsample{every: every}
}

func (s *Subsample) keep() bool {
	keep := s.i%s.every == 0
	s.i++
	return keep
}

func (s *Subsample) Next(v any) (any, bool) {
	if !s.keep() {
		return nil, false
	}
	return v, true
}

func (s *Subsample) NextEval(fn func() any) (any, bool) {
	if !s.keep() {
		return nil, false
	}
	return fn(), true
}

// End resets the phase so the next window starts with a kept value
func (s *Subsample) End() (any, bool) {
	s.i = 0
	return nil, false
}
