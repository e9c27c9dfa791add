// Package sampler decides which raw observations of a metric are persisted.
//
// A Sampler sees every value reported for its metric. It may pass it through,
// drop it, or accumulate it and emit a reduced value later. Returning false
// from Next suppresses the write entirely.
package sampler

// Sampler transforms the stream of values reported for one metric
type Sampler interface {
	// Next consumes a value and returns what to store, if anything
	Next(v any) (any, bool)
	// NextEval is Next for lazily computed values. Samplers that will not
	// keep this observation must not call fn.
	NextEval(fn func() any) (any, bool)
	// End flushes the value of a partially filled window, if any
	End() (any, bool)
}

// Identity stores every value unchanged. It is stateless.
type Identity struct{}

func (Identity) Next(v any) (any, bool) { return v, true }

func (Identity) NextEval(fn func() any) (any, bool) { return fn(), true }

func (Identity) End() (any, bool) { return nil, false }

// Ignore marks a metric whose values are never stored. The Collector checks
// for it before consulting any sampler.
type Ignore struct{}

func (Ignore) Next(any) (any, bool) { return nil, false }

func (Ignore) NextEval(func() any) (any, bool) { return nil, false }

func (Ignore) End() (any, bool) { return nil, false }

// IsIgnore reports whether s is the Ignore marker
func IsIgnore(s Sampler) bool {
	switch s.(type) {
	case Ignore, *Ignore:
		return true
	default:
		return false
	}
}
