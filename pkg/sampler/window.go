package sampler

import (
	"math"

	"github.com/selivandex/instrument/pkg/models"
)

// Reduction folds a full window into one stored value
type Reduction string

const (
	Mean Reduction = "mean"
	Sum  Reduction = "sum"
	Min  Reduction = "min"
	Max  Reduction = "max"
	Last Reduction = "last"
)

// Window accumulates size numeric values and stores their reduction once
// the window is full. End stores the reduction of a partial window.
type Window struct {
	size   int
	reduce Reduction
	values []float64
}

// NewWindow creates a windowed sampler; size < 1 is treated as 1
func NewWindow(size int, reduce Reduction) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{size: size, reduce: reduce, values: make([]float64, 0, size)}
}

func (w *Window) Next(v any) (any, bool) {
	f, err := models.Float64(v)
	if err != nil {
		return nil, false
	}

	w.values = append(w.values, f)
	if len(w.values) < w.size {
		return nil, false
	}
	return w.flush()
}

func (w *Window) NextEval(fn func() any) (any, bool) {
	return w.Next(fn())
}

func (w *Window) End() (any, bool) {
	if len(w.values) == 0 {
		return nil, false
	}
	return w.flush()
}

func (w *Window) flush() (any, bool) {
	out := reduce(w.reduce, w.values)
	w.values = w.values[:0]
	return out, true
}

func reduce(r Reduction, values []float64) float64 {
	switch r {
	case Sum:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total
	case Min:
		out := math.Inf(1)
		for _, v := range values {
			out = math.Min(out, v)
		}
		return out
	case Max:
		out := math.Inf(-1)
		for _, v := range values {
			out = math.Max(out, v)
		}
		return out
	case Last:
		return values[len(values)-1]
	default:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	}
}
