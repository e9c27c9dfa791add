package sampler

import (
	"github.com/cinar/indicator"

	"github.com/selivandex/instrument/pkg/models"
)

// Average selects the moving average kind
type Average string

const (
	SMA Average = "sma"
	EMA Average = "ema"
)

// MovingAverage smooths a noisy metric (e.g. per-step loss). Once period
// values have been seen every observation stores the current average.
type MovingAverage struct {
	period int
	kind   Average
	// history keeps enough values for the EMA to settle
	history []float64
}

// NewMovingAverage creates a smoothing sampler; period < 1 is treated as 1
func NewMovingAverage(period int, kind Average) *MovingAverage {
	if period < 1 {
		period = 1
	}
	return &MovingAverage{period: period, kind: kind}
}

func (m *MovingAverage) Next(v any) (any, bool) {
	f, err := models.Float64(v)
	if err != nil {
		return nil, false
	}

	m.history = append(m.history, f)
	if limit := 4 * m.period; len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
	if len(m.history) < m.period {
		return nil, false
	}

	var series []float64
	if m.kind == EMA {
		series = indicator.Ema(m.period, m.history)
	} else {
		series = indicator.Sma(m.period, m.history)
	}
	if len(series) == 0 {
		return nil, false
	}
	return series[len(series)-1], true
}

func (m *MovingAverage) NextEval(fn func() any) (any, bool) {
	return m.Next(fn())
}

// End clears the history so the next window is smoothed independently
func (m *MovingAverage) End() (any, bool) {
	m.history = m.history[:0]
	return nil, false
}
