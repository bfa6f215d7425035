package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateImage(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	// 500KB image: ~666.7 image tokens + 200 context at $3/MTok,
	// 50 output tokens at $15/MTok.
	got := calc.EstimateImage(500 * 1024)
	imageTokens := float64(500*1024) / (0.75 * 1024)
	want := ((imageTokens+200)/1e6)*3.00 + (50.0/1e6)*15.00
	assert.InDelta(t, want, got, 1e-9)

	// Zero bytes still carries the fixed context/output overhead.
	assert.Greater(t, calc.EstimateImage(0), 0.0)
}

func TestEstimateBatch(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	sizes := []int64{100 * 1024, 200 * 1024, 300 * 1024}

	var want float64
	for _, s := range sizes {
		want += calc.EstimateImage(s)
	}
	assert.InDelta(t, want, calc.EstimateBatch(sizes), 1e-9)
	assert.Zero(t, calc.EstimateBatch(nil))
}

func TestActual(t *testing.T) {
	calc := NewCalculator(Rates{InputPerMTok: 3.00, OutputPerMTok: 15.00})
	assert.InDelta(t, 3.00+1.50, calc.Actual(1_000_000, 100_000), 1e-9)
	assert.Zero(t, calc.Actual(0, 0))
}

func TestLedger_ReserveAndSettle(t *testing.T) {
	l := NewLedger(1.00)

	require.NoError(t, l.Reserve("b1", 0.40))
	assert.InDelta(t, 0.40, l.Total(), 1e-9)

	// Actual replaces the estimate, not adds to it.
	l.Settle("b1", 0.25)
	assert.InDelta(t, 0.25, l.Total(), 1e-9)
}

func TestLedger_CeilingBlocksNextBatch(t *testing.T) {
	l := NewLedger(1.00)

	require.NoError(t, l.Reserve("b1", 0.60))
	err := l.Reserve("b2", 0.50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCeilingExceeded)

	// The refused batch leaves the total untouched.
	assert.InDelta(t, 0.60, l.Total(), 1e-9)
}

func TestLedger_ZeroCeilingUnlimited(t *testing.T) {
	l := NewLedger(0)
	require.NoError(t, l.Reserve("b1", 1000))
	require.NoError(t, l.Reserve("b2", 1000))
}

func TestLedger_Release(t *testing.T) {
	l := NewLedger(1.00)
	require.NoError(t, l.Reserve("b1", 0.70))
	l.Release("b1")
	assert.Zero(t, l.Total())
	require.NoError(t, l.Reserve("b2", 0.90))
}

func TestLedger_ResumeCountsPriorSpend(t *testing.T) {
	l := NewLedger(1.00)
	l.Resume(0.80)

	err := l.Reserve("b1", 0.30)
	assert.ErrorIs(t, err, ErrCeilingExceeded)
	require.NoError(t, l.Reserve("b2", 0.15))
}
