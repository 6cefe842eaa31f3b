package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/queuepulse/queuepulse/internal/provider"
)

func window(invocations int64, totalDurationMs float64) *provider.MetricWindow {
	end := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	return &provider.MetricWindow{
		FunctionID:      "ingest-fn",
		WindowStart:     end.Add(-5 * time.Minute),
		WindowEnd:       end,
		Invocations:     invocations,
		TotalDurationMs: totalDurationMs,
	}
}

func TestEvaluateNilWindowIsStaleIdle(t *testing.T) {
	es := Evaluate("ingest-fn", nil, window(10, 1000))

	assert.Equal(t, StateIdle, es.State)
	assert.Equal(t, 0, es.EstimatedConcurrency)
	assert.True(t, es.Stale)
}

func TestEvaluateZeroActivityIsIdle(t *testing.T) {
	es := Evaluate("ingest-fn", window(0, 0), nil)

	assert.Equal(t, StateIdle, es.State)
	assert.Equal(t, 0, es.EstimatedConcurrency)
	assert.False(t, es.Stale)
}

func TestEvaluateActiveOccupancy(t *testing.T) {
	// 3 invocations totalling 360ms over a 5 minute (300000ms) window:
	// ceil(360/300000) = 1.
	es := Evaluate("ingest-fn", window(3, 360), nil)

	assert.Equal(t, StateActive, es.State)
	assert.Equal(t, 1, es.EstimatedConcurrency)
	assert.InDelta(t, 0.6, es.InvocationRate, 1e-9)
}

func TestEvaluateConcurrencyScalesWithBusyTime(t *testing.T) {
	// 750000ms busy over a 300000ms window: ceil = 3.
	es := Evaluate("ingest-fn", window(100, 750000), nil)

	assert.Equal(t, StateActive, es.State)
	assert.Equal(t, 3, es.EstimatedConcurrency)
}

func TestEvaluateConcurrencyNeverNegative(t *testing.T) {
	tests := []struct {
		name string
		w    *provider.MetricWindow
	}{
		{"zero everything", window(0, 0)},
		{"negative duration from provider", window(5, -100)},
		{"negative invocations from provider", window(-2, 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := Evaluate("ingest-fn", tt.w, nil)
			assert.GreaterOrEqual(t, es.EstimatedConcurrency, 0)
		})
	}
}

func TestEvaluateConcurrencyZeroWithoutInvocations(t *testing.T) {
	// Duration with no invocations can happen when metric streams lag each
	// other; no invocations means concurrency stays zero.
	es := Evaluate("ingest-fn", window(0, 5000), nil)

	assert.Equal(t, StateIdle, es.State)
	assert.Equal(t, 0, es.EstimatedConcurrency)
}

func TestEvaluateMonotoneWithinActiveRun(t *testing.T) {
	prev := window(100, 900000) // ceil(900000/300000) = 3
	curr := window(100, 350000) // raw estimate 2, below previous 3

	es := Evaluate("ingest-fn", curr, prev)
	assert.Equal(t, StateActive, es.State)
	assert.Equal(t, 3, es.EstimatedConcurrency, "estimate must not dip within an active run")

	// After an idle window the estimate may reset.
	es = Evaluate("ingest-fn", curr, window(0, 0))
	assert.Equal(t, 2, es.EstimatedConcurrency)
}

func TestEvaluateErrorsAndThrottlesAreIndependentSignals(t *testing.T) {
	w := window(10, 4000)
	w.Errors = 4
	w.Throttles = 2

	es := Evaluate("ingest-fn", w, nil)

	assert.Equal(t, StateActive, es.State, "elevated errors do not flip the state")
	assert.Equal(t, int64(4), es.Errors)
	assert.Equal(t, int64(2), es.Throttles)
	assert.InDelta(t, 0.4, es.ErrorRate, 1e-9)
}
