// Package inference derives a function's execution state from aggregated
// metric windows. No provider API reports "is this function executing right
// now"; the state here is a heuristic over coarse, delayed metrics.
//
// Accuracy bounds: provider metrics are aggregated over the window and
// propagate with a one-to-two minute delay, so a function that started and
// finished well inside the window, or whose metrics have not landed yet, can
// be misclassified as idle. The concurrency estimate is an occupancy proxy
// (busy-time over wall-time), not a true concurrent-invocation count: it
// underestimates short overlapping bursts and never resolves below one for
// any nonzero activity.
package inference

import (
	"math"

	"github.com/queuepulse/queuepulse/internal/provider"
)

// State is the inferred execution state of a function.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// ExecutionState is the per-function result of one evaluation. Errors and
// throttles are independent signals surfaced alongside the state: a function
// can be active with an elevated error rate.
type ExecutionState struct {
	FunctionID           string
	State                State
	EstimatedConcurrency int
	InvocationRate       float64 // invocations per minute over the window
	Invocations          int64
	Errors               int64
	Throttles            int64
	ErrorRate            float64 // fraction of invocations that errored
	Stale                bool
}

// Evaluate infers the execution state from the current metric window,
// consulting the previous window only to keep the concurrency estimate from
// dipping while the function stays active on constant input.
//
// A nil current window (fetch failure or metric delay) yields idle,
// concurrency zero, marked stale.
func Evaluate(functionID string, current, previous *provider.MetricWindow) ExecutionState {
	if current == nil {
		return ExecutionState{FunctionID: functionID, State: StateIdle, Stale: true}
	}

	es := ExecutionState{
		FunctionID:  functionID,
		State:       StateIdle,
		Invocations: max64(current.Invocations, 0),
		Errors:      max64(current.Errors, 0),
		Throttles:   max64(current.Throttles, 0),
	}

	windowMs := current.Duration().Seconds() * 1000
	if minutes := current.Duration().Minutes(); minutes > 0 {
		es.InvocationRate = float64(es.Invocations) / minutes
	}
	if es.Invocations > 0 {
		es.ErrorRate = float64(es.Errors) / float64(es.Invocations)
	}

	if es.Invocations > 0 && current.TotalDurationMs > 0 {
		es.State = StateActive
		es.EstimatedConcurrency = occupancy(current.TotalDurationMs, windowMs)

		// Never decrease within an active run without an intervening idle
		// window: under constant metric input the estimate is monotone.
		if previous != nil && previous.Invocations > 0 && previous.TotalDurationMs > 0 {
			prevWindowMs := previous.Duration().Seconds() * 1000
			if prev := occupancy(previous.TotalDurationMs, prevWindowMs); prev > es.EstimatedConcurrency {
				es.EstimatedConcurrency = prev
			}
		}
	}

	return es
}

// occupancy is ceil(busy-time / wall-time), clamped to be non-negative.
func occupancy(totalDurationMs, windowMs float64) int {
	if totalDurationMs <= 0 || windowMs <= 0 {
		return 0
	}
	est := int(math.Ceil(totalDurationMs / windowMs))
	if est < 0 {
		return 0
	}
	return est
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
