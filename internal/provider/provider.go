// Package provider defines the capability interfaces the core consumes from
// the cloud provider, plus the shared wire types and the error taxonomy used
// to classify provider failures. The core never talks to a concrete SDK
// directly; it is tested against fakes of these interfaces.
package provider

import (
	"context"
	"time"
)

// TimeRange is a half-open [Start, End) interval used for metric and log queries.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// TrailingWindow returns a range ending at end and covering the given period.
func TrailingWindow(end time.Time, period time.Duration) TimeRange {
	return TimeRange{Start: end.Add(-period), End: end}
}

// RawMessage is a message as received from the provider. The receipt handle
// is only valid transiently while the message is being processed; it must
// never be persisted or exported.
type RawMessage struct {
	MessageID         string
	Body              string
	ReceiptHandle     string
	Attributes        map[string]string
	MessageAttributes map[string]string
}

// MetricWindow aggregates a function's invocation metrics over one trailing
// window. Provider metrics are aggregated and typically delayed by one to
// two minutes, so a window is an approximation of recent activity, not a
// real-time signal.
type MetricWindow struct {
	FunctionID      string
	WindowStart     time.Time
	WindowEnd       time.Time
	Invocations     int64
	Errors          int64
	Throttles       int64
	TotalDurationMs float64
}

// Duration returns the window length.
func (w *MetricWindow) Duration() time.Duration {
	return w.WindowEnd.Sub(w.WindowStart)
}

// LogEvent is a single log line pulled from the provider's log store.
type LogEvent struct {
	Timestamp time.Time
	Message   string
	LogStream string
}

// LogPage is one page of filtered log events. An empty NextToken means the
// result set is exhausted.
type LogPage struct {
	Events    []LogEvent
	NextToken string
}

// QueueDepthReader reports the approximate number of visible messages on a
// queue. The count may lag reality by up to a minute and may be
// non-monotonic between polls.
type QueueDepthReader interface {
	GetQueueDepth(ctx context.Context, queueID string) (int, error)
}

// MessageReceiver reads up to max messages from a queue without deleting
// them. Providers cap max at 10 per call.
type MessageReceiver interface {
	ReceiveMessages(ctx context.Context, queueID string, max int) ([]RawMessage, error)
}

// VisibilityExtender optionally extends the visibility timeout of a received
// message so it stays hidden from other consumers while being inspected.
// Implemented by receivers that support it; callers must discard the receipt
// handle immediately afterwards.
type VisibilityExtender interface {
	ExtendVisibility(ctx context.Context, queueID, receiptHandle string, d time.Duration) error
}

// FunctionMetricsReader pulls a function's aggregated metrics for a window.
type FunctionMetricsReader interface {
	GetFunctionMetrics(ctx context.Context, functionID string, window TimeRange) (*MetricWindow, error)
}

// LogEventsReader pages through a function's log events within a window,
// optionally filtered by a provider-side pattern.
type LogEventsReader interface {
	FilterLogEvents(ctx context.Context, functionID string, window TimeRange, pattern, nextToken string) (LogPage, error)
}
