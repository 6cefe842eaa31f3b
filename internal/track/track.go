// Package track reconciles successive queue-depth samples into change
// events. Diffing is pure: the poller owns the maps and feeds consecutive
// cycles through Diff and Merge.
//
// Approximate counts from the provider may lag reality by up to a minute and
// can move non-monotonically between polls; they are tracked as-is, without
// smoothing.
package track

import (
	"sort"
	"time"

	"github.com/queuepulse/queuepulse/internal/registry"
)

// QueueSample is one queue's approximate depth at one polling tick. Samples
// are superseded, never mutated, by the next cycle. Stale marks a sample
// whose count was carried forward because the current cycle's fetch failed.
type QueueSample struct {
	ResourceID       string
	Kind             registry.Kind
	Timestamp        time.Time
	ApproximateCount int
	Stale            bool
}

// ChangeEvent records the depth movement of one queue between two
// consecutive cycles. It exists only when both cycles produced a fresh
// sample for the resource.
type ChangeEvent struct {
	ResourceID string
	Kind       registry.Kind
	Previous   int
	Current    int
	Delta      int
	Timestamp  time.Time
}

// Diff computes change events between two cycles' samples, keyed by resource
// id. Resources appearing only in current are new and produce no event;
// resources missing from current produce no event either (their staleness is
// handled by Merge). Stale entries on either side are skipped: a carried
// count is not a fresh observation. Events are ordered by resource id.
func Diff(previous, current map[string]QueueSample) []ChangeEvent {
	var events []ChangeEvent
	for id, curr := range current {
		if curr.Stale {
			continue
		}
		prev, ok := previous[id]
		if !ok || prev.Stale {
			continue
		}
		events = append(events, ChangeEvent{
			ResourceID: id,
			Kind:       curr.Kind,
			Previous:   prev.ApproximateCount,
			Current:    curr.ApproximateCount,
			Delta:      curr.ApproximateCount - prev.ApproximateCount,
			Timestamp:  curr.Timestamp,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ResourceID < events[j].ResourceID })
	return events
}

// Merge overlays current onto previous, carrying forward the last known
// count for resources missing from current, flagged stale. The result is the
// basis for the cycle snapshot and for the next cycle's diff.
func Merge(previous, current map[string]QueueSample) map[string]QueueSample {
	merged := make(map[string]QueueSample, len(current)+len(previous))
	for id, prev := range previous {
		prev.Stale = true
		merged[id] = prev
	}
	for id, curr := range current {
		merged[id] = curr
	}
	return merged
}
