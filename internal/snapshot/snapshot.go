// Package snapshot defines the per-cycle aggregate the poller commits after
// every tick. A snapshot is owned by the cycle that produced it; the prior
// cycle's snapshot is kept only long enough to compute the next cycle's
// deltas.
package snapshot

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/queuepulse/queuepulse/internal/dlq"
	"github.com/queuepulse/queuepulse/internal/inference"
	"github.com/queuepulse/queuepulse/internal/registry"
	"github.com/queuepulse/queuepulse/internal/track"
)

// QueueEntry is one queue's state in a cycle. Delta is nil on a queue's
// first appearance, when no previous sample exists to diff against.
type QueueEntry struct {
	ID    string
	Kind  registry.Kind
	Count int
	Delta *int
	Stale bool
}

// FunctionEntry is one function's inferred state in a cycle.
type FunctionEntry struct {
	ID                   string
	State                inference.State
	EstimatedConcurrency int
	Invocations          int64
	Errors               int64
	Throttles            int64
	Stale                bool
}

// Failure attaches one resource's fetch error to the cycle without blocking
// the other resources' entries.
type Failure struct {
	ResourceID string
	Kind       registry.Kind
	Category   string
	Message    string
}

// CycleSnapshot aggregates everything one polling tick produced. Committed
// atomically: either a tick's complete results become the current snapshot,
// or nothing does.
type CycleSnapshot struct {
	ID          string
	Timestamp   time.Time
	Queues      []QueueEntry
	Functions   []FunctionEntry
	DLQMessages []dlq.MessageRecord
	Changes     []track.ChangeEvent
	Failures    []Failure
}

// New starts an empty snapshot for a tick that began at ts.
func New(ts time.Time) *CycleSnapshot {
	return &CycleSnapshot{ID: uuid.NewString(), Timestamp: ts}
}

// Holder publishes the latest committed snapshot. The swap is atomic;
// readers always see a complete snapshot, never a tick in progress.
type Holder struct {
	current atomic.Pointer[CycleSnapshot]
}

// Store publishes snap as the current snapshot.
func (h *Holder) Store(snap *CycleSnapshot) { h.current.Store(snap) }

// Load returns the current snapshot, or nil before the first commit.
func (h *Holder) Load() *CycleSnapshot { return h.current.Load() }
