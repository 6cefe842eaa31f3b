package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuepulse/queuepulse/internal/registry"
)

func sample(id string, kind registry.Kind, count int) QueueSample {
	return QueueSample{
		ResourceID:       id,
		Kind:             kind,
		Timestamp:        time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC),
		ApproximateCount: count,
	}
}

func asMap(samples ...QueueSample) map[string]QueueSample {
	m := make(map[string]QueueSample, len(samples))
	for _, s := range samples {
		m[s.ResourceID] = s
	}
	return m
}

func TestDiffComputesExactDeltas(t *testing.T) {
	prev := asMap(
		sample("orders-queue", registry.KindQueue, 5),
		sample("orders-dlq", registry.KindDLQ, 2),
	)
	curr := asMap(
		sample("orders-queue", registry.KindQueue, 8),
		sample("orders-dlq", registry.KindDLQ, 0),
	)

	events := Diff(prev, curr)
	require.Len(t, events, 2)

	// Ordered by resource id.
	assert.Equal(t, "orders-dlq", events[0].ResourceID)
	assert.Equal(t, -2, events[0].Delta)
	assert.Equal(t, registry.KindDLQ, events[0].Kind)

	assert.Equal(t, "orders-queue", events[1].ResourceID)
	assert.Equal(t, 5, events[1].Previous)
	assert.Equal(t, 8, events[1].Current)
	assert.Equal(t, 3, events[1].Delta)
}

func TestDiffDeltaMatchesDifferenceExactly(t *testing.T) {
	pairs := []struct{ prev, curr int }{
		{0, 0}, {5, 8}, {8, 5}, {100, 0}, {0, 1}, {7, 7},
	}
	for _, p := range pairs {
		prev := asMap(sample("q", registry.KindQueue, p.prev))
		curr := asMap(sample("q", registry.KindQueue, p.curr))

		events := Diff(prev, curr)
		require.Len(t, events, 1)
		assert.Equal(t, p.curr-p.prev, events[0].Delta)
	}
}

func TestDiffSkipsNewResources(t *testing.T) {
	prev := asMap(sample("old-queue", registry.KindQueue, 1))
	curr := asMap(
		sample("old-queue", registry.KindQueue, 1),
		sample("new-queue", registry.KindQueue, 9),
	)

	events := Diff(prev, curr)
	require.Len(t, events, 1)
	assert.Equal(t, "old-queue", events[0].ResourceID)
}

func TestDiffSkipsStaleSamples(t *testing.T) {
	stale := sample("q", registry.KindQueue, 4)
	stale.Stale = true

	// Stale on the current side: carried count is not a fresh observation.
	events := Diff(asMap(sample("q", registry.KindQueue, 4)), asMap(stale))
	assert.Empty(t, events)

	// Stale on the previous side either.
	events = Diff(asMap(stale), asMap(sample("q", registry.KindQueue, 6)))
	assert.Empty(t, events)
}

func TestMergeCarriesForwardMissingAsStale(t *testing.T) {
	prev := asMap(
		sample("healthy-queue", registry.KindQueue, 3),
		sample("failing-queue", registry.KindQueue, 7),
	)
	curr := asMap(sample("healthy-queue", registry.KindQueue, 4))

	merged := Merge(prev, curr)
	require.Len(t, merged, 2)

	assert.False(t, merged["healthy-queue"].Stale)
	assert.Equal(t, 4, merged["healthy-queue"].ApproximateCount)

	carried := merged["failing-queue"]
	assert.True(t, carried.Stale)
	assert.Equal(t, 7, carried.ApproximateCount, "last known count carried forward unchanged")
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	prev := asMap(sample("q", registry.KindQueue, 7))
	curr := map[string]QueueSample{}

	_ = Merge(prev, curr)
	assert.False(t, prev["q"].Stale)
}
