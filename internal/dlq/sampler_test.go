package dlq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuepulse/queuepulse/internal/provider"
)

// fakeReceiver serves a fixed pool of messages, honoring the per-call max,
// and counts receive calls.
type fakeReceiver struct {
	pool     []provider.RawMessage
	cursor   int
	calls    int
	err      error
	extended []string
}

func (f *fakeReceiver) ReceiveMessages(_ context.Context, _ string, max int) ([]provider.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if max > 10 {
		max = 10
	}
	var out []provider.RawMessage
	for len(out) < max && f.cursor < len(f.pool) {
		out = append(out, f.pool[f.cursor])
		f.cursor++
	}
	return out, nil
}

func (f *fakeReceiver) ExtendVisibility(_ context.Context, _ string, receiptHandle string, _ time.Duration) error {
	f.extended = append(f.extended, receiptHandle)
	return nil
}

func makePool(n int) []provider.RawMessage {
	pool := make([]provider.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, provider.RawMessage{
			MessageID:     fmt.Sprintf("msg-%03d", i),
			Body:          fmt.Sprintf(`{"id":%d}`, i),
			ReceiptHandle: fmt.Sprintf("handle-%03d", i),
			Attributes: map[string]string{
				"ApproximateReceiveCount":          "4",
				"ApproximateFirstReceiveTimestamp": "1767441600000",
				"SentTimestamp":                    "1767441000000",
			},
		})
	}
	return pool
}

func TestSampleMessagesPaginatesExactly(t *testing.T) {
	// maxMessages=15 against a queue that always fills each call: exactly
	// two receive calls and at most 15 records.
	recv := &fakeReceiver{pool: makePool(100)}
	s := NewSampler(recv, Options{}, nil)

	records, err := s.SampleMessages(context.Background(), "orders-dlq", 15)
	require.NoError(t, err)

	assert.Equal(t, 2, recv.calls)
	assert.LessOrEqual(t, len(records), 15)
	assert.Len(t, records, 15)
}

func TestSampleMessagesStopsOnEmptyQueue(t *testing.T) {
	recv := &fakeReceiver{pool: makePool(7)}
	s := NewSampler(recv, Options{}, nil)

	records, err := s.SampleMessages(context.Background(), "orders-dlq", 50)
	require.NoError(t, err)

	assert.Len(t, records, 7)
	// One call returning 7, one returning empty.
	assert.Equal(t, 2, recv.calls)
}

func TestSampleMessagesHonorsCallBudget(t *testing.T) {
	// A queue that keeps returning the same message looks nonempty forever;
	// the budget bounds the loop.
	same := makePool(1)
	recv := &loopingReceiver{msg: same[0]}
	s := NewSampler(recv, Options{CallBudget: 3}, nil)

	records, err := s.SampleMessages(context.Background(), "orders-dlq", 50)
	require.NoError(t, err)

	assert.Equal(t, 3, recv.calls)
	assert.Len(t, records, 1, "duplicates de-duplicated by message id")
}

type loopingReceiver struct {
	msg   provider.RawMessage
	calls int
}

func (l *loopingReceiver) ReceiveMessages(context.Context, string, int) ([]provider.RawMessage, error) {
	l.calls++
	return []provider.RawMessage{l.msg}, nil
}

func TestSampleMessagesDeduplicatesAcrossCalls(t *testing.T) {
	pool := makePool(12)
	// Redeliver the first two messages on the second page.
	pool = append(pool[:10], pool[0], pool[1], pool[10], pool[11])
	recv := &fakeReceiver{pool: pool}
	s := NewSampler(recv, Options{}, nil)

	records, err := s.SampleMessages(context.Background(), "orders-dlq", 14)
	require.NoError(t, err)

	ids := make(map[string]int)
	for _, r := range records {
		ids[r.MessageID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "message %s sampled twice", id)
	}
	assert.Len(t, records, 12)
}

func TestSampleMessagesErrorOnFirstCall(t *testing.T) {
	recv := &fakeReceiver{err: errors.New("conn reset")}
	s := NewSampler(recv, Options{}, nil)

	_, err := s.SampleMessages(context.Background(), "orders-dlq", 10)
	assert.Error(t, err)
}

func TestRecordFieldsAndRedaction(t *testing.T) {
	recv := &fakeReceiver{pool: makePool(1)}
	s := NewSampler(recv, Options{MaxBodyLength: 5}, nil)

	records, err := s.SampleMessages(context.Background(), "orders-dlq", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "orders-dlq", rec.QueueID)
	assert.Equal(t, 4, rec.ApproxReceiveCount)
	assert.Equal(t, time.UnixMilli(1767441600000).UTC(), rec.FirstReceivedAt)
	assert.True(t, strings.HasSuffix(rec.BodyRedacted, TruncationMarker))
	assert.NotContains(t, rec.BodyRedacted, "handle-", "receipt handle must not leak into the record")
}

func TestVisibilityExtensionUsesHandleTransiently(t *testing.T) {
	recv := &fakeReceiver{pool: makePool(3)}
	s := NewSampler(recv, Options{VisibilityExtension: 30 * time.Second}, nil)

	records, err := s.SampleMessages(context.Background(), "orders-dlq", 3)
	require.NoError(t, err)

	assert.Len(t, recv.extended, 3)
	for _, rec := range records {
		for _, attr := range rec.Attributes {
			assert.NotContains(t, attr, "handle-")
		}
	}
}

func TestRedactIdempotent(t *testing.T) {
	long := strings.Repeat("a", 500)

	once := Redact(long, 100)
	twice := Redact(once, 100)

	assert.Equal(t, once, twice)
	assert.True(t, strings.HasSuffix(once, TruncationMarker))
	assert.Len(t, once, 100+len(TruncationMarker))
}

func TestRedactShortBodyUntouched(t *testing.T) {
	assert.Equal(t, "short", Redact("short", 100))
}

func TestRedactRespectsRuneBoundaries(t *testing.T) {
	body := strings.Repeat("é", 100) // 2 bytes per rune

	out := Redact(body, 101)
	trimmed := strings.TrimSuffix(out, TruncationMarker)
	assert.True(t, strings.HasSuffix(trimmed, "é"))
	assert.Len(t, trimmed, 100)
}
