package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuepulse/queuepulse/internal/dlq"
	"github.com/queuepulse/queuepulse/internal/inference"
	"github.com/queuepulse/queuepulse/internal/registry"
	"github.com/queuepulse/queuepulse/internal/snapshot"
)

func sampleSnapshot() *snapshot.CycleSnapshot {
	delta := 3
	snap := snapshot.New(time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC))
	snap.Queues = []snapshot.QueueEntry{
		{ID: "orders-queue", Kind: registry.KindQueue, Count: 8, Delta: &delta},
		{ID: "orders-dlq", Kind: registry.KindDLQ, Count: 2, Stale: true},
		{ID: "fresh-queue", Kind: registry.KindQueue, Count: 1}, // first appearance, no delta
	}
	snap.Functions = []snapshot.FunctionEntry{
		{ID: "ingest-fn", State: inference.StateActive, EstimatedConcurrency: 1, Invocations: 3},
		{ID: "late-fn", State: inference.StateIdle, Stale: true},
	}
	snap.DLQMessages = []dlq.MessageRecord{
		{
			QueueID:            "orders-dlq",
			MessageID:          "msg-001",
			BodyRedacted:       `{"id":1,"payload":"aaaa` + dlq.TruncationMarker,
			Attributes:         map[string]string{"SentTimestamp": "1767441000000"},
			ApproxReceiveCount: 4,
		},
	}
	return snap
}

func TestMarshalSchema(t *testing.T) {
	data, err := Marshal(sampleSnapshot())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Contains(t, doc, "timestamp")
	assert.Contains(t, doc, "cycleId")

	queues := doc["queues"].([]any)
	require.Len(t, queues, 3)
	first := queues[0].(map[string]any)
	assert.Equal(t, "orders-queue", first["id"])
	assert.Equal(t, "queue", first["kind"])
	assert.Equal(t, float64(8), first["count"])
	assert.Equal(t, float64(3), first["delta"])
	assert.Equal(t, false, first["stale"])

	// First appearance: delta serialized as null, not zero.
	fresh := queues[2].(map[string]any)
	assert.Nil(t, fresh["delta"])

	fns := doc["functions"].([]any)
	require.Len(t, fns, 2)
	active := fns[0].(map[string]any)
	assert.Equal(t, "active", active["state"])
	assert.Equal(t, float64(1), active["estimatedConcurrency"])

	msgs := doc["dlqMessages"].([]any)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "orders-dlq", msg["queueId"])
	assert.Equal(t, float64(4), msg["approxReceiveCount"])
}

func TestExportNeverLeaksHandlesOrMessageIDs(t *testing.T) {
	data, err := Marshal(sampleSnapshot())
	require.NoError(t, err)

	out := string(data)
	assert.NotContains(t, out, "receiptHandle")
	assert.NotContains(t, out, "ReceiptHandle")
	assert.NotContains(t, out, "msg-001", "message ids stay in-process")
}

func TestJSONLinesWriterAppendsOneLinePerCycle(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLinesWriter(&buf)

	require.NoError(t, w.Export(sampleSnapshot()))
	require.NoError(t, w.Export(sampleSnapshot()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var doc map[string]any
		assert.NoError(t, json.Unmarshal([]byte(line), &doc))
	}
}
