// Package export serializes cycle snapshots into the external JSON schema.
// This is the presentation boundary: the schema below is the only contract
// the core honors exactly, and it is built from dedicated DTOs so receipt
// handles and untruncated bodies structurally cannot appear.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/queuepulse/queuepulse/internal/snapshot"
)

// Exporter consumes a completed cycle snapshot.
type Exporter interface {
	Export(snap *snapshot.CycleSnapshot) error
}

type cycleDoc struct {
	Timestamp   time.Time     `json:"timestamp"`
	CycleID     string        `json:"cycleId"`
	Queues      []queueDoc    `json:"queues"`
	Functions   []functionDoc `json:"functions"`
	DLQMessages []dlqDoc      `json:"dlqMessages"`
}

type queueDoc struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Count int    `json:"count"`
	Delta *int   `json:"delta"`
	Stale bool   `json:"stale"`
}

type functionDoc struct {
	ID                   string `json:"id"`
	State                string `json:"state"`
	EstimatedConcurrency int    `json:"estimatedConcurrency"`
	Invocations          int64  `json:"invocations"`
	Errors               int64  `json:"errors"`
	Throttles            int64  `json:"throttles"`
	Stale                bool   `json:"stale"`
}

type dlqDoc struct {
	QueueID            string            `json:"queueId"`
	BodyRedacted       string            `json:"bodyRedacted"`
	Attributes         map[string]string `json:"attributes"`
	ApproxReceiveCount int               `json:"approxReceiveCount"`
}

// Marshal renders one snapshot as a single JSON document.
func Marshal(snap *snapshot.CycleSnapshot) ([]byte, error) {
	doc := cycleDoc{
		Timestamp:   snap.Timestamp.UTC(),
		CycleID:     snap.ID,
		Queues:      make([]queueDoc, 0, len(snap.Queues)),
		Functions:   make([]functionDoc, 0, len(snap.Functions)),
		DLQMessages: make([]dlqDoc, 0, len(snap.DLQMessages)),
	}

	for _, q := range snap.Queues {
		doc.Queues = append(doc.Queues, queueDoc{
			ID:    q.ID,
			Kind:  string(q.Kind),
			Count: q.Count,
			Delta: q.Delta,
			Stale: q.Stale,
		})
	}
	for _, f := range snap.Functions {
		doc.Functions = append(doc.Functions, functionDoc{
			ID:                   f.ID,
			State:                string(f.State),
			EstimatedConcurrency: f.EstimatedConcurrency,
			Invocations:          f.Invocations,
			Errors:               f.Errors,
			Throttles:            f.Throttles,
			Stale:                f.Stale,
		})
	}
	for _, m := range snap.DLQMessages {
		doc.DLQMessages = append(doc.DLQMessages, dlqDoc{
			QueueID:            m.QueueID,
			BodyRedacted:       m.BodyRedacted,
			Attributes:         m.Attributes,
			ApproxReceiveCount: m.ApproxReceiveCount,
		})
	}

	return json.Marshal(doc)
}

// JSONLinesWriter appends one JSON document per cycle to w, newline
// terminated. Safe for concurrent use.
type JSONLinesWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLinesWriter wraps w as an Exporter.
func NewJSONLinesWriter(w io.Writer) *JSONLinesWriter {
	return &JSONLinesWriter{w: w}
}

// Export writes the snapshot as one line.
func (jw *JSONLinesWriter) Export(snap *snapshot.CycleSnapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal cycle %s: %w", snap.ID, err)
	}
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if _, err := jw.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write cycle %s: %w", snap.ID, err)
	}
	return nil
}

// FileWriter appends cycles to the file at path, creating it if needed.
type FileWriter struct {
	*JSONLinesWriter
	f *os.File
}

// NewFileWriter opens (or creates) the export file in append mode.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return &FileWriter{JSONLinesWriter: NewJSONLinesWriter(f), f: f}, nil
}

// Close releases the underlying file.
func (fw *FileWriter) Close() error { return fw.f.Close() }
