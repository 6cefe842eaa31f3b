// Package dlq samples dead-letter queue messages for inspection. Sampling
// is read-only: messages are received, redacted and summarized, never
// deleted. Receipt handles are used transiently at most to extend read
// visibility and are discarded before a record is built.
package dlq

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/queuepulse/queuepulse/internal/provider"
)

// TruncationMarker terminates every redacted body so downstream consumers
// can tell a truncated body from a short one.
const TruncationMarker = "... [truncated]"

// Queue attribute names carried on received messages.
const (
	attrApproxReceiveCount    = "ApproximateReceiveCount"
	attrFirstReceiveTimestamp = "ApproximateFirstReceiveTimestamp"
)

// MessageRecord is the exportable summary of one sampled DLQ message. It is
// constructed only from already-redacted data; no field can carry a receipt
// handle or an untruncated body.
type MessageRecord struct {
	QueueID            string
	MessageID          string
	BodyRedacted       string
	Attributes         map[string]string
	ApproxReceiveCount int
	FirstReceivedAt    time.Time
}

// Options tune one sampler.
type Options struct {
	// MaxBodyLength is the redaction threshold in bytes.
	MaxBodyLength int
	// CallBudget caps receive calls per sampling pass, so an empty-looking
	// queue being drained by other consumers cannot spin the sampler.
	CallBudget int
	// VisibilityExtension, when positive and supported by the receiver,
	// extends each message's visibility while it is being summarized.
	VisibilityExtension time.Duration
}

// Sampler pages through a DLQ collecting redacted message records.
type Sampler struct {
	receiver provider.MessageReceiver
	opts     Options
	log      *zap.Logger
}

// NewSampler builds a sampler over the given receiver.
func NewSampler(receiver provider.MessageReceiver, opts Options, log *zap.Logger) *Sampler {
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{receiver: receiver, opts: opts, log: log.Named("dlq")}
}

// SampleMessages receives up to maxMessages from the queue, issuing repeated
// calls of at most 10 messages each until maxMessages is reached, the queue
// reports no further messages, or the call budget is exhausted. Messages
// seen more than once within the pass (redelivery between calls) are
// de-duplicated by message id.
func (s *Sampler) SampleMessages(ctx context.Context, queueID string, maxMessages int) ([]MessageRecord, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	budget := s.opts.CallBudget
	if budget <= 0 {
		budget = (maxMessages+9)/10 + 2
	}

	seen := make(map[string]struct{}, maxMessages)
	records := make([]MessageRecord, 0, maxMessages)
	calls := 0

	for len(records) < maxMessages && calls < budget {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		batch := maxMessages - len(records)
		if batch > 10 {
			batch = 10
		}

		msgs, err := s.receiver.ReceiveMessages(ctx, queueID, batch)
		calls++
		if err != nil {
			if len(records) > 0 {
				// A later page failing does not invalidate what we already
				// sampled.
				s.log.Warn("dlq sampling stopped early",
					zap.String("queue", queueID),
					zap.Int("records", len(records)),
					zap.Error(err))
				return records, nil
			}
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			if _, dup := seen[msg.MessageID]; dup {
				continue
			}
			seen[msg.MessageID] = struct{}{}
			records = append(records, s.record(ctx, queueID, msg))
			if len(records) == maxMessages {
				break
			}
		}
	}

	s.log.Debug("dlq sampling pass complete",
		zap.String("queue", queueID),
		zap.Int("records", len(records)),
		zap.Int("receive_calls", calls))
	return records, nil
}

// record summarizes one raw message. The receipt handle is used only for the
// optional visibility extension and goes out of scope here.
func (s *Sampler) record(ctx context.Context, queueID string, msg provider.RawMessage) MessageRecord {
	if s.opts.VisibilityExtension > 0 {
		if ext, ok := s.receiver.(provider.VisibilityExtender); ok {
			if err := ext.ExtendVisibility(ctx, queueID, msg.ReceiptHandle, s.opts.VisibilityExtension); err != nil {
				s.log.Debug("visibility extension failed",
					zap.String("queue", queueID), zap.Error(err))
			}
		}
	}

	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}

	rec := MessageRecord{
		QueueID:      queueID,
		MessageID:    msg.MessageID,
		BodyRedacted: Redact(msg.Body, s.opts.MaxBodyLength),
		Attributes:   attrs,
	}
	if v, err := strconv.Atoi(msg.Attributes[attrApproxReceiveCount]); err == nil {
		rec.ApproxReceiveCount = v
	}
	if ms, err := strconv.ParseInt(msg.Attributes[attrFirstReceiveTimestamp], 10, 64); err == nil {
		rec.FirstReceivedAt = time.UnixMilli(ms).UTC()
	}
	return rec
}

// Redact truncates body to limit bytes, appending the truncation marker.
// Redaction is idempotent: an already-redacted body comes back unchanged.
func Redact(body string, limit int) string {
	if strings.HasSuffix(body, TruncationMarker) {
		return body
	}
	if limit <= 0 || len(body) <= limit {
		return body
	}
	// Back off to a rune boundary so truncation never splits a character.
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + TruncationMarker
}
