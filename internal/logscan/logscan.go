// Package logscan pulls a function's recent log events and classifies them
// by error keywords. It runs on demand, not on the polling hot path.
package logscan

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/queuepulse/queuepulse/internal/provider"
)

// errorKeywords mark a log line as an error. Matching is case-insensitive
// substring search, same as the provider console's quick filters.
var errorKeywords = []string{
	"error",
	"exception",
	"failed",
	"timeout",
	"traceback",
	"panic",
}

// Entry is one classified log line.
type Entry struct {
	Timestamp string
	Message   string
	LogStream string
	IsError   bool
}

// Report summarizes one scan of one function's logs.
type Report struct {
	FunctionID  string
	Window      provider.TimeRange
	TotalEvents int
	ErrorEvents int
	Entries     []Entry
	// Truncated is set when the page budget ran out before the provider's
	// result set did.
	Truncated bool
}

// Scanner pages through filtered log events.
type Scanner struct {
	reader     provider.LogEventsReader
	pageBudget int
	log        *zap.Logger
}

// NewScanner builds a scanner. pageBudget bounds provider calls per scan;
// zero means the default of 20 pages.
func NewScanner(reader provider.LogEventsReader, pageBudget int, log *zap.Logger) *Scanner {
	if pageBudget <= 0 {
		pageBudget = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{reader: reader, pageBudget: pageBudget, log: log.Named("logscan")}
}

// Scan collects the function's log events within the window. With errorsOnly
// set, only keyword-matched lines are kept in the report entries; totals
// always count everything seen.
func (s *Scanner) Scan(ctx context.Context, functionID string, window provider.TimeRange, errorsOnly bool) (Report, error) {
	report := Report{FunctionID: functionID, Window: window}

	token := ""
	for page := 0; page < s.pageBudget; page++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pageResult, err := s.reader.FilterLogEvents(ctx, functionID, window, "", token)
		if err != nil {
			return report, fmt.Errorf("scan logs for %s: %w", functionID, err)
		}

		for _, ev := range pageResult.Events {
			msg := strings.TrimSpace(ev.Message)
			isErr := isErrorMessage(msg)

			report.TotalEvents++
			if isErr {
				report.ErrorEvents++
			}
			if errorsOnly && !isErr {
				continue
			}
			report.Entries = append(report.Entries, Entry{
				Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				Message:   msg,
				LogStream: ev.LogStream,
				IsError:   isErr,
			})
		}

		token = pageResult.NextToken
		if token == "" {
			return report, nil
		}
	}

	report.Truncated = true
	s.log.Warn("log scan hit page budget",
		zap.String("function", functionID),
		zap.Int("pages", s.pageBudget),
		zap.Int("events", report.TotalEvents))
	return report, nil
}

func isErrorMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
