package dlq

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FieldCount summarizes one counting pass over sampled records. Records
// whose body is not a JSON object (including bodies cut by redaction) are
// tallied as parse errors rather than silently dropped.
type FieldCount struct {
	Processed    int
	Matches      int
	ParseErrors  int
	MissingField int
}

// CountByBodyField counts records whose JSON body carries the given
// top-level field with the given value. Comparison is loose: strings match
// case-insensitively after trimming, and values that both parse as numbers
// compare numerically, so "7" matches 7.0.
func CountByBodyField(records []MessageRecord, field, value string) FieldCount {
	var fc FieldCount
	for _, rec := range records {
		fc.Processed++

		var body map[string]json.RawMessage
		if err := json.Unmarshal([]byte(rec.BodyRedacted), &body); err != nil {
			fc.ParseErrors++
			continue
		}
		raw, ok := body[field]
		if !ok {
			fc.MissingField++
			continue
		}
		if looseEqual(fieldString(raw), value) {
			fc.Matches++
		}
	}
	return fc
}

// fieldString renders a JSON scalar as its bare string form ("HM" and HM
// compare equal, 7 stays "7").
func fieldString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func looseEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if strings.EqualFold(a, b) {
		return true
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && fa == fb
}
