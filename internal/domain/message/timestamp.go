package message

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// secondsCutoff separates second-scale from millisecond-scale epochs. Any
// positive value below it is read as seconds: 1e11 ms is March 1973, while
// 1e11 s is far beyond any realistic message date.
const secondsCutoff = int64(1e11)

// NormalizeMillis converts a second-scale epoch to milliseconds and leaves
// millisecond values untouched. Non-positive values are returned as-is.
func NormalizeMillis(ts int64) int64 {
	if ts > 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

// ParseTimestamp resolves a raw timestamp into epoch milliseconds. It
// accepts integers, floats, numeric strings and RFC3339 strings. ok is false
// when the value cannot be resolved to a valid instant.
func ParseTimestamp(raw any) (int64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case int64:
		return positive(v)
	case int:
		return positive(int64(v))
	case int32:
		return positive(int64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return positive(int64(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return positive(n)
		}
		if f, err := v.Float64(); err == nil {
			return ParseTimestamp(f)
		}
		return 0, false
	case time.Time:
		if v.IsZero() {
			return 0, false
		}
		return v.UnixMilli(), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return positive(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return ParseTimestamp(f)
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func positive(ts int64) (int64, bool) {
	if ts <= 0 {
		return 0, false
	}
	return NormalizeMillis(ts), true
}

// UnknownTimeLabel is shown instead of a clock time when the source timestamp
// could not be resolved.
const UnknownTimeLabel = "unknown time"

// FormatTime renders the message time as HH:MM in loc.
func FormatTime(m Message, loc *time.Location) string {
	if m.TimeUnknown || m.CreatedAt <= 0 {
		return UnknownTimeLabel
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(NormalizeMillis(m.CreatedAt)).In(loc).Format("15:04")
}
