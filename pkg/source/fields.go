package source

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformed marks a record that cannot be turned into usage.
var ErrMalformed = errors.New("malformed record")

// MaxTokens bounds a single token counter. Larger values are treated as corrupt.
const MaxTokens = 10_000_000_000

// tokenCount validates one counter. Absent and null fields count as zero.
func tokenCount(res gjson.Result, field string) (int64, error) {
	switch res.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
	default:
		return 0, fmt.Errorf("%w: %s is not a number: %s", ErrMalformed, field, res.Raw)
	}
	n := res.Num
	if n < 0 || n > MaxTokens || n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: %s out of range: %s", ErrMalformed, field, res.Raw)
	}
	return res.Int(), nil
}

// tokenCounts validates the named counters under obj in order.
func tokenCounts(obj gjson.Result, fields ...string) ([]int64, error) {
	out := make([]int64, len(fields))
	for i, f := range fields {
		n, err := tokenCount(obj.Get(f), f)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
}

// timestamp parses an RFC 3339 string or a unix-seconds number.
func timestamp(res gjson.Result) (time.Time, error) {
	switch res.Type {
	case gjson.String:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, res.Str); err == nil {
				return t, nil
			}
		}
	case gjson.Number:
		if res.Num > 0 {
			sec, frac := math.Modf(res.Num)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, res.Raw)
}

func firstString(results ...gjson.Result) string {
	for _, r := range results {
		if s := r.String(); s != "" {
			return s
		}
	}
	return ""
}
