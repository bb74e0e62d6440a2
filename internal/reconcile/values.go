package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type object = map[string]any

// Decode parses a document body keeping numbers exact. Malformed input
// decodes to nil, which every reconciler treats as an empty document.
func Decode(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func asArray(raw any) []any {
	arr, _ := raw.([]any)
	return arr
}

func asObject(raw any) (object, bool) {
	obj, ok := raw.(map[string]any)
	return obj, ok
}

// text returns the first key holding a non-empty scalar, rendered as a string.
func text(o object, keys ...string) string {
	for _, k := range keys {
		switch v := o[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case map[string]any:
		// {value: 12} wrappers used by some exports for discount and tax.
		return toDecimal(n["value"])
	}
	return decimal.Zero, false
}

// number returns the first key that coerces to a number.
func number(o object, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		if d, ok := toDecimal(o[k]); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

func money(o object, keys ...string) decimal.Decimal {
	d, _ := number(o, keys...)
	return d
}

func integer(o object, keys ...string) (int, bool) {
	d, ok := number(o, keys...)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

func boolean(o object, key string, fallback bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case json.Number:
		return v.String() != "0"
	}
	return fallback
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	case json.Number:
		// Epoch milliseconds, as produced by Date.now().
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}

func timestamp(o object, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := toTime(o[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func optionalTime(o object, keys ...string) *time.Time {
	t, ok := timestamp(o, keys...)
	if !ok {
		return nil
	}
	return &t
}

// stringList returns the values when every element is a string, and false
// for any richer shape.
func stringList(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func legacyID(kind string, index ...int) string {
	var b strings.Builder
	b.WriteString("legacy-")
	b.WriteString(kind)
	for _, i := range index {
		fmt.Fprintf(&b, "-%d", i)
	}
	return b.String()
}
