// AngelaMos | 2026
// coerce.go

package entitlement

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CoerceBool normalizes the loosely-typed boolean fields found in
// historical profile documents. Strings only count as true when they
// spell "true" (case-insensitive); every other string, including
// "false", "1" and "yes", is false. Other types follow general
// truthiness.
func CoerceBool(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return strings.EqualFold(strings.TrimSpace(val), "true")
	default:
		if n, ok := CoerceNumber(v); ok {
			return n != 0
		}
		return true
	}
}

// CoerceNumber extracts a finite float from any of the numeric shapes a
// JSON decode or a legacy document can produce. Returns false for
// non-numeric or non-finite input.
func CoerceNumber(v any) (float64, bool) {
	var n float64

	switch val := v.(type) {
	case float64:
		n = val
	case float32:
		n = float64(val)
	case int:
		n = float64(val)
	case int32:
		n = float64(val)
	case int64:
		n = float64(val)
	case uint:
		n = float64(val)
	case uint64:
		n = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
