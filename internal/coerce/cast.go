package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

// Storage layouts for temporal values.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05.999999999"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006/01/02 15:04:05",
}

var boolWords = map[string]bool{
	"true": true, "t": true, "yes": true, "y": true, "on": true, "1": true,
	"false": false, "f": false, "no": false, "n": false, "off": false, "0": false,
}

// NormalizeNumeric rewrites locale-formatted numeric text into the form the
// parser expects. With a ',' decimal separator every '.' is treated as a
// thousands separator and dropped, then ',' becomes '.'.
func NormalizeNumeric(text string, decimalSeparator rune) string {
	s := strings.TrimSpace(text)
	if decimalSeparator == ',' {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return s
}

// Cast converts v to the given logical type. Nil and blank text convert to
// nil without error. decimalSeparator only affects DOUBLE and DECIMAL
// targets and may be '.' or ','.
func Cast(v interface{}, to types.LogicalType, decimalSeparator rune) (interface{}, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		if to == types.TypeVarchar {
			return s, nil
		}
		return nil, nil
	}

	var (
		out interface{}
		ok  bool
	)
	switch to {
	case types.TypeVarchar:
		out, ok = Text(v), true
	case types.TypeInteger:
		out, ok = toInteger(v)
	case types.TypeDouble:
		out, ok = toDouble(v, decimalSeparator)
	case types.TypeDecimal:
		out, ok = toDecimal(v, decimalSeparator)
	case types.TypeDate:
		out, ok = toDate(v)
	case types.TypeTimestamp:
		out, ok = toTimestamp(v)
	case types.TypeBoolean:
		out, ok = toBoolean(v)
	default:
		return nil, unsupported(string(to))
	}
	if !ok {
		return nil, sheeterrors.NewCoercionError(
			fmt.Sprintf("cannot convert %q to %s", Text(v), to), nil)
	}
	return out, nil
}

// Text renders a stored value as text. Integral floats render without a
// fractional part, dates without a time component.
func Text(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return Text(float64(x))
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if isMidnight(x) {
			return x.Format(DateLayout)
		}
		return x.Format(TimestampLayout)
	case decimal.Decimal:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toInteger(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		return roundToInt(x)
	case float32:
		return roundToInt(float64(x))
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case decimal.Decimal:
		return roundToInt(x.InexactFloat64())
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return roundToInt(f)
		}
	}
	return nil, false
}

func roundToInt(f float64) (interface{}, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	r := math.Round(f)
	if r > math.MaxInt64 || r < math.MinInt64 {
		return nil, false
	}
	return int64(r), true
}

func toDouble(v interface{}, sep rune) (interface{}, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case bool:
		if x {
			return 1.0, true
		}
		return 0.0, true
	case decimal.Decimal:
		return x.InexactFloat64(), true
	case string:
		f, err := strconv.ParseFloat(NormalizeNumeric(x, sep), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// toDecimal returns the canonical decimal text; the DECIMAL declaration
// stores it with numeric affinity.
func toDecimal(v interface{}, sep rune) (interface{}, bool) {
	var d decimal.Decimal
	switch x := v.(type) {
	case decimal.Decimal:
		d = x
	case int64:
		d = decimal.NewFromInt(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int32:
		d = decimal.NewFromInt32(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		d = decimal.NewFromFloat(x)
	case bool:
		if x {
			d = decimal.NewFromInt(1)
		}
	case string:
		parsed, err := decimal.NewFromString(NormalizeNumeric(x, sep))
		if err != nil {
			return nil, false
		}
		d = parsed
	default:
		return nil, false
	}
	return d.String(), true
}

func toDate(v interface{}) (interface{}, bool) {
	if t, ok := parseTime(v, true); ok {
		return t.Format(DateLayout), true
	}
	return nil, false
}

func toTimestamp(v interface{}) (interface{}, bool) {
	if t, ok := parseTime(v, false); ok {
		return t.UTC().Format(TimestampLayout), true
	}
	return nil, false
}

func parseTime(v interface{}, dateOnly bool) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				if dateOnly {
					return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
				}
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toBoolean(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case int:
		return x != 0, true
	case float64:
		return x != 0, true
	case string:
		b, ok := boolWords[strings.ToLower(strings.TrimSpace(x))]
		return b, ok
	}
	return nil, false
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// BindValue prepares a client-supplied value for use as a statement
// parameter. Integral floats (as decoded from JSON) bind as integers so
// they compare equal to integer and text identifiers alike.
func BindValue(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return int64(x)
		}
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return Text(x)
	default:
		return v
	}
}

// Display converts a scanned value to its client representation. Temporal
// values become their storage text; byte slices become strings.
func Display(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return Text(x)
	default:
		return v
	}
}
