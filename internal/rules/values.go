package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// IsEmpty reports whether v counts as "no value": nil, a blank string, or an
// empty slice or map.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case *string:
		return x == nil || strings.TrimSpace(*x) == ""
	case []byte:
		return len(x) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// isMissing is the min/max value check: only nil and blank strings are
// missing, so 0 and false are values.
func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	rv := reflect.ValueOf(v)
	return (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil()
}

// stringify renders a value the way length and pattern rules see it.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// textLength counts user-perceived characters after NFC normalisation.
func textLength(v any) int {
	return utf8.RuneCountInString(norm.NFC.String(stringify(v)))
}

// toDecimal converts numeric values and numeric strings for exact comparison.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int8:
		return decimal.NewFromInt(int64(x)), true
	case int16:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt32(x), true
	case int64:
		return decimal.NewFromInt(x), true
	case uint:
		d, err := decimal.NewFromString(strconv.FormatUint(uint64(x), 10))
		return d, err == nil
	case uint8:
		return decimal.NewFromInt(int64(x)), true
	case uint16:
		return decimal.NewFromInt(int64(x)), true
	case uint32:
		return decimal.NewFromInt(int64(x)), true
	case uint64:
		d, err := decimal.NewFromString(strconv.FormatUint(x, 10))
		return d, err == nil
	case float32:
		if !finite(float64(x)) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(x), true
	case float64:
		if !finite(x) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// toTime accepts time.Time and RFC 3339 strings.
func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(x))
		return t, err == nil
	}
	return time.Time{}, false
}

// Compare orders v against bound the way MinValue and MaxValue do.
func Compare(v, bound any) (int, error) { return compareValues(v, bound) }

// compareValues returns -1, 0 or 1. Numbers compare as decimals, times as
// instants, anything else only as strings of the same kind.
func compareValues(v, bound any) (int, error) {
	if bt, ok := bound.(time.Time); ok {
		vt, ok := toTime(v)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with a time bound", v)
		}
		return vt.Compare(bt), nil
	}
	if bd, ok := toDecimal(bound); ok {
		vd, ok := toDecimal(v)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with a numeric bound", v)
		}
		return vd.Cmp(bd), nil
	}
	if bs, ok := bound.(string); ok {
		if vs, ok := v.(string); ok {
			return strings.Compare(vs, bs), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", v, bound)
}

// Accepts reports whether v can be stored in p. Nil is always accepted, and
// text, enum and json properties take any value. Integer properties take
// only whole numbers that fit in an int64; decimal properties take numbers,
// not numeric text.
func (p *Property) Accepts(v any) bool {
	if v == nil {
		return true
	}
	switch p.typ {
	case TypeInteger:
		switch x := v.(type) {
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			return true
		case uint:
			return uint64(x) <= math.MaxInt64
		case uint64:
			return x <= math.MaxInt64
		case json.Number:
			_, err := x.Int64()
			return err == nil
		}
		return false
	case TypeDecimal:
		if _, isText := v.(string); isText {
			return false
		}
		_, ok := toDecimal(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDateTime:
		_, ok := toTime(v)
		return ok
	}
	return true
}
