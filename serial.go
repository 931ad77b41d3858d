package trino

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Numeric is a string holding a number, rendered into SQL as-is instead of
// quoted. Use it for values that must not go through float64.
type Numeric string

// Serial converts a Go value to a SQL literal suitable for an EXECUTE
// parameter list. Strings are quoted with doubled single quotes, byte slices become
// X'..' binary literals, time values become zoned TIMESTAMP literals and
// slices and maps become ARRAY and MAP constructors. Unsupported types
// report an error rather than guessing a representation.
func Serial(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case Numeric:
		if _, err := strconv.ParseFloat(string(val), 64); err != nil {
			return "", fmt.Errorf("invalid numeric literal %q", string(val))
		}
		return string(val), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case *apd.Decimal:
		if val == nil {
			return "NULL", nil
		}
		return "DECIMAL '" + val.Text('f') + "'", nil
	case apd.Decimal:
		return "DECIMAL '" + val.Text('f') + "'", nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	case []byte:
		return "X'" + hex.EncodeToString(val) + "'", nil
	case time.Time:
		return "TIMESTAMP '" + val.Format("2006-01-02 15:04:05.000 -07:00") + "'", nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return "NULL", nil
		}
		return Serial(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		items := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, err := Serial(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return "ARRAY[" + strings.Join(items, ", ") + "]", nil
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		values := make(map[string]string, rv.Len())
		for _, k := range rv.MapKeys() {
			ks, err := Serial(k.Interface())
			if err != nil {
				return "", err
			}
			vs, err := Serial(rv.MapIndex(k).Interface())
			if err != nil {
				return "", err
			}
			keys = append(keys, ks)
			values[ks] = vs
		}
		// Deterministic constructor order.
		sort.Strings(keys)
		ordered := make([]string, len(keys))
		for i, k := range keys {
			ordered[i] = values[k]
		}
		return "MAP(ARRAY[" + strings.Join(keys, ", ") + "], ARRAY[" + strings.Join(ordered, ", ") + "])", nil
	}

	return "", fmt.Errorf("unsupported parameter type: %T", v)
}
