package trino

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// RowValue is a decoded ROW value: ordered field values with their names.
// Anonymous fields carry an empty name.
type RowValue struct {
	Names  []string
	Values []any
}

// Raw type names as the server reports them.
const (
	TypeBoolean               = "boolean"
	TypeTinyint               = "tinyint"
	TypeSmallint              = "smallint"
	TypeInteger               = "integer"
	TypeBigint                = "bigint"
	TypeReal                  = "real"
	TypeDouble                = "double"
	TypeDecimal               = "decimal"
	TypeVarchar               = "varchar"
	TypeChar                  = "char"
	TypeVarbinary             = "varbinary"
	TypeJson                  = "json"
	TypeDate                  = "date"
	TypeTime                  = "time"
	TypeTimeWithTimeZone      = "time with time zone"
	TypeTimestamp             = "timestamp"
	TypeTimestampWithTimeZone = "timestamp with time zone"
	TypeIntervalYearToMonth   = "interval year to month"
	TypeIntervalDayToSecond   = "interval day to second"
	TypeArray                 = "array"
	TypeMap                   = "map"
	TypeRow                   = "row"
	TypeUuid                  = "uuid"
	TypeIpAddress             = "ipaddress"
	TypeUnknown               = "unknown"
)

const (
	timestampLayout   = "2006-01-02 15:04:05.999999999"
	timestampTzOffset = "2006-01-02 15:04:05.999999999 -07:00"
	timestampTzName   = "2006-01-02 15:04:05.999999999 MST"
	dateLayout        = "2006-01-02"
	timeLayout        = "15:04:05.999999999"
	timeTzOffset      = "15:04:05.999999999 -07:00"
	timeTzName        = "15:04:05.999999999 MST"
)

// DecodeValue converts one JSON-decoded result value into its Go
// representation according to the column's type signature. Numbers must have
// been decoded with json.Number; the cursor does this. A SQL NULL decodes to
// nil regardless of type, and a NULL composite stays distinct from an empty
// one.
//
// The mapping is:
//
//	boolean                   bool
//	tinyint..bigint           int64
//	real, double              float64
//	decimal                   *apd.Decimal
//	varchar, char, json       string
//	varbinary                 []byte
//	date, time*, timestamp*   time.Time
//	interval*                 string
//	array                     []any
//	map                       map[string]any
//	row                       RowValue
func DecodeValue(val any, sig TypeSignature) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch sig.RawType {
	case TypeBoolean:
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", val)
		}
		return b, nil

	case TypeTinyint:
		return decodeInt(val, math.MinInt8, math.MaxInt8)
	case TypeSmallint:
		return decodeInt(val, math.MinInt16, math.MaxInt16)
	case TypeInteger:
		return decodeInt(val, math.MinInt32, math.MaxInt32)
	case TypeBigint:
		return decodeInt(val, math.MinInt64, math.MaxInt64)

	case TypeReal, TypeDouble:
		return decodeFloat(val)

	case TypeDecimal:
		s, ok := val.(string)
		if !ok {
			if n, isNum := val.(json.Number); isNum {
				s = n.String()
			} else {
				return nil, fmt.Errorf("expected decimal string, got %T", val)
			}
		}
		d, _, err := apd.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
		}
		return d, nil

	case TypeVarchar, TypeChar, TypeJson, TypeUuid, TypeIpAddress,
		TypeIntervalYearToMonth, TypeIntervalDayToSecond:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", val)
		}
		return s, nil

	case TypeVarbinary:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string, got %T", val)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil

	case TypeDate:
		return decodeTime(val, dateLayout)
	case TypeTime:
		return decodeTime(val, timeLayout)
	case TypeTimeWithTimeZone:
		return decodeZonedTime(val, timeLayout, timeTzOffset, timeTzName)
	case TypeTimestamp:
		return decodeTime(val, timestampLayout)
	case TypeTimestampWithTimeZone:
		return decodeZonedTime(val, timestampLayout, timestampTzOffset, timestampTzName)

	case TypeArray:
		return decodeArray(val, sig)
	case TypeMap:
		return decodeMap(val, sig)
	case TypeRow:
		return decodeRowValue(val, sig)

	case TypeUnknown:
		return val, nil

	default:
		// Unrecognized types pass through as the server sent them.
		return val, nil
	}
}

func decodeInt(val any, min, max int64) (int64, error) {
	n, ok := val.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", val)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", n.String(), err)
	}
	if i < min || i > max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", i, min, max)
	}
	return i, nil
}

func decodeFloat(val any) (float64, error) {
	switch v := val.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid float %q: %w", v.String(), err)
		}
		return f, nil
	case string:
		// Non-finite doubles arrive as strings.
		switch v {
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "NaN":
			return math.NaN(), nil
		}
		return 0, fmt.Errorf("unexpected float string %q", v)
	default:
		return 0, fmt.Errorf("expected number, got %T", val)
	}
}

// decodeTime parses against each layout in order. For zoned layouts the
// server-reported offset is retained rather than normalized to UTC.
func decodeTime(val any, layouts ...string) (time.Time, error) {
	s, ok := val.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected time string, got %T", val)
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("invalid time %q: %w", s, lastErr)
}

// decodeZonedTime parses a value carrying a time zone. Numeric offsets and
// uppercase abbreviations match the layouts directly; an IANA name such as
// America/New_York is split off and resolved with time.LoadLocation, and the
// value stays in that zone rather than being normalized to UTC.
func decodeZonedTime(val any, bare string, layouts ...string) (time.Time, error) {
	s, ok := val.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected time string, got %T", val)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	idx := strings.LastIndex(s, " ")
	if idx < 0 {
		return time.Time{}, fmt.Errorf("invalid time %q: missing zone", s)
	}
	stamp, zone := s[:idx], s[idx+1:]
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	t, err := time.ParseInLocation(bare, stamp, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}

func decodeArray(val any, sig TypeSignature) ([]any, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", val)
	}
	elemSig := TypeSignature{RawType: TypeUnknown}
	if len(sig.Arguments) > 0 {
		if ts, ok := sig.Arguments[0].TypeSignature(); ok {
			elemSig = ts
		}
	}
	out := make([]any, len(items))
	for i, item := range items {
		decoded, err := DecodeValue(item, elemSig)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = decoded
	}
	return out, nil
}

func decodeMap(val any, sig TypeSignature) (map[string]any, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", val)
	}
	valueSig := TypeSignature{RawType: TypeUnknown}
	if len(sig.Arguments) > 1 {
		if ts, ok := sig.Arguments[1].TypeSignature(); ok {
			valueSig = ts
		}
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		decoded, err := DecodeValue(v, valueSig)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = decoded
	}
	return out, nil
}

func decodeRowValue(val any, sig TypeSignature) (RowValue, error) {
	items, ok := val.([]any)
	if !ok {
		return RowValue{}, fmt.Errorf("expected row array, got %T", val)
	}
	row := RowValue{
		Names:  make([]string, len(items)),
		Values: make([]any, len(items)),
	}
	for i, item := range items {
		fieldSig := TypeSignature{RawType: TypeUnknown}
		if i < len(sig.Arguments) {
			if nts, ok := sig.Arguments[i].NamedTypeSignature(); ok {
				fieldSig = nts.TypeSignature
				if nts.FieldName != nil {
					row.Names[i] = nts.FieldName.Name
				}
			} else if ts, ok := sig.Arguments[i].TypeSignature(); ok {
				fieldSig = ts
			}
		}
		decoded, err := DecodeValue(item, fieldSig)
		if err != nil {
			return RowValue{}, fmt.Errorf("field %d: %w", i, err)
		}
		row.Values[i] = decoded
	}
	return row, nil
}
