package query_json

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SISize is a byte count decoded from the server's data-size rendering,
// which is either a plain number of bytes or a string like "2.34MB".
type SISize int64

var siUnits = map[string]float64{
	"B":  1,
	"kB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
	"PB": 1 << 50,
}

func (s SISize) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%dB", int64(s)))
}

func (s *SISize) UnmarshalJSON(bytes []byte) error {
	var v any
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*s = SISize(value)
		return nil
	case string:
		return s.parse(value)
	default:
		return fmt.Errorf("invalid data size")
	}
}

func (s *SISize) parse(value string) error {
	trimmed := strings.TrimSpace(value)
	for unit, factor := range siUnits {
		if !strings.HasSuffix(trimmed, unit) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(trimmed, unit))
		// "kB" is a suffix of nothing else, but "B" is a suffix of every
		// unit, so only accept it when the remainder is numeric.
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			continue
		}
		*s = SISize(f * factor)
		return nil
	}
	return fmt.Errorf("invalid data size %q", value)
}
