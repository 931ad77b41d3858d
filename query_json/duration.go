package query_json

import (
	"encoding/json"
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Duration decodes the coordinator's duration fields. The REST API is not
// consistent here: some fields arrive as plain millisecond numbers, others
// as human-readable strings like "4.5m" or "1d2h". Both forms land in the
// embedded time.Duration; marshaling always emits the string form.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Millisecond))
	case string:
		parsed, err := str2duration.ParseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("unsupported duration value %s", data)
	}
	return nil
}
