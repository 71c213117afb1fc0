package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// parseDurationField parses a JSON duration field that can be either a
// string ("1h", "5m", "30s") or an integer (nanoseconds).
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
