package authadapters

import (
	"encoding/json"
	"regexp"
	"time"
)

// Record is the schemaless form of a stored value.
type Record map[string]any

// isoDatePattern is the ISO-8601 profile produced by time.Time's JSON
// encoding: date, time, optional fraction, mandatory zone.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)

// IsISODate reports whether s fully matches the ISO-8601 date-time profile.
func IsISODate(s string) bool {
	return isoDatePattern.MatchString(s)
}

// Encode converts a record into its storable JSON form. Timestamps keep the
// default RFC 3339 encoding.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, NewError("Encode", KindCodec, err)
	}
	return data, nil
}

// DecodeRecord parses stored JSON into a Record, turning every string that is
// an ISO-8601 date-time back into a time.Time. Strings that only partly look
// like dates are left alone, and nulls stay nil.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, NewError("DecodeRecord", KindCodec, err)
	}
	if rec == nil {
		return nil, nil
	}
	return ReviveDates(rec).(Record), nil
}

// Decode parses stored JSON into a typed record. Typed time fields are
// handled by encoding/json; free-form Extra maps are revived afterwards.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return NewError("Decode", KindCodec, err)
	}
	switch r := v.(type) {
	case *User:
		r.Extra = ReviveExtra(r.Extra)
	case *Account:
		r.Extra = ReviveExtra(r.Extra)
	}
	return nil
}

// ReviveExtra revives date strings in a free-form map.
func ReviveExtra(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return ReviveDates(m).(map[string]any)
}

// ReviveDates walks maps and slices, replacing ISO-8601 strings with
// time.Time. Maps and slices are updated in place.
func ReviveDates(v any) any {
	switch val := v.(type) {
	case string:
		if !IsISODate(val) {
			return val
		}
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return val
		}
		return t
	case Record:
		for k, item := range val {
			val[k] = ReviveDates(item)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = ReviveDates(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = ReviveDates(item)
		}
		return val
	default:
		return v
	}
}
