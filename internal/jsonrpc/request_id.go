package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID is a JSON-RPC message ID: a string or a number. The zero/nil value
// marks a notification.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric value as a RequestID. Unsupported
// types produce a nil ID.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &RequestID{value: value}
	default:
		return &RequestID{}
	}
}

// IsNil reports whether the ID is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// String returns a printable form of the ID, or "" when absent.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.value)
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		// JSON numbers decode as float64; preserve integral IDs as int64 so
		// round-trips do not grow a fractional part.
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.value = s
		return nil
	}
	if string(data) == "null" {
		id.value = nil
		return nil
	}
	return fmt.Errorf("request id must be a string or number, got %s", data)
}
