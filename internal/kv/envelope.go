package kv

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the stored representation of every value: the caller's payload
// plus an optional absolute expiry in epoch milliseconds. Expires == 0 means
// the entry never expires.
type envelope struct {
	Value   json.RawMessage `json:"value"`
	Expires int64           `json:"expires,omitempty"`
}

func encodeEnvelope(value interface{}, expires int64) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("kv: encode value: %w", err)
	}

	data, err := json.Marshal(envelope{Value: raw, Expires: expires})
	if err != nil {
		return "", fmt.Errorf("kv: encode envelope: %w", err)
	}
	return string(data), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return env, nil
}

// expiredAt reports whether the envelope carries an expiry in the past.
func (e envelope) expiredAt(now time.Time) bool {
	return e.Expires > 0 && e.Expires <= now.UnixMilli()
}

// decodeValue unwraps the caller's payload.
func (e envelope) decodeValue() (interface{}, error) {
	if len(e.Value) == 0 {
		return nil, nil
	}

	var value interface{}
	if err := json.Unmarshal(e.Value, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return value, nil
}
