package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	encoded, err := encodeEnvelope(map[string]interface{}{"x": 1}, 0)
	require.NoError(t, err)

	env, err := decodeEnvelope(encoded)
	require.NoError(t, err)
	require.Zero(t, env.Expires)

	value, err := env.decodeValue()
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"x": float64(1)}, value)
}

func TestEnvelopeExpiry(t *testing.T) {
	now := time.UnixMilli(10_000)

	require.False(t, envelope{Expires: 0}.expiredAt(now), "no expiry never expires")
	require.False(t, envelope{Expires: 10_001}.expiredAt(now))
	require.True(t, envelope{Expires: 10_000}.expiredAt(now))
	require.True(t, envelope{Expires: 9_999}.expiredAt(now))
}

func TestEnvelopeCorruptData(t *testing.T) {
	_, err := decodeEnvelope("{not json")
	require.ErrorIs(t, err, ErrCorruptEntry)

	env := envelope{Value: []byte("{broken")}
	_, err = env.decodeValue()
	require.ErrorIs(t, err, ErrCorruptEntry)
}

func TestEncodeEnvelopeRejectsUnserializableValue(t *testing.T) {
	_, err := encodeEnvelope(make(chan int), 0)
	require.Error(t, err)
}
