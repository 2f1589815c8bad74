package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripKnownTypes(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"ping", map[string]interface{}{"id": "p1"}},
		{"pong", map[string]interface{}{"id": "p1"}},
		{"subscribe", map[string]interface{}{"docId": "room:alpha"}},
		{"delta", map[string]interface{}{"docId": "room:alpha", "changes": map[string]interface{}{"x": 1.0}}},
		{"awareness_update", map[string]interface{}{"docId": "room:alpha", "state": map[string]interface{}{"cursor": 3.0}}},
		{"error", map[string]interface{}{"code": "INVALID_MESSAGE"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.name, tc.payload, 1234)
			require.NoError(t, err)

			msg, err := Decode(frame)
			require.NoError(t, err)
			require.Equal(t, tc.name, msg.TypeName)
			require.Equal(t, int64(1234), msg.Timestamp)

			for k, v := range tc.payload {
				got, ok := msg.Field(k)
				require.True(t, ok, "field %q should be present", k)
				require.Equal(t, v, got)
			}

			flat := msg.Flatten()
			for k, v := range tc.payload {
				require.Equal(t, v, flat[k])
			}
			require.Equal(t, tc.name, flat["type"])
			require.Equal(t, int64(1234), flat["timestamp"])
		})
	}
}

func TestUnknownTypeEncodesAsError(t *testing.T) {
	frame, err := Encode("not_a_real_type", map[string]interface{}{"foo": "bar"}, 1)
	require.NoError(t, err)
	require.Equal(t, byte(TypeError), frame[0])

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, TypeError, msg.Type)
}

func TestDecodeUnknownCodeNeverPanics(t *testing.T) {
	frame, err := Encode("ping", nil, 1)
	require.NoError(t, err)
	frame[0] = 0x7A // Not in the type table, not '{' or '['.

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, TypeError, msg.Type)
	require.Equal(t, "error", msg.TypeName)
}

func TestFramingBounds(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := Decode(make([]byte, MinFrameSize-1))
		require.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil)
		require.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("truncated payload", func(t *testing.T) {
		frame, err := Encode("ping", map[string]interface{}{"id": "p1"}, 1)
		require.NoError(t, err)

		truncated := frame[:len(frame)-2]
		_, err = Decode(truncated)
		require.ErrorIs(t, err, ErrTruncatedFrame)
	})

	t.Run("minimum valid frame", func(t *testing.T) {
		frame, err := Encode("ping", nil, 1)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(frame), MinFrameSize)

		msg, err := Decode(frame)
		require.NoError(t, err)
		require.Equal(t, "ping", msg.TypeName)
	})
}

func TestTextualFallback(t *testing.T) {
	frame, err := EncodeTextual("ping", map[string]interface{}{"id": "p1"}, 42)
	require.NoError(t, err)
	require.True(t, frame[0] == '{')

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, "ping", msg.TypeName)
	require.Equal(t, int64(42), msg.Timestamp)
	id, ok := msg.Field("id")
	require.True(t, ok)
	require.Equal(t, "p1", id)
}

func TestPayloadNotJSON(t *testing.T) {
	frame, err := Encode("ping", nil, 1)
	require.NoError(t, err)
	// Corrupt the payload bytes (there are none for an empty ping, so
	// force a non-empty, non-JSON payload by hand).
	frame = append(frame[:9], 0, 0, 0, 3, 'x', 'y', 'z')

	_, err = Decode(frame)
	require.ErrorIs(t, err, ErrPayloadNotJSON)
}
