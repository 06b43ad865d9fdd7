package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payload := []byte(`{"id":7,"pid":123,"handle":"proc-0"}`)
	f := Frame{Type: TypeSpawned, Payload: payload}

	buf, err := Encode(f)
	require.NoError(t, err)
	require.Equal(t, TypeSpawned, buf[0])
	require.Equal(t, byte(len(payload)), buf[1], "length low byte, LE")

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestDecode_TooShort(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00, 0x00})
	require.ErrorIs(t, err, ErrFrameTooShort)
}

func TestDecode_LengthMismatch(t *testing.T) {
	buf := []byte{TypePing, 0x05, 0x00, 0x00, 0x00, 'a', 'b'}
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrFrameTooShort)
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(Frame{Type: TypeFSRead, Payload: make([]byte, MaxPayloadBytes+1)})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncode_EmptyPayload(t *testing.T) {
	buf, err := Encode(Frame{Type: TypePong})
	require.NoError(t, err)
	require.Equal(t, []byte{TypePong, 0, 0, 0, 0}, buf)
}
