package wire

import (
	"encoding/binary"

	"github.com/dnakov/vmcage/internal/errx"
)

// MaxPayloadBytes bounds a single inner-frame payload.
const MaxPayloadBytes = 16 << 20

// Message type tags, carried as the first byte of every inner frame.
const (
	TypeSpawn          byte = 0x01
	TypeStdin          byte = 0x02
	TypeKill           byte = 0x03
	TypeResize         byte = 0x04
	TypeMount          byte = 0x05
	TypeUnmount        byte = 0x06
	TypeSessionCreate  byte = 0x07
	TypeBinaryInstall  byte = 0x08
	TypeFSRead         byte = 0x09
	TypeLoadState      byte = 0x0A
	TypeIsRunning      byte = 0x0B
	TypeSessionDestroy byte = 0x0C

	TypeSpawned       byte = 0x81
	TypeStdout        byte = 0x82
	TypeStderr        byte = 0x83
	TypeExit          byte = 0x84
	TypeError         byte = 0x85
	TypeOK            byte = 0x86
	TypeData          byte = 0x87
	TypeRunningStatus byte = 0x88
	TypeNetworkStatus byte = 0x89

	TypePing byte = 0xF0
	TypePong byte = 0xF1
)

// Frame is one inner-protocol message: a type tag plus a JSON payload.
type Frame struct {
	Type    byte
	Payload []byte
}

// Encode serializes f as type(1) || length(4, LE) || payload.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 5+len(f.Payload))
	buf[0] = f.Type
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[5:], f.Payload)
	return buf, nil
}

// Decode parses a complete inner frame from buf. buf must contain exactly
// one frame's worth of bytes (header + declared payload length).
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 5 {
		return Frame{}, ErrFrameTooShort
	}
	typ := buf[0]
	length := binary.LittleEndian.Uint32(buf[1:5])
	if length > MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	if uint32(len(buf)-5) != length {
		return Frame{}, errx.With(ErrFrameTooShort, ": declared %d, have %d", length, len(buf)-5)
	}
	payload := make([]byte, length)
	copy(payload, buf[5:])
	return Frame{Type: typ, Payload: payload}, nil
}

// HeaderLen is the fixed portion of every inner frame.
const HeaderLen = 5

// DecodeHeader reads just the type and declared length from the first
// HeaderLen bytes, letting a caller size the subsequent payload read.
func DecodeHeader(header []byte) (typ byte, length uint32, err error) {
	if len(header) < HeaderLen {
		return 0, 0, ErrFrameTooShort
	}
	length = binary.LittleEndian.Uint32(header[1:5])
	if length > MaxPayloadBytes {
		return 0, 0, ErrPayloadTooLarge
	}
	return header[0], length, nil
}
