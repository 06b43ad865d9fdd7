package wire

import "errors"

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrBadHandshake     = errors.New("malformed websocket handshake")
	ErrMissingKeyHeader = errors.New("missing Sec-WebSocket-Key header")
	ErrConnectionClosed = errors.New("websocket connection closed")
	ErrUnexpectedStatus = errors.New("unexpected websocket handshake status")
)
