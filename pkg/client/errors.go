package client

import "errors"

var (
	ErrDial          = errors.New("dial sandbox failed")
	ErrEncode        = errors.New("encode request failed")
	ErrSend          = errors.New("send frame failed")
	ErrUnexpectedMsg = errors.New("unexpected message type")
	ErrClosed        = errors.New("connection closed")
	ErrRemote        = errors.New("remote returned an error frame")
)
