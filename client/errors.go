package client

import "errors"

var (
	ErrServerClosed       = errors.New("server-closed")
	ErrReconnectExhausted = errors.New("reconnect-exhausted")
	ErrConnectionLost     = errors.New("connection-lost")
	ErrNotConnected       = errors.New("not-connected")
	ErrRequestFailed      = errors.New("request-failed")
)
