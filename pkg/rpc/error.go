package rpc

import (
	"fmt"
)

const (
	// errorParamKey is the key under which error responses carry their message.
	errorParamKey = "error"
)

// Dialer error messages
var (
	// Connection errors
	ErrAlreadyConnected  = fmt.Errorf("already connected")
	ErrNotConnected      = fmt.Errorf("not connected to server")
	ErrConnectionTimeout = fmt.Errorf("websocket connection timeout")
	ErrReadingMessage    = fmt.Errorf("error reading message")

	// Request/Response errors
	ErrNilRequest        = fmt.Errorf("nil request")
	ErrMarshalingRequest = fmt.Errorf("error marshaling request")
	ErrSendingRequest    = fmt.Errorf("error sending request")
	ErrNoResponse        = fmt.Errorf("no response received")
	ErrSendingPing       = fmt.Errorf("error sending ping")

	// WebSocket-specific errors
	ErrDialingWebsocket = fmt.Errorf("error dialing websocket server")

	// Node identity errors
	ErrInvalidNodeKey       = fmt.Errorf("invalid node key announcement")
	ErrNodeKeyMismatch      = fmt.Errorf("node key does not match the pinned fingerprint")
	ErrNodeKeyUnknown       = fmt.Errorf("node key not announced")
	ErrInvalidNodeSignature = fmt.Errorf("invalid node signature")
)

// NewErrorParams builds the params of an error response.
func NewErrorParams(errMsg string) Params {
	params, _ := NewParams(map[string]string{errorParamKey: errMsg})
	return params
}
