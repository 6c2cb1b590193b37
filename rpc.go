package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

// RPCMessage is the envelope of every message on the wire. Clients send
//
//	{"req": [request_id, method, params, ts], "sig": []}
//
// and the node answers with
//
//	{"res": [request_id, method, params, ts], "sig": [node_signature]}
//
// where node_signature covers the "res" array bytes exactly as sent.
type RPCMessage struct {
	Req *RPCData         `json:"req,omitempty" validate:"required_without=Res,excluded_with=Res"`
	Res *RPCData         `json:"res,omitempty" validate:"required_without=Req,excluded_with=Req"`
	Sig []sign.Signature `json:"sig"`
}

func ParseRPCMessage(data []byte) (RPCMessage, error) {
	var msg RPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return RPCMessage{}, fmt.Errorf("failed to parse request: %w", err)
	}
	return msg, nil
}

type RPCDataParams = any

// RPCData is the positional array inside an envelope. Notifications carry
// request ID 0.
type RPCData struct {
	RequestID uint64        `json:"request_id" validate:"required"`
	Method    string        `json:"method" validate:"required"`
	Params    RPCDataParams `json:"params" validate:"required"`
	Timestamp uint64        `json:"ts" validate:"required"`

	raw []byte
}

// newRPCData stamps a payload with the current time. Nil params encode as {}.
func newRPCData(requestID uint64, method string, params RPCDataParams) *RPCData {
	if params == nil {
		params = struct{}{}
	}
	return &RPCData{
		RequestID: requestID,
		Method:    method,
		Params:    params,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
}

// newErrorData builds the payload of an "error" response.
func newErrorData(requestID uint64, message string) *RPCData {
	return newRPCData(requestID, "error", ErrorResponse{Error: message})
}

// IsNotification reports whether the payload was pushed by the node rather
// than sent in answer to a request.
func (m *RPCData) IsNotification() bool {
	return m.RequestID == 0
}

func (m *RPCData) fields() []struct {
	name string
	dst  any
} {
	return []struct {
		name string
		dst  any
	}{
		{"request_id", &m.RequestID},
		{"method", &m.Method},
		{"params", &m.Params},
		{"ts", &m.Timestamp},
	}
}

func (m *RPCData) UnmarshalJSON(data []byte) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("error reading RPCData as array: %w", err)
	}

	fields := m.fields()
	if len(elems) != len(fields) {
		return fmt.Errorf("invalid RPCData: expected %d elements in array, got %d", len(fields), len(elems))
	}
	for i, f := range fields {
		if err := json.Unmarshal(elems[i], f.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}

	m.raw = data
	return nil
}

func (m RPCData) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.RequestID, m.Method, m.Params, m.Timestamp})
}

// RawBytes returns the bytes the payload was decoded from, nil for payloads
// built locally.
func (m RPCData) RawBytes() []byte {
	return m.raw
}

// seal marshals the payload, signs the marshalled bytes with signer and
// returns the complete response envelope.
func (m *RPCData) seal(signer sign.Signer) ([]byte, error) {
	if m == nil {
		return nil, errors.New("response data is nil")
	}

	res, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}
	sig, err := signer.Sign(res)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response data: %w", err)
	}

	// res is embedded verbatim so the signature stays valid for its bytes.
	envelope, err := json.Marshal(struct {
		Res json.RawMessage  `json:"res"`
		Sig []sign.Signature `json:"sig"`
	}{res, []sign.Signature{sig}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response message: %w", err)
	}
	return envelope, nil
}

// ErrorResponse is the params payload of an "error" response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RPCError is an error whose message is safe to send back to the client.
// Handlers return RPCErrorf for user-facing failures; any other error is
// replaced with the handler's fallback message.
//
//	// Client will receive this exact error message
//	return RPCErrorf("key %q not found", ref)
//
//	// Client will receive a generic error message
//	return fmt.Errorf("database connection failed")
type RPCError struct {
	err error
}

// RPCErrorf creates a new RPCError with a formatted client-facing message.
// The message must not leak internal details such as key material, file
// paths or database specifics.
func RPCErrorf(format string, args ...any) RPCError {
	return RPCError{
		err: fmt.Errorf(format, args...),
	}
}

func (e RPCError) Error() string {
	return e.err.Error()
}

func (e RPCError) Unwrap() error {
	return errors.Unwrap(e.err)
}
