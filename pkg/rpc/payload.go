package rpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the data part of a request or response. It encodes to JSON as
// the array [RequestID, Method, Params, Timestamp].
type Payload struct {
	// RequestID correlates a response with its request. Notifications use 0.
	RequestID uint64 `json:"request_id"`
	// Method is the RPC method, or "error" for error responses.
	Method string `json:"method"`
	// Params holds the method parameters or results.
	Params Params `json:"params"`
	// Timestamp is the creation time in Unix milliseconds.
	Timestamp uint64 `json:"ts"`
}

// NewPayload creates a payload stamped with the current time.
func NewPayload(id uint64, method string, params Params) Payload {
	if params == nil {
		params = Params{}
	}

	return Payload{
		RequestID: id,
		Method:    method,
		Params:    params,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
}

// fields lists the array elements of the wire form in order.
func (p *Payload) fields() []struct {
	name string
	dst  any
} {
	return []struct {
		name string
		dst  any
	}{
		{"request_id", &p.RequestID},
		{"method", &p.Method},
		{"params", &p.Params},
		{"timestamp", &p.Timestamp},
	}
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var rawArr []json.RawMessage
	if err := json.Unmarshal(data, &rawArr); err != nil {
		return fmt.Errorf("error reading payload as array: %w", err)
	}

	fields := p.fields()
	if len(rawArr) != len(fields) {
		return fmt.Errorf("invalid payload: expected %d elements in array, got %d", len(fields), len(rawArr))
	}
	for i, f := range fields {
		if err := json.Unmarshal(rawArr[i], f.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		p.RequestID,
		p.Method,
		p.Params,
		p.Timestamp,
	})
}

// Params holds method parameters as raw JSON per top-level key, so that
// each method can decode them into its own type with Translate.
type Params map[string]json.RawMessage

// NewParams converts v, any value that marshals to a JSON object, into Params.
// A nil v gives empty Params.
func NewParams(v any) (Params, error) {
	if v == nil {
		return Params{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshalling params: %w", err)
	}
	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("error unmarshalling params: %w", err)
	}
	return params, nil
}

// Translate decodes the params into v.
func (p Params) Translate(v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshalling params: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshalling params: %w", err)
	}
	return nil
}

// ResponseError is the error carried by an error response.
type ResponseError struct {
	// RequestID is the ID of the failed request, 0 when not known.
	RequestID uint64
	Message   string
}

func (e *ResponseError) Error() string {
	return e.Message
}

// Error returns the message stored under the "error" key as a *ResponseError,
// or nil.
func (p Params) Error() error {
	errMsgRaw, ok := p[errorParamKey]
	if !ok {
		return nil
	}

	var errMsg string
	if err := json.Unmarshal(errMsgRaw, &errMsg); err != nil {
		return nil
	}
	return &ResponseError{Message: errMsg}
}
