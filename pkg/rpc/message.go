package rpc

import (
	"encoding/json"
	"errors"

	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

// Request is a message sent to the daemon.
//
//	{"req": [requestId, method, params, timestamp], "sig": [...]}
type Request struct {
	Req Payload          `json:"req"`
	Sig []sign.Signature `json:"sig"`
}

// NewRequest wraps payload in a Request. The daemon does not require request
// signatures, so sig is usually empty.
func NewRequest(payload Payload, sig ...sign.Signature) Request {
	if sig == nil {
		sig = []sign.Signature{}
	}
	return Request{
		Req: payload,
		Sig: sig,
	}
}

// Response is a message received from the daemon.
//
//	{"res": [requestId, method, params, timestamp], "sig": [nodeSignature]}
type Response struct {
	Res Payload          `json:"res"`
	Sig []sign.Signature `json:"sig"`

	// rawRes holds the "res" bytes as received; the node signature covers them.
	rawRes json.RawMessage
	// authErr is set by the dialer when the node signature does not check out.
	authErr error
}

// NewResponse wraps payload in a Response.
func NewResponse(payload Payload, sig ...sign.Signature) Response {
	return Response{
		Res: payload,
		Sig: sig,
	}
}

// NewErrorResponse builds an error response for requestID.
func NewErrorResponse(requestID uint64, errMsg string, sig ...sign.Signature) Response {
	return NewResponse(NewPayload(requestID, ErrorMethod.String(), NewErrorParams(errMsg)), sig...)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		Res json.RawMessage  `json:"res"`
		Sig []sign.Signature `json:"sig"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw.Res, &r.Res); err != nil {
		return err
	}

	r.Sig = raw.Sig
	r.rawRes = raw.Res
	return nil
}

// SignedBytes returns the bytes the node signature was computed over. It is
// nil for responses that were not decoded from the wire.
func (r Response) SignedBytes() []byte {
	return r.rawRes
}

// Error returns the error carried by an error response, or nil.
func (r Response) Error() error {
	if r.Res.Method != ErrorMethod.String() {
		return nil
	}

	err := r.Res.Params.Error()
	var resErr *ResponseError
	if errors.As(err, &resErr) {
		resErr.RequestID = r.Res.RequestID
	}
	return err
}
