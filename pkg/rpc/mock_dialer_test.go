package rpc_test

import (
	"context"

	"github.com/erc7824/nitrolite/keynode/pkg/rpc"
)

// MockCallHandler handles one method in the mock dialer. It receives the
// request params and a publisher for notifications.
type MockCallHandler func(params rpc.Params, publishNotification MockNotificationPublisher) (*rpc.Response, error)

// MockNotificationPublisher pushes a notification to the client.
type MockNotificationPublisher func(event rpc.Event, notification rpc.Params)

var _ rpc.Dialer = (*MockDialer)(nil)

// MockDialer is an rpc.Dialer that routes calls to registered handlers
// without a network connection.
type MockDialer struct {
	handlers map[rpc.Method]MockCallHandler
	eventCh  chan *rpc.Response
}

func NewMockDialer() *MockDialer {
	return &MockDialer{
		handlers: make(map[rpc.Method]MockCallHandler),
		eventCh:  make(chan *rpc.Response, 10),
	}
}

// RegisterHandler must be called before the client starts.
func (d *MockDialer) RegisterHandler(method rpc.Method, handler MockCallHandler) {
	d.handlers[method] = handler
}

func (d *MockDialer) Dial(ctx context.Context, url string, handleClosure func(err error)) error {
	return nil
}

func (d *MockDialer) IsConnected() bool {
	return true
}

// Call answers with "method not found" for unregistered methods and turns
// handler errors into error responses.
func (d *MockDialer) Call(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	if req == nil {
		return nil, rpc.ErrNilRequest
	}

	handler, exists := d.handlers[rpc.Method(req.Req.Method)]
	if !exists {
		res := rpc.NewErrorResponse(req.Req.RequestID, "method not found")
		return &res, nil
	}

	res, err := handler(req.Req.Params, d.publishNotification)
	if err != nil {
		res := rpc.NewErrorResponse(req.Req.RequestID, err.Error())
		return &res, nil
	}

	return res, nil
}

func (d *MockDialer) EventCh() <-chan *rpc.Response {
	return d.eventCh
}

func (d *MockDialer) publishNotification(event rpc.Event, notification rpc.Params) {
	res := rpc.NewResponse(rpc.NewPayload(0, event.String(), notification))

	select {
	case d.eventCh <- &res:
	default:
	}
}

func mockResponse(method rpc.Method, v any) (*rpc.Response, error) {
	params, err := rpc.NewParams(v)
	if err != nil {
		return nil, err
	}
	res := rpc.NewResponse(rpc.NewPayload(0, method.String(), params))
	return &res, nil
}
