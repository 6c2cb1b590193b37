package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

// Client calls the keynode RPC API over a Dialer and dispatches the
// daemon's notifications to registered handlers.
type Client struct {
	dialer        Dialer
	eventHandlers map[Event]any
	mu            sync.RWMutex // protects eventHandlers
}

func NewClient(dialer Dialer) *Client {
	return &Client{
		dialer:        dialer,
		eventHandlers: make(map[Event]any),
	}
}

// Start connects to url and starts dispatching notifications. handleClosure
// runs once the connection is closed.
func (c *Client) Start(ctx context.Context, url string, handleClosure func(err error)) error {
	parentCtx, cancel := context.WithCancel(ctx)
	childHandleClosure := func(err error) {
		cancel()
		handleClosure(err)
	}

	if err := c.dialer.Dial(parentCtx, url, childHandleClosure); err != nil {
		cancel()
		return err
	}

	go c.listenEvents(parentCtx)

	return nil
}

// NodeIdentity returns the node key pinned by the dialer on the current
// connection, or nil when the dialer has not seen one or does not track it.
func (c *Client) NodeIdentity() *NodeIdentity {
	if d, ok := c.dialer.(interface{ NodeIdentity() *NodeIdentity }); ok {
		return d.NodeIdentity()
	}
	return nil
}

type NodeKeyEventHandler func(ctx context.Context, notif NodeKeyResponse, resSig []sign.Signature)

type KeyImportedEventHandler func(ctx context.Context, notif KeyInfo, resSig []sign.Signature)

type KeyDeletedEventHandler func(ctx context.Context, notif DeleteKeyResponse, resSig []sign.Signature)

func (c *Client) listenEvents(ctx context.Context) {
	logger := log.FromContext(ctx)
	eventCh := c.dialer.EventCh()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			if event == nil {
				continue
			}

			switch Event(event.Res.Method) {
			case NodeKeyEvent:
				handleEvent[NodeKeyResponse, NodeKeyEventHandler](ctx, c, NodeKeyEvent, event)
			case KeyImportedEvent:
				handleEvent[KeyInfo, KeyImportedEventHandler](ctx, c, KeyImportedEvent, event)
			case KeyDeletedEvent:
				handleEvent[DeleteKeyResponse, KeyDeletedEventHandler](ctx, c, KeyDeletedEvent, event)
			default:
				logger.Warn("unknown event received", "method", event.Res.Method)
			}
		}
	}
}

// Ping checks that the daemon is alive.
func (c *Client) Ping(ctx context.Context) ([]sign.Signature, error) {
	res, err := c.call(ctx, PingMethod, nil)
	if err != nil {
		return nil, err
	}

	if res.Res.Method != PongMethod.String() {
		return res.Sig, fmt.Errorf("unexpected response method: %s", res.Res.Method)
	}

	return res.Sig, nil
}

// GetNodeKey returns the public key that signs the daemon's responses.
func (c *Client) GetNodeKey(ctx context.Context) (NodeKeyResponse, []sign.Signature, error) {
	var resParams NodeKeyResponse
	sigs, err := c.callAndTranslate(ctx, GetNodeKeyMethod, nil, &resParams)
	return resParams, sigs, err
}

// ListKeys pages through the stored keys, oldest first by default.
//
//	desc := rpc.SortTypeDescending
//	res, _, err := client.ListKeys(ctx, rpc.ListKeysRequest{ListOptions: rpc.ListOptions{Limit: 20, Sort: &desc}})
func (c *Client) ListKeys(ctx context.Context, reqParams ListKeysRequest) (ListKeysResponse, []sign.Signature, error) {
	var resParams ListKeysResponse
	sigs, err := c.callAndTranslate(ctx, ListKeysMethod, reqParams, &resParams)
	return resParams, sigs, err
}

// GetKey describes a key by ID or name, including its public components.
func (c *Client) GetKey(ctx context.Context, reqParams KeyRefRequest) (KeyInfo, []sign.Signature, error) {
	var resParams KeyInfo
	sigs, err := c.callAndTranslate(ctx, GetKeyMethod, reqParams, &resParams)
	return resParams, sigs, err
}

// ImportKey stores a PEM encoded key. Only RSA keys are accepted; other
// families fail with "failed to import key: unsupported_key_type".
func (c *Client) ImportKey(ctx context.Context, reqParams ImportKeyRequest) (KeyInfo, []sign.Signature, error) {
	var resParams KeyInfo
	sigs, err := c.callAndTranslate(ctx, ImportKeyMethod, reqParams, &resParams)
	return resParams, sigs, err
}

func (c *Client) DeleteKey(ctx context.Context, reqParams KeyRefRequest) (DeleteKeyResponse, []sign.Signature, error) {
	var resParams DeleteKeyResponse
	sigs, err := c.callAndTranslate(ctx, DeleteKeyMethod, reqParams, &resParams)
	return resParams, sigs, err
}

// Sign asks the daemon to sign a message with a stored private key.
//
//	res, _, err := client.Sign(ctx, rpc.SignRequest{Key: "payments", Digest: "sha512", Message: []byte("hello")})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Signature)
func (c *Client) Sign(ctx context.Context, reqParams SignRequest) (SignResponse, []sign.Signature, error) {
	var resParams SignResponse
	sigs, err := c.callAndTranslate(ctx, SignMethod, reqParams, &resParams)
	return resParams, sigs, err
}

// PurgeKeys deletes every stored key. The daemon refuses it outside test mode.
func (c *Client) PurgeKeys(ctx context.Context) (PurgeKeysResponse, []sign.Signature, error) {
	var resParams PurgeKeysResponse
	sigs, err := c.callAndTranslate(ctx, PurgeKeysMethod, nil, &resParams)
	return resParams, sigs, err
}

func (c *Client) callAndTranslate(ctx context.Context, method Method, reqParams, resParams any) ([]sign.Signature, error) {
	res, err := c.call(ctx, method, reqParams)
	if err != nil {
		return nil, err
	}

	if err := res.Res.Params.Translate(resParams); err != nil {
		return res.Sig, err
	}
	return res.Sig, nil
}

func (c *Client) call(ctx context.Context, method Method, reqParams any) (*Response, error) {
	payload, err := c.PreparePayload(method, reqParams)
	if err != nil {
		return nil, err
	}

	req := NewRequest(payload)
	res, err := c.dialer.Call(ctx, &req)
	if err != nil {
		return nil, err
	}

	if err := res.Error(); err != nil {
		return nil, err
	}

	return res, nil
}

// PreparePayload packages reqParams for method under a fresh request ID.
func (c *Client) PreparePayload(method Method, reqParams any) (Payload, error) {
	params, err := NewParams(reqParams)
	if err != nil {
		return Payload{}, err
	}

	return NewPayload(
		uint64(uuid.New().ID()),
		method.String(),
		params,
	), nil
}

// HandleNodeKeyEvent registers the handler for the notification sent after connecting.
// A later call replaces the previous handler.
func (c *Client) HandleNodeKeyEvent(handler NodeKeyEventHandler) {
	c.setEventHandler(NodeKeyEvent, handler)
}

// HandleKeyImportedEvent registers the handler for key import broadcasts.
func (c *Client) HandleKeyImportedEvent(handler KeyImportedEventHandler) {
	c.setEventHandler(KeyImportedEvent, handler)
}

// HandleKeyDeletedEvent registers the handler for key deletion broadcasts.
func (c *Client) HandleKeyDeletedEvent(handler KeyDeletedEventHandler) {
	c.setEventHandler(KeyDeletedEvent, handler)
}

func handleEvent[N any, H ~func(context.Context, N, []sign.Signature)](ctx context.Context, c *Client, event Event, res *Response) {
	logger := log.FromContext(ctx)
	handler, ok := c.getEventHandler(event).(H)
	if !ok {
		logger.Debug("no handler for event", "method", res.Res.Method)
		return
	}

	var notif N
	if err := res.Res.Params.Translate(&notif); err != nil {
		logger.Error("failed to translate event", "error", err, "method", res.Res.Method)
		return
	}

	handler(ctx, notif, res.Sig)
}

func (c *Client) setEventHandler(event Event, handler any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventHandlers[event] = handler
}

func (c *Client) getEventHandler(event Event) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.eventHandlers[event]
}
