package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
)

// Dialer is the transport of a Client.
type Dialer interface {
	// Dial connects to url. It returns once the connection is established;
	// handleClosure runs after the connection is closed, with the first error
	// that caused the closure, if any.
	Dial(ctx context.Context, url string, handleClosure func(err error)) error

	// IsConnected reports whether the dialer has an open connection.
	IsConnected() bool

	// Call sends req and waits for the response with the same request ID.
	Call(ctx context.Context, req *Request) (*Response, error)

	// EventCh returns the channel of messages that match no pending request.
	EventCh() <-chan *Response
}

// WebsocketDialerConfig configures a WebsocketDialer.
type WebsocketDialerConfig struct {
	// HandshakeTimeout bounds the WebSocket handshake.
	HandshakeTimeout time.Duration

	// PingInterval is how often a ping keeps the connection alive. Zero disables pings.
	PingInterval time.Duration

	// PingRequestID is the request ID reserved for pings.
	PingRequestID uint64

	// EventChanSize is the buffer size of the event channel.
	EventChanSize int

	// NodeFingerprint pins the node key. When set, the dialer hangs up on a
	// node announcing another key and rejects messages that arrive before
	// the announcement.
	NodeFingerprint string
}

// DefaultWebsocketDialerConfig holds the defaults used by keyctl.
var DefaultWebsocketDialerConfig = WebsocketDialerConfig{
	HandshakeTimeout: 5 * time.Second,
	PingInterval:     5 * time.Second,
	PingRequestID:    100,
	EventChanSize:    100,
}

// WebsocketDialer is a Dialer over gorilla/websocket. It learns the node key
// from the node_key announcement the keynode sends on connect and checks the
// node signature of every later message against it. Responses failing the
// check are returned from Call as ErrInvalidNodeSignature; notifications
// failing it are dropped.
//
// It is safe for concurrent use.
type WebsocketDialer struct {
	cfg WebsocketDialerConfig

	mu   sync.RWMutex // protects sess
	sess *session
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(cfg WebsocketDialerConfig) *WebsocketDialer {
	return &WebsocketDialer{cfg: cfg}
}

// session is the state of one dialed connection.
type session struct {
	cfg    WebsocketDialerConfig
	ctx    context.Context
	conn   *websocket.Conn
	lg     log.Logger
	events chan *Response

	writeMu sync.Mutex // serializes websocket writes

	mu      sync.Mutex // protects the fields below
	pending map[uint64]chan *Response
	node    *NodeIdentity
	closed  bool
}

// Dial connects to url and starts the read, ping and close goroutines.
// The connection lives until parentCtx is done, the server goes away or the
// node fails to prove its identity.
func (d *WebsocketDialer) Dial(parentCtx context.Context, url string, handleClosure func(err error)) error {
	if d.IsConnected() {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  d.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(parentCtx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialingWebsocket, err)
	}

	g, ctx := errgroup.WithContext(parentCtx)
	s := &session{
		cfg:     d.cfg,
		ctx:     ctx,
		conn:    conn,
		lg:      log.FromContext(parentCtx).WithName("ws-dialer"),
		events:  make(chan *Response, d.cfg.EventChanSize),
		pending: make(map[uint64]chan *Response),
	}

	d.mu.Lock()
	d.sess = s
	d.mu.Unlock()

	g.Go(s.closeWhenDone)
	g.Go(s.readMessages)
	if d.cfg.PingInterval > 0 {
		g.Go(s.pingPeriodically)
	}

	go func() {
		handleClosure(g.Wait())
	}()

	return nil
}

func (d *WebsocketDialer) current() *session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.sess
}

func (d *WebsocketDialer) IsConnected() bool {
	s := d.current()
	return s != nil && s.ctx.Err() == nil
}

// Call sends req and waits for its response until ctx or the connection is done.
// Request IDs must be unique among concurrent calls.
func (d *WebsocketDialer) Call(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	s := d.current()
	if s == nil {
		return nil, ErrNotConnected
	}
	return s.call(ctx, req)
}

// EventCh returns the channel of unsolicited messages for the current
// connection, nil before the first Dial.
func (d *WebsocketDialer) EventCh() <-chan *Response {
	s := d.current()
	if s == nil {
		return nil
	}
	return s.events
}

// NodeIdentity returns the node key announced on the current connection, or
// nil before the announcement.
func (d *WebsocketDialer) NodeIdentity() *NodeIdentity {
	s := d.current()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node
}

func (s *session) closeWhenDone() error {
	<-s.ctx.Done()

	err := s.conn.Close()

	s.mu.Lock()
	s.closed = true
	for id, sink := range s.pending {
		close(sink)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	return err
}

// readMessages authenticates every message and routes it to the sink of its
// request ID, or to the event channel when no request is waiting for it.
func (s *session) readMessages() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if s.ctx.Err() != nil {
			s.lg.Debug("websocket read loop exiting due to context done")
			return nil
		} else if _, ok := err.(net.Error); ok {
			s.lg.Error("websocket connection timeout", "error", err)
			return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
		} else if err != nil {
			s.lg.Error("websocket read error", "error", err)
			return fmt.Errorf("%w: %w", ErrReadingMessage, err)
		}

		var msg Response
		if err := json.Unmarshal(data, &msg); err != nil {
			s.lg.Warn("malformed message", "message", string(data), "error", err)
			continue
		}

		if err := s.authenticate(&msg); err != nil {
			if errors.Is(err, ErrInvalidNodeKey) || errors.Is(err, ErrNodeKeyMismatch) {
				s.lg.Error("node failed to prove its identity", "error", err)
				return err
			}
			msg.authErr = err
		}
		s.deliver(&msg)
	}
}

// authenticate pins the node key from the node_key announcement and checks
// the node signature of every other message. Once a key is pinned, a later
// announcement must repeat it.
func (s *session) authenticate(msg *Response) error {
	s.mu.Lock()
	node := s.node
	s.mu.Unlock()

	if msg.Res.RequestID == 0 && msg.Res.Method == NodeKeyEvent.String() {
		pinned := s.cfg.NodeFingerprint
		if node != nil {
			pinned = node.Fingerprint
		}

		id, err := NewNodeIdentity(msg, pinned)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.node = id
		s.mu.Unlock()
		s.lg.Debug("node key pinned", "fingerprint", id.Fingerprint, "digest", id.Digest)
		return nil
	}

	if node == nil {
		if s.cfg.NodeFingerprint != "" {
			return ErrNodeKeyUnknown
		}
		return nil
	}
	return node.Verify(msg)
}

func (s *session) deliver(msg *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	sink, pending := s.pending[msg.Res.RequestID]
	if !pending {
		if msg.authErr != nil {
			s.lg.Warn("dropping unauthenticated notification", "method", msg.Res.Method, "error", msg.authErr)
			return
		}
		sink = s.events
	}

	select {
	case sink <- msg:
	default:
		s.lg.Warn("response channel full, dropping message", "requestID", msg.Res.RequestID)
	}
}

func (s *session) call(ctx context.Context, req *Request) (*Response, error) {
	id := req.Req.RequestID

	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	sink := make(chan *Response, 1)
	s.pending[id] = sink
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshalingRequest, err)
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}

	select {
	case res, ok := <-sink:
		if ok {
			if res.authErr != nil {
				return nil, res.authErr
			}
			return res, nil
		}
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	return nil, fmt.Errorf("%w for request %d", ErrNoResponse, id)
}

func (s *session) pingPeriodically() error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.lg.Debug("ping loop exiting due to context done")
			return nil
		case <-ticker.C:
			req := NewRequest(NewPayload(s.cfg.PingRequestID, PingMethod.String(), nil))

			res, err := s.call(s.ctx, &req)
			if s.ctx.Err() != nil {
				return nil
			} else if err != nil {
				s.lg.Error("error sending ping", "error", err)
				return fmt.Errorf("%w: %w", ErrSendingPing, err)
			}

			if res.Res.Method != PongMethod.String() {
				s.lg.Warn("unexpected response to ping", "method", res.Res.Method)
			}
		}
	}
}
