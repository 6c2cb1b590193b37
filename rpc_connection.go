package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
)

const (
	// rpcMaxMessageSize bounds one client message. import_key carries PEM
	// text, which stays well below it even for 16384-bit RSA keys.
	rpcMaxMessageSize = 1 << 20
	rpcQueueSize      = 10
)

// RPCConnection is one client WebSocket. Incoming messages are queued on the
// inbox for the node to process; outgoing messages are queued with Write and
// written in order, so the node_key announcement made on connect always
// precedes the first response.
type RPCConnection struct {
	id     string
	ws     *websocket.Conn
	logger log.Logger
	onSent []func()

	inbox  chan []byte
	outbox chan []byte

	// evicted is closed when the client stops draining its outbox.
	evicted   chan struct{}
	evictOnce sync.Once
	// done is closed once Serve returns.
	done chan struct{}
}

func NewRPCConnection(connID string, ws *websocket.Conn, logger log.Logger, onSent ...func()) *RPCConnection {
	return &RPCConnection{
		id:      connID,
		ws:      ws,
		logger:  logger.WithKV("connectionID", connID),
		onSent:  onSent,
		inbox:   make(chan []byte, rpcQueueSize),
		outbox:  make(chan []byte, rpcQueueSize),
		evicted: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (conn *RPCConnection) ConnectionID() string {
	return conn.id
}

// ProcessSink returns the queue of incoming messages. It is closed when the
// client goes away.
func (conn *RPCConnection) ProcessSink() <-chan []byte {
	return conn.inbox
}

// Serve reads and writes until the client disconnects, the client is evicted
// or parentCtx is done. abortParents runs on return.
func (conn *RPCConnection) Serve(parentCtx context.Context, abortParents func()) {
	defer abortParents()
	defer close(conn.done)

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		conn.readLoop(ctx)
	}()

	conn.writeLoop(ctx)

	// Closing the socket unblocks a pending read.
	if err := conn.ws.Close(); err != nil {
		conn.logger.Debug("error closing WebSocket connection", "error", err)
	}
	<-readDone
}

func (conn *RPCConnection) readLoop(ctx context.Context) {
	defer close(conn.inbox)

	conn.ws.SetReadLimit(rpcMaxMessageSize)
	for {
		_, message, err := conn.ws.ReadMessage()
		switch {
		case errors.Is(err, websocket.ErrReadLimit):
			conn.logger.Warn("client message exceeds size limit", "limit", rpcMaxMessageSize)
			return
		case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure):
			conn.logger.Error("WebSocket connection closed with unexpected reason", "error", err)
			return
		case err != nil:
			return
		case len(message) == 0:
			conn.logger.Debug("received empty message, skipping")
			continue
		}

		select {
		case conn.inbox <- message:
		case <-ctx.Done():
			return
		}
	}
}

func (conn *RPCConnection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			conn.logger.Debug("context done, stopping message writing")
			return
		case <-conn.evicted:
			conn.logger.Info("evicting client that stopped reading")
			return
		case message := <-conn.outbox:
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.logger.Error("error writing message", "error", err)
				continue
			}
			for _, handler := range conn.onSent {
				handler()
			}
		}
	}
}

// Write queues a message for the client. A client that leaves its queue full
// for defaultRPCMessageWriteDuration is evicted. Messages written after the
// connection closed are dropped.
func (conn *RPCConnection) Write(message []byte) {
	if len(message) == 0 {
		return
	}

	timer := time.NewTimer(defaultRPCMessageWriteDuration)
	defer timer.Stop()

	select {
	case conn.outbox <- message:
	case <-conn.done:
	case <-timer.C:
		conn.evictOnce.Do(func() { close(conn.evicted) })
	}
}

// rpcConnectionHub tracks the open connections notifications go to.
type rpcConnectionHub struct {
	mu          sync.RWMutex
	connections map[string]*RPCConnection
}

func newRPCConnectionHub() *rpcConnectionHub {
	return &rpcConnectionHub{connections: make(map[string]*RPCConnection)}
}

func (hub *rpcConnectionHub) Add(conn *RPCConnection) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, exists := hub.connections[conn.id]; exists {
		return fmt.Errorf("connection with ID %s already exists", conn.id)
	}
	hub.connections[conn.id] = conn
	return nil
}

// Get returns nil for unknown IDs.
func (hub *rpcConnectionHub) Get(connID string) *RPCConnection {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	return hub.connections[connID]
}

func (hub *rpcConnectionHub) Remove(connID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	delete(hub.connections, connID)
}

func (hub *rpcConnectionHub) Len() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	return len(hub.connections)
}

// Broadcast queues message on every open connection. Writes happen outside
// the lock, since a slow client can hold Write for a while.
func (hub *rpcConnectionHub) Broadcast(message []byte) {
	hub.mu.RLock()
	conns := make([]*RPCConnection, 0, len(hub.connections))
	for _, conn := range hub.connections {
		conns = append(conns, conn)
	}
	hub.mu.RUnlock()

	for _, conn := range conns {
		conn.Write(message)
	}
}
