package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/native"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

var getValidator = sync.OnceValue(func() *validator.Validate {
	validate := validator.New()

	if err := validate.RegisterValidation("digest", func(fl validator.FieldLevel) bool {
		_, err := native.DigestByName(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("failed to register digest validation: %v", err))
	}
	if err := validate.RegisterValidation("keyname", func(fl validator.FieldLevel) bool {
		return keyNameRegex.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("failed to register keyname validation: %v", err))
	}
	return validate
})

const (
	defaultRPCErrorMessage = "an error occurred while processing the request"
)

const (
	// rpcNodeGroupHandlerPrefix is the prefix used for all handler group IDs
	rpcNodeGroupHandlerPrefix = "group."
	// rpcNodeGroupRoot is the identifier for the root handler group
	rpcNodeGroupRoot = "root"
)

var (
	defaultRPCMessageWriteDuration = 5 * time.Second // Default timeout for writing messages to WebSocket
)

// RPCNode is a WebSocket-based RPC server that handles incoming connections,
// routes messages to registered handlers and signs all responses.
// It supports middleware chains and handler groups for organizing endpoints.
type RPCNode struct {
	upgrader websocket.Upgrader

	// groupId identifies this node's handler group (defaults to "group.root")
	groupId string
	// handlerChain maps handler IDs to their middleware/handler chains
	handlerChain map[string][]RPCHandler
	// routes maps RPC method names to their handler chain path (e.g., ["group.root", "group.test_mode", "method"])
	routes map[string][]string

	// signer signs every outgoing message with the node key
	signer  sign.Signer
	connHub *rpcConnectionHub
	logger  log.Logger

	onConnectHandlers     []func(send SendRPCMessageFunc)
	onDisconnectHandlers  []func(connectionID string)
	onMessageSentHandlers []func()
}

// NewRPCNode creates a new RPC node instance with the provided signer and logger.
func NewRPCNode(signer sign.Signer, logger log.Logger) *RPCNode {
	return &RPCNode{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},

		groupId:      rpcNodeGroupHandlerPrefix + rpcNodeGroupRoot,
		handlerChain: make(map[string][]RPCHandler),
		routes:       make(map[string][]string),

		signer:  signer,
		connHub: newRPCConnectionHub(),
		logger:  logger.WithName("rpc-node"),
	}
}

// HandleConnection upgrades the HTTP connection to WebSocket and serves RPC
// messages on it. It blocks until the connection is closed.
func (n *RPCNode) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer conn.Close()

	connectionID := uuid.NewString()
	rpcConnection := NewRPCConnection(connectionID, conn, n.logger, n.onMessageSentHandlers...)
	if err := n.connHub.Add(rpcConnection); err != nil {
		n.logger.Error("failed to add connection to hub", "error", err, "connectionID", connectionID)
		return
	}

	for _, handler := range n.onConnectHandlers {
		handler(n.getSendMessageFunc(rpcConnection))
	}

	defer func() {
		n.connHub.Remove(connectionID)

		for _, handler := range n.onDisconnectHandlers {
			handler(connectionID)
		}

		n.logger.Info("connection closed", "connectionID", connectionID)
	}()

	parentCtx, cancel := context.WithCancel(r.Context())
	wg := &sync.WaitGroup{}
	wg.Add(2)
	abortOthers := func() {
		cancel()
		wg.Done()
	}

	go rpcConnection.Serve(parentCtx, abortOthers)
	go n.processMessages(parentCtx, rpcConnection, abortOthers)

	wg.Wait()
}

// processMessages validates incoming messages and runs them through the
// handler chain of their method.
func (n *RPCNode) processMessages(ctx context.Context, rpcConn *RPCConnection, abortOthers context.CancelFunc) {
	defer abortOthers()

read_loop:
	for {
		var messageBytes []byte
		select {
		case <-ctx.Done():
			n.logger.Debug("context done, stopping message processing")
			return
		case messageBytes = <-rpcConn.ProcessSink():
			if len(messageBytes) == 0 {
				return
			}
		}

		msg := RPCMessage{Req: &RPCData{}}
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			n.logger.Debug("invalid message format", "error", err, "message", string(messageBytes))
			var requestID uint64
			if msg.Req != nil {
				requestID = msg.Req.RequestID
			}
			n.sendErrorResponse(rpcConn, requestID, "invalid message format")
			continue
		}

		if err := getValidator().Struct(&msg); err != nil {
			n.logger.Debug("message validation failed", "error", err, "message", string(messageBytes))
			n.sendErrorResponse(rpcConn, 0, "message validation failed")
			continue
		}
		if msg.Req == nil {
			n.logger.Debug("message request is empty", "message", string(messageBytes))
			n.sendErrorResponse(rpcConn, 0, "message request is empty")
			continue
		}

		methodRoute, ok := n.routes[msg.Req.Method]
		if !ok || len(methodRoute) == 0 {
			n.logger.Debug("no handler found for method", "method", msg.Req.Method)
			n.sendErrorResponse(rpcConn, msg.Req.RequestID, fmt.Sprintf("unknown method: %s", msg.Req.Method))
			continue
		}

		var routeHandlers []RPCHandler
		for _, handlersId := range methodRoute {
			handlers := n.handlerChain[handlersId]
			// Groups may have no middleware; the method itself needs a handler.
			if len(handlers) == 0 && handlersId == msg.Req.Method {
				n.logger.Error("no handlers found for id", "id", handlersId)
				n.sendErrorResponse(rpcConn, msg.Req.RequestID, fmt.Sprintf("unknown method: %s", msg.Req.Method))
				continue read_loop
			}

			routeHandlers = append(routeHandlers, handlers...)
		}
		n.logger.Debug("processing message",
			"requestID", msg.Req.RequestID,
			"connectionID", rpcConn.ConnectionID(),
			"method", msg.Req.Method,
			"route", methodRoute)

		c := &RPCContext{
			Context:      log.SetContextLogger(ctx, n.logger),
			ConnectionID: rpcConn.ConnectionID(),
			Signer:       n.signer,
			Message:      msg,
			handlers:     routeHandlers,
		}
		c.Next()

		responseBytes, err := c.GetRawResponse()
		if err != nil {
			n.logger.Error("failed to prepare response", "error", err, "method", msg.Req.Method)
			continue
		}
		rpcConn.Write(responseBytes)
	}
}

// RPCHandler is a function that processes an RPC request.
// Handlers can call c.Next() to pass control to the next handler in the chain.
type RPCHandler func(c *RPCContext)

// SendRPCMessageFunc sends a server-initiated notification to a connection.
type SendRPCMessageFunc func(method string, params RPCDataParams)

// RPCContext contains all the information about an RPC request and provides
// methods for handlers to process and respond to the request.
type RPCContext struct {
	Context      context.Context
	ConnectionID string
	// Signer signs the response message
	Signer sign.Signer
	// Message contains the incoming request and will hold the response
	Message RPCMessage

	// handlers is the remaining handler chain to execute
	handlers []RPCHandler
}

// Next executes the next handler in the middleware chain.
// If there are no more handlers, it returns without doing anything.
func (c *RPCContext) Next() {
	if len(c.handlers) == 0 {
		return
	}

	handler := c.handlers[0]
	c.handlers = c.handlers[1:]
	handler(c)
}

// Succeed sets a successful response with the given method and parameters.
func (c *RPCContext) Succeed(method string, params RPCDataParams) {
	c.Message.Res = newRPCData(c.Message.Req.RequestID, method, params)
}

// Fail sets an error response for the RPC request.
//
// If err is an RPCError its message is sent to the client. Otherwise the
// fallbackMessage is sent, or a generic message when fallbackMessage is empty.
//
//	key, err := r.Keys.Describe(ctx, ref)
//	if err != nil {
//		c.Fail(err, "failed to describe key")
//		return
//	}
//
// The response has Method="error" and Params containing the error message.
func (c *RPCContext) Fail(err error, fallbackMessage string) {
	message := fallbackMessage
	var rpcErr RPCError
	if errors.As(err, &rpcErr) {
		message = rpcErr.Error()
	}
	if message == "" {
		message = defaultRPCErrorMessage
	}

	c.Message.Res = newErrorData(c.Message.Req.RequestID, message)
}

// GetRawResponse returns the signed response message as raw bytes.
func (c *RPCContext) GetRawResponse() ([]byte, error) {
	return c.Message.Res.seal(c.Signer)
}

// NewGroup creates a new handler group with the given name.
// Groups allow organizing handlers with shared middleware.
func (n *RPCNode) NewGroup(name string) *RPCHandlerGroup {
	return &RPCHandlerGroup{
		groupId:     rpcNodeGroupHandlerPrefix + name,
		routePrefix: []string{n.groupId},
		root:        n,
	}
}

// Handle registers a handler for the specified RPC method.
func (n *RPCNode) Handle(method string, handler RPCHandler) {
	n.handle(method, handler)
	n.routes[method] = []string{n.groupId, method}
}

func (n *RPCNode) handle(method string, handler RPCHandler) {
	if method == "" {
		panic("Websocket method cannot be empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("Websocket handler cannot be nil for method %s", method))
	}

	n.handlerChain[method] = []RPCHandler{handler}
}

// Use adds middleware to the root handler group.
func (n *RPCNode) Use(middleware RPCHandler) {
	n.use(n.groupId, middleware)
}

func (n *RPCNode) use(groupId string, middleware RPCHandler) {
	if middleware == nil {
		panic("Websocket middleware handler cannot be nil for group")
	}

	n.handlerChain[groupId] = append(n.handlerChain[groupId], middleware)
}

// OnConnect registers a handler called with a send function for every new connection.
func (n *RPCNode) OnConnect(handler func(send SendRPCMessageFunc)) {
	n.onConnectHandlers = append(n.onConnectHandlers, handler)
}

// OnDisconnect registers a handler called when a connection closes.
func (n *RPCNode) OnDisconnect(handler func(connectionID string)) {
	n.onDisconnectHandlers = append(n.onDisconnectHandlers, handler)
}

// OnMessageSent registers a handler called after every message written to a client.
func (n *RPCNode) OnMessageSent(handler func()) {
	n.onMessageSentHandlers = append(n.onMessageSentHandlers, handler)
}

// Broadcast sends a signed notification to every open connection.
func (n *RPCNode) Broadcast(method string, params RPCDataParams) {
	message, err := newRPCData(0, method, params).seal(n.signer)
	if err != nil {
		n.logger.Error("failed to prepare notification message", "error", err, "method", method)
		return
	}

	n.connHub.Broadcast(message)
}

func (n *RPCNode) getSendMessageFunc(conn *RPCConnection) SendRPCMessageFunc {
	return func(method string, params RPCDataParams) {
		message, err := newRPCData(0, method, params).seal(n.signer)
		if err != nil {
			n.logger.Error("failed to prepare notification message", "error", err, "method", method)
			return
		}

		conn.Write(message)
	}
}

// sendErrorResponse sends an error for protocol-level failures that happen
// before a request reaches its handlers.
func (n *RPCNode) sendErrorResponse(conn *RPCConnection, requestID uint64, message string) {
	if requestID == 0 {
		requestID = uint64(time.Now().UnixMilli())
	}

	responseBytes, err := newErrorData(requestID, message).seal(n.signer)
	if err != nil {
		n.logger.Error("failed to prepare error response", "error", err)
		return
	}

	conn.Write(responseBytes)
}

// RPCHandlerGroup represents a collection of handlers with shared middleware.
// Groups can be nested to create hierarchical middleware chains.
type RPCHandlerGroup struct {
	groupId     string
	routePrefix []string
	root        *RPCNode
}

// NewGroup creates a nested handler group within this group.
// The new group inherits all middleware from parent groups.
func (hg *RPCHandlerGroup) NewGroup(name string) *RPCHandlerGroup {
	prefix := make([]string, 0, len(hg.routePrefix)+1)
	prefix = append(prefix, hg.routePrefix...)
	return &RPCHandlerGroup{
		groupId:     rpcNodeGroupHandlerPrefix + name,
		routePrefix: append(prefix, hg.groupId),
		root:        hg.root,
	}
}

// Handle registers a handler for the specified RPC method within this group.
// The handler will execute after all group middleware in the chain.
func (hg *RPCHandlerGroup) Handle(method string, handler RPCHandler) {
	route := make([]string, 0, len(hg.routePrefix)+2)
	route = append(route, hg.routePrefix...)
	hg.root.routes[method] = append(route, hg.groupId, method)
	hg.root.handle(method, handler)
}

// Use adds middleware to this handler group.
func (hg *RPCHandlerGroup) Use(middleware RPCHandler) {
	hg.root.use(hg.groupId, middleware)
}
