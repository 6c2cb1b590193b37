package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

type RPCRouter struct {
	Node    *RPCNode
	Config  *Config
	Signer  sign.Signer
	Keys    *KeyService
	Metrics *Metrics

	lg log.Logger
}

func NewRPCRouter(
	node *RPCNode,
	conf *Config,
	signer sign.Signer,
	keys *KeyService,
	metrics *Metrics,
	logger log.Logger,
) *RPCRouter {
	r := &RPCRouter{
		Node:    node,
		Config:  conf,
		Signer:  signer,
		Keys:    keys,
		Metrics: metrics,
		lg:      logger.WithName("rpc-router"),
	}

	r.Node.OnConnect(r.HandleConnect)
	r.Node.OnDisconnect(r.HandleDisconnect)
	r.Node.OnMessageSent(r.HandleMessageSent)

	r.Node.Use(r.LoggerMiddleware)
	r.Node.Use(r.MetricsMiddleware)
	r.Node.Handle("ping", r.HandlePing)
	r.Node.Handle("get_node_key", r.HandleGetNodeKey)
	r.Node.Handle("list_keys", r.HandleListKeys)
	r.Node.Handle("get_key", r.HandleGetKey)
	r.Node.Handle("import_key", r.HandleImportKey)
	r.Node.Handle("delete_key", r.HandleDeleteKey)
	r.Node.Handle("sign", r.HandleSign)

	testModeGroup := r.Node.NewGroup("test_mode")
	testModeGroup.Use(r.TestModeMiddleware)
	testModeGroup.Handle("purge_keys", r.HandlePurgeKeys)

	return r
}

func (r *RPCRouter) HandleConnect(send SendRPCMessageFunc) {
	r.Metrics.ConnectionsTotal.Inc()
	r.Metrics.ConnectedClients.Inc()

	send("node_key", r.nodeKeyResponse())
}

func (r *RPCRouter) HandleDisconnect(string) {
	r.Metrics.ConnectedClients.Dec()
}

func (r *RPCRouter) HandleMessageSent() {
	r.Metrics.MessageSent.Inc()
}

func (r *RPCRouter) LoggerMiddleware(c *RPCContext) {
	logger := r.lg.
		WithKV("requestID", c.Message.Req.RequestID).
		WithKV("connectionID", c.ConnectionID)
	c.Context = log.SetContextLogger(c.Context, logger)

	c.Next()

	if c.Message.Res == nil {
		logger.Warn("RPC response is nil", "method", c.Message.Req.Method)
		return
	}

	if c.Message.Res.Method == "error" {
		logger.Warn("failed to handle RPC request",
			"method", c.Message.Req.Method,
			"error", c.Message.Res.Params,
		)
	}
}

func (r *RPCRouter) MetricsMiddleware(c *RPCContext) {
	r.Metrics.MessageReceived.Inc()

	reqMethod := c.Message.Req.Method
	c.Next()

	status := "success"
	if c.Message.Res == nil || c.Message.Res.Method == "error" {
		status = "failure"
	}

	r.Metrics.RPCRequests.WithLabelValues(reqMethod, status).Inc()
}

func (r *RPCRouter) TestModeMiddleware(c *RPCContext) {
	if r.Config.mode != ModeTest {
		c.Fail(nil, "test mode endpoints are disabled")
		return
	}

	c.Next()
}

func parseParams(params RPCDataParams, unmarshalTo any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to parse parameters: %w", err)
	}

	if err := json.Unmarshal(paramsJSON, unmarshalTo); err != nil {
		return err
	}

	return getValidator().Struct(unmarshalTo)
}

// keyError turns key service errors into client-safe RPC errors. Errors
// outside the known taxonomy are returned unchanged so that Fail hides them
// behind its fallback message.
func keyError(err error, action string) error {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return RPCErrorf("key not found")
	case errors.Is(err, ErrKeyExists):
		return RPCErrorf("key already exists")
	case errors.Is(err, ErrInvalidKeyName):
		return RPCErrorf("invalid key name")
	case errors.Is(err, ErrInvalidKeyMaterial):
		return RPCErrorf("invalid key material")
	}

	if kind := pkey.Kind(err); kind != "internal" && kind != "ok" {
		return RPCErrorf("%s: %s", action, kind)
	}
	return err
}
