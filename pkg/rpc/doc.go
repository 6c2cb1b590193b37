// Package rpc is the client side of the keynode RPC protocol.
//
// The keynode daemon speaks JSON over a WebSocket. Every message wraps a
// compact payload array together with signatures:
//
//	{"req": [requestId, method, params, timestamp], "sig": []}
//	{"res": [requestId, method, params, timestamp], "sig": [nodeSignature]}
//
// Responses are signed by the daemon's node key over the exact bytes of the
// "res" array. Server initiated notifications carry request ID 0 and are
// delivered through the dialer's event channel.
//
// # Node identity
//
// The daemon announces its node key in a node_key notification as soon as a
// connection opens. WebsocketDialer checks that announcement and then
// verifies the signature of every later message against the key. Set
// WebsocketDialerConfig.NodeFingerprint to pin the key: the dialer then hangs
// up with ErrNodeKeyMismatch on any other key.
//
// # Usage
//
//	dialer := rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig)
//	client := rpc.NewClient(dialer)
//	if err := client.Start(ctx, "ws://localhost:8000/ws", func(err error) {
//	    if err != nil {
//	        log.Println("connection closed:", err)
//	    }
//	}); err != nil {
//	    return err
//	}
//
//	key, _, err := client.ImportKey(ctx, rpc.ImportKeyRequest{Name: "payments", PEM: string(pemBytes)})
//	if err != nil {
//	    return err
//	}
//
//	res, _, err := client.Sign(ctx, rpc.SignRequest{Key: key.Name, Message: msg})
//
// Errors returned by the daemon surface as *ResponseError values carrying the
// client-safe message, for example "key not found" or
// "failed to sign message: private_key_required".
package rpc
