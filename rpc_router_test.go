package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha3"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

func setupTestRPCRouter(t *testing.T, mode Mode) (*RPCRouter, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)

	signer, err := sign.NewKeySignerFromPEM(testRSAPrivatePEM(t), pkey.DigestName("sha256"))
	require.NoError(t, err)

	logger := log.NewNoopLogger()
	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	keys := NewKeyService(NewKeyStore(db), metrics)
	node := NewRPCNode(signer, logger)
	conf := &Config{mode: mode, responseDigest: "sha256"}

	router := NewRPCRouter(node, conf, signer, keys, metrics, logger)
	return router, func() {
		signer.Close()
		cleanup()
	}
}

func createRPCContext(id int, method string, params any) *RPCContext {
	return &RPCContext{
		Context: context.Background(),
		Message: RPCMessage{
			Req: &RPCData{
				RequestID: uint64(id),
				Method:    method,
				Params:    params,
				Timestamp: uint64(time.Now().UnixMilli()),
			},
			Sig: []sign.Signature{},
		},
	}
}

func assertResponse(t *testing.T, ctx *RPCContext, expectedMethod string) *RPCData {
	t.Helper()

	res := ctx.Message.Res
	require.NotNil(t, res)
	require.Equal(t, expectedMethod, res.Method, "unexpected response params: %v", res.Params)
	assert.Equal(t, ctx.Message.Req.RequestID, res.RequestID)
	return res
}

func assertErrorResponse(t *testing.T, ctx *RPCContext, expectedContains string) {
	t.Helper()

	res := ctx.Message.Res
	require.NotNil(t, res)
	require.Equal(t, "error", res.Method)
	errResp, ok := res.Params.(ErrorResponse)
	require.True(t, ok, "error params have type %T", res.Params)
	assert.Contains(t, errResp.Error, expectedContains)
}

func importTestKey(t *testing.T, router *RPCRouter, name string, keyPEM []byte) *KeyInfo {
	t.Helper()

	c := createRPCContext(1, "import_key", ImportKeyParams{Name: name, PEM: string(keyPEM)})
	router.HandleImportKey(c)
	res := assertResponse(t, c, "import_key")

	info, ok := res.Params.(*KeyInfo)
	require.True(t, ok)
	return info
}

func TestRPCRouterHandlePing(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	c := createRPCContext(1, "ping", nil)
	router.HandlePing(c)
	assertResponse(t, c, "pong")
}

func TestRPCRouterHandleGetNodeKey(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	c := createRPCContext(1, "get_node_key", nil)
	router.HandleGetNodeKey(c)
	res := assertResponse(t, c, "get_node_key")

	resp, ok := res.Params.(NodeKeyResponse)
	require.True(t, ok)
	assert.Equal(t, "RSA", resp.Algorithm)
	assert.Equal(t, "sha256", resp.Digest)
	assert.Equal(t, router.Signer.PublicKey().Fingerprint(), resp.Fingerprint)
	assert.Equal(t, string(testRSAPublicPEM(t)), resp.PublicKey)
}

func TestRPCRouterHandleImportKey(t *testing.T) {
	t.Run("private key", func(t *testing.T) {
		router, cleanup := setupTestRPCRouter(t, ModeProduction)
		defer cleanup()

		info := importTestKey(t, router, "payments", testRSAPrivatePEM(t))
		assert.Equal(t, "payments", info.Name)
		assert.True(t, info.Private)
		assert.Equal(t, hexutil.EncodeBig(testRSAKey(t).N), info.Public["modulus"])
		assert.Len(t, info.Public, 2, "only public components are returned")
	})

	t.Run("unsupported key family", func(t *testing.T) {
		router, cleanup := setupTestRPCRouter(t, ModeProduction)
		defer cleanup()

		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(ecKey)
		require.NoError(t, err)

		c := createRPCContext(1, "import_key", ImportKeyParams{
			Name: "ec",
			PEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		})
		router.HandleImportKey(c)
		assertErrorResponse(t, c, "failed to import key: unsupported_key_type")
	})

	tests := []struct {
		name     string
		params   any
		expected string
	}{
		{"invalid name", ImportKeyParams{Name: "Not Valid", PEM: "x"}, "failed to parse parameters"},
		{"missing pem", map[string]any{"name": "node"}, "failed to parse parameters"},
		{"garbage pem", ImportKeyParams{Name: "node", PEM: "garbage"}, "invalid key material"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			router, cleanup := setupTestRPCRouter(t, ModeProduction)
			defer cleanup()

			c := createRPCContext(1, "import_key", test.params)
			router.HandleImportKey(c)
			assertErrorResponse(t, c, test.expected)
		})
	}

	t.Run("duplicate name", func(t *testing.T) {
		router, cleanup := setupTestRPCRouter(t, ModeProduction)
		defer cleanup()

		importTestKey(t, router, "dup", testRSAPrivatePEM(t))

		c := createRPCContext(2, "import_key", ImportKeyParams{Name: "dup", PEM: string(testRSAPublicPEM(t))})
		router.HandleImportKey(c)
		assertErrorResponse(t, c, "key already exists")
	})
}

func TestRPCRouterHandleGetKey(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	imported := importTestKey(t, router, "verifier", testRSAPublicPEM(t))

	for _, ref := range []string{"verifier", imported.ID.String()} {
		c := createRPCContext(2, "get_key", KeyRefParams{Key: ref})
		router.HandleGetKey(c)
		res := assertResponse(t, c, "get_key")

		info, ok := res.Params.(*KeyInfo)
		require.True(t, ok)
		assert.Equal(t, imported.ID, info.ID)
		assert.False(t, info.Private)
	}

	c := createRPCContext(3, "get_key", KeyRefParams{Key: "absent"})
	router.HandleGetKey(c)
	assertErrorResponse(t, c, "key not found")

	c = createRPCContext(4, "get_key", map[string]any{})
	router.HandleGetKey(c)
	assertErrorResponse(t, c, "failed to parse parameters")
}

func TestRPCRouterHandleListKeys(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	for _, name := range []string{"alpha", "bravo", "charlie"} {
		importTestKey(t, router, name, testRSAPublicPEM(t))
		// created_at decides the order
		time.Sleep(5 * time.Millisecond)
	}

	desc := SortTypeDescending
	tests := []struct {
		name     string
		params   ListKeysParams
		expected []string
	}{
		{"default", ListKeysParams{}, []string{"alpha", "bravo", "charlie"}},
		{"descending", ListKeysParams{ListOptions{Sort: &desc}}, []string{"charlie", "bravo", "alpha"}},
		{"paged", ListKeysParams{ListOptions{Offset: 1, Limit: 1}}, []string{"bravo"}},
	}

	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := createRPCContext(10+i, "list_keys", test.params)
			router.HandleListKeys(c)
			res := assertResponse(t, c, "list_keys")

			resp, ok := res.Params.(KeysResponse)
			require.True(t, ok)
			names := make([]string, len(resp.Keys))
			for j, k := range resp.Keys {
				names[j] = k.Name
			}
			assert.Equal(t, test.expected, names)
		})
	}

	t.Run("limit above maximum", func(t *testing.T) {
		c := createRPCContext(20, "list_keys", map[string]any{"limit": 1000})
		router.HandleListKeys(c)
		assertErrorResponse(t, c, "failed to parse parameters")
	})
}

func TestRPCRouterHandleSign(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	importTestKey(t, router, "node", testRSAPrivatePEM(t))
	importTestKey(t, router, "verifier", testRSAPublicPEM(t))

	msg := hexutil.Bytes("transfer 10 units")

	t.Run("success", func(t *testing.T) {
		c := createRPCContext(1, "sign", SignParams{Key: "node", Digest: "SHA-512", Message: msg})
		router.HandleSign(c)
		res := assertResponse(t, c, "sign")

		resp, ok := res.Params.(SignResponse)
		require.True(t, ok)
		assert.Equal(t, "node", resp.Key)
		assert.Equal(t, "sha512", resp.Digest)

		sum := sha512.Sum512(msg)
		assert.NoError(t, rsa.VerifyPKCS1v15(&testRSAKey(t).PublicKey, crypto.SHA512, sum[:], resp.Signature))
	})

	t.Run("default digest", func(t *testing.T) {
		c := createRPCContext(2, "sign", SignParams{Key: "node", Message: msg})
		router.HandleSign(c)
		res := assertResponse(t, c, "sign")
		assert.Equal(t, defaultDigest, res.Params.(SignResponse).Digest)
	})

	t.Run("sha3 digest", func(t *testing.T) {
		c := createRPCContext(3, "sign", SignParams{Key: "node", Digest: "SHA3_256", Message: msg})
		router.HandleSign(c)
		res := assertResponse(t, c, "sign")

		resp := res.Params.(SignResponse)
		assert.Equal(t, "sha3-256", resp.Digest)

		sum := sha3.Sum256(msg)
		assert.NoError(t, rsa.VerifyPKCS1v15(&testRSAKey(t).PublicKey, crypto.SHA3_256, sum[:], resp.Signature))
	})

	tests := []struct {
		name     string
		params   any
		expected string
	}{
		{"public key", SignParams{Key: "verifier", Message: msg}, "failed to sign message: private_key_required"},
		{"digest not bound to RSA", SignParams{Key: "node", Digest: "keccak256", Message: msg}, "failed to sign message: unsupported_digest"},
		{"unknown digest", SignParams{Key: "node", Digest: "whirlpool", Message: msg}, "failed to sign message: unsupported_digest"},
		{"public key with unknown digest", SignParams{Key: "verifier", Digest: "whirlpool", Message: msg}, "failed to sign message: private_key_required"},
		{"public key with unbound digest", SignParams{Key: "verifier", Digest: "keccak256", Message: msg}, "failed to sign message: private_key_required"},
		{"missing key", SignParams{Key: "absent", Message: msg}, "key not found"},
		{"missing message", map[string]any{"key": "node"}, "failed to parse parameters"},
		{"malformed message", map[string]any{"key": "node", "message": "not-hex"}, "failed to parse parameters"},
	}

	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := createRPCContext(10+i, "sign", test.params)
			router.HandleSign(c)
			assertErrorResponse(t, c, test.expected)
		})
	}
}

func TestRPCRouterHandleDeleteKey(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	importTestKey(t, router, "gone", testRSAPublicPEM(t))

	c := createRPCContext(2, "delete_key", KeyRefParams{Key: "gone"})
	router.HandleDeleteKey(c)
	res := assertResponse(t, c, "delete_key")
	assert.Equal(t, DeleteKeyResponse{Key: "gone"}, res.Params)

	c = createRPCContext(3, "delete_key", KeyRefParams{Key: "gone"})
	router.HandleDeleteKey(c)
	assertErrorResponse(t, c, "key not found")
}

func TestRPCRouterHandlePurgeKeys(t *testing.T) {
	t.Run("test mode", func(t *testing.T) {
		router, cleanup := setupTestRPCRouter(t, ModeTest)
		defer cleanup()

		for _, name := range []string{"one", "two", "three"} {
			importTestKey(t, router, name, testRSAPublicPEM(t))
		}

		c := createRPCContext(5, "purge_keys", nil)
		c.handlers = []RPCHandler{router.TestModeMiddleware, router.HandlePurgeKeys}
		c.Next()
		res := assertResponse(t, c, "purge_keys")
		assert.Equal(t, PurgeKeysResponse{Deleted: 3}, res.Params)

		keys, err := router.Keys.List(context.Background(), ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("production mode", func(t *testing.T) {
		router, cleanup := setupTestRPCRouter(t, ModeProduction)
		defer cleanup()

		importTestKey(t, router, "kept", testRSAPublicPEM(t))

		c := createRPCContext(5, "purge_keys", nil)
		c.handlers = []RPCHandler{router.TestModeMiddleware, router.HandlePurgeKeys}
		c.Next()
		assertErrorResponse(t, c, "test mode endpoints are disabled")

		keys, err := router.Keys.List(context.Background(), ListOptions{})
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})
}

func TestRPCRouterMiddleware(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	run := func(id int, method string, params any, handler RPCHandler) *RPCContext {
		c := createRPCContext(id, method, params)
		c.handlers = []RPCHandler{router.LoggerMiddleware, router.MetricsMiddleware, handler}
		c.Next()
		return c
	}

	c := run(1, "ping", nil, router.HandlePing)
	assertResponse(t, c, "pong")

	c = run(2, "get_key", KeyRefParams{Key: "absent"}, router.HandleGetKey)
	assertErrorResponse(t, c, "key not found")

	assert.Equal(t, 2.0, testutil.ToFloat64(router.Metrics.MessageReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(router.Metrics.RPCRequests.WithLabelValues("ping", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(router.Metrics.RPCRequests.WithLabelValues("get_key", "failure")))
}

func TestRPCRouterConnectionMetrics(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeProduction)
	defer cleanup()

	var method string
	var params RPCDataParams
	router.HandleConnect(func(m string, p RPCDataParams) {
		method = m
		params = p
	})

	assert.Equal(t, "node_key", method)
	assert.IsType(t, NodeKeyResponse{}, params)
	assert.Equal(t, 1.0, testutil.ToFloat64(router.Metrics.ConnectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(router.Metrics.ConnectedClients))

	router.HandleMessageSent()
	assert.Equal(t, 1.0, testutil.ToFloat64(router.Metrics.MessageSent))

	router.HandleDisconnect("conn-1")
	assert.Zero(t, testutil.ToFloat64(router.Metrics.ConnectedClients))
}
