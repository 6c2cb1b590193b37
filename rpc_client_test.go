package main

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha3"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/keynode/pkg/rpc"
)

func TestRPCClientVerifiesNode(t *testing.T) {
	router, cleanup := setupTestRPCRouter(t, ModeTest)
	defer cleanup()
	wsURL := startTestRPCNode(t, router.Node)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := rpc.DefaultWebsocketDialerConfig
	cfg.PingInterval = 0
	cfg.NodeFingerprint = router.Signer.PublicKey().Fingerprint()
	client := rpc.NewClient(rpc.NewWebsocketDialer(cfg))
	require.NoError(t, client.Start(ctx, wsURL, func(error) {}))

	_, err := client.Ping(ctx)
	require.NoError(t, err)

	id := client.NodeIdentity()
	require.NotNil(t, id)
	assert.Equal(t, cfg.NodeFingerprint, id.Fingerprint)
	assert.Equal(t, "sha256", id.Digest)

	t.Run("sign", func(t *testing.T) {
		key, _, err := client.ImportKey(ctx, rpc.ImportKeyRequest{Name: "payments", PEM: string(testRSAPrivatePEM(t))})
		require.NoError(t, err)

		msg := []byte("hello world")
		res, _, err := client.Sign(ctx, rpc.SignRequest{Key: key.Name, Digest: "SHA3-256", Message: msg})
		require.NoError(t, err)
		assert.Equal(t, "sha3-256", res.Digest)

		sum := sha3.Sum256(msg)
		assert.NoError(t, rsa.VerifyPKCS1v15(&testRSAKey(t).PublicKey, crypto.SHA3_256, sum[:], res.Signature))
	})

	t.Run("error kinds", func(t *testing.T) {
		_, _, err := client.Sign(ctx, rpc.SignRequest{Key: "payments", Digest: "whirlpool", Message: []byte("x")})

		var resErr *rpc.ResponseError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "failed to sign message: unsupported_digest", resErr.Message)
		assert.NotZero(t, resErr.RequestID)
	})

	t.Run("pinned to another key", func(t *testing.T) {
		cfg := rpc.DefaultWebsocketDialerConfig
		cfg.PingInterval = 0
		cfg.NodeFingerprint = "0x" + strings.Repeat("0", 64)
		dialer := rpc.NewWebsocketDialer(cfg)

		closed := make(chan error, 1)
		require.NoError(t, dialer.Dial(ctx, wsURL, func(err error) { closed <- err }))

		select {
		case err := <-closed:
			assert.ErrorIs(t, err, rpc.ErrNodeKeyMismatch)
		case <-time.After(2 * time.Second):
			t.Fatal("connection to a node with another key stayed open")
		}
	})
}

