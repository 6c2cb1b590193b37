package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
)

var (
	testRSAOnce sync.Once
	testRSA     *rsa.PrivateKey
)

func testRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	testRSAOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		testRSA = key
	})
	return testRSA
}

func testRSAPrivatePEM(t testing.TB) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(testRSAKey(t))})
}

func testRSAPublicPEM(t testing.TB) []byte {
	der, err := x509.MarshalPKIXPublicKey(&testRSAKey(t).PublicKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func setupTestKeyService(t testing.TB) (*KeyService, *KeyStore, *Metrics, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	store := NewKeyStore(db)
	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	return NewKeyService(store, metrics), store, metrics, cleanup
}

func TestKeyServiceImport(t *testing.T) {
	ctx := context.Background()

	t.Run("private RSA key", func(t *testing.T) {
		service, store, metrics, cleanup := setupTestKeyService(t)
		defer cleanup()

		info, err := service.Import(ctx, "node", testRSAPrivatePEM(t))
		require.NoError(t, err)
		assert.Equal(t, "node", info.Name)
		assert.Equal(t, "RSA", info.Algorithm)
		assert.True(t, info.Private)
		assert.Equal(t, 2048, info.Bits)
		assert.Equal(t, 256, info.Size)
		assert.Len(t, info.Present, 8)
		assert.Equal(t, hexutil.EncodeBig(testRSAKey(t).N), info.Public["modulus"])
		assert.NotContains(t, info.Public, "private_exponent")

		rec, err := store.Get(info.ID)
		require.NoError(t, err)
		block, _ := pem.Decode([]byte(rec.PEM))
		require.NotNil(t, block)
		assert.Equal(t, "PRIVATE KEY", block.Type, "keys are stored as PKCS#8")
		assert.Equal(t, info.Fingerprint, rec.Fingerprint)

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.KeysImported.WithLabelValues("RSA")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.KeysStored))
	})

	t.Run("public RSA key", func(t *testing.T) {
		service, _, _, cleanup := setupTestKeyService(t)
		defer cleanup()

		info, err := service.Import(ctx, "verifier", testRSAPublicPEM(t))
		require.NoError(t, err)
		assert.False(t, info.Private)
		assert.Equal(t, []string{"modulus", "public_exponent"}, info.Present)
	})

	t.Run("public and private halves share a fingerprint", func(t *testing.T) {
		service, _, _, cleanup := setupTestKeyService(t)
		defer cleanup()

		priv, err := service.Import(ctx, "priv", testRSAPrivatePEM(t))
		require.NoError(t, err)
		pub, err := service.Import(ctx, "pub", testRSAPublicPEM(t))
		require.NoError(t, err)
		assert.Equal(t, priv.Fingerprint, pub.Fingerprint)
	})

	t.Run("unsupported family is refused", func(t *testing.T) {
		service, store, metrics, cleanup := setupTestKeyService(t)
		defer cleanup()

		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalECPrivateKey(ecKey)
		require.NoError(t, err)

		_, err = service.Import(ctx, "ec", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
		require.ErrorIs(t, err, pkey.ErrUnsupportedKeyType)
		assert.Contains(t, err.Error(), "ec(P-256)")

		count, err := store.Count()
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, testutil.ToFloat64(metrics.KeysStored))
	})

	t.Run("invalid input", func(t *testing.T) {
		service, _, _, cleanup := setupTestKeyService(t)
		defer cleanup()

		_, err := service.Import(ctx, "garbage", []byte("not a pem"))
		assert.ErrorIs(t, err, ErrInvalidKeyMaterial)

		_, err = service.Import(ctx, "Bad Name", testRSAPrivatePEM(t))
		assert.ErrorIs(t, err, ErrInvalidKeyName)
	})

	t.Run("duplicate name", func(t *testing.T) {
		service, _, _, cleanup := setupTestKeyService(t)
		defer cleanup()

		_, err := service.Import(ctx, "dup", testRSAPrivatePEM(t))
		require.NoError(t, err)
		_, err = service.Import(ctx, "dup", testRSAPublicPEM(t))
		assert.ErrorIs(t, err, ErrKeyExists)
	})
}

func TestKeyServiceImportManifest(t *testing.T) {
	ctx := context.Background()
	service, store, _, cleanup := setupTestKeyService(t)
	defer cleanup()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "node.pem")
	require.NoError(t, os.WriteFile(keyPath, testRSAPrivatePEM(t), 0o600))

	keys := []ManifestKey{{Name: "node", Path: keyPath}}
	require.NoError(t, service.ImportManifest(ctx, keys))
	require.NoError(t, service.ImportManifest(ctx, keys), "already stored keys are skipped")

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	err = service.ImportManifest(ctx, []ManifestKey{{Name: "missing", Path: filepath.Join(dir, "missing.pem")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to read key "missing"`)
}

func TestKeyServiceDescribe(t *testing.T) {
	ctx := context.Background()
	service, _, _, cleanup := setupTestKeyService(t)
	defer cleanup()

	imported, err := service.Import(ctx, "node", testRSAPrivatePEM(t))
	require.NoError(t, err)

	for _, ref := range []string{"node", imported.ID.String()} {
		info, err := service.Describe(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, imported.ID, info.ID)
		assert.Equal(t, hexutil.EncodeBig(testRSAKey(t).N), info.Public["modulus"])
		assert.Equal(t, "0x10001", info.Public["public_exponent"])
	}

	_, err = service.Describe(ctx, "absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyServiceSign(t *testing.T) {
	ctx := context.Background()
	service, _, metrics, cleanup := setupTestKeyService(t)
	defer cleanup()

	_, err := service.Import(ctx, "node", testRSAPrivatePEM(t))
	require.NoError(t, err)
	_, err = service.Import(ctx, "verifier", testRSAPublicPEM(t))
	require.NoError(t, err)

	msg := []byte("message to sign")
	pub := &testRSAKey(t).PublicKey

	t.Run("default digest", func(t *testing.T) {
		sig, err := service.Sign(ctx, "node", "", msg)
		require.NoError(t, err)
		assert.Len(t, sig, 256)

		sum := sha256.Sum256(msg)
		assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig))
	})

	t.Run("named digest", func(t *testing.T) {
		sig, err := service.Sign(ctx, "node", "SHA-512", msg)
		require.NoError(t, err)

		sum := sha512.Sum512(msg)
		assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA512, sum[:], sig))
	})

	t.Run("public key cannot sign", func(t *testing.T) {
		_, err := service.Sign(ctx, "verifier", "sha256", msg)
		assert.ErrorIs(t, err, pkey.ErrPrivateKeyRequired)
	})

	t.Run("digest not bound to RSA", func(t *testing.T) {
		_, err := service.Sign(ctx, "node", "keccak256", msg)
		assert.ErrorIs(t, err, pkey.ErrUnsupportedDigest)
	})

	t.Run("unknown digest", func(t *testing.T) {
		_, err := service.Sign(ctx, "node", "whirlpool", msg)
		assert.ErrorIs(t, err, pkey.ErrUnsupportedDigest)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := service.Sign(ctx, "absent", "sha256", msg)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignRequests.WithLabelValues("sha256", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignRequests.WithLabelValues("sha512", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignRequests.WithLabelValues("sha256", "private_key_required")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignRequests.WithLabelValues("keccak256", "unsupported_digest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignRequests.WithLabelValues("unknown", "unsupported_digest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignRequests.WithLabelValues("sha256", "key_not_found")))
}

func TestKeyServiceQueriesRunInSpan(t *testing.T) {
	service, store, _, cleanup := setupTestKeyService(t)
	defer cleanup()

	var (
		mu       sync.Mutex
		captured []context.Context
	)
	capture := func(tx *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		captured = append(captured, tx.Statement.Context)
	}
	require.NoError(t, store.db.Callback().Query().After("gorm:query").Register("keynode:capture_ctx", capture))
	require.NoError(t, store.db.Callback().Create().After("gorm:create").Register("keynode:capture_ctx", capture))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "node.pem")
	require.NoError(t, os.WriteFile(keyPath, testRSAPrivatePEM(t), 0o600))

	require.NoError(t, service.ImportManifest(ctx, []ManifestKey{{Name: "node", Path: keyPath}}))
	_, err := service.Describe(ctx, "node")
	require.NoError(t, err)
	_, err = service.List(ctx, ListOptions{})
	require.NoError(t, err)
	_, err = service.Sign(ctx, "node", "sha256", []byte("message to sign"))
	require.NoError(t, err)
	require.NoError(t, service.Delete(ctx, "node"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, captured)
	for _, qctx := range captured {
		assert.Equal(t, sc.TraceID(), trace.SpanContextFromContext(qctx).TraceID())
		assert.IsType(t, log.SpanLogger{}, log.FromContext(qctx))
	}
}

func TestKeyServiceListAndDelete(t *testing.T) {
	ctx := context.Background()
	service, _, metrics, cleanup := setupTestKeyService(t)
	defer cleanup()

	first, err := service.Import(ctx, "first", testRSAPrivatePEM(t))
	require.NoError(t, err)
	_, err = service.Import(ctx, "second", testRSAPublicPEM(t))
	require.NoError(t, err)

	infos, err := service.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Nil(t, info.Public, "listings carry no components")
	}

	require.NoError(t, service.Delete(ctx, first.ID.String()))
	assert.ErrorIs(t, service.Delete(ctx, "first"), ErrKeyNotFound)
	require.NoError(t, service.Delete(ctx, "second"))

	infos, err = service.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Zero(t, testutil.ToFloat64(metrics.KeysStored))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "ok"},
		{ErrKeyNotFound, "key_not_found"},
		{ErrKeyExists, "key_exists"},
		{ErrInvalidKeyName, "invalid_key_name"},
		{ErrInvalidKeyMaterial, "invalid_key_material"},
		{pkey.ErrSignFinalizeFailed, "sign_finalize_failed"},
		{os.ErrClosed, "internal"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, errorKind(test.err))
		})
	}
}
