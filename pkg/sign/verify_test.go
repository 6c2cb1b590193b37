package sign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
)

func TestVerify(t *testing.T) {
	_, keyPEM := generatePEM(t)
	data := []byte(`[1,"pong",{},1700000000000]`)

	for _, digest := range []string{"sha256", "sha512", "sha3-256"} {
		t.Run("signed with "+digest, func(t *testing.T) {
			signer, err := NewKeySignerFromPEM(keyPEM, pkey.DigestName(digest))
			require.NoError(t, err)
			defer signer.Close()

			sig, err := signer.Sign(data)
			require.NoError(t, err)

			pub := signer.PublicKey()
			assert.NoError(t, Verify(pub, digest, data, sig))
			tampered := append(append([]byte{}, data...), ' ')
			assert.ErrorIs(t, Verify(pub, digest, tampered, sig), ErrInvalidSignature)
		})
	}

	signer, err := NewKeySignerFromPEM(keyPEM, pkey.DigestName("sha256"))
	require.NoError(t, err)
	defer signer.Close()
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	t.Run("digest mismatch", func(t *testing.T) {
		assert.ErrorIs(t, Verify(signer.PublicKey(), "sha512", data, sig), ErrInvalidSignature)
	})

	t.Run("unsupported digests", func(t *testing.T) {
		assert.ErrorIs(t, Verify(signer.PublicKey(), "keccak256", data, sig), pkey.ErrUnsupportedDigest)
		assert.ErrorIs(t, Verify(signer.PublicKey(), "whirlpool", data, sig), pkey.ErrUnsupportedDigest)
	})

	t.Run("mock key", func(t *testing.T) {
		assert.Error(t, Verify(NewMockPublicKey("node"), "sha256", data, sig))
	})
}

func TestParsePublicKeyPEM(t *testing.T) {
	rsaKey, _ := generatePEM(t)
	rsaDER, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
	require.NoError(t, err)

	pub, err := ParsePublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: rsaDER}))
	require.NoError(t, err)
	assert.Equal(t, "RSA", pub.Algorithm())
	assert.Equal(t, rsaDER, pub.Bytes())
	assert.Equal(t, Fingerprint(rsaDER), pub.Fingerprint())

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
		err   error
	}{
		{"not PEM", []byte("node key"), nil},
		{"private key block", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}), nil},
		{"garbage DER", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{0x30, 0x00}}), nil},
		{"EC key", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: ecDER}), pkey.ErrUnsupportedKeyType},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParsePublicKeyPEM(test.input)
			require.Error(t, err)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
			}
		})
	}
}
