package sign

import (
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/erc7824/nitrolite/keynode/pkg/native"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
)

var (
	_ Signer    = (*KeySigner)(nil)
	_ PublicKey = PKIXPublicKey{}
)

// PKIXPublicKey is a PublicKey held as its PKIX DER encoding.
type PKIXPublicKey struct {
	alg string
	der []byte
}

// NewPKIXPublicKey wraps der, the PKIX encoding of a key of variant alg.
func NewPKIXPublicKey(alg string, der []byte) PKIXPublicKey {
	return PKIXPublicKey{alg: alg, der: der}
}

func (p PKIXPublicKey) Algorithm() string   { return p.alg }
func (p PKIXPublicKey) Fingerprint() string { return Fingerprint(p.der) }
func (p PKIXPublicKey) Bytes() []byte       { return p.der }

// KeySigner signs with a private pkey.Key using a fixed digest.
// It is safe for concurrent use.
type KeySigner struct {
	mu     sync.Mutex
	key    *pkey.Key
	digest pkey.Digest
	pub    PKIXPublicKey
}

// NewKeySigner takes ownership of key, which must be private. digest must
// name a digest the key can sign with.
func NewKeySigner(key *pkey.Key, digest pkey.Digest) (*KeySigner, error) {
	if !key.IsPrivate() {
		return nil, pkey.ErrPrivateKeyRequired
	}
	if digest == nil {
		return nil, fmt.Errorf("%w: no digest selected", pkey.ErrUnsupportedDigest)
	}
	if _, err := native.DigestByName(digest.Name()); err != nil {
		return nil, fmt.Errorf("%w: %w", pkey.ErrUnsupportedDigest, err)
	}

	pubPEM, err := key.PublicPEM()
	if err != nil {
		return nil, fmt.Errorf("could not encode public key: %w", err)
	}
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, errors.New("could not encode public key: empty PEM output")
	}

	return &KeySigner{
		key:    key,
		digest: digest,
		pub:    NewPKIXPublicKey(key.Algorithm().String(), block.Bytes),
	}, nil
}

// NewKeySignerFromPEM parses a PEM private key and builds a KeySigner from it.
func NewKeySignerFromPEM(data []byte, digest pkey.Digest) (*KeySigner, error) {
	h, err := native.ParsePEM(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse signing key: %w", err)
	}
	defer h.Free()

	key, err := pkey.FromNative(h)
	if err != nil {
		return nil, err
	}

	signer, err := NewKeySigner(key, digest)
	if err != nil {
		key.Close()
		return nil, err
	}
	return signer, nil
}

func (s *KeySigner) PublicKey() PublicKey { return s.pub }

// Digest returns the name of the digest the signer uses.
func (s *KeySigner) Digest() string { return s.digest.Name() }

// Sign digests data and signs it with the wrapped key.
func (s *KeySigner) Sign(data []byte) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, err := s.key.Sign(s.digest, data)
	if err != nil {
		return nil, err
	}
	return Signature(sig), nil
}

// Close releases the key. Sign fails with pkey.ErrPrivateKeyRequired afterwards.
func (s *KeySigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key.Close()
}
