package native

import (
	"crypto/rsa"
	"hash"

	"github.com/pkg/errors"
)

// DigestCtx accumulates a message digest for a signing operation.
// A context is initialised once with SignInit and must be released with Free.
type DigestCtx struct {
	md *MD
	h  hash.Hash
}

// NewDigestCtx allocates an uninitialised digest context.
func NewDigestCtx() (*DigestCtx, error) {
	return &DigestCtx{}, nil
}

// SignInit prepares the context to sign with md using key.
func (c *DigestCtx) SignInit(md *MD, key *Key) error {
	if md == nil {
		return errors.New("no digest algorithm")
	}
	if !md.SupportsKey(key.BaseID()) {
		return errors.Errorf("digest %s cannot sign with %s keys", md.name, key.BaseID())
	}
	h, err := md.new()
	if err != nil {
		return err
	}
	c.md, c.h = md, h
	return nil
}

// SignUpdate feeds p into the digest. It can be called repeatedly.
func (c *DigestCtx) SignUpdate(p []byte) error {
	if c.h == nil {
		return errors.New("digest context is not initialised")
	}
	_, err := c.h.Write(p)
	return err
}

// SignFinal finishes the digest, signs it with key and writes the signature
// into sig. It returns the number of bytes written.
func (c *DigestCtx) SignFinal(sig []byte, key *Key) (int, error) {
	if c.h == nil {
		return 0, errors.New("digest context is not initialised")
	}
	if key.BaseID() != IDRSA {
		return 0, errors.Errorf("cannot sign with %s keys", key.BaseID())
	}

	priv, err := key.rsa.privateKey()
	if err != nil {
		return 0, err
	}
	out, err := rsa.SignPKCS1v15(nil, priv, c.md.hash, c.h.Sum(nil))
	if err != nil {
		return 0, errors.Wrap(err, "rsa sign")
	}
	if len(out) > len(sig) {
		return 0, errors.Errorf("signature buffer too small: need %d bytes, have %d", len(out), len(sig))
	}
	return copy(sig, out), nil
}

// Free releases the context. It is safe to call more than once.
func (c *DigestCtx) Free() {
	if c == nil {
		return
	}
	if c.h != nil {
		c.h.Reset()
	}
	c.md, c.h = nil, nil
}
