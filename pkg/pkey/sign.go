package pkey

import (
	"fmt"

	"github.com/erc7824/nitrolite/keynode/pkg/native"
)

// Digest selects a message digest algorithm by name.
// *native.MD satisfies it, as does DigestName.
type Digest interface {
	Name() string
}

// DigestName is a Digest given by its name, e.g. "sha256" or "SHA-256".
type DigestName string

func (n DigestName) Name() string { return string(n) }

// digestContext is the scoped native context a single Sign call drives.
type digestContext interface {
	SignInit(md *native.MD, key *native.Key) error
	SignUpdate(p []byte) error
	SignFinal(sig []byte, key *native.Key) (int, error)
	Free()
}

type contextFactory func() (digestContext, error)

func newDigestContext() (digestContext, error) {
	ctx, err := native.NewDigestCtx()
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

// Sign digests msg with d and signs the digest with the private key.
// The returned signature is at most Size() bytes long.
func (k *Key) Sign(d Digest, msg []byte) ([]byte, error) {
	return k.sign(newDigestContext, d, msg)
}

func (k *Key) sign(newCtx contextFactory, d Digest, msg []byte) ([]byte, error) {
	if !k.IsPrivate() {
		return nil, ErrPrivateKeyRequired
	}

	md, err := k.resolveDigest(d)
	if err != nil {
		return nil, err
	}

	ctx, err := newCtx()
	if err != nil {
		return nil, fmt.Errorf("%w: digest context: %w", ErrAllocation, err)
	}
	defer ctx.Free()

	if err := ctx.SignInit(md, k.handle); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDigestInitFailed, err)
	}
	if err := ctx.SignUpdate(msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDigestUpdateFailed, err)
	}

	sig := make([]byte, k.Size())
	n, err := ctx.SignFinal(sig, k.handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFinalizeFailed, err)
	}
	if n < 0 || n > len(sig) {
		panic(fmt.Sprintf("pkey: signer produced %d bytes into a %d byte buffer", n, len(sig)))
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrSignFinalizeFailed)
	}

	return sig[:n], nil
}

func (k *Key) resolveDigest(d Digest) (*native.MD, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no digest selected", ErrUnsupportedDigest)
	}
	md, err := native.DigestByName(d.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedDigest, err)
	}
	id := k.handle.BaseID()
	if !md.SupportsKey(id) {
		return nil, fmt.Errorf("%w: %s cannot sign with %s keys", ErrUnsupportedDigest, md.Name(), id)
	}
	return md, nil
}
