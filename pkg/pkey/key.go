package pkey

import (
	"fmt"

	"github.com/erc7824/nitrolite/keynode/pkg/native"
)

// allocKey allocates empty native handles. Tests replace it to simulate
// allocation failures.
var allocKey = native.NewKey

// Key is a managed asymmetric key object. It owns its native handle.
type Key struct {
	handle *native.Key
	alg    Algorithm
}

// FromNative wraps h in a key object of the variant the handle itself
// reports. On success the material moves into the key and h is left empty,
// so the caller's handle no longer owns anything. On failure h is untouched
// and remains the caller's to free.
func FromNative(h *native.Key) (*Key, error) {
	id := h.BaseID()
	if id == native.IDNone {
		return nil, ErrEmptyHandle
	}

	alg := fromNativeID(id)
	if !alg.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, h.Describe())
	}

	return &Key{handle: h.Move(), alg: alg}, nil
}

// New allocates a key object of the given variant with no key material.
func New(alg Algorithm) (*Key, error) {
	if !alg.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, alg)
	}

	h, err := allocKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if h == nil {
		return nil, ErrAllocation
	}

	return &Key{handle: h, alg: alg}, nil
}

// Close releases the native handle. Calling Close again does nothing; a
// closed key answers every query like an empty one.
func (k *Key) Close() error {
	if k == nil || k.handle == nil {
		return nil
	}
	k.handle.Free()
	k.handle = nil
	return nil
}

func (k *Key) Algorithm() Algorithm {
	if k == nil {
		return Unknown
	}
	return k.alg
}

// Size returns the maximum signature length in bytes.
func (k *Key) Size() int {
	if k == nil {
		return 0
	}
	return k.handle.Size()
}

// Bits returns the key length in bits.
func (k *Key) Bits() int {
	return k.rsa().Bits()
}

// Public returns a new key object holding only the public components of k.
func (k *Key) Public() (*Key, error) {
	if k == nil || k.handle.BaseID() == native.IDNone {
		return nil, ErrEmptyHandle
	}
	pub, err := k.handle.Public()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyHandle, err)
	}
	return FromNative(pub)
}

// MarshalPEM encodes the key as PKCS#8 if it is private and PKIX otherwise.
func (k *Key) MarshalPEM() ([]byte, error) {
	if k == nil || k.handle.BaseID() == native.IDNone {
		return nil, ErrEmptyHandle
	}
	return k.handle.MarshalPEM()
}

// PublicPEM encodes the public half of the key as PKIX.
func (k *Key) PublicPEM() ([]byte, error) {
	if k == nil || k.handle.BaseID() == native.IDNone {
		return nil, ErrEmptyHandle
	}
	return k.handle.PublicPEM()
}

func (k *Key) rsa() *native.RSA {
	if k == nil || k.alg != RSA {
		return nil
	}
	return k.handle.RSA()
}
