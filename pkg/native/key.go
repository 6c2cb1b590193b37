package native

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tjfoc/gmsm/sm2"
)

// ID is the algorithm family of a key handle.
type ID uint8

const (
	IDNone ID = iota
	IDRSA
	IDEC
	IDEd25519
	IDSM2
)

// String returns the lower-case family name.
func (id ID) String() string {
	switch id {
	case IDNone:
		return "none"
	case IDRSA:
		return "rsa"
	case IDEC:
		return "ec"
	case IDEd25519:
		return "ed25519"
	case IDSM2:
		return "sm2"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Key is an owning handle to asymmetric key material.
// The zero value is an empty handle with family IDNone.
type Key struct {
	id  ID
	rsa *RSA

	// other holds material of families this layer only classifies.
	other any
	curve string
}

// NewKey allocates an empty handle with no key material.
func NewKey() (*Key, error) {
	return &Key{}, nil
}

// FromCrypto copies a Go crypto key into a new handle.
// RSA keys are decomposed into their slots; keys of other families are kept
// as-is so they can be classified.
func FromCrypto(key any) (*Key, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		r, err := rsaFromPrivate(k)
		if err != nil {
			return nil, err
		}
		return &Key{id: IDRSA, rsa: r}, nil
	case *rsa.PublicKey:
		return &Key{id: IDRSA, rsa: rsaFromPublic(k)}, nil
	case *sm2.PrivateKey:
		return &Key{id: IDSM2, other: k, curve: "sm2p256v1"}, nil
	case *sm2.PublicKey:
		return &Key{id: IDSM2, other: k, curve: "sm2p256v1"}, nil
	case *ecdsa.PrivateKey:
		return &Key{id: IDEC, other: k, curve: curveName(k.Curve)}, nil
	case *ecdsa.PublicKey:
		return &Key{id: IDEC, other: k, curve: curveName(k.Curve)}, nil
	case ed25519.PrivateKey:
		return &Key{id: IDEd25519, other: k}, nil
	case ed25519.PublicKey:
		return &Key{id: IDEd25519, other: k}, nil
	case nil:
		return nil, errors.New("cannot make a key handle from nil")
	default:
		return nil, errors.Errorf("unsupported key material %T", key)
	}
}

func curveName(c elliptic.Curve) string {
	if c == nil {
		return ""
	}
	if c == ethcrypto.S256() {
		return "secp256k1"
	}
	return c.Params().Name
}

// BaseID reports the algorithm family of the material held by the handle.
func (k *Key) BaseID() ID {
	if k == nil {
		return IDNone
	}
	return k.id
}

// Curve returns the curve name for EC and SM2 handles.
func (k *Key) Curve() string {
	if k == nil {
		return ""
	}
	return k.curve
}

// Describe returns a short family description such as "rsa(2048)" or
// "ec(secp256k1)".
func (k *Key) Describe() string {
	switch id := k.BaseID(); id {
	case IDRSA:
		return fmt.Sprintf("rsa(%d)", k.rsa.Bits())
	case IDEC, IDSM2:
		if k.curve == "" {
			return id.String()
		}
		return fmt.Sprintf("%s(%s)", id, k.curve)
	default:
		return id.String()
	}
}

// Size returns the maximum signature length in bytes for the held material,
// or 0 when the handle cannot sign.
func (k *Key) Size() int {
	if k.BaseID() != IDRSA || k.rsa.N == nil {
		return 0
	}
	return (k.rsa.N.BitLen() + 7) / 8
}

// RSA returns the RSA slot structure, or nil if the handle is not RSA.
// The returned structure is owned by the handle.
func (k *Key) RSA() *RSA {
	if k.BaseID() != IDRSA {
		return nil
	}
	return k.rsa
}

// AssignRSA stores r in the handle, taking ownership of it.
// It fails if the handle already holds material of another family.
func (k *Key) AssignRSA(r *RSA) error {
	if k == nil {
		return errors.New("cannot assign to a nil handle")
	}
	if r == nil {
		return errors.New("cannot assign nil RSA material")
	}
	if k.id != IDNone && k.id != IDRSA {
		return errors.Errorf("handle already holds %s material", k.id)
	}
	k.id, k.rsa = IDRSA, r
	return nil
}

// Move transfers the material into a new handle and leaves k empty.
func (k *Key) Move() *Key {
	if k == nil {
		return nil
	}
	moved := &Key{id: k.id, rsa: k.rsa, other: k.other, curve: k.curve}
	*k = Key{}
	return moved
}

// Free wipes private RSA slots and empties the handle.
// Calling Free on an empty or moved-from handle does nothing.
func (k *Key) Free() {
	if k == nil {
		return
	}
	if k.rsa != nil {
		k.rsa.wipe()
	}
	*k = Key{}
}
