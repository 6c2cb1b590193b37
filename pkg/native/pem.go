package native

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

const (
	pemTypePKCS8     = "PRIVATE KEY"
	pemTypePKIX      = "PUBLIC KEY"
	pemTypeRSAPriv   = "RSA PRIVATE KEY"
	pemTypeRSAPublic = "RSA PUBLIC KEY"
	pemTypeECPriv    = "EC PRIVATE KEY"
)

// ParsePEM decodes the first PEM block in data into a new handle.
// PKCS#1, PKCS#8, SEC 1 and PKIX encodings are accepted.
func ParsePEM(data []byte) (*Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case pemTypeRSAPriv:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemTypeRSAPublic:
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case pemTypePKCS8:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case pemTypePKIX:
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	case pemTypeECPriv:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, errors.Errorf("unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", block.Type)
	}
	return FromCrypto(key)
}

// MarshalPEM encodes the handle as PKCS#8 when it holds a private key and as
// PKIX otherwise.
func (k *Key) MarshalPEM() ([]byte, error) {
	var (
		key     any
		private bool
	)
	switch k.BaseID() {
	case IDNone:
		return nil, errors.New("cannot encode an empty key handle")
	case IDRSA:
		if k.rsa.D != nil {
			priv, err := k.rsa.privateKey()
			if err != nil {
				return nil, err
			}
			key, private = priv, true
		} else {
			pub, err := k.rsa.publicKey()
			if err != nil {
				return nil, err
			}
			key = pub
		}
	default:
		key = k.other
		_, isPub := x509PublicKey(key)
		private = !isPub
	}

	var (
		der       []byte
		blockType string
		err       error
	)
	if private {
		der, err = x509.MarshalPKCS8PrivateKey(key)
		blockType = pemTypePKCS8
	} else {
		der, err = x509.MarshalPKIXPublicKey(key)
		blockType = pemTypePKIX
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s key", k.BaseID())
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), nil
}

// PublicPEM encodes only the public half of the handle as PKIX.
func (k *Key) PublicPEM() ([]byte, error) {
	pub, err := k.Public()
	if err != nil {
		return nil, err
	}
	return pub.MarshalPEM()
}

// Public returns a new handle holding only the public half of k.
func (k *Key) Public() (*Key, error) {
	switch k.BaseID() {
	case IDNone:
		return nil, errors.New("empty key handle has no public half")
	case IDRSA:
		return &Key{id: IDRSA, rsa: &RSA{N: cloneInt(k.rsa.N), E: cloneInt(k.rsa.E)}}, nil
	default:
		pub, _ := x509PublicKey(k.other)
		if pub == nil {
			return nil, errors.Errorf("cannot derive the public half of %s", k.Describe())
		}
		return FromCrypto(pub)
	}
}

// x509PublicKey returns the public half of key and whether key already was
// a public key.
func x509PublicKey(key any) (any, bool) {
	type publicKeyer interface{ Public() crypto.PublicKey }

	switch k := key.(type) {
	case publicKeyer:
		return k.Public(), false
	default:
		return key, true
	}
}
