package sign

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/erc7824/nitrolite/keynode/pkg/native"
	"github.com/erc7824/nitrolite/keynode/pkg/pkey"
)

// ErrInvalidSignature is returned when a signature does not match the data.
var ErrInvalidSignature = errors.New("invalid signature")

// ParsePublicKeyPEM decodes a PKIX "PUBLIC KEY" block, as announced by the
// keynode in its node_key notification.
func ParsePublicKeyPEM(data []byte) (PKIXPublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return PKIXPublicKey{}, errors.New("could not decode public key: no PUBLIC KEY block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PKIXPublicKey{}, fmt.Errorf("could not parse public key: %w", err)
	}
	if _, ok := parsed.(*rsa.PublicKey); !ok {
		return PKIXPublicKey{}, fmt.Errorf("%w: %T", pkey.ErrUnsupportedKeyType, parsed)
	}
	return NewPKIXPublicKey(pkey.RSA.String(), block.Bytes), nil
}

// Verify checks that sig is an RSASSA-PKCS1-v1_5 signature over data made by
// the private half of pub with the named digest.
//
//	if err := sign.Verify(nodeKey, "sha256", res.SignedBytes(), res.Sig[0]); err != nil {
//	    return err
//	}
func Verify(pub PublicKey, digest string, data []byte, sig Signature) error {
	md, err := native.DigestByName(digest)
	if err != nil {
		return fmt.Errorf("%w: %w", pkey.ErrUnsupportedDigest, err)
	}
	if !md.SupportsKey(native.IDRSA) {
		return fmt.Errorf("%w: %s cannot verify rsa signatures", pkey.ErrUnsupportedDigest, md.Name())
	}

	parsed, err := x509.ParsePKIXPublicKey(pub.Bytes())
	if err != nil {
		return fmt.Errorf("could not parse public key: %w", err)
	}
	rsaPub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: %T", pkey.ErrUnsupportedKeyType, parsed)
	}

	sum, err := md.Sum(data)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPKCS1v15(rsaPub, md.HashFunc(), sum, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}
