package sign

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Signer produces signatures with a key it never exposes.
type Signer interface {
	PublicKey() PublicKey                // Public half of the signing key.
	Sign(data []byte) (Signature, error) // Sign digests and signs data.
}

// PublicKey is the public half of a signing key.
type PublicKey interface {
	// Algorithm names the key variant, e.g. "RSA".
	Algorithm() string
	// Fingerprint is the 0x-hex SHA-256 of Bytes.
	Fingerprint() string
	// Bytes returns the PKIX DER encoding.
	Bytes() []byte
}

// Signature is a raw signature. It encodes to JSON as a 0x-prefixed hex string.
type Signature []byte

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	decoded, err := hexutil.Decode(hexStr)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s Signature) String() string {
	return hexutil.Encode(s)
}

// Fingerprint returns the 0x-hex SHA-256 of a public key encoding.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hexutil.Encode(sum[:])
}
