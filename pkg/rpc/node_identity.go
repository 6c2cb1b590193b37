package rpc

import (
	"fmt"
	"strings"

	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

// NodeIdentity is the node key a connection learned from the node_key
// announcement. Every later message on the connection must carry a valid
// signature by it.
type NodeIdentity struct {
	NodeKeyResponse

	pub sign.PKIXPublicKey
}

// NewNodeIdentity checks a node_key announcement: the announced fingerprint
// must match the announced key, the announcement must be signed by that key
// and, when pinned is set, the fingerprint must equal pinned.
func NewNodeIdentity(announcement *Response, pinned string) (*NodeIdentity, error) {
	var announced NodeKeyResponse
	if err := announcement.Res.Params.Translate(&announced); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNodeKey, err)
	}

	pub, err := sign.ParsePublicKeyPEM([]byte(announced.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNodeKey, err)
	}
	if !strings.EqualFold(pub.Fingerprint(), announced.Fingerprint) {
		return nil, fmt.Errorf("%w: fingerprint %s does not match the public key", ErrInvalidNodeKey, announced.Fingerprint)
	}
	if pinned != "" && !strings.EqualFold(pinned, announced.Fingerprint) {
		return nil, fmt.Errorf("%w: got %s", ErrNodeKeyMismatch, announced.Fingerprint)
	}

	id := &NodeIdentity{NodeKeyResponse: announced, pub: pub}
	if err := id.Verify(announcement); err != nil {
		return nil, err
	}
	return id, nil
}

// Verify checks the first signature of res against the node key over the
// "res" bytes as received.
func (n *NodeIdentity) Verify(res *Response) error {
	if len(res.Sig) == 0 {
		return fmt.Errorf("%w: message is not signed", ErrInvalidNodeSignature)
	}
	signed := res.SignedBytes()
	if signed == nil {
		return fmt.Errorf("%w: message was not received from the wire", ErrInvalidNodeSignature)
	}

	if err := sign.Verify(n.pub, n.Digest, signed, res.Sig[0]); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNodeSignature, err)
	}
	return nil
}
