package rpc

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

// Method is an RPC method name served by the keynode daemon.
type Method string

const (
	// PingMethod checks connectivity and liveness.
	PingMethod Method = "ping"
	// PongMethod is the response to a ping request.
	PongMethod Method = "pong"
	// ErrorMethod identifies error responses.
	ErrorMethod Method = "error"
	// GetNodeKeyMethod returns the public key that signs every response.
	GetNodeKeyMethod Method = "get_node_key"
	// ListKeysMethod pages through the stored keys.
	ListKeysMethod Method = "list_keys"
	// GetKeyMethod describes one key by ID or name.
	GetKeyMethod Method = "get_key"
	// ImportKeyMethod stores a PEM encoded key under a name.
	ImportKeyMethod Method = "import_key"
	// DeleteKeyMethod removes a key by ID or name.
	DeleteKeyMethod Method = "delete_key"
	// SignMethod signs a message with a stored private key.
	SignMethod Method = "sign"
	// PurgeKeysMethod removes every stored key. Served only in test mode.
	PurgeKeysMethod Method = "purge_keys"
)

func (m Method) String() string {
	return string(m)
}

// Event is a notification method pushed by the daemon.
type Event string

const (
	// NodeKeyEvent is sent once after connecting and carries a NodeKeyResponse.
	NodeKeyEvent Event = "node_key"
	// KeyImportedEvent is broadcast after a key is imported and carries a KeyInfo without components.
	KeyImportedEvent Event = "key_imported"
	// KeyDeletedEvent is broadcast after a key is deleted and carries a DeleteKeyResponse.
	KeyDeletedEvent Event = "key_deleted"
)

func (e Event) String() string {
	return string(e)
}

// SortType orders list results by creation time.
type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

// ListOptions pages list requests. A zero Limit uses the daemon default.
type ListOptions struct {
	Offset uint32    `json:"offset,omitempty"`
	Limit  uint32    `json:"limit,omitempty"`
	Sort   *SortType `json:"sort,omitempty"`
}

// NodeKeyResponse describes the node signing key.
type NodeKeyResponse struct {
	Algorithm   string `json:"algorithm"`
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"public_key"`
	Digest      string `json:"digest"`
}

// KeyInfo describes a stored key. Components holds the names of the
// components the key carries and Public the hex values of its public ones;
// both are empty in listings and notifications.
type KeyInfo struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Algorithm   string            `json:"algorithm"`
	Private     bool              `json:"private"`
	Bits        int               `json:"bits"`
	Size        int               `json:"size,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Components  []string          `json:"components,omitempty"`
	Public      map[string]string `json:"public,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type ListKeysRequest struct {
	ListOptions
}

type ListKeysResponse struct {
	Keys []KeyInfo `json:"keys"`
}

// KeyRefRequest references a key by ID or name.
type KeyRefRequest struct {
	Key string `json:"key"`
}

type ImportKeyRequest struct {
	Name string `json:"name"`
	PEM  string `json:"pem"`
}

type DeleteKeyResponse struct {
	Key string `json:"key"`
}

// SignRequest asks the daemon to sign Message with Key. An empty Digest
// selects sha256.
type SignRequest struct {
	Key     string        `json:"key"`
	Digest  string        `json:"digest,omitempty"`
	Message hexutil.Bytes `json:"message"`
}

type SignResponse struct {
	Key       string         `json:"key"`
	Digest    string         `json:"digest"`
	Signature sign.Signature `json:"signature"`
}

type PurgeKeysResponse struct {
	Deleted int `json:"deleted"`
}
