package main

import (
	"encoding/pem"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
	"github.com/erc7824/nitrolite/keynode/pkg/native"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

type NodeKeyResponse struct {
	Algorithm   string `json:"algorithm"`
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"public_key"` // PKIX PEM
	Digest      string `json:"digest"`     // digest used for response signatures
}

type ListKeysParams struct {
	ListOptions
}

type KeysResponse struct {
	Keys []KeyInfo `json:"keys"`
}

// KeyRefParams references a key by ID or name.
type KeyRefParams struct {
	Key string `json:"key" validate:"required"`
}

type ImportKeyParams struct {
	Name string `json:"name" validate:"required,keyname"`
	PEM  string `json:"pem" validate:"required"`
}

type DeleteKeyResponse struct {
	Key string `json:"key"`
}

type SignParams struct {
	Key     string        `json:"key" validate:"required"`
	Digest  string        `json:"digest,omitempty"`
	Message hexutil.Bytes `json:"message" validate:"required"`
}

type SignResponse struct {
	Key       string         `json:"key"`
	Digest    string         `json:"digest"`
	Signature sign.Signature `json:"signature"`
}

type PurgeKeysResponse struct {
	Deleted int `json:"deleted"`
}

func (r *RPCRouter) HandlePing(c *RPCContext) {
	c.Succeed("pong", nil)
}

// HandleGetNodeKey returns the public key that signs every response.
func (r *RPCRouter) HandleGetNodeKey(c *RPCContext) {
	c.Succeed(c.Message.Req.Method, r.nodeKeyResponse())
}

func (r *RPCRouter) nodeKeyResponse() NodeKeyResponse {
	pub := r.Signer.PublicKey()
	return NodeKeyResponse{
		Algorithm:   pub.Algorithm(),
		Fingerprint: pub.Fingerprint(),
		PublicKey:   string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub.Bytes()})),
		Digest:      r.Config.responseDigest,
	}
}

func (r *RPCRouter) HandleListKeys(c *RPCContext) {
	ctx := c.Context
	logger := log.FromContext(ctx)
	req := c.Message.Req

	var params ListKeysParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	keys, err := r.Keys.List(ctx, params.ListOptions)
	if err != nil {
		logger.Error("failed to list keys", "error", err)
		c.Fail(err, "failed to list keys")
		return
	}

	c.Succeed(req.Method, KeysResponse{Keys: keys})
}

func (r *RPCRouter) HandleGetKey(c *RPCContext) {
	ctx := c.Context
	logger := log.FromContext(ctx)
	req := c.Message.Req

	var params KeyRefParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	info, err := r.Keys.Describe(ctx, params.Key)
	if err != nil {
		logger.Debug("failed to describe key", "key", params.Key, "error", err)
		c.Fail(keyError(err, "failed to describe key"), "failed to describe key")
		return
	}

	c.Succeed(req.Method, info)
}

func (r *RPCRouter) HandleImportKey(c *RPCContext) {
	ctx := c.Context
	logger := log.FromContext(ctx)
	req := c.Message.Req

	var params ImportKeyParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	info, err := r.Keys.Import(ctx, params.Name, []byte(params.PEM))
	if err != nil {
		logger.Debug("failed to import key", "name", params.Name, "error", err)
		c.Fail(keyError(err, "failed to import key"), "failed to import key")
		return
	}

	c.Succeed(req.Method, info)
	r.Node.Broadcast("key_imported", recordSummary(info))
	logger.Info("key imported", "id", info.ID, "name", info.Name)
}

func (r *RPCRouter) HandleDeleteKey(c *RPCContext) {
	ctx := c.Context
	logger := log.FromContext(ctx)
	req := c.Message.Req

	var params KeyRefParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	if err := r.Keys.Delete(ctx, params.Key); err != nil {
		logger.Debug("failed to delete key", "key", params.Key, "error", err)
		c.Fail(keyError(err, "failed to delete key"), "failed to delete key")
		return
	}

	resp := DeleteKeyResponse{Key: params.Key}
	c.Succeed(req.Method, resp)
	r.Node.Broadcast("key_deleted", resp)
	logger.Info("key deleted", "key", params.Key)
}

func (r *RPCRouter) HandleSign(c *RPCContext) {
	ctx := c.Context
	logger := log.FromContext(ctx)
	req := c.Message.Req

	var params SignParams
	if err := parseParams(req.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	digest := params.Digest
	if digest == "" {
		digest = defaultDigest
	}

	sig, err := r.Keys.Sign(ctx, params.Key, digest, params.Message)
	if err != nil {
		logger.Debug("failed to sign message", "key", params.Key, "digest", digest, "error", err)
		c.Fail(keyError(err, "failed to sign message"), "failed to sign message")
		return
	}

	// The digest resolved for signing, so report its canonical name.
	if md, err := native.DigestByName(digest); err == nil {
		digest = md.Name()
	}

	c.Succeed(req.Method, SignResponse{
		Key:       params.Key,
		Digest:    digest,
		Signature: sig,
	})
}

// HandlePurgeKeys deletes every stored key.
func (r *RPCRouter) HandlePurgeKeys(c *RPCContext) {
	ctx := c.Context
	logger := log.FromContext(ctx)

	deleted := 0
	for {
		keys, err := r.Keys.List(ctx, ListOptions{Limit: MaxLimit})
		if err != nil {
			c.Fail(err, "failed to list keys")
			return
		}
		if len(keys) == 0 {
			break
		}

		for _, k := range keys {
			if err := r.Keys.Delete(ctx, k.ID.String()); err != nil {
				c.Fail(err, "failed to delete key")
				return
			}
			deleted++
		}
	}

	logger.Info("purged keys", "deleted", deleted)
	c.Succeed(c.Message.Req.Method, PurgeKeysResponse{Deleted: deleted})
}

// recordSummary drops component values from notifications.
func recordSummary(info *KeyInfo) KeyInfo {
	summary := *info
	summary.Present = nil
	summary.Public = nil
	return summary
}
