package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/erc7824/nitrolite/keynode/pkg/rpc"
	"github.com/erc7824/nitrolite/keynode/pkg/sign"
)

const requestTimeout = 10 * time.Second

// KeynodeClient wraps the RPC client with the state the CLI needs between commands.
type KeynodeClient struct {
	rpcClient *rpc.Client

	exitCh   chan struct{} // Closed once the connection is gone
	exitOnce sync.Once
}

// NewKeynodeClient connects to the keynode at cfg.URL. Notifications and
// connection errors are reported to out. When cfg.NodeFingerprint is set, the
// connection is dropped unless the keynode proves it holds that key.
func NewKeynodeClient(ctx context.Context, cfg Config, out io.Writer) (*KeynodeClient, error) {
	dialerCfg := rpc.DefaultWebsocketDialerConfig
	dialerCfg.NodeFingerprint = cfg.NodeFingerprint
	rpcClient := rpc.NewClient(rpc.NewWebsocketDialer(dialerCfg))

	client := &KeynodeClient{
		rpcClient: rpcClient,
		exitCh:    make(chan struct{}),
	}

	rpcClient.HandleKeyImportedEvent(func(ctx context.Context, notif rpc.KeyInfo, _ []sign.Signature) {
		fmt.Fprintf(out, "\n[Event] Key %s (%s) imported\n", notif.Name, notif.ID)
	})
	rpcClient.HandleKeyDeletedEvent(func(ctx context.Context, notif rpc.DeleteKeyResponse, _ []sign.Signature) {
		fmt.Fprintf(out, "\n[Event] Key %s deleted\n", notif.Key)
	})

	handleClosure := func(err error) {
		if err != nil {
			fmt.Fprintf(out, "Keynode RPC error: %s\n", err.Error())
		}
		client.exit()
	}

	if err := rpcClient.Start(ctx, cfg.URL, handleClosure); err != nil {
		return nil, fmt.Errorf("failed to start RPC client: %w", err)
	}

	return client, nil
}

func (c *KeynodeClient) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := c.rpcClient.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping keynode: %w", err)
	}
	return nil
}

// NodeKey returns the node key the connection verified from the keynode's
// announcement, or asks the keynode for it if the announcement has not
// arrived yet.
func (c *KeynodeClient) NodeKey() (rpc.NodeKeyResponse, error) {
	if id := c.rpcClient.NodeIdentity(); id != nil {
		return id.NodeKeyResponse, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, _, err := c.rpcClient.GetNodeKey(ctx)
	if err != nil {
		return rpc.NodeKeyResponse{}, fmt.Errorf("failed to fetch node key: %w", err)
	}
	return res, nil
}

func (c *KeynodeClient) ListKeys(offset, limit uint32, sort rpc.SortType) ([]rpc.KeyInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, _, err := c.rpcClient.ListKeys(ctx, rpc.ListKeysRequest{
		ListOptions: rpc.ListOptions{
			Offset: offset,
			Limit:  limit,
			Sort:   &sort,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return res.Keys, nil
}

func (c *KeynodeClient) GetKey(key string) (rpc.KeyInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, _, err := c.rpcClient.GetKey(ctx, rpc.KeyRefRequest{Key: key})
	if err != nil {
		return rpc.KeyInfo{}, fmt.Errorf("failed to get key: %w", err)
	}
	return res, nil
}

func (c *KeynodeClient) ImportKey(name, pemData string) (rpc.KeyInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, _, err := c.rpcClient.ImportKey(ctx, rpc.ImportKeyRequest{Name: name, PEM: pemData})
	if err != nil {
		return rpc.KeyInfo{}, fmt.Errorf("failed to import key: %w", err)
	}
	return res, nil
}

func (c *KeynodeClient) DeleteKey(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, _, err := c.rpcClient.DeleteKey(ctx, rpc.KeyRefRequest{Key: key}); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (c *KeynodeClient) Sign(key, digest string, message []byte) (rpc.SignResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, _, err := c.rpcClient.Sign(ctx, rpc.SignRequest{Key: key, Digest: digest, Message: message})
	if err != nil {
		return rpc.SignResponse{}, fmt.Errorf("failed to sign: %w", err)
	}
	return res, nil
}

func (c *KeynodeClient) PurgeKeys() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, _, err := c.rpcClient.PurgeKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to purge keys: %w", err)
	}
	return res.Deleted, nil
}

func (c *KeynodeClient) WaitCh() <-chan struct{} {
	return c.exitCh
}

func (c *KeynodeClient) exit() {
	c.exitOnce.Do(func() {
		close(c.exitCh)
	})
}
