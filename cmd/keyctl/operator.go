package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/c-bata/go-prompt"

	"github.com/erc7824/nitrolite/keynode/pkg/native"
	"github.com/erc7824/nitrolite/keynode/pkg/rpc"
)

// keynode is the part of the Keynode API the operator drives.
type keynode interface {
	Ping() error
	NodeKey() (rpc.NodeKeyResponse, error)
	ListKeys(offset, limit uint32, sort rpc.SortType) ([]rpc.KeyInfo, error)
	GetKey(key string) (rpc.KeyInfo, error)
	ImportKey(name, pemData string) (rpc.KeyInfo, error)
	DeleteKey(key string) error
	Sign(key, digest string, message []byte) (rpc.SignResponse, error)
	PurgeKeys() (int, error)
}

var _ keynode = (*KeynodeClient)(nil)

// Operator runs prompt commands against a keynode and prints the results to out.
type Operator struct {
	keynode keynode
	out     io.Writer

	// keys caches stored keys for completion; refreshed after every command.
	keys []rpc.KeyInfo

	exitCh chan struct{}
}

func NewOperator(kn keynode, out io.Writer) *Operator {
	operator := &Operator{
		keynode: kn,
		out:     out,
		exitCh:  make(chan struct{}),
	}
	operator.reloadKeys()

	return operator
}

func (o *Operator) Complete(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(o.complete(d), d.GetWordBeforeCursor(), true)
}

func (o *Operator) complete(d prompt.Document) []prompt.Suggest {
	args := strings.Split(d.TextBeforeCursor(), " ")

	if len(args) < 2 {
		return []prompt.Suggest{
			{Text: "ping", Description: "Check that the Keynode is alive"},
			{Text: "node-key", Description: "Show the key the Keynode signs its responses with"},
			{Text: "list", Description: "List stored keys"},
			{Text: "get", Description: "Show a key and its public components"},
			{Text: "import", Description: "Import an RSA key from a PEM file"},
			{Text: "delete", Description: "Delete a key"},
			{Text: "sign", Description: "Sign a message with a stored private key"},
			{Text: "purge", Description: "Delete every key (test mode only)"},
			{Text: "exit", Description: "Exit the application"},
		}
	}

	if len(args) < 3 {
		switch args[0] {
		case "list":
			return []prompt.Suggest{
				{Text: string(rpc.SortTypeAscending), Description: "Oldest first"},
				{Text: string(rpc.SortTypeDescending), Description: "Newest first"},
			}
		case "get", "delete":
			return o.getKeySuggestions(false)
		case "sign":
			return o.getKeySuggestions(true)
		default:
			return nil
		}
	}

	if len(args) < 4 {
		switch args[0] {
		case "sign":
			return getDigestSuggestions()
		default:
			return nil
		}
	}

	return nil
}

func (o *Operator) Execute(s string) {
	s = strings.TrimSpace(s)
	args := strings.Fields(s)
	if len(args) == 0 {
		return
	}

	defer o.reloadKeys()

	switch args[0] {
	case "ping":
		o.handlePing()
	case "node-key":
		o.handleNodeKey()
	case "list":
		o.handleListKeys(args)
	case "get":
		o.handleGetKey(args)
	case "import":
		o.handleImportKey(args)
	case "delete":
		o.handleDeleteKey(args)
	case "sign":
		o.handleSign(args)
	case "purge":
		o.handlePurgeKeys()
	case "exit":
		o.exit()
	default:
		fmt.Fprintf(o.out, "Unknown command: %s\n", s)
	}
}

func (o *Operator) Wait() <-chan struct{} {
	return o.exitCh
}

func (o *Operator) exit() {
	select {
	case <-o.exitCh:
	default:
		close(o.exitCh)
	}
}

func (o *Operator) reloadKeys() {
	keys, err := o.keynode.ListKeys(initialQueryOffset, maxPageSize, rpc.SortTypeAscending)
	if err != nil {
		fmt.Fprintf(o.out, "[Reload] Failed to fetch keys: %s\n", err.Error())
		return
	}
	o.keys = keys
}

// getKeySuggestions suggests stored key names, only private ones if privateOnly is set.
func (o *Operator) getKeySuggestions(privateOnly bool) []prompt.Suggest {
	s := make([]prompt.Suggest, 0, len(o.keys))
	for _, key := range o.keys {
		if privateOnly && !key.Private {
			continue
		}

		kind := "public"
		if key.Private {
			kind = "private"
		}
		s = append(s, prompt.Suggest{
			Text:        key.Name,
			Description: fmt.Sprintf("%s-%d %s key", key.Algorithm, key.Bits, kind),
		})
	}
	return s
}

func getDigestSuggestions() []prompt.Suggest {
	names := native.DigestNames()
	s := make([]prompt.Suggest, 0, len(names))
	for _, name := range names {
		s = append(s, prompt.Suggest{Text: name})
	}
	return s
}
