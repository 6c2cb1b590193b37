package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/erc7824/nitrolite/keynode/pkg/rpc"
)

const (
	initialQueryOffset = uint32(0)
	defaultPageSize    = uint32(10)
	maxPageSize        = uint32(100)
)

func (o *Operator) handlePing() {
	start := time.Now()
	if err := o.keynode.Ping(); err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}
	fmt.Fprintf(o.out, "pong in %s\n", time.Since(start).Round(time.Millisecond))
}

func (o *Operator) handleNodeKey() {
	nodeKey, err := o.keynode.NodeKey()
	if err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(o.out)
	t.AppendRow(table.Row{"Algorithm", nodeKey.Algorithm})
	t.AppendRow(table.Row{"Fingerprint", nodeKey.Fingerprint})
	t.AppendRow(table.Row{"Response digest", nodeKey.Digest})
	t.Render()

	fmt.Fprintln(o.out, nodeKey.PublicKey)
}

func (o *Operator) handleListKeys(args []string) {
	sort := rpc.SortTypeAscending
	if len(args) > 1 {
		sort = rpc.SortType(args[1])
		if sort != rpc.SortTypeAscending && sort != rpc.SortTypeDescending {
			fmt.Fprintln(o.out, "Usage: list [asc|desc] [page]")
			return
		}
	}

	page := uint32(1)
	if len(args) > 2 {
		n, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil || n == 0 {
			fmt.Fprintln(o.out, "Usage: list [asc|desc] [page]")
			return
		}
		page = uint32(n)
	}

	keys, err := o.keynode.ListKeys((page-1)*defaultPageSize, defaultPageSize, sort)
	if err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(o.out)
	t.AppendHeader(table.Row{"Name", "ID", "Algorithm", "Bits", "Private", "Fingerprint", "Created At"})
	t.AppendSeparator()
	for _, key := range keys {
		t.AppendRow(table.Row{key.Name, key.ID, key.Algorithm, key.Bits, key.Private, key.Fingerprint, key.CreatedAt.Format(time.RFC3339)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Page", page})
	t.Render()
}

func (o *Operator) handleGetKey(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(o.out, "Usage: get <key>")
		return
	}

	key, err := o.keynode.GetKey(args[1])
	if err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}

	o.printKey(key)
}

func (o *Operator) handleImportKey(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(o.out, "Usage: import <name> <pem_file>")
		return
	}

	pemData, err := os.ReadFile(args[2])
	if err != nil {
		fmt.Fprintf(o.out, "Failed to read PEM file: %s\n", err.Error())
		return
	}

	key, err := o.keynode.ImportKey(args[1], string(pemData))
	if err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}

	fmt.Fprintf(o.out, "Key %s imported.\n", key.Name)
	o.printKey(key)
}

func (o *Operator) handleDeleteKey(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(o.out, "Usage: delete <key>")
		return
	}

	if err := o.keynode.DeleteKey(args[1]); err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}
	fmt.Fprintf(o.out, "Key %s deleted.\n", args[1])
}

func (o *Operator) handleSign(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(o.out, "Usage: sign <key> <digest> <message>")
		return
	}

	message := parseMessage(strings.Join(args[3:], " "))
	res, err := o.keynode.Sign(args[1], args[2], message)
	if err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(o.out)
	t.AppendRow(table.Row{"Key", res.Key})
	t.AppendRow(table.Row{"Digest", res.Digest})
	t.AppendRow(table.Row{"Message", hexutil.Encode(message)})
	t.Render()

	fmt.Fprintln(o.out, res.Signature.String())
}

func (o *Operator) handlePurgeKeys() {
	deleted, err := o.keynode.PurgeKeys()
	if err != nil {
		fmt.Fprintf(o.out, "%s\n", err.Error())
		return
	}
	fmt.Fprintf(o.out, "%d keys deleted.\n", deleted)
}

func (o *Operator) printKey(key rpc.KeyInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(o.out)
	t.AppendRow(table.Row{"Name", key.Name})
	t.AppendRow(table.Row{"ID", key.ID})
	t.AppendRow(table.Row{"Algorithm", key.Algorithm})
	t.AppendRow(table.Row{"Bits", key.Bits})
	t.AppendRow(table.Row{"Signature Size", key.Size})
	t.AppendRow(table.Row{"Private", key.Private})
	t.AppendRow(table.Row{"Fingerprint", key.Fingerprint})
	t.AppendRow(table.Row{"Created At", key.CreatedAt.Format(time.RFC3339)})
	t.AppendSeparator()
	for _, name := range key.Components {
		value, ok := key.Public[name]
		if !ok {
			value = "(private)"
		}
		t.AppendRow(table.Row{name, value})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80},
	})
	t.Render()
}

// parseMessage reads 0x-prefixed input as hex and anything else as text.
func parseMessage(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if b, err := hexutil.Decode(s); err == nil {
			return b
		}
	}
	return []byte(s)
}
