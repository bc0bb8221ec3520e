// Package ethrpc implements the channel's network client on top of a
// JSON-RPC node and an ERC-4337 bundler endpoint.
package ethrpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blndgs/ch4nn337"
)

// Client reads chain state through an Ethereum node and submits user
// operations through a bundler. Node and bundler may be the same endpoint.
type Client struct {
	*ethclient.Client
	node    *rpc.Client
	bundler *rpc.Client
}

var _ ch4nn337.Client = (*Client)(nil)

// Dial connects to the node at nodeURL and the bundler at bundlerURL. An
// empty bundlerURL reuses the node connection.
func Dial(ctx context.Context, nodeURL, bundlerURL string) (*Client, error) {
	node, err := rpc.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", nodeURL, err)
	}
	bundler := node
	if bundlerURL != "" && bundlerURL != nodeURL {
		bundler, err = rpc.DialContext(ctx, bundlerURL)
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("dial bundler %s: %w", bundlerURL, err)
		}
	}
	return NewClient(node, bundler), nil
}

// NewClient wraps already connected RPC clients.
func NewClient(node, bundler *rpc.Client) *Client {
	return &Client{
		Client:  ethclient.NewClient(node),
		node:    node,
		bundler: bundler,
	}
}

// SendUserOperation submits op via eth_sendUserOperation and returns the
// user operation hash reported by the bundler.
func (c *Client) SendUserOperation(ctx context.Context, op *ch4nn337.UserOperation, entryPoint common.Address) (common.Hash, error) {
	var hash common.Hash
	if err := c.bundler.CallContext(ctx, &hash, "eth_sendUserOperation", op, entryPoint); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// Close closes the node and bundler connections.
func (c *Client) Close() {
	if c.bundler != c.node {
		c.bundler.Close()
	}
	c.Client.Close()
}
