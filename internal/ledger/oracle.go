// Package ledger talks to external blockchain RPC endpoints. The reconciler
// consumes the ReceiptOracle capability only, so tests substitute a fake.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Receipt is the settlement fact the reconciler cares about.
type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber int64
	From        string
	To          string
}

// ReceiptOracle fetches a transaction receipt from an external ledger.
// A (nil, nil) return means the transaction is not yet mined.
type ReceiptOracle interface {
	ReceiptByHash(ctx context.Context, chainID, txHash string) (*Receipt, error)
}

// Client is an EVM JSON-RPC receipt oracle. Endpoints maps chain ids to
// RPC URLs; connections are dialed lazily and reused.
type Client struct {
	endpoints map[string]string
	timeout   time.Duration

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewClient creates a receipt oracle over the given chain endpoints.
func NewClient(endpoints map[string]string, timeout time.Duration) *Client {
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		clients:   make(map[string]*ethclient.Client),
	}
}

// ReceiptByHash fetches the receipt for txHash on the given chain. The call
// is bounded by the configured timeout; a timeout surfaces as an error and
// the caller treats it like any other oracle failure.
func (c *Client) ReceiptByHash(ctx context.Context, chainID, txHash string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.clientFor(ctx, chainID)
	if err != nil {
		return nil, err
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch receipt failed: %w", err)
	}

	return &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: receipt.BlockNumber.Int64(),
	}, nil
}

func (c *Client) clientFor(ctx context.Context, chainID string) (*ethclient.Client, error) {
	url, ok := c.endpoints[chainID]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %s", chainID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %s: %w", chainID, err)
	}
	c.clients[chainID] = client
	return client, nil
}

// Close releases all dialed RPC connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = make(map[string]*ethclient.Client)
}
