// Package chain reads wallet state from EVM JSON-RPC endpoints.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// nativeDecimals is the exponent between wei and one native coin.
const nativeDecimals = 18

// JSON-RPC error code several providers use for request throttling.
const codeLimitExceeded = -32005

// Client keeps one ethclient per endpoint URL and implements
// gateway.BalanceReader.
type Client struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func NewClient() *Client {
	return &Client{clients: make(map[string]*ethclient.Client)}
}

// NativeBalance returns wallet's balance in whole native coins.
func (c *Client) NativeBalance(ctx context.Context, endpoint, wallet string) (decimal.Decimal, error) {
	if !common.IsHexAddress(wallet) {
		return decimal.Zero, fmt.Errorf("chain: invalid wallet address %q", wallet)
	}
	ec, err := c.dial(ctx, endpoint)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := ec.BalanceAt(ctx, common.HexToAddress(wallet), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: balance %s: %w", wallet, classify(err))
	}
	return WeiToNative(wei), nil
}

// BlockNumber returns the endpoint's head block; used as a liveness check.
func (c *Client) BlockNumber(ctx context.Context, endpoint string) (uint64, error) {
	ec, err := c.dial(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	n, err := ec.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", classify(err))
	}
	return n, nil
}

// Close releases every cached connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, ec := range c.clients {
		ec.Close()
		delete(c.clients, addr)
	}
}

func (c *Client) dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ec, ok := c.clients[endpoint]; ok {
		return ec, nil
	}
	ec, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", endpoint, classify(err))
	}
	c.clients[endpoint] = ec
	return ec, nil
}

// WeiToNative converts a wei amount to whole coins.
func WeiToNative(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals)
}

// classify maps RPC transport and protocol errors onto domain sentinels.
func classify(err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		case httpErr.StatusCode == http.StatusUnauthorized, httpErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		case httpErr.StatusCode == http.StatusGatewayTimeout, httpErr.StatusCode == http.StatusRequestTimeout:
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeLimitExceeded {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}
	return err
}
