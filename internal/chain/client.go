// Package chain wraps the execution-layer RPC used by the sweeper: balance,
// header, nonce and gas lookups with retries, plus a new-head feed.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Provider is the node surface used by this module; *ethclient.Client
// satisfies it.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

var _ Provider = (*ethclient.Client)(nil)

// Client adds retries with exponential backoff to read-only Provider calls.
type Client struct {
	Provider
	logger   *zap.Logger
	attempts uint64
	initial  time.Duration
}

type Option func(*Client)

// WithRetry sets the number of attempts per call and the first backoff delay.
func WithRetry(attempts uint64, initial time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if initial > 0 {
			c.initial = initial
		}
	}
}

func NewClient(p Provider, l *zap.Logger, opts ...Option) *Client {
	c := &Client{Provider: p, logger: l, attempts: 3, initial: 200 * time.Millisecond}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial connects to rpcURL. http(s), ws(s) and ipc endpoints are accepted.
func Dial(ctx context.Context, rpcURL string, l *zap.Logger, opts ...Option) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewClient(ethclient.NewClient(rc), l, opts...), nil
}

// SupportsSubscriptions reports whether rpcURL is a streaming transport.
func SupportsSubscriptions(rpcURL string) bool {
	u := strings.ToLower(rpcURL)
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") ||
		!(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://"))
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.attempts-1), ctx)
}

func retry[T any](ctx context.Context, c *Client, method string, op func() (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		if c.logger != nil {
			c.logger.Debug("rpc call failed, retrying",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return v, err
	}, c.newBackOff(ctx))
}

// Retry rate limits and transport failures; JSON-RPC errors returned by the
// node (reverts, bad params) are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isRateLimitError(err) {
		return true
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

func isRateLimitError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return retry(ctx, c, "eth_chainId", func() (*big.Int, error) { return c.Provider.ChainID(ctx) })
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return retry(ctx, c, "eth_getBalance", func() (*big.Int, error) {
		return c.Provider.BalanceAt(ctx, account, blockNumber)
	})
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return retry(ctx, c, "eth_getBlockByNumber", func() (*types.Header, error) {
		return c.Provider.HeaderByNumber(ctx, number)
	})
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return retry(ctx, c, "eth_estimateGas", func() (uint64, error) { return c.Provider.EstimateGas(ctx, msg) })
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return retry(ctx, c, "eth_getTransactionCount", func() (uint64, error) {
		return c.Provider.NonceAt(ctx, account, blockNumber)
	})
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return retry(ctx, c, "eth_getTransactionCount", func() (uint64, error) {
		return c.Provider.PendingNonceAt(ctx, account)
	})
}

func (c *Client) FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	return retry(ctx, c, "eth_feeHistory", func() (*ethereum.FeeHistory, error) {
		return c.Provider.FeeHistory(ctx, blockCount, lastBlock, rewardPercentiles)
	})
}

// BlockTxHashes returns the hashes of the transactions in block number.
func (c *Client) BlockTxHashes(ctx context.Context, number uint64) ([]common.Hash, error) {
	blk, err := retry(ctx, c, "eth_getBlockByNumber", func() (*types.Block, error) {
		return c.Provider.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return nil, err
	}
	txs := blk.Transactions()
	out := make([]common.Hash, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash()
	}
	return out, nil
}
