// Package submit signs a planned bundle, dry-runs it against the relay and
// sends it for one target block.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	fb "github.com/lmittmann/flashbots"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
	"github.com/ligun0805/bundle-sweep/internal/metrics"
)

// Relay is the bundle relay; *flashbots.Client satisfies it.
type Relay interface {
	CallBundle(ctx context.Context, txs types.Transactions, targetBlock uint64) (*fb.CallBundleResponse, error)
	SendBundle(ctx context.Context, txs types.Transactions, targetBlock uint64) (common.Hash, error)
}

// NonceReader returns the confirmed nonce of an account.
type NonceReader interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Watcher hands out resolution handles; *flashbots.Watcher satisfies it.
type Watcher interface {
	Watch(b *bundlecore.SignedBundle, target uint64) flashbots.Handle
}

type Submitter struct {
	relay   Relay
	nonces  NonceReader
	watcher Watcher
	signers map[bundlecore.Role]*bundlecore.Account
	logger  *zap.Logger
}

func NewSubmitter(relay Relay, nonces NonceReader, watcher Watcher, signers map[bundlecore.Role]*bundlecore.Account, l *zap.Logger) *Submitter {
	return &Submitter{relay: relay, nonces: nonces, watcher: watcher, signers: signers, logger: l}
}

// Submit runs sign, simulate and send in order and returns the handle of
// the sent bundle.
func (s *Submitter) Submit(ctx context.Context, intents []bundlecore.Intent, target uint64) (flashbots.Handle, error) {
	b, err := s.Sign(ctx, intents)
	if err != nil {
		return nil, err
	}
	if _, err := s.Simulate(ctx, b, target); err != nil {
		return nil, err
	}
	return s.Send(ctx, b, target)
}

// Sign resolves each signer's confirmed nonce and signs the intents.
func (s *Submitter) Sign(ctx context.Context, intents []bundlecore.Intent) (*bundlecore.SignedBundle, error) {
	nonces := make(map[common.Address]uint64, 2)
	for _, in := range intents {
		if _, ok := nonces[in.From]; ok {
			continue
		}
		n, err := s.nonces.NonceAt(ctx, in.From, nil)
		if err != nil {
			return nil, fmt.Errorf("nonce lookup for %s: %w", in.From.Hex(), err)
		}
		nonces[in.From] = n
	}
	b, err := bundlecore.Sign(intents, s.signers, nonces)
	if err != nil {
		return nil, err
	}
	for i, tx := range b.Txs {
		s.logger.Debug("signed bundle tx",
			zap.Int("index", i),
			zap.String("from", b.Signers[i].Hex()),
			zap.String("hash", tx.Hash().Hex()),
			zap.Uint64("nonce", tx.Nonce()),
			zap.Uint64("gas", tx.Gas()),
			zap.String("value_eth", fees.FormatETH(tx.Value())),
		)
	}
	return b, nil
}

// Simulate dry-runs b for target and returns the effective bundle gas price.
func (s *Submitter) Simulate(ctx context.Context, b *bundlecore.SignedBundle, target uint64) (*big.Int, error) {
	res, err := s.relay.CallBundle(ctx, b.Txs, target)
	if err != nil {
		var relayErr *flashbots.RPCError
		if errors.As(err, &relayErr) {
			return nil, &SimulationRejected{Reason: relayErr.Message}
		}
		return nil, err
	}
	if hash, reason, failed := flashbots.FirstFailure(res); failed {
		return nil, &SimulationRejected{Reason: reason, TxHash: hash}
	}
	price := res.BundleGasPrice
	if price == nil || price.Sign() <= 0 {
		return nil, &SimulationRejected{Reason: fmt.Sprintf("implausible bundle gas price %v", price)}
	}
	metrics.SimulatedGasPrice.Set(metrics.WeiToGwei(price))
	s.logger.Info("simulation ok",
		zap.Uint64("target", target),
		zap.String("gas_price_gwei", fees.FormatGwei(price)),
		zap.Uint64("gas_used", res.TotalGasUsed),
		zap.String("coinbase_diff_eth", fees.FormatETH(res.CoinbaseDiff)),
	)
	return price, nil
}

// Send submits b for inclusion in exactly target.
func (s *Submitter) Send(ctx context.Context, b *bundlecore.SignedBundle, target uint64) (flashbots.Handle, error) {
	bundleHash, err := s.relay.SendBundle(ctx, b.Txs, target)
	if err != nil {
		var relayErr *flashbots.RPCError
		if errors.As(err, &relayErr) {
			return nil, &RelayRejected{Code: relayErr.Code, Message: relayErr.Message}
		}
		return nil, err
	}
	s.logger.Info("bundle submitted", zap.Uint64("target", target), zap.String("bundle_hash", bundleHash.Hex()))
	return s.watcher.Watch(b, target), nil
}
