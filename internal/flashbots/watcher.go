package flashbots

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
)

// Resolution is the fate of a bundle submitted for one target block.
type Resolution int

const (
	Included Resolution = iota + 1
	NotIncluded
	NonceTooHigh
)

func (r Resolution) String() string {
	switch r {
	case Included:
		return "included"
	case NotIncluded:
		return "not_included"
	case NonceTooHigh:
		return "nonce_too_high"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// Handle is awaited for the resolution of one submitted bundle.
type Handle interface {
	Wait(ctx context.Context) (Resolution, error)
}

// ChainReader is the node access the watcher needs.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BlockTxHashes(ctx context.Context, number uint64) ([]common.Hash, error)
}

// Watcher resolves submitted bundles by watching the chain.
type Watcher struct {
	chain    ChainReader
	interval time.Duration
	logger   *zap.Logger
}

func NewWatcher(chain ChainReader, interval time.Duration, l *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &Watcher{chain: chain, interval: interval, logger: l}
}

// Watch returns a handle for b submitted for target.
func (w *Watcher) Watch(b *bundlecore.SignedBundle, target uint64) Handle {
	return &Pending{w: w, bundle: b, target: target}
}

// Pending is a bundle awaiting its target block.
type Pending struct {
	w      *Watcher
	bundle *bundlecore.SignedBundle
	target uint64
}

// Wait blocks until the target block is seen or ctx is done. Before the
// target, a signer nonce that moved past the bundle's nonce resolves to
// NonceTooHigh. Once the target is mined the bundle is Included only if
// every one of its transactions is in that block.
func (p *Pending) Wait(ctx context.Context) (Resolution, error) {
	ticker := time.NewTicker(p.w.interval)
	defer ticker.Stop()

	var last uint64
	for {
		h, err := p.w.chain.HeaderByNumber(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			p.w.logger.Debug("watch: header lookup failed", zap.Error(err))
		} else if h != nil && h.Number != nil && h.Number.Uint64() > last {
			res, err := p.check(ctx, h.Number.Uint64())
			switch {
			case err != nil:
				// recheck this head on the next tick
				p.w.logger.Debug("watch: check failed", zap.Uint64("head", h.Number.Uint64()), zap.Error(err))
			case res != 0:
				return res, nil
			default:
				last = h.Number.Uint64()
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// check returns 0 while the bundle is still pending at head.
func (p *Pending) check(ctx context.Context, head uint64) (Resolution, error) {
	if head >= p.target {
		hashes, err := p.w.chain.BlockTxHashes(ctx, p.target)
		if err != nil {
			return 0, fmt.Errorf("target block %d: %w", p.target, err)
		}
		inBlock := make(map[common.Hash]struct{}, len(hashes))
		for _, h := range hashes {
			inBlock[h] = struct{}{}
		}
		for _, tx := range p.bundle.Txs {
			if _, ok := inBlock[tx.Hash()]; !ok {
				return NotIncluded, nil
			}
		}
		return Included, nil
	}

	for i, tx := range p.bundle.Txs {
		nonce, err := p.w.chain.NonceAt(ctx, p.bundle.Signers[i], nil)
		if err != nil {
			return 0, fmt.Errorf("nonce of %s: %w", p.bundle.Signers[i].Hex(), err)
		}
		if nonce > tx.Nonce() {
			p.w.logger.Info("signer nonce moved past bundle",
				zap.String("signer", p.bundle.Signers[i].Hex()),
				zap.Uint64("nonce", nonce),
				zap.Uint64("bundle_nonce", tx.Nonce()),
			)
			return NonceTooHigh, nil
		}
	}
	return 0, nil
}
