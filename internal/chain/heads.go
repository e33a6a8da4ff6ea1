package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Head is a new chain head as seen by the sweeper.
type Head struct {
	Number  uint64
	Hash    common.Hash
	BaseFee *big.Int
}

func headFromHeader(h *types.Header) Head {
	out := Head{Number: h.Number.Uint64(), Hash: h.Hash()}
	if h.BaseFee != nil {
		out.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	return out
}

// HeadSource is what HeadFeed reads heads from.
type HeadSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// HeadFeed produces new heads on a channel. The channel holds at most one
// pending head: a slow consumer only ever sees the newest head.
type HeadFeed struct {
	src       HeadSource
	interval  time.Duration
	subscribe bool
	logger    *zap.Logger
}

func NewHeadFeed(src HeadSource, interval time.Duration, subscribe bool, l *zap.Logger) *HeadFeed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &HeadFeed{src: src, interval: interval, subscribe: subscribe, logger: l}
}

// Run starts the producer goroutine. The returned channel is closed once ctx
// is done.
func (f *HeadFeed) Run(ctx context.Context) <-chan Head {
	out := make(chan Head, 1)
	go func() {
		defer close(out)
		if f.subscribe {
			err := f.follow(ctx, out)
			if err == nil || ctx.Err() != nil {
				return
			}
			f.logger.Warn("head subscription failed, falling back to polling", zap.Error(err))
		}
		f.poll(ctx, out, 0)
	}()
	return out
}

func (f *HeadFeed) follow(ctx context.Context, out chan Head) error {
	headers := make(chan *types.Header, 16)
	sub, err := f.src.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("head subscription dropped, polling", zap.Error(err))
			f.poll(ctx, out, last)
			return nil
		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}
			if n := h.Number.Uint64(); n > last {
				last = n
				offer(out, headFromHeader(h))
			}
		}
	}
}

func (f *HeadFeed) poll(ctx context.Context, out chan Head, last uint64) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		h, err := f.src.HeaderByNumber(ctx, nil)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				f.logger.Warn("failed to fetch latest header", zap.Error(err))
			}
		case h != nil && h.Number != nil && h.Number.Uint64() > last:
			last = h.Number.Uint64()
			offer(out, headFromHeader(h))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// offer replaces any unread head with h. Only one goroutine sends on out.
func offer(out chan Head, h Head) {
	for {
		select {
		case out <- h:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
