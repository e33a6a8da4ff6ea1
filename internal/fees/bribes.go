package fees

import (
	"bytes"
	"context"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockReader is the chain access used by ScanCoinbaseBribes.
type BlockReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// BribeSummary holds simple stats for coinbase payments.
type BribeSummary struct {
	Count int
	Sum   *big.Int
	Max   *big.Int
	P50   *big.Int
	P95   *big.Int
	P99   *big.Int
}

// ScanCoinbaseBribes collects coinbase payments from the last blocks blocks:
// plain value transfers to the block's coinbase, and contract creations
// whose init code contains COINBASE SELFDESTRUCT (0x41ff). Blocks that fail
// to load are skipped.
func ScanCoinbaseBribes(ctx context.Context, r BlockReader, blocks uint64) ([]*big.Int, error) {
	if blocks == 0 {
		blocks = 100
	}
	head, err := r.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	var out []*big.Int
	for i := uint64(0); i < blocks; i++ {
		if head.Number.Uint64() < i {
			break
		}
		b, err := r.BlockByNumber(ctx, new(big.Int).SetUint64(head.Number.Uint64()-i))
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		cb := b.Coinbase()
		for _, tx := range b.Transactions() {
			if tx.Value() == nil || tx.Value().Sign() <= 0 {
				continue
			}
			switch {
			case tx.To() == nil && bytes.Contains(tx.Data(), []byte{0x41, 0xff}):
				out = append(out, new(big.Int).Set(tx.Value()))
			case tx.To() != nil && *tx.To() == cb:
				out = append(out, new(big.Int).Set(tx.Value()))
			}
		}
	}
	return out, nil
}

func bribeQuantile(sorted []*big.Int, q float64) *big.Int {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return new(big.Int).Set(sorted[idx])
}

// SummarizeBribes aggregates stats over bribe values.
func SummarizeBribes(vals []*big.Int) BribeSummary {
	s := BribeSummary{Count: len(vals), Sum: new(big.Int), Max: new(big.Int), P50: new(big.Int), P95: new(big.Int), P99: new(big.Int)}
	if len(vals) == 0 {
		return s
	}
	sorted := make([]*big.Int, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	for _, v := range sorted {
		s.Sum.Add(s.Sum, v)
	}
	s.Max.Set(sorted[len(sorted)-1])
	s.P50 = bribeQuantile(sorted, 0.50)
	s.P95 = bribeQuantile(sorted, 0.95)
	s.P99 = bribeQuantile(sorted, 0.99)
	return s
}
