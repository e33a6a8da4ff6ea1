package main

import (
	"fmt"
	"math/big"

	cli "github.com/urfave/cli/v2"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
)

// attemptCost is the most the sponsor pays for one landed bundle: the sweep
// prefund plus the funding transfer's own fee, both at maxFee.
func attemptCost(maxFee *big.Int, sweepGas uint64) (prefund, total *big.Int) {
	prefund = new(big.Int).Mul(new(big.Int).SetUint64(sweepGas), maxFee)
	funding := new(big.Int).Mul(new(big.Int).SetUint64(bundlecore.TransferGas), maxFee)
	return prefund, new(big.Int).Add(prefund, funding)
}

// gasAction prints the network fee state and the fees a bundle built now
// would carry. No keys are needed.
func gasAction(c *cli.Context) error {
	ctx := c.Context
	s, err := openSession(ctx, c, false)
	if err != nil {
		return err
	}
	defer s.Close()

	head, err := s.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}
	fmt.Printf("[net] chain %s head %d baseFee(now): %s gwei\n", s.chainID, head.Number.Uint64(), fees.FormatGwei(head.BaseFee))

	for _, src := range s.quoteSources() {
		q, err := src.Quote(ctx)
		if err != nil {
			fmt.Printf("[net] %s quote error: %v\n", src.Name(), err)
			continue
		}
		fmt.Printf("[net] %s quote safe/propose/fast: %s / %s / %s gwei\n",
			q.Source, fees.FormatGwei(q.Safe), fees.FormatGwei(q.Propose), fees.FormatGwei(q.Fast))
	}

	quote := s.quote(ctx)
	blocks := s.cfg.BlocksInFuture
	fp := fees.Compute(head.BaseFee, quote, blocks, s.cfg.FeePolicy())
	fmt.Printf("[fee] target %d: max baseFee %s gwei, priority %s gwei (%s), maxFee %s gwei\n",
		head.Number.Uint64()+blocks,
		fees.FormatGwei(fees.MaxBaseFeeInFutureBlock(head.BaseFee, blocks)),
		fees.FormatGwei(fp.PriorityFee), s.cfg.PriorityMode,
		fees.FormatGwei(fp.MaxFeePerGas))

	gas, estimated := bundlecore.TransferGas, false
	if from, err := s.cfg.ExecutorAddress(); err == nil && s.cfg.RecipientHex != "" {
		balance, err := s.chain.BalanceAt(ctx, from, head.Number)
		if err != nil {
			balance = new(big.Int)
		}
		gas, estimated = s.sweepGas(ctx, from, balance)
	}
	basis := "estimated"
	if !estimated {
		basis = "plain transfer, lower bound"
	}
	prefund, total := attemptCost(fp.MaxFeePerGas, gas)
	fmt.Printf("[fee] sponsor cost per attempt ≤ %s ETH (prefund %s ETH for sweep gas %d, %s; + funding tx)\n",
		fees.FormatETH(total), fees.FormatETH(prefund), gas, basis)

	vals, err := fees.ScanCoinbaseBribes(ctx, s.chain, c.Uint64("blocks"))
	if err != nil {
		fmt.Println("[net] bribe scan error:", err)
		return nil
	}
	sum := fees.SummarizeBribes(vals)
	fmt.Printf("[net] coinbase bribes in last %d blocks: count=%d, sum=%s ETH, max=%s ETH\n",
		c.Uint64("blocks"), sum.Count, fees.FormatETH(sum.Sum), fees.FormatETH(sum.Max))
	if sum.Count > 0 {
		fmt.Printf("      quantiles: p50=%s ETH, p95=%s ETH, p99=%s ETH\n",
			fees.FormatETH(sum.P50), fees.FormatETH(sum.P95), fees.FormatETH(sum.P99))
	}
	return nil
}
