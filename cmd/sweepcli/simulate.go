package main

import (
	"errors"
	"fmt"
	"math/big"

	cli "github.com/urfave/cli/v2"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
	"github.com/ligun0805/bundle-sweep/internal/submit"
)

// simulateAction builds the bundle the loop would send for the current head
// and runs it through eth_callBundle only.
func simulateAction(c *cli.Context) error {
	ctx := c.Context
	s, err := openSession(ctx, c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	head, err := s.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}
	balance, err := s.chain.BalanceAt(ctx, s.executor.Address, head.Number)
	if err != nil {
		return fmt.Errorf("executor balance: %w", err)
	}
	if balance.Sign() == 0 {
		return cli.Exit("executor balance is zero, nothing to simulate", 1)
	}

	target := head.Number.Uint64() + s.cfg.BlocksInFuture
	fp := fees.Compute(head.BaseFee, s.quote(ctx), s.cfg.BlocksInFuture, s.cfg.FeePolicy())
	recipient := s.cfg.Recipient()
	gas, _ := s.sweepGas(ctx, s.executor.Address, balance)

	intents, err := bundlecore.NewPlanner(s.chainID).Plan(s.executor.Address, s.sponsor.Address, recipient, balance, fp, bundlecore.GasLimits{Sweep: gas})
	if err != nil {
		return err
	}
	sub := submit.NewSubmitter(s.relay, s.chain, flashbots.NewWatcher(s.chain, 0, s.log), s.signers(), s.log)
	b, err := sub.Sign(ctx, intents)
	if err != nil {
		return err
	}

	fmt.Printf("head            : %d (base fee %s gwei)\n", head.Number.Uint64(), fees.FormatGwei(head.BaseFee))
	fmt.Printf("target          : %d\n", target)
	fmt.Printf("priority fee    : %s gwei\n", fees.FormatGwei(fp.PriorityFee))
	fmt.Printf("max fee per gas : %s gwei\n", fees.FormatGwei(fp.MaxFeePerGas))
	fmt.Printf("sweep gas       : %d\n", gas)
	fmt.Printf("prefund         : %s ETH\n", fees.FormatETH(intents[0].Value))
	fmt.Printf("sweep value     : %s ETH\n", fees.FormatETH(balance))
	raw, err := b.RawTxs()
	if err != nil {
		return err
	}
	for i, h := range b.Hashes() {
		fmt.Printf("tx[%d]           : %s\n", i, h.Hex())
		if s.cfg.Debug {
			fmt.Printf("  raw           : %s\n", raw[i])
		}
	}

	price, err := sub.Simulate(ctx, b, target)
	if err != nil {
		var sr *submit.SimulationRejected
		if errors.As(err, &sr) {
			return cli.Exit(fmt.Sprintf("simulation rejected: %s", submit.Hint(sr.Reason)), 1)
		}
		return err
	}
	fmt.Printf("bundle gas price: %s gwei\n", fees.FormatGwei(price))
	fmt.Printf("total cost      : %s ETH\n", fees.FormatETH(new(big.Int).Mul(price, new(big.Int).SetUint64(bundlecore.TransferGas+gas))))
	return nil
}
