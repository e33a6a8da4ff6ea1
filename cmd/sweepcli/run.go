package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/chain"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
	"github.com/ligun0805/bundle-sweep/internal/metrics"
	"github.com/ligun0805/bundle-sweep/internal/submit"
	"github.com/ligun0805/bundle-sweep/internal/sweeper"
)

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, c, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, s.cfg.MetricsAddr, s.log)
	}

	watcher := flashbots.NewWatcher(s.chain, 0, s.log)
	submitter := submit.NewSubmitter(s.relay, s.chain, watcher, s.signers(), s.log)
	loop := sweeper.NewLoop(sweeper.Settings{
		Executor:       s.executor.Address,
		Sponsor:        s.sponsor.Address,
		Recipient:      s.cfg.Recipient(),
		MinBalance:     s.cfg.MinBalance,
		BlocksInFuture: s.cfg.BlocksInFuture,
		Quote:          s.quote(ctx),
		FeePolicy:      s.cfg.FeePolicy(),
		PhaseTimeout:   s.cfg.PhaseTimeout,
		AwaitTimeout:   s.cfg.AwaitTimeout,
		MaxAttempts:    s.cfg.MaxAttempts,
		Policy:         sweeper.DefaultPolicy(s.cfg.RetryRelayRejections()),
	}, s.chain, bundlecore.NewPlanner(s.chainID), submitter, s.log)

	feed := chain.NewHeadFeed(s.chain, s.cfg.PollInterval, chain.SupportsSubscriptions(s.cfg.RPCURL), s.log)
	res, err := loop.Run(ctx, feed.Run(ctx))
	fields := []zap.Field{
		zap.Stringer("outcome", res.Outcome),
		zap.Uint64("target", res.Target),
		zap.Int("attempts", res.Attempts),
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Warn("interrupted", fields...)
		} else {
			s.log.Error("sweep failed", append(fields, zap.Error(err))...)
		}
		return cli.Exit(err.Error(), 1)
	}
	s.log.Info("sweep included", fields...)
	return nil
}
