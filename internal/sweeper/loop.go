// Package sweeper drives the head-by-head submission loop: on every new head
// it checks the executor balance, builds a fresh funding + sweep bundle for a
// block a few heads ahead, submits it and decides from the resolution whether
// to stop or wait for the next head.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/chain"
	"github.com/ligun0805/bundle-sweep/internal/fees"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
	"github.com/ligun0805/bundle-sweep/internal/metrics"
	"github.com/ligun0805/bundle-sweep/internal/submit"
)

var (
	ErrNonceTooHigh      = errors.New("signer nonce moved past the bundle")
	ErrAttemptsExhausted = errors.New("submission attempts exhausted")
	ErrHeadsClosed       = errors.New("head feed closed")
)

// Chain is the node access needed to evaluate a head.
type Chain interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

type Planner interface {
	Plan(executor, sponsor, recipient common.Address, balance *big.Int, fp fees.FeePlan, gl bundlecore.GasLimits) ([]bundlecore.Intent, error)
}

type Submitter interface {
	Submit(ctx context.Context, intents []bundlecore.Intent, target uint64) (flashbots.Handle, error)
}

// Settings is the immutable configuration of a Loop.
type Settings struct {
	Executor  common.Address
	Sponsor   common.Address
	Recipient common.Address

	// MinBalance is the trigger: heads where the executor holds less are skipped.
	MinBalance     *big.Int
	BlocksInFuture uint64

	Quote     *fees.GasQuote
	FeePolicy fees.Policy

	PhaseTimeout time.Duration
	AwaitTimeout time.Duration
	// MaxAttempts bounds submitted attempts; 0 means unlimited.
	MaxAttempts int
	Policy      Policy
}

// Attempt records how one head was handled.
type Attempt struct {
	Head    uint64
	Target  uint64
	Fees    fees.FeePlan
	Outcome Outcome
	Err     error
}

// Result is returned when the loop stops.
type Result struct {
	Outcome  Outcome
	Target   uint64
	Attempts int
}

type Loop struct {
	settings  Settings
	chain     Chain
	planner   Planner
	submitter Submitter
	logger    *zap.Logger
}

func NewLoop(s Settings, c Chain, p Planner, sub Submitter, l *zap.Logger) *Loop {
	if s.MinBalance == nil {
		s.MinBalance = new(big.Int)
	}
	if s.PhaseTimeout <= 0 {
		s.PhaseTimeout = 12 * time.Second
	}
	if s.AwaitTimeout <= 0 {
		s.AwaitTimeout = time.Minute
	}
	if s.Policy == nil {
		s.Policy = DefaultPolicy(false)
	}
	return &Loop{settings: s, chain: c, planner: p, submitter: sub, logger: l}
}

// Run consumes heads one at a time until a stopping outcome, ctx
// cancellation or the end of the feed. Heads not newer than the last one
// handled are ignored.
func (l *Loop) Run(ctx context.Context, heads <-chan chain.Head) (Result, error) {
	var (
		last     uint64
		seen     bool
		attempts int
	)
	for {
		select {
		case <-ctx.Done():
			return Result{Attempts: attempts}, ctx.Err()
		case h, ok := <-heads:
			if !ok {
				return Result{Attempts: attempts}, ErrHeadsClosed
			}
			if seen && h.Number <= last {
				l.logger.Debug("ignoring stale head", zap.Uint64("head", h.Number), zap.Uint64("last", last))
				continue
			}
			seen, last = true, h.Number
			metrics.HeadsSeen.Inc()

			a := l.Step(ctx, h)
			if ctx.Err() != nil {
				return Result{Attempts: attempts}, ctx.Err()
			}
			if a.Outcome == OutcomeSkipped {
				continue
			}
			attempts++
			metrics.Attempts.WithLabelValues(a.Outcome.String()).Inc()

			res := Result{Outcome: a.Outcome, Target: a.Target, Attempts: attempts}
			switch l.settings.Policy.action(a.Outcome) {
			case ActionStopSuccess:
				return res, nil
			case ActionStopFailure:
				return res, stopError(a)
			}
			if l.settings.MaxAttempts > 0 && attempts >= l.settings.MaxAttempts {
				return res, fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempts)
			}
		}
	}
}

func stopError(a Attempt) error {
	switch a.Outcome {
	case OutcomeNonceTooHigh:
		return fmt.Errorf("target block %d: %w", a.Target, ErrNonceTooHigh)
	case OutcomeRelayRejected:
		return fmt.Errorf("target block %d: %w", a.Target, a.Err)
	}
	if a.Err != nil {
		return fmt.Errorf("head %d: %s: %w", a.Head, a.Outcome, a.Err)
	}
	return fmt.Errorf("head %d: %s", a.Head, a.Outcome)
}

// Step evaluates one head: trigger check, fees, plan, submit and await.
func (l *Loop) Step(ctx context.Context, h chain.Head) (a Attempt) {
	start := time.Now()
	a.Head = h.Number
	log := l.logger.With(zap.Uint64("head", h.Number))
	defer func() {
		if a.Outcome != OutcomeSkipped {
			metrics.AttemptDuration.Observe(time.Since(start).Seconds())
		}
	}()

	l.enter(log, StateEvaluating)
	balance, err := l.balance(ctx, h.Number)
	if err != nil {
		return l.fail(log, a, classify(ctx, err), fmt.Errorf("balance: %w", err))
	}
	metrics.ExecutorBalance.Set(metrics.WeiToETH(balance))
	if balance.Cmp(l.settings.MinBalance) < 0 {
		log.Info("searching...", zap.String("balance_eth", fees.FormatETH(balance)))
		l.enter(log, StateIdle)
		return a
	}
	if h.BaseFee == nil {
		return l.fail(log, a, OutcomeTransient, errors.New("head has no base fee"))
	}

	a.Target = h.Number + l.settings.BlocksInFuture
	log = log.With(zap.Uint64("target", a.Target))
	a.Fees = fees.Compute(h.BaseFee, l.settings.Quote, l.settings.BlocksInFuture, l.settings.FeePolicy)
	metrics.PriorityFee.Set(metrics.WeiToGwei(a.Fees.PriorityFee))
	metrics.MaxFeePerGas.Set(metrics.WeiToGwei(a.Fees.MaxFeePerGas))

	sweepGas := l.estimateSweepGas(ctx, log, balance)
	intents, err := l.planner.Plan(l.settings.Executor, l.settings.Sponsor, l.settings.Recipient, balance, a.Fees, bundlecore.GasLimits{Sweep: sweepGas})
	if err != nil {
		if errors.Is(err, bundlecore.ErrEmptyBalance) {
			l.enter(log, StateIdle)
			return a
		}
		return l.fail(log, a, OutcomePlanFailed, err)
	}
	log.Info("building bundle",
		zap.String("balance_eth", fees.FormatETH(balance)),
		zap.String("priority_gwei", fees.FormatGwei(a.Fees.PriorityFee)),
		zap.String("max_fee_gwei", fees.FormatGwei(a.Fees.MaxFeePerGas)),
		zap.Uint64("sweep_gas", sweepGas),
		zap.String("prefund_eth", fees.FormatETH(intents[0].Value)),
	)

	l.enter(log, StateSubmitting)
	sctx, cancel := context.WithTimeout(ctx, l.settings.PhaseTimeout)
	handle, err := l.submitter.Submit(sctx, intents, a.Target)
	cancel()
	if err != nil {
		if submit.IsRelayRejected(err) {
			return l.fail(log, a, OutcomeRelayRejected, err)
		}
		return l.fail(log, a, classify(ctx, err), err)
	}

	l.enter(log, StateAwaiting)
	actx, cancel := context.WithTimeout(ctx, l.settings.AwaitTimeout)
	res, err := handle.Wait(actx)
	cancel()
	if err != nil {
		return l.fail(log, a, classify(ctx, err), fmt.Errorf("await: %w", err))
	}

	switch res {
	case flashbots.Included:
		a.Outcome = OutcomeIncluded
		l.enter(log, StateIncluded)
		log.Info("congrats, bundle included")
	case flashbots.NonceTooHigh:
		a.Outcome = OutcomeNonceTooHigh
		l.enter(log, StateNonceTooHigh)
		log.Warn("nonce too high, bailing")
	default:
		a.Outcome = OutcomeNotIncluded
		l.enter(log, StateNotIncluded)
		log.Info("not included")
	}
	return a
}

func (l *Loop) balance(ctx context.Context, head uint64) (*big.Int, error) {
	pctx, cancel := context.WithTimeout(ctx, l.settings.PhaseTimeout)
	defer cancel()
	return l.chain.BalanceAt(pctx, l.settings.Executor, new(big.Int).SetUint64(head))
}

func (l *Loop) estimateSweepGas(ctx context.Context, log *zap.Logger, balance *big.Int) uint64 {
	pctx, cancel := context.WithTimeout(ctx, l.settings.PhaseTimeout)
	defer cancel()
	to := l.settings.Recipient
	gas, err := l.chain.EstimateGas(pctx, ethereum.CallMsg{From: l.settings.Executor, To: &to, Value: balance})
	if err != nil || gas == 0 {
		log.Warn("estimateGas for sweep failed, using transfer gas", zap.Error(err), zap.Uint64("gas", bundlecore.TransferGas))
		return bundlecore.TransferGas
	}
	return gas
}

func (l *Loop) fail(log *zap.Logger, a Attempt, o Outcome, err error) Attempt {
	a.Outcome, a.Err = o, err
	log.Warn("attempt abandoned", zap.Stringer("outcome", o), zap.Error(err))
	l.enter(log, StateIdle)
	return a
}

func (l *Loop) enter(log *zap.Logger, s State) {
	log.Debug("state", zap.String("state", string(s)))
}

// A deadline hit while the parent context is still live is a phase timeout.
func classify(ctx context.Context, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return OutcomeTimeout
	}
	return OutcomeTransient
}
