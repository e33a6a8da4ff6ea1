// Package fees turns a block base fee and a gas quote into the fee fields of
// a bundle targeted a few blocks ahead.
package fees

import (
	"math/big"
	"strings"
)

// Base fee may grow by at most 12.5% per block.
var (
	baseFeeGrowthNum = big.NewInt(1125)
	baseFeeGrowthDen = big.NewInt(1000)
	one              = big.NewInt(1)
)

// Priority fee selection modes.
const (
	ModeFixed  = "fixed"
	ModeOracle = "oracle"
)

// GasQuote holds fee-per-gas suggestions in wei.
type GasQuote struct {
	Safe    *big.Int
	Propose *big.Int
	Fast    *big.Int
	Source  string
}

// FeePlan is the fee pair attached to every transaction of one bundle.
// MaxFeePerGas >= PriorityFee > 0 always holds for plans built by Compute.
type FeePlan struct {
	PriorityFee  *big.Int
	MaxFeePerGas *big.Int
}

// Policy selects how the priority fee is derived.
type Policy struct {
	Mode       string
	Fixed      *big.Int
	Multiplier int64
}

// MaxBaseFeeInFutureBlock returns the highest base fee reachable after
// blocksAhead full blocks.
func MaxBaseFeeInFutureBlock(baseFee *big.Int, blocksAhead uint64) *big.Int {
	fee := new(big.Int)
	if baseFee != nil {
		fee.Set(baseFee)
	}
	for i := uint64(0); i < blocksAhead; i++ {
		fee.Mul(fee, baseFeeGrowthNum)
		fee.Quo(fee, baseFeeGrowthDen)
		fee.Add(fee, one)
	}
	return fee
}

// Compute builds the FeePlan for a bundle targeting blocksAhead blocks past
// the block whose base fee is given. quote may be nil.
func Compute(baseFee *big.Int, quote *GasQuote, blocksAhead uint64, p Policy) FeePlan {
	priority := priorityFee(quote, p)
	maxFee := new(big.Int).Add(priority, MaxBaseFeeInFutureBlock(baseFee, blocksAhead))
	return FeePlan{PriorityFee: priority, MaxFeePerGas: maxFee}
}

func priorityFee(quote *GasQuote, p Policy) *big.Int {
	if strings.EqualFold(p.Mode, ModeOracle) && quote != nil && quote.Fast != nil {
		mul := p.Multiplier
		if mul <= 0 {
			mul = 2
		}
		tip := new(big.Int).Mul(quote.Fast, big.NewInt(mul))
		if tip.Sign() > 0 {
			return tip
		}
	}
	if p.Fixed != nil && p.Fixed.Sign() > 0 {
		return new(big.Int).Set(p.Fixed)
	}
	return big.NewInt(1)
}
