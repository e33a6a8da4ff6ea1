package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	HeadsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_heads_total",
		Help: "The total number of chain heads evaluated",
	})

	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_attempts_total",
		Help: "Submission attempts by outcome",
	}, []string{"outcome"})

	AttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_attempt_duration_seconds",
		Help:    "Time from head to resolution of a submission attempt",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	ExecutorBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_executor_balance_eth",
		Help: "Last observed executor balance in ETH",
	})

	PriorityFee = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_priority_fee_gwei",
		Help: "Priority fee of the last built bundle in gwei",
	})

	MaxFeePerGas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_max_fee_per_gas_gwei",
		Help: "Max fee per gas of the last built bundle in gwei",
	})

	SimulatedGasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_simulated_gas_price_gwei",
		Help: "Effective bundle gas price reported by the last simulation in gwei",
	})
)

// WeiToGwei converts wei to a float for gauges.
func WeiToGwei(wei *big.Int) float64 {
	return scaled(wei, 1e9)
}

// WeiToETH converts wei to a float for gauges.
func WeiToETH(wei *big.Int) float64 {
	return scaled(wei, 1e18)
}

func scaled(wei *big.Int, unit float64) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(unit)).Float64()
	return f
}
