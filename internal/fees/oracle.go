package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultOracleURL is the Etherscan gas tracker endpoint.
const DefaultOracleURL = "https://api.etherscan.io/api"

var errEmptyQuote = errors.New("empty gas quote")

// QuoteSource yields a GasQuote from some external signal.
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context) (*GasQuote, error)
}

// FallbackQuote is used when no source answers.
func FallbackQuote() *GasQuote {
	return &GasQuote{
		Safe:    GweiToWei(20),
		Propose: GweiToWei(25),
		Fast:    GweiToWei(31),
		Source:  "fallback",
	}
}

// ResolveQuote asks each source in order and returns the first usable quote.
// It never fails: when every source errors the fallback quote is returned.
func ResolveQuote(ctx context.Context, log *zap.Logger, sources ...QuoteSource) *GasQuote {
	for _, s := range sources {
		if s == nil {
			continue
		}
		q, err := s.Quote(ctx)
		if err != nil {
			log.Warn("gas quote source failed", zap.String("source", s.Name()), zap.Error(err))
			continue
		}
		log.Info("gas quote",
			zap.String("source", q.Source),
			zap.String("safe_gwei", FormatGwei(q.Safe)),
			zap.String("propose_gwei", FormatGwei(q.Propose)),
			zap.String("fast_gwei", FormatGwei(q.Fast)),
		)
		return q
	}
	q := FallbackQuote()
	log.Warn("using fallback gas quote", zap.String("fast_gwei", FormatGwei(q.Fast)))
	return q
}

// EtherscanOracle reads the Etherscan gastracker oracle.
type EtherscanOracle struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewEtherscanOracle(baseURL, apiKey string) *EtherscanOracle {
	if baseURL == "" {
		baseURL = DefaultOracleURL
	}
	return &EtherscanOracle{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (o *EtherscanOracle) Name() string { return "etherscan" }

type gasOracleResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type gasOracleResult struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

func (o *EtherscanOracle) Quote(ctx context.Context) (*GasQuote, error) {
	q := url.Values{}
	q.Set("module", "gastracker")
	q.Set("action", "gasoracle")
	q.Set("apikey", o.APIKey)

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, o.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gas oracle returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out gasOracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode gas oracle response: %w", err)
	}
	if out.Status != "1" {
		// Etherscan reports errors in result as a plain string.
		var reason string
		_ = json.Unmarshal(out.Result, &reason)
		return nil, fmt.Errorf("gas oracle error: %s %s", out.Message, reason)
	}
	var res gasOracleResult
	if err := json.Unmarshal(out.Result, &res); err != nil {
		return nil, fmt.Errorf("failed to decode gas oracle result: %w", err)
	}

	safe, err := ParseGwei(res.SafeGasPrice)
	if err != nil {
		return nil, fmt.Errorf("SafeGasPrice: %w", err)
	}
	propose, err := ParseGwei(res.ProposeGasPrice)
	if err != nil {
		return nil, fmt.Errorf("ProposeGasPrice: %w", err)
	}
	fast, err := ParseGwei(res.FastGasPrice)
	if err != nil {
		return nil, fmt.Errorf("FastGasPrice: %w", err)
	}
	return &GasQuote{Safe: safe, Propose: propose, Fast: fast, Source: o.Name()}, nil
}

// FeeHistoryReader is the subset of the chain client used by FeeHistoryOracle.
type FeeHistoryReader interface {
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

// FeeHistoryOracle derives a quote from eth_feeHistory reward percentiles
// over the last Blocks blocks: p50 is safe, p75 propose, p95 fast.
type FeeHistoryOracle struct {
	Reader FeeHistoryReader
	Blocks uint64
}

func (o *FeeHistoryOracle) Name() string { return "feehistory" }

func (o *FeeHistoryOracle) Quote(ctx context.Context) (*GasQuote, error) {
	blocks := o.Blocks
	if blocks == 0 {
		blocks = 20
	}
	hist, err := o.Reader.FeeHistory(ctx, blocks, nil, []float64{50, 75, 95})
	if err != nil {
		return nil, fmt.Errorf("feeHistory: %w", err)
	}
	if hist == nil || len(hist.Reward) == 0 {
		return nil, errEmptyQuote
	}
	sums := [3]*big.Int{new(big.Int), new(big.Int), new(big.Int)}
	rows := int64(0)
	for _, row := range hist.Reward {
		if len(row) < 3 {
			continue
		}
		for i := range sums {
			if row[i] != nil {
				sums[i].Add(sums[i], row[i])
			}
		}
		rows++
	}
	if rows == 0 || sums[2].Sign() == 0 {
		return nil, errEmptyQuote
	}
	n := big.NewInt(rows)
	return &GasQuote{
		Safe:    sums[0].Quo(sums[0], n),
		Propose: sums[1].Quo(sums[1], n),
		Fast:    sums[2].Quo(sums[2], n),
		Source:  o.Name(),
	}, nil
}

// ParseGwei converts a decimal gwei string such as "12.5" to wei.
// Fractions below one wei are truncated.
func ParseGwei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty gwei value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid gwei value %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative gwei value %q", s)
	}
	return d.Shift(9).BigInt(), nil
}

func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, big.NewInt(1_000_000_000))
}

// FormatGwei renders wei as gwei with two decimals.
func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -9).StringFixed(2)
}

// FormatETH renders wei as ether with six decimals.
func FormatETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -18).StringFixed(6)
}
