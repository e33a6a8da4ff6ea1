package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
)

// Relay rejection policies.
const (
	RejectAbort = "abort"
	RejectRetry = "retry"
)

// Config keeps all configuration options. It is built once at startup and
// passed by pointer; nothing reads the environment after Load.
type Config struct {
	RPCURL   string
	ChainID  uint64 // 0: ask the node
	RelayURL string

	AuthKeyHex     string
	ExecutorKeyHex string
	SponsorKeyHex  string
	RecipientHex   string

	EtherscanAPIKey string
	OracleURL       string

	BlocksInFuture     uint64
	PriorityMode       string
	PriorityFee        *big.Int
	PriorityMultiplier int64
	MinBalance         *big.Int

	PollInterval time.Duration
	PhaseTimeout time.Duration
	AwaitTimeout time.Duration
	MaxAttempts  int

	RelayRejectPolicy string
	MetricsAddr       string
	Debug             bool
}

// ConfigError collects every problem found while loading or validating.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "invalid configuration: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Lookup returns the raw value of an environment key.
type Lookup func(key string) (string, bool)

// Load reads the optional TOML file at path, then the process environment.
// Environment values win over the file.
func Load(path string) (*Config, error) {
	var file map[string]any
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
		}
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}
	return Parse(file, os.LookupEnv)
}

// Parse builds a Config from TOML file values and an environment lookup.
// Both UPPER_CASE and lower_case environment keys are accepted; file keys
// are lower_case.
func Parse(file map[string]any, env Lookup) (*Config, error) {
	var errs []error
	get := func(key, def string) string {
		for _, k := range []string{key, strings.ToUpper(key)} {
			if v, ok := env(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		if v, ok := file[key]; ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
		return def
	}
	getUint := func(key string, def uint64) uint64 {
		s := get(key, "")
		if s == "" {
			return def
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
			return def
		}
		return n
	}
	getInt := func(key string, def int64) int64 {
		s := get(key, "")
		if s == "" {
			return def
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
			return def
		}
		return n
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		s := get(key, "")
		if s == "" {
			return def
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
			return def
		}
		return d
	}
	getGwei := func(key, def string) *big.Int {
		v, err := fees.ParseGwei(get(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strings.ToUpper(key), err))
			v, _ = fees.ParseGwei(def)
		}
		return v
	}
	getBool := func(key string, def bool) bool {
		s := strings.ToLower(get(key, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}

	c := &Config{}
	c.RPCURL = get("rpc_url", "")
	c.ChainID = getUint("chain_id", 0)
	c.RelayURL = get("relay_url", "")

	c.AuthKeyHex = get("flashbots_auth_pk", get("auth_signer_private_key", ""))
	c.ExecutorKeyHex = get("private_key_executor", "")
	c.SponsorKeyHex = get("private_key_sponsor", "")
	c.RecipientHex = get("recipient", "")

	c.EtherscanAPIKey = get("etherscan_api_key", "")
	c.OracleURL = get("oracle_url", fees.DefaultOracleURL)

	c.BlocksInFuture = getUint("blocks_in_future", 2)
	c.PriorityMode = strings.ToLower(get("priority_mode", fees.ModeFixed))
	c.PriorityFee = getGwei("priority_gwei", "31")
	c.PriorityMultiplier = getInt("priority_multiplier", 2)
	c.MinBalance = getGwei("min_balance_gwei", "0.001")

	c.PollInterval = getDuration("poll_interval", 2*time.Second)
	c.PhaseTimeout = getDuration("phase_timeout", 12*time.Second)
	c.AwaitTimeout = getDuration("await_timeout", time.Minute)
	c.MaxAttempts = int(getInt("max_attempts", 0))

	c.RelayRejectPolicy = strings.ToLower(get("relay_reject_policy", RejectAbort))
	c.MetricsAddr = get("metrics_addr", "")
	c.Debug = getBool("debug", false)

	if len(errs) > 0 {
		return c, &ConfigError{Err: errors.Join(errs...)}
	}
	return c, nil
}

// Prompter asks the operator for a secret value.
type Prompter func(label string) (string, error)

// PromptMissingKeys asks for the executor and sponsor keys when they are unset.
func (c *Config) PromptMissingKeys(ask Prompter) error {
	for _, f := range []struct {
		label string
		dst   *string
	}{
		{"PRIVATE_KEY_EXECUTOR", &c.ExecutorKeyHex},
		{"PRIVATE_KEY_SPONSOR", &c.SponsorKeyHex},
	} {
		if *f.dst != "" {
			continue
		}
		v, err := ask(f.label)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.label, err)
		}
		*f.dst = strings.TrimSpace(v)
	}
	return nil
}

// ResolveRelay fills RelayURL from the chain id when it was not configured.
func (c *Config) ResolveRelay(chainID uint64) error {
	if c.RelayURL != "" {
		return nil
	}
	url := flashbots.DefaultRelayURL(chainID)
	if url == "" {
		return &ConfigError{Err: fmt.Errorf("RELAY_URL: no default relay for chain %d", chainID)}
	}
	c.RelayURL = url
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if c.ChainID != 0 && c.RelayURL == "" {
		if flashbots.DefaultRelayURL(c.ChainID) == "" {
			errs = append(errs, fmt.Errorf("RELAY_URL is required for chain %d", c.ChainID))
		}
	}

	executor, errE := keyAddress("PRIVATE_KEY_EXECUTOR", c.ExecutorKeyHex)
	sponsor, errS := keyAddress("PRIVATE_KEY_SPONSOR", c.SponsorKeyHex)
	errs = append(errs, errE, errS)
	if errE == nil && errS == nil && executor == sponsor {
		errs = append(errs, fmt.Errorf("sponsor and executor are the same account %s: %w", executor.Hex(), bundlecore.ErrInvalidRoleAssignment))
	}
	if c.AuthKeyHex != "" {
		if _, err := bundlecore.HexToECDSAPriv(c.AuthKeyHex); err != nil {
			errs = append(errs, fmt.Errorf("FLASHBOTS_AUTH_PK: %w", err))
		}
	}

	switch {
	case c.RecipientHex == "":
		errs = append(errs, errors.New("RECIPIENT is required"))
	case !common.IsHexAddress(c.RecipientHex):
		errs = append(errs, fmt.Errorf("RECIPIENT: %q is not an address", c.RecipientHex))
	}

	if c.BlocksInFuture == 0 {
		errs = append(errs, errors.New("BLOCKS_IN_FUTURE must be at least 1"))
	}
	if c.PriorityMode != fees.ModeFixed && c.PriorityMode != fees.ModeOracle {
		errs = append(errs, fmt.Errorf("PRIORITY_MODE: unknown mode %q", c.PriorityMode))
	}
	if c.PriorityFee == nil || c.PriorityFee.Sign() <= 0 {
		errs = append(errs, errors.New("PRIORITY_GWEI must be positive"))
	}
	if c.PriorityMultiplier <= 0 {
		errs = append(errs, errors.New("PRIORITY_MULTIPLIER must be positive"))
	}
	if c.MinBalance == nil || c.MinBalance.Sign() < 0 {
		errs = append(errs, errors.New("MIN_BALANCE_GWEI must not be negative"))
	}
	if c.PollInterval <= 0 || c.PhaseTimeout <= 0 || c.AwaitTimeout <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL, PHASE_TIMEOUT and AWAIT_TIMEOUT must be positive"))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must not be negative"))
	}
	if c.RelayRejectPolicy != RejectAbort && c.RelayRejectPolicy != RejectRetry {
		errs = append(errs, fmt.Errorf("RELAY_REJECT_POLICY: unknown policy %q", c.RelayRejectPolicy))
	}

	if err := errors.Join(errs...); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

func keyAddress(name, hexKey string) (common.Address, error) {
	if hexKey == "" {
		return common.Address{}, fmt.Errorf("%s is required", name)
	}
	k, err := bundlecore.HexToECDSAPriv(hexKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return crypto.PubkeyToAddress(k.PublicKey), nil
}

// Accounts returns the executor and sponsor. Call after Validate.
func (c *Config) Accounts() (executor, sponsor *bundlecore.Account, err error) {
	if executor, err = bundlecore.AccountFromHex(c.ExecutorKeyHex); err != nil {
		return nil, nil, fmt.Errorf("executor: %w", err)
	}
	if sponsor, err = bundlecore.AccountFromHex(c.SponsorKeyHex); err != nil {
		return nil, nil, fmt.Errorf("sponsor: %w", err)
	}
	return executor, sponsor, nil
}

func (c *Config) Recipient() common.Address { return common.HexToAddress(c.RecipientHex) }

// ExecutorAddress derives the executor address without building an account.
func (c *Config) ExecutorAddress() (common.Address, error) {
	return keyAddress("PRIVATE_KEY_EXECUTOR", c.ExecutorKeyHex)
}

// AuthKey returns the relay reputation key. A fresh key is generated when
// none is configured; generated reports that case.
func (c *Config) AuthKey() (key *ecdsa.PrivateKey, generated bool, err error) {
	if c.AuthKeyHex != "" {
		key, err = bundlecore.HexToECDSAPriv(c.AuthKeyHex)
		return key, false, err
	}
	key, err = crypto.GenerateKey()
	return key, true, err
}

func (c *Config) FeePolicy() fees.Policy {
	return fees.Policy{Mode: c.PriorityMode, Fixed: c.PriorityFee, Multiplier: c.PriorityMultiplier}
}

func (c *Config) RetryRelayRejections() bool { return c.RelayRejectPolicy == RejectRetry }

// LogFields summarises the configuration with secrets masked.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("rpc_url", c.RPCURL),
		zap.Uint64("chain_id", c.ChainID),
		zap.String("relay_url", c.RelayURL),
		zap.String("flashbots_auth_pk", MaskHex(c.AuthKeyHex)),
		zap.String("private_key_executor", MaskHex(c.ExecutorKeyHex)),
		zap.String("private_key_sponsor", MaskHex(c.SponsorKeyHex)),
		zap.String("recipient", c.RecipientHex),
		zap.Uint64("blocks_in_future", c.BlocksInFuture),
		zap.String("priority_mode", c.PriorityMode),
		zap.String("priority_gwei", fees.FormatGwei(c.PriorityFee)),
		zap.Int64("priority_multiplier", c.PriorityMultiplier),
		zap.String("min_balance_gwei", fees.FormatGwei(c.MinBalance)),
		zap.Duration("poll_interval", c.PollInterval),
		zap.Duration("phase_timeout", c.PhaseTimeout),
		zap.Duration("await_timeout", c.AwaitTimeout),
		zap.Int("max_attempts", c.MaxAttempts),
		zap.String("relay_reject_policy", c.RelayRejectPolicy),
	}
}

func MaskHex(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}
