package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/chain"
	"github.com/ligun0805/bundle-sweep/internal/config"
	"github.com/ligun0805/bundle-sweep/internal/fees"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
	"github.com/ligun0805/bundle-sweep/internal/logger"
)

// session is everything a command needs once configuration is settled.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	chain   *chain.Client
	chainID *big.Int

	// Set only by openSession with accounts.
	relay    *flashbots.Client
	executor *bundlecore.Account
	sponsor  *bundlecore.Account
}

func (s *session) Close() {
	if s.relay != nil {
		s.relay.Close()
	}
	if s.chain != nil {
		if closer, ok := s.chain.Provider.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	_ = s.log.Sync()
}

// loadConfig resolves configuration from file, env and flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("rpc-url") {
		cfg.RPCURL = c.String("rpc-url")
	}
	if c.IsSet("relay-url") {
		cfg.RelayURL = c.String("relay-url")
	}
	if c.IsSet("recipient") {
		cfg.RecipientHex = c.String("recipient")
	}
	if c.IsSet("blocks-in-future") {
		cfg.BlocksInFuture = c.Uint64("blocks-in-future")
	}
	if c.IsSet("max-attempts") {
		cfg.MaxAttempts = c.Int("max-attempts")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
	return cfg, nil
}

func setupLogger(c *cli.Context, cfg *config.Config) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{
		Debug:   cfg.Debug,
		Console: c.Bool("console"),
	})
	if err != nil {
		return nil, err
	}
	return logger.WithRun(l, uuid.NewString()), nil
}

// openSession validates the configuration and connects to the node. With
// accounts set it also loads the keys and opens the relay client.
func openSession(ctx context.Context, c *cli.Context, accounts bool) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if accounts && c.Bool("prompt-keys") {
		if err := cfg.PromptMissingKeys(readSecret); err != nil {
			return nil, err
		}
	}
	if accounts {
		err = cfg.Validate()
	} else if cfg.RPCURL == "" {
		err = &config.ConfigError{Err: fmt.Errorf("RPC_URL is required")}
	}
	if err != nil {
		return nil, err
	}

	l, err := setupLogger(c, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	s := &session{cfg: cfg, log: l}

	s.chain, err = chain.Dial(ctx, cfg.RPCURL, l)
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.chainID, err = resolveChainID(ctx, s.chain, cfg.ChainID); err != nil {
		s.Close()
		return nil, err
	}

	if accounts {
		if err := s.openAccounts(); err != nil {
			s.Close()
			return nil, err
		}
	}
	l.Info("configuration", cfg.LogFields()...)
	return s, nil
}

func (s *session) openAccounts() error {
	if err := s.cfg.ResolveRelay(s.chainID.Uint64()); err != nil {
		return err
	}
	authKey, generated, err := s.cfg.AuthKey()
	if err != nil {
		return fmt.Errorf("auth key: %w", err)
	}
	if generated {
		s.log.Warn("FLASHBOTS_AUTH_PK not set, signing relay requests with a throwaway key")
	}
	if s.relay, err = flashbots.NewClient(s.cfg.RelayURL, authKey, s.cfg.PhaseTimeout); err != nil {
		return err
	}
	if s.executor, s.sponsor, err = s.cfg.Accounts(); err != nil {
		return err
	}
	s.log.Info("accounts",
		zap.String("executor", s.executor.Address.Hex()),
		zap.String("sponsor", s.sponsor.Address.Hex()),
		zap.String("recipient", s.cfg.Recipient().Hex()),
		zap.String("relay_auth", s.relay.AuthAddr.Hex()),
	)
	return nil
}

// The node is always asked; a configured chain id must agree with it.
func resolveChainID(ctx context.Context, c *chain.Client, configured uint64) (*big.Int, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if configured != 0 && id.Uint64() != configured {
		return nil, &config.ConfigError{Err: fmt.Errorf("CHAIN_ID %d does not match node chain id %s", configured, id)}
	}
	return id, nil
}

// quoteSources lists the gas quote sources in preference order.
func (s *session) quoteSources() []fees.QuoteSource {
	var out []fees.QuoteSource
	if s.cfg.EtherscanAPIKey != "" {
		out = append(out, fees.NewEtherscanOracle(s.cfg.OracleURL, s.cfg.EtherscanAPIKey))
	}
	return append(out, &fees.FeeHistoryOracle{Reader: s.chain})
}

// quote is fetched once per run and only when the fee policy uses it.
func (s *session) quote(ctx context.Context) *fees.GasQuote {
	if s.cfg.PriorityMode != fees.ModeOracle {
		return nil
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.PhaseTimeout)
	defer cancel()
	return fees.ResolveQuote(qctx, s.log, s.quoteSources()...)
}

// sweepGas estimates the executor's sweep transfer and falls back to a plain
// transfer; estimated is false on fallback.
func (s *session) sweepGas(ctx context.Context, from common.Address, value *big.Int) (gas uint64, estimated bool) {
	recipient := s.cfg.Recipient()
	gas, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &recipient, Value: value})
	if err != nil || gas == 0 {
		return bundlecore.TransferGas, false
	}
	return gas, true
}

func (s *session) signers() map[bundlecore.Role]*bundlecore.Account {
	return map[bundlecore.Role]*bundlecore.Account{
		bundlecore.RoleExecutor: s.executor,
		bundlecore.RoleSponsor:  s.sponsor,
	}
}

func readSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
