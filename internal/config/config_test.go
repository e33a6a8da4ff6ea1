package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
)

func mapEnv(m map[string]string) Lookup {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func newKeyHex(t *testing.T) string {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hexutil.Encode(crypto.FromECDSA(k))
}

func validEnv(t *testing.T) map[string]string {
	return map[string]string{
		"RPC_URL":              "http://localhost:8545",
		"CHAIN_ID":             "5",
		"PRIVATE_KEY_EXECUTOR": newKeyHex(t),
		"PRIVATE_KEY_SPONSOR":  newKeyHex(t),
		"RECIPIENT":            "0x00000000000000000000000000000000000000a1",
	}
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse(nil, mapEnv(validEnv(t)))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, uint64(5), c.ChainID)
	assert.Equal(t, uint64(2), c.BlocksInFuture)
	assert.Equal(t, fees.ModeFixed, c.PriorityMode)
	assert.Equal(t, fees.GweiToWei(31).String(), c.PriorityFee.String())
	assert.Equal(t, int64(1_000_000), c.MinBalance.Int64())
	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, 12*time.Second, c.PhaseTimeout)
	assert.Equal(t, time.Minute, c.AwaitTimeout)
	assert.Equal(t, RejectAbort, c.RelayRejectPolicy)
	assert.Equal(t, fees.DefaultOracleURL, c.OracleURL)
	assert.False(t, c.RetryRelayRejections())
}

func TestParseLowerCaseAndFileValues(t *testing.T) {
	env := validEnv(t)
	env["blocks_in_future"] = "3"
	file := map[string]any{
		"blocks_in_future":    int64(7),
		"priority_mode":       "oracle",
		"priority_multiplier": int64(3),
		"poll_interval":       "500ms",
		"relay_reject_policy": "retry",
	}

	c, err := Parse(file, mapEnv(env))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.BlocksInFuture, "env wins over file")
	assert.Equal(t, fees.ModeOracle, c.PriorityMode)
	assert.Equal(t, int64(3), c.PriorityMultiplier)
	assert.Equal(t, 500*time.Millisecond, c.PollInterval)
	assert.True(t, c.RetryRelayRejections())

	p := c.FeePolicy()
	assert.Equal(t, fees.ModeOracle, p.Mode)
	assert.Equal(t, int64(3), p.Multiplier)
}

func TestParseReportsMalformedValues(t *testing.T) {
	env := validEnv(t)
	env["BLOCKS_IN_FUTURE"] = "two"
	env["PHASE_TIMEOUT"] = "soon"
	env["PRIORITY_GWEI"] = "-1"

	c, err := Parse(nil, mapEnv(env))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "BLOCKS_IN_FUTURE")
	assert.Contains(t, err.Error(), "PHASE_TIMEOUT")
	assert.Contains(t, err.Error(), "PRIORITY_GWEI")
	assert.Equal(t, uint64(2), c.BlocksInFuture)
}

func TestValidate(t *testing.T) {
	same := newKeyHex(t)
	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{"missing rpc", func(m map[string]string) { delete(m, "RPC_URL") }, "RPC_URL is required"},
		{"missing executor", func(m map[string]string) { delete(m, "PRIVATE_KEY_EXECUTOR") }, "PRIVATE_KEY_EXECUTOR is required"},
		{"bad sponsor", func(m map[string]string) { m["PRIVATE_KEY_SPONSOR"] = "0x1234" }, "PRIVATE_KEY_SPONSOR"},
		{"bad recipient", func(m map[string]string) { m["RECIPIENT"] = "bob" }, "RECIPIENT"},
		{"missing recipient", func(m map[string]string) { delete(m, "RECIPIENT") }, "RECIPIENT is required"},
		{"zero blocks", func(m map[string]string) { m["BLOCKS_IN_FUTURE"] = "0" }, "BLOCKS_IN_FUTURE"},
		{"bad mode", func(m map[string]string) { m["PRIORITY_MODE"] = "auction" }, "PRIORITY_MODE"},
		{"bad reject policy", func(m map[string]string) { m["RELAY_REJECT_POLICY"] = "ignore" }, "RELAY_REJECT_POLICY"},
		{"unknown chain", func(m map[string]string) { m["CHAIN_ID"] = "424242" }, "RELAY_URL is required"},
		{"bad auth key", func(m map[string]string) { m["FLASHBOTS_AUTH_PK"] = "zz" }, "FLASHBOTS_AUTH_PK"},
		{"same accounts", func(m map[string]string) {
			m["PRIVATE_KEY_EXECUTOR"] = same
			m["PRIVATE_KEY_SPONSOR"] = same
		}, "same account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnv(t)
			tt.mutate(env)
			c, err := Parse(nil, mapEnv(env))
			if err == nil {
				err = c.Validate()
			}
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	c, err := Parse(nil, mapEnv(map[string]string{}))
	require.NoError(t, err)

	err = c.Validate()
	require.Error(t, err)
	for _, want := range []string{"RPC_URL", "PRIVATE_KEY_EXECUTOR", "PRIVATE_KEY_SPONSOR", "RECIPIENT"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSameAccountsWrapsRoleError(t *testing.T) {
	env := validEnv(t)
	env["PRIVATE_KEY_SPONSOR"] = env["PRIVATE_KEY_EXECUTOR"]
	c, err := Parse(nil, mapEnv(env))
	require.NoError(t, err)
	assert.True(t, errors.Is(c.Validate(), bundlecore.ErrInvalidRoleAssignment))
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.toml")
	require.NoError(t, os.WriteFile(path, []byte("rpc_url = \"http://file:8545\"\nmax_attempts = 4\nawait_timeout = \"30s\"\n"), 0o600))
	t.Setenv("RPC_URL", "")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:8545", c.RPCURL)
	assert.Equal(t, 4, c.MaxAttempts)
	assert.Equal(t, 30*time.Second, c.AwaitTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestPromptMissingKeys(t *testing.T) {
	c := &Config{ExecutorKeyHex: "0xabc"}
	var asked []string
	err := c.PromptMissingKeys(func(label string) (string, error) {
		asked = append(asked, label)
		return " 0xdef \n", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PRIVATE_KEY_SPONSOR"}, asked)
	assert.Equal(t, "0xabc", c.ExecutorKeyHex)
	assert.Equal(t, "0xdef", c.SponsorKeyHex)
}

func TestResolveRelay(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.ResolveRelay(11155111))
	assert.Equal(t, "https://relay-sepolia.flashbots.net", c.RelayURL)

	c = &Config{RelayURL: "http://custom"}
	require.NoError(t, c.ResolveRelay(1))
	assert.Equal(t, "http://custom", c.RelayURL)

	assert.Error(t, (&Config{}).ResolveRelay(424242))
}

func TestAuthKeyGeneratedWhenMissing(t *testing.T) {
	k, generated, err := (&Config{}).AuthKey()
	require.NoError(t, err)
	assert.True(t, generated)
	assert.NotNil(t, k)

	hexKey := newKeyHex(t)
	k, generated, err = (&Config{AuthKeyHex: hexKey}).AuthKey()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, hexKey, hexutil.Encode(crypto.FromECDSA(k)))
}

func TestExecutorAddress(t *testing.T) {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr, err := (&Config{ExecutorKeyHex: hexutil.Encode(crypto.FromECDSA(k))}).ExecutorAddress()
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(k.PublicKey), addr)

	_, err = (&Config{}).ExecutorAddress()
	assert.Error(t, err)
}

func TestMaskHex(t *testing.T) {
	assert.Equal(t, "", MaskHex(""))
	assert.Equal(t, "***", MaskHex("0x1234"))
	assert.Equal(t, "0x4c08…a3f1", MaskHex("0x4c0883a69102937d6231471b5dbb6204fe512961708279f2e3e8a5d4b8e3a3f1"))
}
