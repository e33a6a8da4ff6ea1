package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v2"

	"github.com/ligun0805/bundle-sweep/internal/config"
)

func runApp(t *testing.T, args []string, action cli.ActionFunc) {
	t.Helper()
	app := &cli.App{
		Name:   "sweepcli",
		Flags:  globalFlags(),
		Before: loadEnvFiles,
		Action: action,
	}
	require.NoError(t, app.Run(append([]string{"sweepcli"}, args...)))
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	var cfg *config.Config
	runApp(t, []string{
		"--env-file", filepath.Join(t.TempDir(), "absent.env"),
		"--rpc-url", "ws://node:8546",
		"--relay-url", "http://relay",
		"--recipient", "0x00000000000000000000000000000000000000a1",
		"--blocks-in-future", "4",
		"--max-attempts", "9",
		"--metrics-addr", ":9100",
		"--debug",
	}, func(c *cli.Context) error {
		var err error
		cfg, err = loadConfig(c)
		return err
	})

	require.NotNil(t, cfg)
	assert.Equal(t, "ws://node:8546", cfg.RPCURL)
	assert.Equal(t, "http://relay", cfg.RelayURL)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", cfg.RecipientHex)
	assert.Equal(t, uint64(4), cfg.BlocksInFuture)
	assert.Equal(t, 9, cfg.MaxAttempts)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.True(t, cfg.Debug)
}

func TestLoadEnvFilesLaterOverrides(t *testing.T) {
	const keyA, keyB = "SWEEPCLI_TEST_ONLY_A", "SWEEPCLI_TEST_ONLY_B"
	t.Cleanup(func() {
		_ = os.Unsetenv(keyA)
		_ = os.Unsetenv(keyB)
	})

	dir := t.TempDir()
	first := filepath.Join(dir, ".env")
	second := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(first, []byte(keyA+"=1\n"+keyB+"=first\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(keyB+"=second\n"), 0o600))

	runApp(t, []string{
		"--env-file", first,
		"--env-file", filepath.Join(dir, "missing.env"),
		"--env-file", second,
	}, func(*cli.Context) error { return nil })

	assert.Equal(t, "1", os.Getenv(keyA))
	assert.Equal(t, "second", os.Getenv(keyB))
}

func TestLoadEnvFilesKeepProcessEnv(t *testing.T) {
	const key = "SWEEPCLI_TEST_ONLY_PROCESS"
	t.Setenv(key, "from-process")

	dir := t.TempDir()
	first := filepath.Join(dir, ".env")
	second := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(first, []byte(key+"=from-dotenv\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(key+"=from-dotenv-local\n"), 0o600))

	runApp(t, []string{"--env-file", first, "--env-file", second}, func(*cli.Context) error { return nil })

	assert.Equal(t, "from-process", os.Getenv(key))
}
