package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
log_level = "debug"

[chain]
rpc_url = "http://node:8545"
contract_address = "0x1111111111111111111111111111111111111111"
chain_id = 84532
poll_interval = "500ms"

[settlement]
fee_rate_bps = 150
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://node:8545", cfg.Chain.RPCURL)
	assert.Equal(t, int64(84532), cfg.Chain.ChainID)
	assert.Equal(t, 500*time.Millisecond, cfg.Chain.PollInterval.Duration)
	assert.Equal(t, 150, cfg.Settlement.FeeRateBps)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.Postgres.RunMigrations)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
[chain]
rpc_url = "http://node:8545"
contract_address = "0x1111111111111111111111111111111111111111"
`)

	t.Setenv("BETCHAIN_CHAIN_PRIVATE_KEY", "deadbeef")
	t.Setenv("BETCHAIN_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("BETCHAIN_SERVER_PORT", "9090")
	t.Setenv("BETCHAIN_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BETCHAIN_RECONCILE_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "deadbeef", cfg.Chain.PrivateKey)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval.Duration)
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	cfg.Chain.PrivateKey = "deadbeef"

	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Chain.RPCURL = ""
	cfg.Settlement.FeeRateBps = 10_000
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "fee_rate_bps")
	assert.Contains(t, err.Error(), "server: port")
}

func TestValidateRequiresSigningKey(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")
}
