package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 3, cfg.TransferMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.TransferBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.DispatchLockTTL)
	assert.Len(t, cfg.Networks, 3)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("PORT", ":9000")
	t.Setenv("TRANSFER_MAX_RETRIES", "5")
	t.Setenv("TRANSFER_BASE_DELAY", "250ms")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Address())
	assert.Equal(t, 5, cfg.TransferMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.TransferBaseDelay)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
}

func TestLoadRejectsBadRetries(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("TRANSFER_MAX_RETRIES", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresInfraOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadNetworksFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "networks.yml")
	body := `networks:
  - name: ethereum
    driver: remote
    signer_url: http://signer:8545
    sender_address: "0xabc"
    tokens:
      USDT: "0x2Cf09c9DdF37F09eA9AD9897894fe59114f6E43e"
  - name: polygon
    driver: simulated
    native_symbol: pol
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	networks, err := LoadNetworks(path)
	require.NoError(t, err)
	require.Len(t, networks, 2)

	assert.Equal(t, "ETHEREUM", networks[0].Name)
	assert.Equal(t, DriverRemote, networks[0].Driver)
	assert.Equal(t, "0x2Cf09c9DdF37F09eA9AD9897894fe59114f6E43e", networks[0].Tokens["USDT"])
	assert.Equal(t, "ETH", networks[0].NativeSymbol)
	assert.Equal(t, "POLYGON", networks[1].Name)
	assert.Equal(t, "POL", networks[1].NativeSymbol)
	assert.Equal(t, 30, networks[1].TimeoutSeconds)
}

func TestLoadNetworksRejectsRemoteWithoutSigner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yml")
	require.NoError(t, os.WriteFile(path, []byte("networks:\n  - name: bsc\n    driver: remote\n"), 0o600))

	_, err := LoadNetworks(path)
	assert.ErrorContains(t, err, "signer_url")
}
