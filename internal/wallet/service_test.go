package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/chain"
	"github.com/congo-pay/payroll/internal/logging"
)

const usdt = "0x2Cf09c9DdF37F09eA9AD9897894fe59114f6E43e"

func newService(t *testing.T, cache BalanceCache) (*Service, *chain.Simulated) {
	t.Helper()
	sim := chain.NewSimulated("ETHEREUM", "0x000000000000000000000000000000000000E7A1", map[string]string{"USDT": usdt})
	require.NoError(t, sim.SetBalance("USDT", decimal.NewFromInt(1000)))
	require.NoError(t, sim.SetBalance("ETH", decimal.RequireFromString("1.5")))
	reg, err := chain.NewRegistry(sim)
	require.NoError(t, err)
	return NewService(reg, cache, logging.Discard()), sim
}

func TestCheckSufficient(t *testing.T) {
	cache := NewMemoryCache()
	svc, _ := newService(t, cache)
	ctx := context.Background()

	ok, err := svc.CheckSufficient(ctx, "ETHEREUM", "USDT", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, ok, "balance equal to amount passes")

	ok, err = svc.CheckSufficient(ctx, "ethereum", "usdt", decimal.NewFromInt(1001))
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := cache.Get(ctx, "ETHEREUM", "USDT")
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestCheckSufficientFailsClosed(t *testing.T) {
	svc, sim := newService(t, NewMemoryCache())
	sim.FailBalance(errors.New("rpc unavailable"))

	ok, err := svc.CheckSufficient(context.Background(), "ETHEREUM", "USDT", decimal.NewFromInt(1))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestCheckSufficientUnknownNetwork(t *testing.T) {
	svc, _ := newService(t, NewMemoryCache())

	ok, err := svc.CheckSufficient(context.Background(), "SOLANA", "USDT", decimal.NewFromInt(1))
	assert.False(t, ok)
	assert.True(t, apperr.HasReason(err, apperr.ReasonInvalidNetwork))
}

func TestNativeAliasesShareSnapshot(t *testing.T) {
	cache := NewMemoryCache()
	svc, _ := newService(t, cache)
	ctx := context.Background()

	snap, err := svc.Balance(ctx, "ETHEREUM", "ETH")
	require.NoError(t, err)
	assert.Equal(t, chain.NativeAsset, snap.Asset)

	cached, err := cache.Get(ctx, "ETHEREUM", chain.NativeAsset)
	require.NoError(t, err)
	assert.True(t, cached.Balance.Equal(decimal.RequireFromString("1.5")))
}

func TestOtherNetworksGasAssetsAreUnknown(t *testing.T) {
	svc, _ := newService(t, NewMemoryCache())
	ctx := context.Background()

	for _, asset := range []string{"BNB", "matic", ""} {
		ok, err := svc.CheckSufficient(ctx, "ETHEREUM", asset, decimal.NewFromInt(1))
		assert.False(t, ok, asset)
		assert.True(t, apperr.HasReason(err, apperr.ReasonUnknownAsset), "%q: %v", asset, err)
	}

	key, err := svc.Asset("ethereum", "eth")
	require.NoError(t, err)
	assert.Equal(t, chain.NativeAsset, key)
}

func TestBalancesFallsBackToCache(t *testing.T) {
	cache := NewMemoryCache()
	svc, sim := newService(t, cache)
	ctx := context.Background()

	_, err := svc.Balance(ctx, "ETHEREUM", "USDT")
	require.NoError(t, err)

	snaps, err := svc.Balances(ctx, "ETHEREUM")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, chain.NativeAsset, snaps[0].Asset)
	assert.Equal(t, "USDT", snaps[1].Asset)

	sim.FailBalance(errors.New("rpc unavailable"))
	snaps, err = svc.Balances(ctx, "ETHEREUM")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[1].Balance.Equal(decimal.NewFromInt(1000)))
}

func TestBalancesErrorsWithoutCache(t *testing.T) {
	svc, sim := newService(t, NewMemoryCache())
	sim.FailBalance(errors.New("rpc unavailable"))

	_, err := svc.Balances(context.Background(), "ETHEREUM")
	assert.Error(t, err)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisCache(client, time.Hour)
	svc, _ := newService(t, cache)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "ETHEREUM", "USDT")
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, "ETHEREUM", "native")
	require.NoError(t, err)

	snap, err := cache.Get(ctx, "ETHEREUM", "USDT")
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "0x000000000000000000000000000000000000E7A1", snap.WalletAddress)

	all, err := cache.List(ctx, "ETHEREUM")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = cache.Get(ctx, "POLYGON", "USDT")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.True(t, mr.TTL("wallet:balances:ETHEREUM") > 0)
}
