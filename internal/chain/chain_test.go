package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/payroll/internal/config"
	"github.com/congo-pay/payroll/internal/logging"
)

const usdtEthereum = "0x2Cf09c9DdF37F09eA9AD9897894fe59114f6E43e"

func TestNormalizeAsset(t *testing.T) {
	assert.Equal(t, "USDT", NormalizeAsset(" usdt "))
	assert.Equal(t, NativeAsset, NormalizeAsset("native"))
	assert.Equal(t, "BNB", NormalizeAsset("bnb"))
	assert.Equal(t, "", NormalizeAsset("  "))
}

func TestCanonicalAssetIsPerNetwork(t *testing.T) {
	eth := NewSimulated("ETHEREUM", "", map[string]string{"USDT": usdtEthereum})
	bsc := NewSimulated("BSC", "", nil)

	for _, in := range []string{"eth", "ETH", "native", " Native "} {
		got, err := CanonicalAsset(eth, in)
		require.NoError(t, err, in)
		assert.Equal(t, NativeAsset, got, in)
	}
	got, err := CanonicalAsset(bsc, "bnb")
	require.NoError(t, err)
	assert.Equal(t, NativeAsset, got)

	got, err = CanonicalAsset(eth, "usdt")
	require.NoError(t, err)
	assert.Equal(t, "USDT", got)

	for _, in := range []string{"BNB", "MATIC", "", "  ", "DOGE"} {
		_, err := CanonicalAsset(eth, in)
		assert.ErrorIs(t, err, ErrUnknownAsset, "%q", in)
	}
	_, err = CanonicalAsset(bsc, "ETH")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestNativeSymbolOverride(t *testing.T) {
	sim := NewSimulated("POLYGON", "", nil).WithNativeSymbol("pol")
	assert.Equal(t, "POL", sim.NativeSymbol())

	id, err := sim.ResolveAsset("POL")
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, id)

	_, err = sim.ResolveAsset("MATIC")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	assert.Equal(t, "", NewSimulated("SEPOLIA", "", nil).NativeSymbol())
}

func TestResolveAsset(t *testing.T) {
	sim := NewSimulated("ethereum", "", map[string]string{"usdt": usdtEthereum})

	id, err := sim.ResolveAsset("USDT")
	require.NoError(t, err)
	assert.Equal(t, usdtEthereum, id)

	id, err = sim.ResolveAsset("ETH")
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, id)

	raw := "0x1111111111111111111111111111111111111111"
	id, err = sim.ResolveAsset(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, id)

	_, err = sim.ResolveAsset("DOGE")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = sim.ResolveAsset("BNB")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = sim.ResolveAsset("")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRegistryBuildFromDevelopmentNetworks(t *testing.T) {
	reg, err := Build(config.DevelopmentNetworks(), logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, []string{"BSC", "ETHEREUM", "POLYGON"}, reg.Networks())
	for network, native := range map[string]string{"ETHEREUM": "ETH", "POLYGON": "MATIC", "BSC": "BNB"} {
		c, err := reg.Client(network)
		require.NoError(t, err)
		assert.Equal(t, native, c.NativeSymbol(), network)
	}

	name, ok := reg.Normalize(" polygon ")
	assert.True(t, ok)
	assert.Equal(t, "POLYGON", name)

	_, ok = reg.Normalize("SOLANA")
	assert.False(t, ok)

	_, err = reg.Client("solana")
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	client, err := reg.Client("ethereum")
	require.NoError(t, err)
	id, err := client.ResolveAsset("USDT")
	require.NoError(t, err)
	balance, err := client.Balance(context.Background(), id, client.SenderAddress())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100000)))
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewSimulated("BSC", "", nil), NewSimulated("bsc", "", nil))
	assert.Error(t, err)
}

func TestSimulatedBroadcastMovesValue(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated("ETHEREUM", "", map[string]string{"USDT": usdtEthereum})
	require.NoError(t, sim.SetBalance("USDT", decimal.NewFromInt(100)))

	receipt, err := sim.SignAndBroadcast(ctx, Transfer{AssetID: usdtEthereum, Recipient: "0xabc", Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)
	assert.False(t, receipt.Reverted)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, tokenGas, receipt.GasUsed)

	left, err := sim.Balance(ctx, usdtEthereum, sim.SenderAddress())
	require.NoError(t, err)
	assert.True(t, left.Equal(decimal.NewFromInt(60)))
	got, err := sim.Balance(ctx, usdtEthereum, "0xABC")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(40)))

	_, err = sim.SignAndBroadcast(ctx, Transfer{AssetID: usdtEthereum, Recipient: "0xabc", Amount: decimal.NewFromInt(61)})
	assert.ErrorIs(t, err, ErrSimulatedInsufficientFunds)
}

func TestSimulatedScriptedFailures(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated("BSC", "", nil)
	require.NoError(t, sim.SetBalance("BNB", decimal.NewFromInt(5)))
	boom := errors.New("nonce too low")
	sim.FailBroadcasts(boom)
	sim.RevertNext(1)

	transfer := Transfer{AssetID: ZeroAddress, Recipient: "0xabc", Amount: decimal.NewFromInt(1)}
	_, err := sim.SignAndBroadcast(ctx, transfer)
	assert.ErrorIs(t, err, boom)

	receipt, err := sim.SignAndBroadcast(ctx, transfer)
	require.NoError(t, err)
	assert.True(t, receipt.Reverted)

	receipt, err = sim.SignAndBroadcast(ctx, transfer)
	require.NoError(t, err)
	assert.False(t, receipt.Reverted)
	assert.Len(t, sim.Transfers(), 1)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated("POLYGON", "", nil)
	rpcDown := errors.New("connection refused")
	sim.FailBalance(rpcDown)

	b := NewBreaker(sim, 2, time.Minute, logging.Discard())
	for i := 0; i < 2; i++ {
		_, err := b.Balance(ctx, ZeroAddress, sim.SenderAddress())
		assert.ErrorIs(t, err, rpcDown)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	sim.FailBalance(nil)
	_, err := b.Balance(ctx, ZeroAddress, sim.SenderAddress())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "POLYGON", b.Network())
}
