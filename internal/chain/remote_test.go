package chain

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newGateway(t *testing.T, handler fasthttp.RequestHandler) *Remote {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })

	return NewRemote(RemoteConfig{
		Network:       "ethereum",
		SenderAddress: "0xsender",
		BaseURL:       "http://signer.local/",
		Tokens:        map[string]string{"USDT": usdtEthereum},
		Timeout:       2 * time.Second,
		HTTPClient: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	})
}

func TestRemoteBalance(t *testing.T) {
	remote := newGateway(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/v1/balance", string(ctx.Path()))
		assert.Equal(t, "ETHEREUM", string(ctx.QueryArgs().Peek("network")))
		assert.Equal(t, usdtEthereum, string(ctx.QueryArgs().Peek("asset")))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"balance":"1234.5"}`)
	})

	balance, err := remote.Balance(context.Background(), usdtEthereum, "0xsender")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1234.5")))
}

func TestRemoteSignAndBroadcast(t *testing.T) {
	remote := newGateway(t, func(ctx *fasthttp.RequestCtx) {
		var req transferRequest
		assert.NoError(t, json.Unmarshal(ctx.PostBody(), &req))
		assert.Equal(t, "0xsender", req.From)
		assert.Equal(t, "25", req.Amount)

		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"tx_hash":"0xfeed","block_number":42,"gas_used":"65000","status":"confirmed"}`)
	})

	receipt, err := remote.SignAndBroadcast(context.Background(), Transfer{
		AssetID:   usdtEthereum,
		Recipient: "0xemployee",
		Amount:    decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	assert.Equal(t, Receipt{TxHash: "0xfeed", BlockNumber: 42, GasUsed: "65000"}, receipt)
}

func TestRemoteReportsGatewayError(t *testing.T) {
	remote := newGateway(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
		ctx.SetBodyString(`{"error":"execution reverted"}`)
	})

	_, err := remote.SignAndBroadcast(context.Background(), Transfer{AssetID: ZeroAddress, Recipient: "0xe", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestRemoteRevertedStatus(t *testing.T) {
	remote := newGateway(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"tx_hash":"0xdead","block_number":7,"status":"reverted"}`)
	})

	receipt, err := remote.SignAndBroadcast(context.Background(), Transfer{AssetID: ZeroAddress, Recipient: "0xe", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.True(t, receipt.Reverted)
}
