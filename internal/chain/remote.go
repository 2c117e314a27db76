package chain

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"github.com/congo-pay/payroll/internal/config"
)

const defaultRemoteTimeout = 30 * time.Second

// RemoteConfig configures a signer gateway client.
type RemoteConfig struct {
	Network       string
	NativeSymbol  string
	SenderAddress string
	BaseURL       string
	Tokens        map[string]string
	Timeout       time.Duration
	// HTTPClient overrides the fasthttp client, mainly for in-memory tests.
	HTTPClient *fasthttp.Client
}

// Remote sends balance queries and transfers to an external signer gateway
// that holds the company key. The gateway answers a transfer only once the
// transaction is confirmed or rejected.
type Remote struct {
	cfg    RemoteConfig
	tokens map[string]string
	http   *fasthttp.Client
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type transferRequest struct {
	Network   string `json:"network"`
	From      string `json:"from"`
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type transferResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     string `json:"gas_used"`
	Status      string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRemote builds a gateway client.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	cfg.Network = strings.ToUpper(cfg.Network)
	cfg.NativeSymbol = strings.ToUpper(strings.TrimSpace(cfg.NativeSymbol))
	if cfg.NativeSymbol == "" {
		cfg.NativeSymbol = config.DefaultNativeSymbol(cfg.Network)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &fasthttp.Client{
			Name:                "payroll-dispatch",
			MaxConnsPerHost:     16,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		}
	}
	tokens := make(map[string]string, len(cfg.Tokens))
	for symbol, address := range cfg.Tokens {
		tokens[strings.ToUpper(symbol)] = address
	}
	return &Remote{cfg: cfg, tokens: tokens, http: client}
}

func (r *Remote) Network() string       { return r.cfg.Network }
func (r *Remote) NativeSymbol() string  { return r.cfg.NativeSymbol }
func (r *Remote) SenderAddress() string { return r.cfg.SenderAddress }

func (r *Remote) ResolveAsset(asset string) (string, error) {
	return resolveToken(r.tokens, r.cfg.NativeSymbol, asset)
}

func (r *Remote) Balance(ctx context.Context, assetID, wallet string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("network", r.cfg.Network)
	q.Set("asset", assetID)
	q.Set("wallet", wallet)

	var out balanceResponse
	if err := r.do(ctx, fasthttp.MethodGet, "/v1/balance?"+q.Encode(), nil, &out); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(out.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gateway balance %q: %w", out.Balance, err)
	}
	return balance, nil
}

func (r *Remote) SignAndBroadcast(ctx context.Context, t Transfer) (Receipt, error) {
	body, err := json.Marshal(transferRequest{
		Network:   r.cfg.Network,
		From:      r.cfg.SenderAddress,
		Asset:     t.AssetID,
		Recipient: t.Recipient,
		Amount:    t.Amount.String(),
	})
	if err != nil {
		return Receipt{}, err
	}

	var out transferResponse
	if err := r.do(ctx, fasthttp.MethodPost, "/v1/transfers", body, &out); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		TxHash:      out.TxHash,
		BlockNumber: out.BlockNumber,
		GasUsed:     out.GasUsed,
		Reverted:    strings.EqualFold(out.Status, "reverted"),
	}, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body []byte, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.cfg.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(r.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s gateway %s %s: %w", r.cfg.Network, method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		var e errorResponse
		if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != "" {
			return fmt.Errorf("%s gateway: %s", r.cfg.Network, e.Error)
		}
		return fmt.Errorf("%s gateway: unexpected status %d", r.cfg.Network, status)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s gateway: decode response: %w", r.cfg.Network, err)
	}
	return nil
}
