// Package chain abstracts the per-network clients that query balances and
// broadcast transfers from the company sending wallet.
package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeAsset is the normalised key of a network's gas asset.
const NativeAsset = "NATIVE"

// ZeroAddress stands for the native asset wherever a contract address is expected.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

var (
	// ErrUnknownNetwork is returned when no client is registered for a network.
	ErrUnknownNetwork = errors.New("unknown network")
	// ErrUnknownAsset is returned when an asset symbol has no mapping on a network.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Transfer is a single outgoing movement from the sender wallet.
type Transfer struct {
	AssetID   string
	Recipient string
	Amount    decimal.Decimal
}

// Receipt is the confirmed on-chain result of a broadcast.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     string
	Reverted    bool
}

// Client talks to one network on behalf of the company wallet.
// SignAndBroadcast blocks until the transfer is confirmed or rejected.
type Client interface {
	Network() string
	// NativeSymbol is the ticker of the network's gas asset, e.g. ETH.
	NativeSymbol() string
	SenderAddress() string
	ResolveAsset(asset string) (string, error)
	Balance(ctx context.Context, assetID, wallet string) (decimal.Decimal, error)
	SignAndBroadcast(ctx context.Context, t Transfer) (Receipt, error)
}

// NormalizeAsset upper-cases and trims a symbol. It does not fold native
// tickers, since those differ per network; see CanonicalAsset.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// CanonicalAsset returns the key an asset is tracked under on c. The
// network's own native ticker folds onto NativeAsset. Empty symbols and
// symbols without a mapping on c, including other networks' gas assets,
// yield ErrUnknownAsset.
func CanonicalAsset(c Client, asset string) (string, error) {
	if raw := strings.TrimSpace(asset); IsAddress(raw) {
		return raw, nil
	}
	a := NormalizeAsset(asset)
	if a == "" {
		return "", ErrUnknownAsset
	}
	if isNative(a, c.NativeSymbol()) {
		return NativeAsset, nil
	}
	if _, err := c.ResolveAsset(a); err != nil {
		return "", err
	}
	return a, nil
}

// IsAddress reports whether s looks like a 20-byte hex contract address.
func IsAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x")
}

func isNative(asset, nativeSymbol string) bool {
	return asset == NativeAsset || (nativeSymbol != "" && asset == nativeSymbol)
}

// resolveToken maps a symbol to its contract address using a network token table.
func resolveToken(tokens map[string]string, nativeSymbol, asset string) (string, error) {
	raw := strings.TrimSpace(asset)
	if IsAddress(raw) {
		return raw, nil
	}
	a := NormalizeAsset(raw)
	if a == "" {
		return "", ErrUnknownAsset
	}
	if isNative(a, nativeSymbol) {
		return ZeroAddress, nil
	}
	if address, ok := tokens[a]; ok {
		return address, nil
	}
	return "", ErrUnknownAsset
}
