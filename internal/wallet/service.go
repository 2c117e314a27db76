package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/chain"
)

// Service answers balance questions about the company sending wallets.
type Service struct {
	registry *chain.Registry
	cache    BalanceCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a wallet service instance.
func NewService(registry *chain.Registry, cache BalanceCache, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		cache:    cache,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckSufficient re-reads the live balance and reports whether it covers
// amount. It holds nothing between check and spend. Any query failure yields
// false together with the error.
func (s *Service) CheckSufficient(ctx context.Context, network, asset string, amount decimal.Decimal) (bool, error) {
	balance, err := s.Refresh(ctx, network, asset)
	if err != nil {
		s.logger.Warn("balance check failed", "network", network, "asset", asset, "error", err)
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

// Refresh queries the chain and upserts the cached snapshot.
func (s *Service) Refresh(ctx context.Context, network, asset string) (decimal.Decimal, error) {
	snap, err := s.query(ctx, network, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Balance, nil
}

// Balance returns a freshly read snapshot for one asset.
func (s *Service) Balance(ctx context.Context, network, asset string) (Snapshot, error) {
	return s.query(ctx, network, asset)
}

// Balances refreshes the native asset plus every asset already tracked for
// the network. A failed refresh falls back to the cached value.
func (s *Service) Balances(ctx context.Context, network string) ([]Snapshot, error) {
	client, err := s.client(network)
	if err != nil {
		return nil, err
	}
	name := client.Network()

	assets := map[string]struct{}{chain.NativeAsset: {}}
	cached, err := s.cache.List(ctx, name)
	if err != nil {
		s.logger.Warn("balance cache list failed", "network", name, "error", err)
	}
	byAsset := make(map[string]Snapshot, len(cached))
	for _, c := range cached {
		assets[c.Asset] = struct{}{}
		byAsset[c.Asset] = c
	}

	out := make([]Snapshot, 0, len(assets))
	var lastErr error
	for asset := range assets {
		snap, err := s.query(ctx, name, asset)
		if err != nil {
			lastErr = err
			if prev, ok := byAsset[asset]; ok {
				s.logger.Warn("serving cached balance", "network", name, "asset", asset, "error", err)
				out = append(out, prev)
			}
			continue
		}
		out = append(out, snap)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (s *Service) client(network string) (chain.Client, error) {
	client, err := s.registry.Client(network)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidNetwork, "Invalid network: %s", network)
	}
	return client, nil
}

// Asset returns the key asset is tracked under on network. Unknown and
// empty symbols are validation errors.
func (s *Service) Asset(network, asset string) (string, error) {
	client, err := s.client(network)
	if err != nil {
		return "", err
	}
	return canonicalAsset(client, asset)
}

func canonicalAsset(client chain.Client, asset string) (string, error) {
	key, err := chain.CanonicalAsset(client, asset)
	if err != nil {
		if errors.Is(err, chain.ErrUnknownAsset) {
			return "", apperr.Wrap(err, apperr.Validation, apperr.ReasonUnknownAsset, "Token %s not found for network %s", asset, client.Network())
		}
		return "", err
	}
	return key, nil
}

func (s *Service) query(ctx context.Context, network, asset string) (Snapshot, error) {
	client, err := s.client(network)
	if err != nil {
		return Snapshot{}, err
	}
	key, err := canonicalAsset(client, asset)
	if err != nil {
		return Snapshot{}, err
	}
	assetID, err := client.ResolveAsset(key)
	if err != nil {
		return Snapshot{}, err
	}

	balance, err := client.Balance(ctx, assetID, client.SenderAddress())
	if err != nil {
		return Snapshot{}, fmt.Errorf("query %s %s balance: %w", client.Network(), key, err)
	}

	snap := Snapshot{
		Network:       client.Network(),
		Asset:         key,
		WalletAddress: client.SenderAddress(),
		Balance:       balance,
		UpdatedAt:     s.now(),
	}
	if err := s.cache.Put(ctx, snap); err != nil {
		s.logger.Warn("balance cache write failed", "network", snap.Network, "asset", key, "error", err)
	}
	return snap, nil
}
