package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu          sync.RWMutex
	withdrawals []Withdrawal
	deposits    []Deposit
	keys        map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests.
func NewInMemory() Store {
	return &inMemoryStore{keys: make(map[string]struct{})}
}

func withdrawalKey(w Withdrawal) string {
	return strings.Join([]string{"w", strings.ToUpper(w.Network), strings.ToLower(w.TxHash), w.PaymentID, w.BatchID}, ":")
}

func depositKey(d Deposit) string {
	return strings.Join([]string{"d", strings.ToUpper(d.Network), strings.ToLower(d.TxHash)}, ":")
}

func (s *inMemoryStore) AppendWithdrawal(_ context.Context, w Withdrawal) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := withdrawalKey(w)
	if _, exists := s.keys[key]; exists {
		return ErrDuplicateEntry
	}
	s.keys[key] = struct{}{}
	s.withdrawals = append(s.withdrawals, w)
	return nil
}

func (s *inMemoryStore) AppendDeposit(_ context.Context, d Deposit) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := depositKey(d)
	if _, exists := s.keys[key]; exists {
		return ErrDuplicateEntry
	}
	s.keys[key] = struct{}{}
	s.deposits = append(s.deposits, d)
	return nil
}

// Listings are newest first.
func (s *inMemoryStore) Withdrawals(_ context.Context, f Filter) ([]Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Withdrawal, 0)
	for _, w := range s.withdrawals {
		if f.matches(w.Network, w.Asset, w.Kind, w.ConfirmedAt) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConfirmedAt.After(out[j].ConfirmedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *inMemoryStore) Deposits(_ context.Context, f Filter) ([]Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Deposit, 0)
	for _, d := range s.deposits {
		if f.matches(d.Network, d.Asset, "", d.ConfirmedAt) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConfirmedAt.After(out[j].ConfirmedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *inMemoryStore) Totals(_ context.Context, network, asset string) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Totals{Deposited: decimal.Zero, Withdrawn: decimal.Zero}
	f := Filter{Network: network, Asset: asset}
	for _, d := range s.deposits {
		if f.matches(d.Network, d.Asset, "", d.ConfirmedAt) {
			t.Deposited = t.Deposited.Add(d.Amount)
		}
	}
	for _, w := range s.withdrawals {
		if f.matches(w.Network, w.Asset, "", w.ConfirmedAt) {
			t.Withdrawn = t.Withdrawn.Add(w.Amount)
		}
	}
	return t, nil
}
