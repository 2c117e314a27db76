package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateEntry indicates the same on-chain movement was already
	// recorded and the write should be treated as done.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrInvalidEntry is returned for entries that can never be stored.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// Withdrawal kinds.
const (
	KindPayment = "PAYMENT"
	KindManual  = "MANUAL"
)

// Withdrawal records value leaving the company wallet. Exactly one of
// PaymentID and BatchID is set.
type Withdrawal struct {
	ID          string
	Network     string
	Asset       string
	Amount      decimal.Decimal
	TxHash      string
	Recipient   string
	Kind        string
	Actor       string
	PaymentID   string
	BatchID     string
	ConfirmedAt time.Time
	CreatedAt   time.Time
}

// Deposit records value entering the company wallet.
type Deposit struct {
	ID          string
	Network     string
	Asset       string
	Amount      decimal.Decimal
	TxHash      string
	DepositedBy string
	ConfirmedAt time.Time
	CreatedAt   time.Time
}

// Filter narrows ledger listings. Zero values match everything.
type Filter struct {
	Network string
	Asset   string
	Kind    string
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

// Store is the append-only persistence for ledger entries. Entries are never
// updated or deleted.
type Store interface {
	AppendWithdrawal(ctx context.Context, w Withdrawal) error
	AppendDeposit(ctx context.Context, d Deposit) error
	Withdrawals(ctx context.Context, f Filter) ([]Withdrawal, error)
	Deposits(ctx context.Context, f Filter) ([]Deposit, error)
	Totals(ctx context.Context, network, asset string) (Totals, error)
}

// Totals sums recorded movements of one asset on one network.
type Totals struct {
	Deposited decimal.Decimal
	Withdrawn decimal.Decimal
}

// Validate checks the invariants every stored withdrawal holds.
func (w Withdrawal) Validate() error {
	if (w.PaymentID == "") == (w.BatchID == "") {
		return fmt.Errorf("%w: exactly one of payment or batch reference is required", ErrInvalidEntry)
	}
	if w.Kind != KindPayment && w.Kind != KindManual {
		return fmt.Errorf("%w: kind %q", ErrInvalidEntry, w.Kind)
	}
	return validateMovement(w.Network, w.Asset, w.TxHash, w.Amount)
}

// Validate checks the invariants every stored deposit holds.
func (d Deposit) Validate() error {
	return validateMovement(d.Network, d.Asset, d.TxHash, d.Amount)
}

func validateMovement(network, asset, txHash string, amount decimal.Decimal) error {
	switch {
	case network == "" || asset == "":
		return fmt.Errorf("%w: network and asset are required", ErrInvalidEntry)
	case strings.TrimSpace(txHash) == "":
		return fmt.Errorf("%w: tx hash is required", ErrInvalidEntry)
	case !amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
	}
	return nil
}

func (f Filter) matches(network, asset, kind string, at time.Time) bool {
	if f.Network != "" && !strings.EqualFold(f.Network, network) {
		return false
	}
	if f.Asset != "" && !strings.EqualFold(f.Asset, asset) {
		return false
	}
	if f.Kind != "" && !strings.EqualFold(f.Kind, kind) {
		return false
	}
	if !f.From.IsZero() && at.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && at.After(f.To) {
		return false
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
