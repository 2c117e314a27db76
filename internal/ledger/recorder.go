package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/chain"
)

// BalanceRefresher re-reads a wallet balance after the ledger changes.
type BalanceRefresher interface {
	Refresh(ctx context.Context, network, asset string) (decimal.Decimal, error)
}

// Reconciliation compares ledger totals with the live on-chain balance.
type Reconciliation struct {
	Network   string
	Asset     string
	Deposited decimal.Decimal
	Withdrawn decimal.Decimal
	Net       decimal.Decimal
	OnChain   decimal.Decimal
	Drift     decimal.Decimal
	AsOf      time.Time
}

// Recorder writes ledger entries on behalf of the dispatch flow. Withdrawals
// that fail to persist are kept in memory and retried by Run.
type Recorder struct {
	store     Store
	refresher BalanceRefresher
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []Withdrawal
}

// NewRecorder builds a recorder. refresher may be nil.
func NewRecorder(store Store, refresher BalanceRefresher, logger *slog.Logger, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Recorder{
		store:     store,
		refresher: refresher,
		logger:    logger,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Store exposes the underlying store for read paths.
func (r *Recorder) Store() Store {
	return r.store
}

// RecordWithdrawal appends w. Invalid entries are rejected; storage failures
// queue the entry for retry and are returned so the caller can log them.
func (r *Recorder) RecordWithdrawal(ctx context.Context, w Withdrawal) error {
	r.fill(&w.ID, &w.CreatedAt)
	if w.ConfirmedAt.IsZero() {
		w.ConfirmedAt = w.CreatedAt
	}
	w.Network = strings.ToUpper(w.Network)
	w.Asset = chain.NormalizeAsset(w.Asset)
	if err := w.Validate(); err != nil {
		return err
	}

	if err := r.store.AppendWithdrawal(ctx, w); err != nil && !errors.Is(err, ErrDuplicateEntry) {
		r.enqueue(w)
		return fmt.Errorf("record withdrawal for %s: queued for retry: %w", w.TxHash, err)
	}
	r.refresh(ctx, w.Network, w.Asset)
	return nil
}

// RecordDeposit appends d synchronously. ErrDuplicateEntry is returned as is.
func (r *Recorder) RecordDeposit(ctx context.Context, d Deposit) (Deposit, error) {
	r.fill(&d.ID, &d.CreatedAt)
	if d.ConfirmedAt.IsZero() {
		d.ConfirmedAt = d.CreatedAt
	}
	d.Network = strings.ToUpper(d.Network)
	d.Asset = chain.NormalizeAsset(d.Asset)
	if err := r.store.AppendDeposit(ctx, d); err != nil {
		return Deposit{}, err
	}
	r.refresh(ctx, d.Network, d.Asset)
	return d, nil
}

// Reconcile reports ledger net flow against the current chain balance.
func (r *Recorder) Reconcile(ctx context.Context, network, asset string) (Reconciliation, error) {
	network, asset = strings.ToUpper(network), chain.NormalizeAsset(asset)
	totals, err := r.store.Totals(ctx, network, asset)
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconciliation{
		Network:   network,
		Asset:     asset,
		Deposited: totals.Deposited,
		Withdrawn: totals.Withdrawn,
		Net:       totals.Deposited.Sub(totals.Withdrawn),
		AsOf:      r.now(),
	}
	if r.refresher == nil {
		return rec, nil
	}
	onChain, err := r.refresher.Refresh(ctx, network, asset)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("reconcile %s %s: %w", network, asset, err)
	}
	rec.OnChain = onChain
	rec.Drift = onChain.Sub(rec.Net)
	return rec, nil
}

// Pending reports how many withdrawals await a retry.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run retries queued withdrawals every interval until ctx is done, then makes
// one final attempt.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.Flush(drainCtx)
			cancel()
			if n := r.Pending(); n > 0 {
				r.logger.Error("ledger recorder stopped with unrecorded withdrawals", "pending", n)
			}
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush retries every queued withdrawal once. Entries that still fail stay queued.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, w := range batch {
		err := r.store.AppendWithdrawal(ctx, w)
		switch {
		case err == nil, errors.Is(err, ErrDuplicateEntry):
			r.logger.Info("queued withdrawal recorded", "tx_hash", w.TxHash, "payment_id", w.PaymentID)
			r.refresh(ctx, w.Network, w.Asset)
		default:
			r.logger.Warn("withdrawal retry failed", "tx_hash", w.TxHash, "payment_id", w.PaymentID, "error", err)
			r.enqueue(w)
		}
	}
}

func (r *Recorder) enqueue(w Withdrawal) {
	r.mu.Lock()
	r.pending = append(r.pending, w)
	r.mu.Unlock()
}

func (r *Recorder) refresh(ctx context.Context, network, asset string) {
	if r.refresher == nil {
		return
	}
	if _, err := r.refresher.Refresh(ctx, network, asset); err != nil {
		r.logger.Warn("balance refresh after ledger write failed", "network", network, "asset", asset, "error", err)
	}
}

func (r *Recorder) fill(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = r.now()
	}
}
