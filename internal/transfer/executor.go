// Package transfer moves funds from the company wallet to a recipient with a
// bounded number of attempts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/chain"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

// Request describes one outgoing transfer.
type Request struct {
	Network   string
	Recipient string
	Amount    decimal.Decimal
	Asset     string
}

// Result is the outcome of Transfer. Error is empty when Success is true.
type Result struct {
	Success     bool
	TxHash      string
	BlockNumber uint64
	GasUsed     string
	Error       string
	Attempts    int
}

// Executor runs transfers against the chain registry.
type Executor struct {
	registry   *chain.Registry
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customises an Executor.
type Option func(*Executor)

// WithRetries overrides attempt count and linear backoff base.
func WithRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(e *Executor) {
		if maxRetries > 0 {
			e.maxRetries = maxRetries
		}
		if baseDelay >= 0 {
			e.baseDelay = baseDelay
		}
	}
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// NewExecutor builds an executor.
func NewExecutor(registry *chain.Registry, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry:   registry,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     logger,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	errInsufficient = errors.New("insufficient balance")
	errReverted     = errors.New("transaction reverted on chain")
)

// Transfer attempts the movement up to maxRetries times, waiting
// baseDelay*attempt between attempts. Insufficient balance, unknown network
// and unknown asset end it immediately. On exhaustion the last error is
// reported verbatim.
func (e *Executor) Transfer(ctx context.Context, req Request) Result {
	client, err := e.registry.Client(req.Network)
	if err != nil {
		return Result{Error: fmt.Sprintf("Unsupported network: %s", req.Network)}
	}
	assetID, err := client.ResolveAsset(req.Asset)
	if err != nil {
		return Result{Error: fmt.Sprintf("Token %s not found for network %s", req.Asset, client.Network())}
	}

	log := e.logger.With("network", client.Network(), "asset", req.Asset, "recipient", req.Recipient)

	var res Result
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		res.Attempts = attempt

		receipt, err := e.attempt(ctx, client, assetID, req)
		if err == nil {
			log.Info("transfer confirmed", "attempt", attempt, "tx_hash", receipt.TxHash, "block", receipt.BlockNumber)
			return Result{
				Success:     true,
				TxHash:      receipt.TxHash,
				BlockNumber: receipt.BlockNumber,
				GasUsed:     receipt.GasUsed,
				Attempts:    attempt,
			}
		}

		res.Error = err.Error()
		if errors.Is(err, errInsufficient) {
			log.Warn("transfer aborted", "attempt", attempt, "error", res.Error)
			return res
		}
		log.Warn("transfer attempt failed", "attempt", attempt, "max_attempts", e.maxRetries, "error", res.Error)

		if attempt == e.maxRetries {
			break
		}
		if err := e.sleep(ctx, e.baseDelay*time.Duration(attempt)); err != nil {
			res.Error = err.Error()
			return res
		}
	}
	log.Error("transfer failed", "attempts", res.Attempts, "error", res.Error)
	return res
}

func (e *Executor) attempt(ctx context.Context, client chain.Client, assetID string, req Request) (chain.Receipt, error) {
	balance, err := client.Balance(ctx, assetID, client.SenderAddress())
	if err != nil {
		return chain.Receipt{}, err
	}
	if balance.LessThan(req.Amount) {
		return chain.Receipt{}, &insufficientError{asset: req.Asset, required: req.Amount, available: balance}
	}

	receipt, err := client.SignAndBroadcast(ctx, chain.Transfer{
		AssetID:   assetID,
		Recipient: req.Recipient,
		Amount:    req.Amount,
	})
	if err != nil {
		return chain.Receipt{}, err
	}
	if receipt.Reverted {
		return chain.Receipt{}, fmt.Errorf("%w: %s", errReverted, receipt.TxHash)
	}
	return receipt, nil
}

type insufficientError struct {
	asset     string
	required  decimal.Decimal
	available decimal.Decimal
}

func (e *insufficientError) Error() string {
	return fmt.Sprintf("Insufficient %s balance. Required: %s %s, Available: %s %s",
		e.asset, e.required, e.asset, e.available, e.asset)
}

func (e *insufficientError) Unwrap() error { return errInsufficient }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
