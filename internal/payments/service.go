package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/chain"
	"github.com/congo-pay/payroll/internal/dispatch"
	"github.com/congo-pay/payroll/internal/employee"
	"github.com/congo-pay/payroll/internal/ledger"
	"github.com/congo-pay/payroll/internal/notification"
	"github.com/congo-pay/payroll/internal/transfer"
)

const finalizeTimeout = 30 * time.Second

// Gate answers whether the company wallet can cover an amount.
type Gate interface {
	CheckSufficient(ctx context.Context, network, asset string, amount decimal.Decimal) (bool, error)
}

// Executor performs one transfer with its own retry policy.
type Executor interface {
	Transfer(ctx context.Context, req transfer.Request) transfer.Result
}

// Dispatcher queues a job on a serial lane.
type Dispatcher interface {
	Submit(key, name string, job dispatch.Job, opts ...dispatch.SubmitOption) error
}

// Recorder writes withdrawals to the ledger.
type Recorder interface {
	RecordWithdrawal(ctx context.Context, w ledger.Withdrawal) error
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Repo       Repository
	Employees  employee.Directory
	Registry   *chain.Registry
	Gate       Gate
	Executor   Executor
	Dispatcher Dispatcher
	Recorder   Recorder
	Notifier   notification.Notifier
	Logger     *slog.Logger
}

// Service creates payments and batches and drives them to a terminal state.
type Service struct {
	repo       Repository
	employees  employee.Directory
	registry   *chain.Registry
	gate       Gate
	executor   Executor
	dispatcher Dispatcher
	recorder   Recorder
	notifier   notification.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a payment service.
func NewService(d Deps) *Service {
	return &Service{
		repo:       d.Repo,
		employees:  d.Employees,
		registry:   d.Registry,
		gate:       d.Gate,
		executor:   d.Executor,
		dispatcher: d.Dispatcher,
		recorder:   d.Recorder,
		notifier:   d.Notifier,
		logger:     d.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DispatchResult is returned once a payment has been queued.
type DispatchResult struct {
	PaymentID  string
	EmployeeID string
	Amount     decimal.Decimal
	Asset      string
	Network    string
	Status     string
}

// BatchResult is returned once a batch has been queued.
type BatchResult struct {
	BatchID     string
	MemberCount int
	TotalAmount decimal.Decimal
	Asset       string
	Network     string
	Status      string
	Skipped     []string
}

// Failure names one member that did not go through.
type Failure struct {
	PaymentID  string
	EmployeeID string
	Reason     string
}

// BatchError is returned by a batch job when any member failed.
type BatchError struct {
	BatchID  string
	Failures []Failure
}

func (e *BatchError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.PaymentID, f.Reason))
	}
	return fmt.Sprintf("batch %s: %d payment(s) failed: %s", e.BatchID, len(e.Failures), strings.Join(reasons, "; "))
}

// BatchView is a batch together with its members.
type BatchView struct {
	Batch    Batch
	Members  []Payment
	Failures []Failure
}

// DispatchSingle validates one employee, checks the wallet balance and queues
// the transfer. It returns without waiting for the chain.
func (s *Service) DispatchSingle(ctx context.Context, employeeID, network, actorID string) (DispatchResult, error) {
	name, err := s.network(network)
	if err != nil {
		return DispatchResult{}, err
	}
	emp, err := s.employees.Get(ctx, employeeID)
	if err != nil {
		if errors.Is(err, employee.ErrNotFound) {
			return DispatchResult{}, apperr.Wrap(err, apperr.NotFound, apperr.ReasonNotFound, "Employee %s not found", employeeID)
		}
		return DispatchResult{}, apperr.Wrap(err, apperr.Internal, "", "load employee: %v", err)
	}
	if !emp.Active() {
		return DispatchResult{}, apperr.New(apperr.Validation, apperr.ReasonInactiveEmployee, "Employee %s is not active", employeeID)
	}
	if !strings.EqualFold(emp.Network, name) {
		return DispatchResult{}, apperr.New(apperr.Validation, apperr.ReasonInvalidNetwork,
			"Employee %s is paid on %s, not %s", employeeID, emp.Network, name)
	}
	asset, err := s.salaryAsset(name, emp)
	if err != nil {
		return DispatchResult{}, err
	}
	if err := s.checkBalance(ctx, name, asset, emp.SalaryAmount); err != nil {
		return DispatchResult{}, err
	}

	now := s.now()
	p := Payment{
		ID:            uuid.NewString(),
		EmployeeID:    emp.ID,
		WalletAddress: emp.WalletAddress,
		Amount:        emp.SalaryAmount,
		Asset:         asset,
		Network:       name,
		Status:        StatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return DispatchResult{}, apperr.Wrap(err, apperr.Internal, "", "create payment: %v", err)
	}
	if err := s.submitSingle(p, actorID); err != nil {
		return DispatchResult{}, err
	}
	s.logger.Info("payment dispatched", "payment_id", p.ID, "employee_id", p.EmployeeID, "network", name, "asset", asset, "amount", p.Amount.String())
	return resultOf(p), nil
}

// DispatchBatch queues one sequential job paying every eligible employee.
func (s *Service) DispatchBatch(ctx context.Context, employeeIDs []string, network, actorID string) (BatchResult, error) {
	if len(employeeIDs) == 0 {
		return BatchResult{}, apperr.New(apperr.Validation, apperr.ReasonEmptySet, "No employees given")
	}
	name, err := s.network(network)
	if err != nil {
		return BatchResult{}, err
	}

	ids := dedupe(employeeIDs)
	found, err := s.employees.GetMany(ctx, ids)
	if err != nil {
		return BatchResult{}, apperr.Wrap(err, apperr.Internal, "", "load employees: %v", err)
	}
	byID := make(map[string]employee.Employee, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	var eligible []employee.Employee
	var skipped []string
	for _, id := range ids {
		e, ok := byID[id]
		if !ok || !e.Active() || !strings.EqualFold(e.Network, name) {
			skipped = append(skipped, id)
			continue
		}
		eligible = append(eligible, e)
	}
	if len(skipped) > 0 {
		s.logger.Warn("employees skipped from batch", "network", name, "employee_ids", skipped)
	}
	if len(eligible) == 0 {
		return BatchResult{}, apperr.New(apperr.Validation, apperr.ReasonEmptySet, "No active employees found for %s", name)
	}

	var asset string
	total := decimal.Zero
	for i, e := range eligible {
		a, err := s.salaryAsset(name, e)
		if err != nil {
			return BatchResult{}, err
		}
		if i == 0 {
			asset = a
		} else if a != asset {
			return BatchResult{}, apperr.New(apperr.Validation, apperr.ReasonMixedAssets,
				"Batch mixes %s and %s salaries", asset, a)
		}
		total = total.Add(e.SalaryAmount)
	}
	if err := s.checkBalance(ctx, name, asset, total); err != nil {
		return BatchResult{}, err
	}

	now := s.now()
	b := Batch{
		ID:          uuid.NewString(),
		TotalAmount: total,
		Asset:       asset,
		Network:     name,
		MemberCount: len(eligible),
		Status:      StatusProcessing,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	members := make([]Payment, 0, len(eligible))
	for _, e := range eligible {
		members = append(members, Payment{
			ID:            uuid.NewString(),
			EmployeeID:    e.ID,
			WalletAddress: e.WalletAddress,
			Amount:        e.SalaryAmount,
			Asset:         asset,
			Network:       name,
			Status:        StatusProcessing,
			BatchID:       b.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err := s.repo.CreateBatch(ctx, b, members); err != nil {
		return BatchResult{}, apperr.Wrap(err, apperr.Internal, "", "create batch: %v", err)
	}

	job := func(ctx context.Context) error { return s.runBatch(ctx, b.ID, members, actorID) }
	abandoned := dispatch.OnAbandon(func(ctx context.Context, cause error) {
		s.abortBatch(ctx, members, cause.Error())
	})
	if err := s.dispatcher.Submit(name, "batch "+b.ID, job, abandoned); err != nil {
		s.abortBatch(ctx, members, fmt.Sprintf("dispatch rejected: %v", err))
		return BatchResult{}, apperr.Wrap(err, apperr.Internal, "", "queue batch: %v", err)
	}
	s.logger.Info("batch dispatched", "batch_id", b.ID, "network", name, "asset", asset, "members", b.MemberCount, "total", total.String())
	return BatchResult{
		BatchID:     b.ID,
		MemberCount: b.MemberCount,
		TotalAmount: total,
		Asset:       asset,
		Network:     name,
		Status:      b.Status,
		Skipped:     skipped,
	}, nil
}

// Retry re-runs a failed payment after checking the balance again.
func (s *Service) Retry(ctx context.Context, paymentID, actorID string) (DispatchResult, error) {
	p, err := s.Payment(ctx, paymentID)
	if err != nil {
		return DispatchResult{}, err
	}
	if p.Status != StatusFailed {
		return DispatchResult{}, apperr.New(apperr.Conflict, apperr.ReasonNotFailed, "Only failed payments can be retried")
	}
	if err := s.checkBalance(ctx, p.Network, p.Asset, p.Amount); err != nil {
		return DispatchResult{}, err
	}

	now := s.now()
	p, _, err = s.repo.UpdatePayment(ctx, paymentID, func(p *Payment, b *Batch) error {
		if err := p.Reopen(now); err != nil {
			return err
		}
		if b != nil {
			return b.Reopen(now)
		}
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return DispatchResult{}, err
		}
		return DispatchResult{}, apperr.Wrap(err, apperr.Internal, "", "reopen payment: %v", err)
	}
	if err := s.submitSingle(p, actorID); err != nil {
		return DispatchResult{}, err
	}
	s.logger.Info("payment retry dispatched", "payment_id", p.ID, "batch_id", p.BatchID, "network", p.Network)
	return resultOf(p), nil
}

// Payment returns one payment.
func (s *Service) Payment(ctx context.Context, id string) (Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payment{}, apperr.Wrap(err, apperr.NotFound, apperr.ReasonNotFound, "Payment %s not found", id)
		}
		return Payment{}, apperr.Wrap(err, apperr.Internal, "", "load payment: %v", err)
	}
	return p, nil
}

// Batch returns a batch with its members and the failed ones.
func (s *Service) Batch(ctx context.Context, id string) (BatchView, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return BatchView{}, apperr.Wrap(err, apperr.NotFound, apperr.ReasonNotFound, "Batch %s not found", id)
		}
		return BatchView{}, apperr.Wrap(err, apperr.Internal, "", "load batch: %v", err)
	}
	members, err := s.repo.BatchPayments(ctx, id)
	if err != nil {
		return BatchView{}, apperr.Wrap(err, apperr.Internal, "", "load batch members: %v", err)
	}
	view := BatchView{Batch: b, Members: members, Failures: []Failure{}}
	for _, m := range members {
		if m.Status == StatusFailed {
			view.Failures = append(view.Failures, Failure{PaymentID: m.ID, EmployeeID: m.EmployeeID, Reason: m.FailureReason})
		}
	}
	return view, nil
}

// ListPayments lists payments matching f, newest first.
func (s *Service) ListPayments(ctx context.Context, f Filter) ([]Payment, error) {
	if f.Network != "" {
		f.Network = strings.ToUpper(strings.TrimSpace(f.Network))
	}
	if f.Status != "" {
		f.Status = strings.ToUpper(f.Status)
	}
	out, err := s.repo.ListPayments(ctx, f)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "", "list payments: %v", err)
	}
	return out, nil
}

func (s *Service) network(network string) (string, error) {
	name, ok := s.registry.Normalize(network)
	if !ok {
		return "", apperr.New(apperr.Validation, apperr.ReasonInvalidNetwork, "Unsupported network: %s", network)
	}
	return name, nil
}

// salaryAsset resolves an employee's salary asset on network. Missing assets
// and symbols not mapped on that network are rejected before anything is
// persisted.
func (s *Service) salaryAsset(network string, e employee.Employee) (string, error) {
	if strings.TrimSpace(e.SalaryAsset) == "" {
		return "", apperr.New(apperr.Validation, apperr.ReasonUnknownAsset, "Employee %s has no salary asset", e.ID)
	}
	client, err := s.registry.Client(network)
	if err != nil {
		return "", apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidNetwork, "Unsupported network: %s", network)
	}
	asset, err := chain.CanonicalAsset(client, e.SalaryAsset)
	if err != nil {
		return "", apperr.Wrap(err, apperr.Validation, apperr.ReasonUnknownAsset,
			"Token %s not found for network %s", chain.NormalizeAsset(e.SalaryAsset), network)
	}
	return asset, nil
}

func (s *Service) checkBalance(ctx context.Context, network, asset string, amount decimal.Decimal) error {
	ok, err := s.gate.CheckSufficient(ctx, network, asset, amount)
	if err != nil {
		return apperr.Wrap(err, apperr.InsufficientBalance, apperr.ReasonInsufficientBalance,
			"Unable to verify %s balance on %s: %v", asset, network, err)
	}
	if !ok {
		return apperr.New(apperr.InsufficientBalance, apperr.ReasonInsufficientBalance,
			"Insufficient %s balance on %s for %s", asset, network, amount.String())
	}
	return nil
}

func (s *Service) submitSingle(p Payment, actorID string) error {
	job := func(ctx context.Context) error {
		_, err := s.execute(ctx, p, actorID)
		return err
	}
	abandoned := dispatch.OnAbandon(func(ctx context.Context, cause error) {
		s.abortBatch(ctx, []Payment{p}, cause.Error())
	})
	if err := s.dispatcher.Submit(p.Network, "payment "+p.ID, job, abandoned); err != nil {
		s.abortBatch(context.Background(), []Payment{p}, fmt.Sprintf("dispatch rejected: %v", err))
		return apperr.Wrap(err, apperr.Internal, "", "queue payment: %v", err)
	}
	return nil
}

// abortBatch fails payments whose transfer was never attempted.
func (s *Service) abortBatch(ctx context.Context, members []Payment, reason string) {
	for _, m := range members {
		if _, err := s.finalize(ctx, m, transfer.Result{Error: reason}, ""); err != nil {
			s.logger.Error("failed to mark undispatched payment", "payment_id", m.ID, "error", err)
		}
	}
}

func (s *Service) runBatch(ctx context.Context, batchID string, members []Payment, actorID string) error {
	var failures []Failure
	for i, m := range members {
		if ctx.Err() != nil {
			rest := members[i:]
			reason := fmt.Sprintf("%v: %v", dispatch.ErrAbandoned, context.Cause(ctx))
			s.abortBatch(context.WithoutCancel(ctx), rest, reason)
			for _, r := range rest {
				failures = append(failures, Failure{PaymentID: r.ID, EmployeeID: r.EmployeeID, Reason: reason})
			}
			break
		}
		res, err := s.execute(ctx, m, actorID)
		if err != nil && !res.Success {
			failures = append(failures, Failure{PaymentID: m.ID, EmployeeID: m.EmployeeID, Reason: res.Error})
		}
	}
	if len(failures) > 0 {
		return &BatchError{BatchID: batchID, Failures: failures}
	}
	return nil
}

// execute runs the transfer and records the outcome. The returned error is
// non-nil when the payment failed.
func (s *Service) execute(ctx context.Context, p Payment, actorID string) (transfer.Result, error) {
	res := s.executor.Transfer(ctx, transfer.Request{
		Network:   p.Network,
		Recipient: p.WalletAddress,
		Amount:    p.Amount,
		Asset:     p.Asset,
	})
	if _, err := s.finalize(ctx, p, res, actorID); err != nil {
		s.logger.Error("failed to record payment outcome", "payment_id", p.ID, "batch_id", p.BatchID, "error", err)
		return res, err
	}
	if !res.Success {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// finalize moves the payment to its terminal state, counts it on its batch
// and emits the ledger entry and notification.
func (s *Service) finalize(ctx context.Context, p Payment, res transfer.Result, actorID string) (Payment, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	now := s.now()
	updated, batch, err := s.repo.UpdatePayment(ctx, p.ID, func(p *Payment, b *Batch) error {
		if res.Success {
			if err := p.Complete(Confirmation{TxHash: res.TxHash, BlockNumber: res.BlockNumber, GasUsed: res.GasUsed}, now); err != nil {
				return err
			}
		} else if err := p.Fail(res.Error, now); err != nil {
			return err
		}
		if b != nil {
			return b.RecordOutcome(res.Success, now)
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	if batch != nil && !batch.CompletedAt.IsZero() {
		s.logger.Info("batch settled", "batch_id", batch.ID, "status", batch.Status,
			"succeeded", batch.SuccessCount, "failed", batch.FailureCount)
	}

	if res.Success {
		s.logger.Info("payment completed", "payment_id", updated.ID, "batch_id", updated.BatchID, "tx_hash", updated.TxHash, "attempts", res.Attempts)
		w := ledger.Withdrawal{
			Network:     updated.Network,
			Asset:       updated.Asset,
			Amount:      updated.Amount,
			TxHash:      updated.TxHash,
			Recipient:   updated.WalletAddress,
			Kind:        ledger.KindPayment,
			Actor:       actorID,
			PaymentID:   updated.ID,
			ConfirmedAt: updated.CompletedAt,
		}
		if err := s.recorder.RecordWithdrawal(ctx, w); err != nil {
			s.logger.Error("withdrawal not recorded, queued for retry", "payment_id", updated.ID, "error", err)
		}
		s.notify(ctx, notification.PaymentCompleted(updated.ID, updated.BatchID, updated.EmployeeID,
			updated.Amount.String(), updated.Asset, updated.Network, updated.TxHash))
		return updated, nil
	}

	s.logger.Warn("payment failed", "payment_id", updated.ID, "batch_id", updated.BatchID, "attempts", res.Attempts, "error", res.Error)
	s.notify(ctx, notification.PaymentFailed(updated.ID, updated.BatchID, updated.EmployeeID,
		updated.Amount.String(), updated.Asset, updated.Network, res.Error))
	return updated, nil
}

func (s *Service) notify(ctx context.Context, m notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, m); err != nil {
		s.logger.Warn("notification failed", "kind", m.Kind, "payment_id", m.PaymentID, "error", err)
	}
}

func resultOf(p Payment) DispatchResult {
	return DispatchResult{
		PaymentID:  p.ID,
		EmployeeID: p.EmployeeID,
		Amount:     p.Amount,
		Asset:      p.Asset,
		Network:    p.Network,
		Status:     p.Status,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
