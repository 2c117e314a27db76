package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/chain"
	"github.com/congo-pay/payroll/internal/dispatch"
	"github.com/congo-pay/payroll/internal/employee"
	"github.com/congo-pay/payroll/internal/ledger"
	"github.com/congo-pay/payroll/internal/logging"
	"github.com/congo-pay/payroll/internal/notification"
	"github.com/congo-pay/payroll/internal/transfer"
	"github.com/congo-pay/payroll/internal/wallet"
)

const usdt = "0x2Cf09c9DdF37F09eA9AD9897894fe59114f6E43e"

type inbox struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (i *inbox) Send(_ context.Context, m notification.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, m)
	return nil
}

func (i *inbox) kinds() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.msgs))
	for _, m := range i.msgs {
		out = append(out, m.Kind)
	}
	return out
}

type harness struct {
	svc        *Service
	repo       Repository
	sim        *chain.Simulated
	dispatcher *dispatch.Dispatcher
	recorder   *ledger.Recorder
	inbox      *inbox
}

func worker(id, wallet string, salary int64) employee.Employee {
	return employee.Employee{
		ID:            id,
		FirstName:     id,
		WalletAddress: wallet,
		SalaryAmount:  decimal.NewFromInt(salary),
		SalaryAsset:   "USDT",
		Network:       "ETHEREUM",
		Status:        employee.StatusActive,
	}
}

func newHarness(t *testing.T, balance int64, staff ...employee.Employee) *harness {
	t.Helper()
	logger := logging.Discard()
	sim := chain.NewSimulated("ETHEREUM", "", map[string]string{"USDT": usdt})
	require.NoError(t, sim.SetBalance("USDT", decimal.NewFromInt(balance)))
	polygon := chain.NewSimulated("POLYGON", "", map[string]string{"USDT": usdt})
	reg, err := chain.NewRegistry(sim, polygon)
	require.NoError(t, err)

	walletSvc := wallet.NewService(reg, wallet.NewMemoryCache(), logger)
	recorder := ledger.NewRecorder(ledger.NewInMemory(), walletSvc, logger, time.Minute)
	exec := transfer.NewExecutor(reg, logger, transfer.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	d := dispatch.New(logger, nil)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	repo := NewMemoryRepository()
	in := &inbox{}
	svc := NewService(Deps{
		Repo:       repo,
		Employees:  employee.NewMemoryDirectory(staff...),
		Registry:   reg,
		Gate:       walletSvc,
		Executor:   exec,
		Dispatcher: d,
		Recorder:   recorder,
		Notifier:   in,
		Logger:     logger,
	})
	return &harness{svc: svc, repo: repo, sim: sim, dispatcher: d, recorder: recorder, inbox: in}
}

func TestDispatchSingleCompletesAndRecordsWithdrawal(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 250))
	ctx := context.Background()

	res, err := h.svc.DispatchSingle(ctx, "alice", "ethereum", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Status)
	assert.Equal(t, "ETHEREUM", res.Network)
	assert.Equal(t, "USDT", res.Asset)

	h.dispatcher.Flush()

	p, err := h.svc.Payment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.NotEmpty(t, p.TxHash)
	assert.NotZero(t, p.BlockNumber)
	assert.False(t, p.CompletedAt.IsZero())

	ws, err := h.recorder.Store().Withdrawals(ctx, ledger.Filter{Network: "ETHEREUM"})
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, p.ID, ws[0].PaymentID)
	assert.Empty(t, ws[0].BatchID)
	assert.Equal(t, ledger.KindPayment, ws[0].Kind)
	assert.Equal(t, "ops-1", ws[0].Actor)
	assert.Equal(t, "USDT", ws[0].Asset)
	assert.True(t, ws[0].Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, p.TxHash, ws[0].TxHash)

	assert.Equal(t, []string{notification.KindPaymentCompleted}, h.inbox.kinds())
}

func TestDispatchSingleInsufficientBalanceCreatesNothing(t *testing.T) {
	h := newHarness(t, 100, worker("alice", "0xa11ce", 250))
	ctx := context.Background()

	_, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InsufficientBalance))

	all, err := h.repo.ListPayments(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, h.sim.Transfers())
}

func TestDispatchSingleGateErrorFailsClosed(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 250))
	h.sim.FailBalance(errors.New("rpc unavailable"))
	ctx := context.Background()

	_, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	assert.True(t, apperr.Is(err, apperr.InsufficientBalance))

	all, err := h.repo.ListPayments(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDispatchSingleValidation(t *testing.T) {
	inactive := worker("bob", "0xb0b", 10)
	inactive.Status = employee.StatusTerminated
	other := worker("carol", "0xca401", 10)
	other.Network = "POLYGON"
	h := newHarness(t, 1000, inactive, other)
	ctx := context.Background()

	cases := []struct {
		name     string
		employee string
		network  string
		code     apperr.Code
		reason   string
	}{
		{"unknown network", "bob", "SOLANA", apperr.Validation, apperr.ReasonInvalidNetwork},
		{"missing employee", "nobody", "ETHEREUM", apperr.NotFound, apperr.ReasonNotFound},
		{"inactive employee", "bob", "ETHEREUM", apperr.Validation, apperr.ReasonInactiveEmployee},
		{"network mismatch", "carol", "ETHEREUM", apperr.Validation, apperr.ReasonInvalidNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.DispatchSingle(ctx, tc.employee, tc.network, "ops-1")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, tc.code), err.Error())
			assert.True(t, apperr.HasReason(err, tc.reason), err.Error())
		})
	}
}

func TestSalaryAssetMustBelongToNetwork(t *testing.T) {
	bnb := worker("bea", "0xbea", 5)
	bnb.SalaryAsset = "BNB"
	blank := worker("ben", "0xbe4", 5)
	blank.SalaryAsset = " "
	eth := worker("eve", "0xe7e", 5)
	eth.SalaryAsset = "eth"
	h := newHarness(t, 1000, bnb, blank, eth)
	require.NoError(t, h.sim.SetBalance("ETH", decimal.NewFromInt(100)))
	ctx := context.Background()

	for _, id := range []string{"bea", "ben"} {
		_, err := h.svc.DispatchSingle(ctx, id, "ETHEREUM", "ops-1")
		require.Error(t, err, id)
		assert.True(t, apperr.Is(err, apperr.Validation), err.Error())
		assert.True(t, apperr.HasReason(err, apperr.ReasonUnknownAsset), err.Error())
	}
	_, err := h.svc.DispatchBatch(ctx, []string{"eve", "bea"}, "ETHEREUM", "ops-1")
	assert.True(t, apperr.HasReason(err, apperr.ReasonUnknownAsset))

	all, err := h.repo.ListPayments(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, h.sim.Transfers())

	res, err := h.svc.DispatchSingle(ctx, "eve", "ETHEREUM", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, chain.NativeAsset, res.Asset)
	h.dispatcher.Flush()

	native, err := h.sim.Balance(ctx, chain.ZeroAddress, h.sim.SenderAddress())
	require.NoError(t, err)
	assert.True(t, native.Equal(decimal.NewFromInt(95)), native.String())
}

func TestDispatchSingleExhaustedRetriesFails(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 250))
	h.sim.FailBroadcasts(errors.New("timeout"), errors.New("timeout"), errors.New("nonce too low"))
	ctx := context.Background()

	res, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.NoError(t, err)
	h.dispatcher.Flush()

	p, err := h.svc.Payment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "nonce too low", p.FailureReason)
	assert.Empty(t, p.TxHash)
	assert.Equal(t, []string{notification.KindPaymentFailed}, h.inbox.kinds())

	ws, err := h.recorder.Store().Withdrawals(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestBatchPartialFailureReportsFailedMember(t *testing.T) {
	staff := []employee.Employee{
		worker("alice", "0xa11ce", 100),
		worker("bob", "0xb0b", 200),
		worker("carol", "0xca401", 300),
	}
	h := newHarness(t, 1000, staff...)
	h.sim.OnBroadcast(func(tr chain.Transfer) {
		if tr.Recipient == "0xb0b" {
			h.sim.FailBroadcasts(errors.New("execution timeout"))
		}
	})

	jobErrs := make(chan error, 1)
	h.svc.dispatcher = captureDispatcher{next: h.dispatcher, errs: jobErrs}
	ctx := context.Background()

	res, err := h.svc.DispatchBatch(ctx, []string{"alice", "bob", "carol", "bob"}, "ETHEREUM", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.MemberCount)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(600)))
	assert.Empty(t, res.Skipped)

	h.dispatcher.Flush()

	view, err := h.svc.Batch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusPartiallyCompleted, view.Batch.Status)
	assert.Equal(t, 2, view.Batch.SuccessCount)
	assert.Equal(t, 1, view.Batch.FailureCount)
	assert.False(t, view.Batch.CompletedAt.IsZero())
	require.Len(t, view.Members, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{view.Members[0].EmployeeID, view.Members[1].EmployeeID, view.Members[2].EmployeeID})

	bobPayment := view.Members[1]
	require.Len(t, view.Failures, 1)
	assert.Equal(t, bobPayment.ID, view.Failures[0].PaymentID)
	assert.Equal(t, "execution timeout", view.Failures[0].Reason)

	jobErr := <-jobErrs
	var batchErr *BatchError
	require.ErrorAs(t, jobErr, &batchErr)
	assert.Equal(t, res.BatchID, batchErr.BatchID)
	require.Len(t, batchErr.Failures, 1)
	assert.Equal(t, bobPayment.ID, batchErr.Failures[0].PaymentID)
	assert.Equal(t, "execution timeout", batchErr.Failures[0].Reason)
	assert.Contains(t, jobErr.Error(), bobPayment.ID)

	ws, err := h.recorder.Store().Withdrawals(ctx, ledger.Filter{Network: "ETHEREUM"})
	require.NoError(t, err)
	assert.Len(t, ws, 2)
	for _, w := range ws {
		assert.NotEmpty(t, w.PaymentID)
		assert.Empty(t, w.BatchID)
	}
}

func TestBatchSkipsIneligibleAndRejectsBadInput(t *testing.T) {
	inactive := worker("bob", "0xb0b", 10)
	inactive.Status = employee.StatusInactive
	dai := worker("dave", "0xda7e", 10)
	dai.SalaryAsset = "DAI"
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 100), inactive, dai)
	ctx := context.Background()

	_, err := h.svc.DispatchBatch(ctx, nil, "ETHEREUM", "ops-1")
	assert.True(t, apperr.HasReason(err, apperr.ReasonEmptySet))

	_, err = h.svc.DispatchBatch(ctx, []string{"bob", "ghost"}, "ETHEREUM", "ops-1")
	assert.True(t, apperr.HasReason(err, apperr.ReasonEmptySet))

	_, err = h.svc.DispatchBatch(ctx, []string{"alice"}, "TRON", "ops-1")
	assert.True(t, apperr.HasReason(err, apperr.ReasonInvalidNetwork))

	_, err = h.svc.DispatchBatch(ctx, []string{"alice", "dave"}, "ETHEREUM", "ops-1")
	assert.True(t, apperr.HasReason(err, apperr.ReasonMixedAssets))

	res, err := h.svc.DispatchBatch(ctx, []string{"alice", "bob", "ghost"}, "ETHEREUM", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemberCount)
	assert.ElementsMatch(t, []string{"bob", "ghost"}, res.Skipped)
	h.dispatcher.Flush()
}

func TestBatchGateUsesTotal(t *testing.T) {
	h := newHarness(t, 250, worker("alice", "0xa11ce", 100), worker("bob", "0xb0b", 200))
	ctx := context.Background()

	_, err := h.svc.DispatchBatch(ctx, []string{"alice", "bob"}, "ETHEREUM", "ops-1")
	assert.True(t, apperr.Is(err, apperr.InsufficientBalance))

	all, err := h.repo.ListPayments(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "no batch members are created when the gate refuses")
}

func TestRetryCompletedPaymentConflicts(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 250))
	ctx := context.Background()

	res, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.NoError(t, err)
	h.dispatcher.Flush()
	before, err := h.svc.Payment(ctx, res.PaymentID)
	require.NoError(t, err)

	_, err = h.svc.Retry(ctx, res.PaymentID, "ops-2")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.True(t, apperr.HasReason(err, apperr.ReasonNotFailed))

	h.dispatcher.Flush()
	after, err := h.svc.Payment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, h.sim.Transfers(), 1)
}

func TestRetryMissingPayment(t *testing.T) {
	h := newHarness(t, 1000)
	_, err := h.svc.Retry(context.Background(), "00000000-0000-0000-0000-000000000000", "ops-1")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRetryFailedBatchMemberSettlesBatchAgain(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 100), worker("bob", "0xb0b", 200))
	h.sim.FailBroadcasts(nil, errors.New("timeout"), errors.New("timeout"), errors.New("timeout"))
	ctx := context.Background()

	res, err := h.svc.DispatchBatch(ctx, []string{"alice", "bob"}, "ETHEREUM", "ops-1")
	require.NoError(t, err)
	h.dispatcher.Flush()

	view, err := h.svc.Batch(ctx, res.BatchID)
	require.NoError(t, err)
	require.Equal(t, BatchStatusPartiallyCompleted, view.Batch.Status)
	failed := view.Failures[0].PaymentID

	retried, err := h.svc.Retry(ctx, failed, "ops-2")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, retried.Status)
	h.dispatcher.Flush()

	view, err = h.svc.Batch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, view.Batch.Status)
	assert.Equal(t, 2, view.Batch.SuccessCount)
	assert.Equal(t, 0, view.Batch.FailureCount)
	assert.Empty(t, view.Failures)
}

func TestRetryRechecksBalance(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 250))
	h.sim.FailBroadcasts(errors.New("a"), errors.New("b"), errors.New("c"))
	ctx := context.Background()

	res, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.NoError(t, err)
	h.dispatcher.Flush()

	require.NoError(t, h.sim.SetBalance("USDT", decimal.NewFromInt(10)))
	_, err = h.svc.Retry(ctx, res.PaymentID, "ops-1")
	assert.True(t, apperr.Is(err, apperr.InsufficientBalance))

	p, err := h.svc.Payment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "c", p.FailureReason)
}

func TestRejectedSubmitFailsPayment(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 250))
	require.NoError(t, h.dispatcher.Close(context.Background()))
	ctx := context.Background()

	_, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Internal))

	all, err := h.repo.ListPayments(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusFailed, all[0].Status)
	assert.Contains(t, all[0].FailureReason, dispatch.ErrClosed.Error())
}

func TestShutdownFailsQueuedPayments(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 100), worker("bob", "0xb0b", 200))
	ctx := context.Background()

	release := make(chan struct{})
	require.NoError(t, h.dispatcher.Submit("ETHEREUM", "blocker", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
		case <-release:
		}
		return nil
	}))
	single, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.NoError(t, err)
	batch, err := h.svc.DispatchBatch(ctx, []string{"alice", "bob"}, "ETHEREUM", "ops-1")
	require.NoError(t, err)

	shutdown, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.dispatcher.Close(shutdown), context.DeadlineExceeded)
	close(release)

	p, err := h.svc.Payment(ctx, single.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Contains(t, p.FailureReason, dispatch.ErrAbandoned.Error())

	view, err := h.svc.Batch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, view.Batch.Status)
	assert.Equal(t, 2, view.Batch.FailureCount)
	assert.False(t, view.Batch.CompletedAt.IsZero())
	require.Len(t, view.Failures, 2)
	assert.Empty(t, h.sim.Transfers())

	next := dispatch.New(logging.Discard(), nil)
	t.Cleanup(func() { _ = next.Close(context.Background()) })
	h.svc.dispatcher = next

	retried, err := h.svc.Retry(ctx, single.PaymentID, "ops-2")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, retried.Status)
	next.Flush()

	p, err = h.svc.Payment(ctx, single.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestListPaymentsFilters(t *testing.T) {
	h := newHarness(t, 1000, worker("alice", "0xa11ce", 100), worker("bob", "0xb0b", 100))
	ctx := context.Background()

	_, err := h.svc.DispatchSingle(ctx, "alice", "ETHEREUM", "ops-1")
	require.NoError(t, err)
	_, err = h.svc.DispatchBatch(ctx, []string{"bob"}, "ETHEREUM", "ops-1")
	require.NoError(t, err)
	h.dispatcher.Flush()

	all, err := h.svc.ListPayments(ctx, Filter{Network: "ethereum", Status: "completed"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bobs, err := h.svc.ListPayments(ctx, Filter{EmployeeID: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.NotEmpty(t, bobs[0].BatchID)

	none, err := h.svc.ListPayments(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// captureDispatcher forwards jobs and reports the first job error.
type captureDispatcher struct {
	next *dispatch.Dispatcher
	errs chan error
}

func (c captureDispatcher) Submit(key, name string, job dispatch.Job, opts ...dispatch.SubmitOption) error {
	return c.next.Submit(key, name, func(ctx context.Context) error {
		err := job(ctx)
		select {
		case c.errs <- err:
		default:
		}
		return err
	}, opts...)
}
