package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/apperr"
)

// Payment statuses.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Batch statuses. A batch shares PROCESSING, COMPLETED and FAILED with payments.
const (
	BatchStatusPartiallyCompleted = "PARTIALLY_COMPLETED"
)

// ErrNotFound is returned when a payment or batch does not exist.
var ErrNotFound = errors.New("not found")

// Payment is one transfer to one employee.
type Payment struct {
	ID            string
	EmployeeID    string
	WalletAddress string
	Amount        decimal.Decimal
	Asset         string
	Network       string
	Status        string
	BatchID       string
	TxHash        string
	BlockNumber   uint64
	GasUsed       string
	FailureReason string
	CompletedAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Batch groups payments of one asset on one network.
type Batch struct {
	ID           string
	TotalAmount  decimal.Decimal
	Asset        string
	Network      string
	MemberCount  int
	SuccessCount int
	FailureCount int
	Status       string
	CreatedBy    string
	CompletedAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Confirmation carries the on-chain details of a completed transfer.
type Confirmation struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     string
}

// Complete moves a processing payment to COMPLETED. Afterwards the payment
// never changes again.
func (p *Payment) Complete(c Confirmation, at time.Time) error {
	if p.Status != StatusProcessing {
		return transitionError(p.ID, p.Status, StatusCompleted)
	}
	p.Status = StatusCompleted
	p.TxHash = c.TxHash
	p.BlockNumber = c.BlockNumber
	p.GasUsed = c.GasUsed
	p.FailureReason = ""
	p.CompletedAt = at
	p.UpdatedAt = at
	return nil
}

// Fail moves a processing payment to FAILED with reason.
func (p *Payment) Fail(reason string, at time.Time) error {
	if p.Status != StatusProcessing {
		return transitionError(p.ID, p.Status, StatusFailed)
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = at
	return nil
}

// Reopen returns a failed payment to PROCESSING for another run.
func (p *Payment) Reopen(at time.Time) error {
	if p.Status != StatusFailed {
		return apperr.New(apperr.Conflict, apperr.ReasonNotFailed, "Only failed payments can be retried")
	}
	p.Status = StatusProcessing
	p.FailureReason = ""
	p.UpdatedAt = at
	return nil
}

// Terminal reports whether the payment reached an end state.
func (p *Payment) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// RecordOutcome counts one member's terminal outcome. When every member is
// accounted for the batch status is derived and the batch completed.
func (b *Batch) RecordOutcome(success bool, at time.Time) error {
	if b.SuccessCount+b.FailureCount >= b.MemberCount {
		return apperr.New(apperr.Conflict, apperr.ReasonBatchSettled, "batch %s has no outstanding members", b.ID)
	}
	if success {
		b.SuccessCount++
	} else {
		b.FailureCount++
	}
	b.UpdatedAt = at
	if b.SuccessCount+b.FailureCount == b.MemberCount {
		b.Status = DeriveStatus(b.SuccessCount, b.FailureCount)
		b.CompletedAt = at
	}
	return nil
}

// Reopen takes back one failure so the member can be retried.
func (b *Batch) Reopen(at time.Time) error {
	if b.FailureCount == 0 {
		return apperr.New(apperr.Conflict, apperr.ReasonNotFailed, "batch %s has no failed members", b.ID)
	}
	b.FailureCount--
	b.Status = StatusProcessing
	b.CompletedAt = time.Time{}
	b.UpdatedAt = at
	return nil
}

// DeriveStatus computes a settled batch status from its counters.
func DeriveStatus(success, failure int) string {
	switch {
	case failure == 0:
		return StatusCompleted
	case success == 0:
		return StatusFailed
	default:
		return BatchStatusPartiallyCompleted
	}
}

func transitionError(id, from, to string) error {
	return apperr.New(apperr.Conflict, apperr.ReasonInvalidTransition, "payment %s cannot move from %s to %s", id, from, to)
}
