package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/httpx"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type singleRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Network    string `json:"network" validate:"required"`
}

type batchRequest struct {
	EmployeeIDs []string `json:"employee_ids"`
	Network     string   `json:"network" validate:"required"`
}

type dispatchResponse struct {
	PaymentID  string          `json:"payment_id"`
	EmployeeID string          `json:"employee_id"`
	Amount     decimal.Decimal `json:"amount"`
	Asset      string          `json:"asset"`
	Network    string          `json:"network"`
	Status     string          `json:"status"`
}

type batchResponse struct {
	BatchID     string          `json:"batch_id"`
	MemberCount int             `json:"member_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Asset       string          `json:"asset"`
	Network     string          `json:"network"`
	Status      string          `json:"status"`
	Skipped     []string        `json:"skipped,omitempty"`
}

type paymentResponse struct {
	ID            string          `json:"id"`
	EmployeeID    string          `json:"employee_id"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	Asset         string          `json:"asset"`
	Network       string          `json:"network"`
	Status        string          `json:"status"`
	BatchID       string          `json:"batch_id,omitempty"`
	TxHash        string          `json:"tx_hash,omitempty"`
	BlockNumber   uint64          `json:"block_number,omitempty"`
	GasUsed       string          `json:"gas_used,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type failureResponse struct {
	PaymentID  string `json:"payment_id"`
	EmployeeID string `json:"employee_id"`
	Reason     string `json:"reason"`
}

type batchViewResponse struct {
	ID           string            `json:"id"`
	TotalAmount  decimal.Decimal   `json:"total_amount"`
	Asset        string            `json:"asset"`
	Network      string            `json:"network"`
	MemberCount  int               `json:"member_count"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Status       string            `json:"status"`
	CreatedBy    string            `json:"created_by"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Payments     []paymentResponse `json:"payments"`
	Failures     []failureResponse `json:"failures"`
}

// Single dispatches one employee's salary.
func (h *Handler) Single(c *fiber.Ctx) error {
	var req singleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.DispatchSingle(c.UserContext(), req.EmployeeID, req.Network, httpx.Actor(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(toDispatchResponse(res))
}

// Batch dispatches a batch of employees on one network.
func (h *Handler) Batch(c *fiber.Ctx) error {
	var req batchRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.DispatchBatch(c.UserContext(), req.EmployeeIDs, req.Network, httpx.Actor(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(ToBatchResponse(res))
}

// Retry re-dispatches a failed payment.
func (h *Handler) Retry(c *fiber.Ctx) error {
	res, err := h.service.Retry(c.UserContext(), c.Params("id"), httpx.Actor(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(toDispatchResponse(res))
}

// Get returns one payment.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.service.Payment(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(p))
}

// List returns payments filtered by status, network, employee and batch.
func (h *Handler) List(c *fiber.Ctx) error {
	limit, offset, err := httpx.Page(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListPayments(c.UserContext(), Filter{
		Status:     c.Query("status"),
		Network:    c.Query("network"),
		EmployeeID: c.Query("employee_id"),
		BatchID:    c.Query("batch_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	out := make([]paymentResponse, 0, len(items))
	for _, p := range items {
		out = append(out, toPaymentResponse(p))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"payments": out, "limit": limit, "offset": offset})
}

// GetBatch returns a batch with its members and failures.
func (h *Handler) GetBatch(c *fiber.Ctx) error {
	view, err := h.service.Batch(c.UserContext(), c.Params("batchId"))
	if err != nil {
		return err
	}
	b := view.Batch
	out := batchViewResponse{
		ID:           b.ID,
		TotalAmount:  b.TotalAmount,
		Asset:        b.Asset,
		Network:      b.Network,
		MemberCount:  b.MemberCount,
		SuccessCount: b.SuccessCount,
		FailureCount: b.FailureCount,
		Status:       b.Status,
		CreatedBy:    b.CreatedBy,
		CompletedAt:  optionalTime(b.CompletedAt),
		CreatedAt:    b.CreatedAt,
		Payments:     make([]paymentResponse, 0, len(view.Members)),
		Failures:     make([]failureResponse, 0, len(view.Failures)),
	}
	for _, m := range view.Members {
		out.Payments = append(out.Payments, toPaymentResponse(m))
	}
	for _, f := range view.Failures {
		out.Failures = append(out.Failures, failureResponse{PaymentID: f.PaymentID, EmployeeID: f.EmployeeID, Reason: f.Reason})
	}
	return c.Status(http.StatusOK).JSON(out)
}

func toDispatchResponse(r DispatchResult) dispatchResponse {
	return dispatchResponse{
		PaymentID:  r.PaymentID,
		EmployeeID: r.EmployeeID,
		Amount:     r.Amount,
		Asset:      r.Asset,
		Network:    r.Network,
		Status:     r.Status,
	}
}

// ToBatchResponse renders a queued batch. The bulk upload handler shares it.
func ToBatchResponse(r BatchResult) any {
	return batchResponse{
		BatchID:     r.BatchID,
		MemberCount: r.MemberCount,
		TotalAmount: r.TotalAmount,
		Asset:       r.Asset,
		Network:     r.Network,
		Status:      r.Status,
		Skipped:     r.Skipped,
	}
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		EmployeeID:    p.EmployeeID,
		WalletAddress: p.WalletAddress,
		Amount:        p.Amount,
		Asset:         p.Asset,
		Network:       p.Network,
		Status:        p.Status,
		BatchID:       p.BatchID,
		TxHash:        p.TxHash,
		BlockNumber:   p.BlockNumber,
		GasUsed:       p.GasUsed,
		FailureReason: p.FailureReason,
		CompletedAt:   optionalTime(p.CompletedAt),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
