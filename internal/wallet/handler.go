package wallet

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/chain"
	"github.com/congo-pay/payroll/internal/httpx"
	"github.com/congo-pay/payroll/internal/ledger"
)

// Handler exposes wallet balance and ledger HTTP endpoints.
type Handler struct {
	service  *Service
	recorder *ledger.Recorder
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, recorder *ledger.Recorder) *Handler {
	return &Handler{service: service, recorder: recorder}
}

type depositRequest struct {
	TxHash      string          `json:"tx_hash" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Asset       string          `json:"asset" validate:"required"`
	ConfirmedAt *time.Time      `json:"confirmed_at"`
}

type withdrawalResponse struct {
	ID          string          `json:"id"`
	Network     string          `json:"network"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	Recipient   string          `json:"recipient"`
	Kind        string          `json:"kind"`
	Actor       string          `json:"actor"`
	PaymentID   string          `json:"payment_id,omitempty"`
	BatchID     string          `json:"batch_id,omitempty"`
	ConfirmedAt time.Time       `json:"confirmed_at"`
}

type depositResponse struct {
	ID          string          `json:"id"`
	Network     string          `json:"network"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	DepositedBy string          `json:"deposited_by"`
	ConfirmedAt time.Time       `json:"confirmed_at"`
}

type reconcileResponse struct {
	Network   string          `json:"network"`
	Asset     string          `json:"asset"`
	Deposited decimal.Decimal `json:"deposited"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Net       decimal.Decimal `json:"net"`
	OnChain   decimal.Decimal `json:"on_chain"`
	Drift     decimal.Decimal `json:"drift"`
	AsOf      time.Time       `json:"as_of"`
}

// Balances returns every tracked balance of the network's sending wallet.
func (h *Handler) Balances(c *fiber.Ctx) error {
	snaps, err := h.service.Balances(c.UserContext(), c.Params("network"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"network": strings.ToUpper(c.Params("network")), "balances": snaps})
}

// Balance returns one asset balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	snap, err := h.service.Balance(c.UserContext(), c.Params("network"), c.Params("asset"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(snap)
}

// Withdrawals lists recorded withdrawals for the network.
func (h *Handler) Withdrawals(c *fiber.Ctx) error {
	network, err := h.network(c)
	if err != nil {
		return err
	}
	filter, err := h.ledgerFilter(c, network)
	if err != nil {
		return err
	}
	items, err := h.recorder.Store().Withdrawals(c.UserContext(), filter)
	if err != nil {
		return err
	}
	out := make([]withdrawalResponse, 0, len(items))
	for _, w := range items {
		out = append(out, withdrawalResponse{
			ID: w.ID, Network: w.Network, Asset: w.Asset, Amount: w.Amount, TxHash: w.TxHash,
			Recipient: w.Recipient, Kind: w.Kind, Actor: w.Actor, PaymentID: w.PaymentID,
			BatchID: w.BatchID, ConfirmedAt: w.ConfirmedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"withdrawals": out, "limit": filter.Limit, "offset": filter.Offset})
}

// Deposits lists recorded deposits for the network.
func (h *Handler) Deposits(c *fiber.Ctx) error {
	network, err := h.network(c)
	if err != nil {
		return err
	}
	filter, err := h.ledgerFilter(c, network)
	if err != nil {
		return err
	}
	items, err := h.recorder.Store().Deposits(c.UserContext(), filter)
	if err != nil {
		return err
	}
	out := make([]depositResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toDepositResponse(d))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"deposits": out, "limit": filter.Limit, "offset": filter.Offset})
}

// RecordDeposit registers an incoming transfer to the sending wallet.
func (h *Handler) RecordDeposit(c *fiber.Ctx) error {
	network, err := h.network(c)
	if err != nil {
		return err
	}
	var req depositRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if !req.Amount.IsPositive() {
		return apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "amount must be positive")
	}
	asset, err := h.service.Asset(network, req.Asset)
	if err != nil {
		return err
	}
	d := ledger.Deposit{
		Network:     network,
		Asset:       asset,
		Amount:      req.Amount,
		TxHash:      req.TxHash,
		DepositedBy: httpx.Actor(c),
	}
	if req.ConfirmedAt != nil {
		d.ConfirmedAt = req.ConfirmedAt.UTC()
	}
	saved, err := h.recorder.RecordDeposit(c.UserContext(), d)
	switch {
	case errors.Is(err, ledger.ErrDuplicateEntry):
		return apperr.Wrap(err, apperr.Conflict, apperr.ReasonDuplicateDeposit, "deposit %s already recorded", req.TxHash)
	case errors.Is(err, ledger.ErrInvalidEntry):
		return apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "%s", err.Error())
	case err != nil:
		return err
	}
	return c.Status(http.StatusCreated).JSON(toDepositResponse(saved))
}

// Reconcile compares ledger totals with the on-chain balance for one asset.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	network, err := h.network(c)
	if err != nil {
		return err
	}
	asset, err := h.service.Asset(network, c.Query("asset", chain.NativeAsset))
	if err != nil {
		return err
	}
	report, err := h.recorder.Reconcile(c.UserContext(), network, asset)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(reconcileResponse{
		Network:   report.Network,
		Asset:     report.Asset,
		Deposited: report.Deposited,
		Withdrawn: report.Withdrawn,
		Net:       report.Net,
		OnChain:   report.OnChain,
		Drift:     report.Drift,
		AsOf:      report.AsOf,
	})
}

func (h *Handler) network(c *fiber.Ctx) (string, error) {
	name, ok := h.service.registry.Normalize(c.Params("network"))
	if !ok {
		return "", apperr.New(apperr.Validation, apperr.ReasonInvalidNetwork, "Invalid network: %s", c.Params("network"))
	}
	return name, nil
}

func (h *Handler) ledgerFilter(c *fiber.Ctx, network string) (ledger.Filter, error) {
	limit, offset, err := httpx.Page(c)
	if err != nil {
		return ledger.Filter{}, err
	}
	f := ledger.Filter{Network: network, Kind: strings.ToUpper(c.Query("kind")), Limit: limit, Offset: offset}
	if a := c.Query("asset"); a != "" {
		if f.Asset, err = h.service.Asset(network, a); err != nil {
			return ledger.Filter{}, err
		}
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Filter{}, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "invalid %s date: %s", key, v)
		}
		*dst = t
	}
	return f, nil
}

func toDepositResponse(d ledger.Deposit) depositResponse {
	return depositResponse{
		ID: d.ID, Network: d.Network, Asset: d.Asset, Amount: d.Amount,
		TxHash: d.TxHash, DepositedBy: d.DepositedBy, ConfirmedAt: d.ConfirmedAt,
	}
}
