package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/wallet"
)

// RegisterWalletRoutes wires balance and ledger endpoints of the sending wallets.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets/:network/balances", h.Balances)
	r.Get("/wallets/:network/balances/:asset", h.Balance)
	r.Get("/wallets/:network/withdrawals", h.Withdrawals)
	r.Get("/wallets/:network/deposits", h.Deposits)
	r.Post("/wallets/:network/deposits", h.RecordDeposit)
	r.Get("/wallets/:network/reconcile", h.Reconcile)
}
