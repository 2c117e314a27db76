package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/bulk"
	"github.com/congo-pay/payroll/internal/payments"
)

// RegisterPaymentRoutes wires payment dispatch and query endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, upload *bulk.Handler) {
	r.Post("/payments/single", h.Single)
	r.Post("/payments/batch", h.Batch)
	r.Post("/payments/batch/upload", upload.Upload)
	r.Post("/payments/retry/:id", h.Retry)
	r.Get("/payments", h.List)
	r.Get("/payments/batch/:batchId", h.GetBatch)
	r.Get("/payments/:id", h.Get)
}
