package bulk

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/httpx"
	"github.com/congo-pay/payroll/internal/payments"
)

// Handler exposes the CSV upload endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds a bulk upload handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type entryResponse struct {
	Network     string   `json:"network"`
	BatchID     string   `json:"batch_id,omitempty"`
	MemberCount int      `json:"member_count"`
	EmployeeIDs []string `json:"employee_ids"`
	Batch       any      `json:"batch,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Upload reads the multipart "file" field and dispatches one batch per network.
func (h *Handler) Upload(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "file is required")
	}
	f, err := header.Open()
	if err != nil {
		return apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "cannot read uploaded file")
	}
	defer f.Close()

	rows, err := Parse(f)
	if err != nil {
		return err
	}
	res, err := h.service.Ingest(c.UserContext(), rows, httpx.Actor(c))
	if err != nil {
		return err
	}

	entries := make([]entryResponse, 0, len(res.Entries))
	for _, e := range res.Entries {
		out := entryResponse{
			Network:     e.Network,
			BatchID:     e.BatchID,
			MemberCount: e.MemberCount,
			EmployeeIDs: e.EmployeeIDs,
		}
		if e.Error != nil {
			out.Error = e.Error.Error()
		} else {
			out.Batch = payments.ToBatchResponse(e.Batch)
		}
		entries = append(entries, out)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"batches":    entries,
		"processed":  res.Processed,
		"total_rows": res.TotalRows,
	})
}
