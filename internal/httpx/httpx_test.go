package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/payroll/internal/apperr"
)

type dispatchBody struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	RetryCount int    `validate:"min=1"`
}

func bindErr(t *testing.T, body string) error {
	t.Helper()
	var got error
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		var dst dispatchBody
		got = Bind(c, &dst)
		return nil
	})
	req := httptest.NewRequest(fiber.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	_, err := app.Test(req)
	require.NoError(t, err)
	return got
}

func TestBindNamesFieldsLikeTheBody(t *testing.T) {
	err := bindErr(t, `{"RetryCount":1}`)
	require.Error(t, err)
	assert.True(t, apperr.HasReason(err, apperr.ReasonInvalidInput))
	assert.Equal(t, "employee_id is required", err.Error())

	err = bindErr(t, `{"employee_id":"e-1","RetryCount":0}`)
	require.Error(t, err)
	assert.Equal(t, "retry_count must contain at least 1 item(s)", err.Error())

	err = bindErr(t, `{not json`)
	assert.Equal(t, "invalid request body", err.Error())

	assert.NoError(t, bindErr(t, `{"employee_id":"e-1","RetryCount":2}`))
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "employee_id", toSnake("EmployeeID"))
	assert.Equal(t, "batch_id", toSnake("BatchID"))
	assert.Equal(t, "network", toSnake("Network"))
}
