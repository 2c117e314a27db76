package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/payroll/internal/httpx"
	"github.com/congo-pay/payroll/internal/logging"
)

func setupTestApp(t *testing.T, status int) (*fiber.App, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls atomic.Int32
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/payments/single", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(status).JSON(fiber.Map{"call": n})
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, key, actor string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/payments/single", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if actor != "" {
		req.Header.Set(httpx.ActorHeader, actor)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusAccepted)

	post(t, app, "", "")
	post(t, app, "", "")
	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls.Load())
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusAccepted)

	status, first := post(t, app, "abc123", "ops-1")
	if status != fiber.StatusAccepted {
		t.Fatalf("expected %d got %d", fiber.StatusAccepted, status)
	}
	status, second := post(t, app, "abc123", "ops-1")
	if status != fiber.StatusAccepted {
		t.Fatalf("expected replayed %d got %d", fiber.StatusAccepted, status)
	}
	if first != second {
		t.Fatalf("expected replayed body %s got %s", first, second)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
}

func TestIdempotencyKeysAreScopedPerActor(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusAccepted)

	post(t, app, "same-key", "ops-1")
	post(t, app, "same-key", "ops-2")
	if calls.Load() != 2 {
		t.Fatalf("expected separate actors not to share a key, handler ran %d", calls.Load())
	}
}

func TestIdempotencyDoesNotStoreRejections(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusUnprocessableEntity)

	post(t, app, "retry-me", "ops-1")
	post(t, app, "retry-me", "ops-1")
	if calls.Load() != 2 {
		t.Fatalf("expected rejected request to be re-run, handler ran %d", calls.Load())
	}
}
