package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/payroll/internal/bulk"
	"github.com/congo-pay/payroll/internal/config"
	"github.com/congo-pay/payroll/internal/middleware"
	"github.com/congo-pay/payroll/internal/notification"
	"github.com/congo-pay/payroll/internal/payments"
	"github.com/congo-pay/payroll/internal/wallet"
)

// Deps aggregates what route wiring needs. DB, Cache and Inbox are nil in
// development without infrastructure.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  redis.UniversalClient
	Logger *slog.Logger

	Payments *payments.Handler
	Bulk     *bulk.Handler
	Wallets  *wallet.Handler
	Inbox    *notification.RedisNotifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Payments == nil || d.Bulk == nil || d.Wallets == nil {
		return fmt.Errorf("payment, bulk and wallet handlers are required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Actor(!d.Cfg.IsDevelopment()))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterPaymentRoutes(api, d.Payments, d.Bulk)
	RegisterWalletRoutes(api, d.Wallets)
	if d.Inbox != nil {
		RegisterNotificationRoutes(api, d.Inbox)
	}
	return nil
}
