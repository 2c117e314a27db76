package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/httpx"
)

const (
	// IdempotencyKeyHeader lets operators replay a dispatch request safely.
	IdempotencyKeyHeader = "Idempotency-Key"

	idempotencyPrefix = "idempotency:v1:"
	inProgressMarker  = "__in_progress__"
	redisTimeout      = 2 * time.Second
)

type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
}

// Idempotency replays the stored response of a mutating request that carries
// an Idempotency-Key already seen for the same actor, method and path.
// Requests without the header pass through. Only successful responses are
// stored, so a rejected dispatch can be corrected and sent again.
func Idempotency(cache redis.UniversalClient, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		key := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
		if key == "" {
			return c.Next()
		}
		cacheKey := scopedKey(httpx.Actor(c), c.Method(), c.Path(), key)
		log := logger.With("idempotency_key", key, "path", c.Path())

		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey).Result()
		switch {
		case err == nil:
			if cached == inProgressMarker {
				return apperr.New(apperr.Conflict, apperr.ReasonRequestInProgress, "a request with this Idempotency-Key is still being processed")
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				log.Warn("stored idempotent response unreadable", "error", err)
				return apperr.New(apperr.Conflict, apperr.ReasonDuplicateRequest, "duplicate request")
			}
			c.Set("Idempotent-Replayed", "true")
			if stored.ContentType != "" {
				c.Set(fiber.HeaderContentType, stored.ContentType)
			}
			return c.Status(stored.Status).SendString(stored.Body)
		case !errors.Is(err, redis.Nil):
			log.Error("idempotency lookup failed", "error", err)
			return apperr.Wrap(err, apperr.Internal, "", "idempotency store unavailable")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			log.Error("idempotency reservation failed", "error", err)
			return apperr.Wrap(err, apperr.Internal, "", "idempotency store unavailable")
		}
		if !reserved {
			return apperr.New(apperr.Conflict, apperr.ReasonRequestInProgress, "a request with this Idempotency-Key is still being processed")
		}

		release := func() {
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			defer cancel()
			if err := cache.Del(ctx, cacheKey).Err(); err != nil {
				log.Warn("idempotency release failed", "error", err)
			}
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}
		status := c.Response().StatusCode()
		if status >= fiber.StatusBadRequest {
			release()
			return nil
		}

		payload, err := json.Marshal(storedResponse{
			Status:      status,
			Body:        string(c.Response().Body()),
			ContentType: string(c.Response().Header.ContentType()),
		})
		if err != nil {
			release()
			log.Error("idempotent response not encodable", "error", err)
			return nil
		}
		persistCtx, persistCancel := context.WithTimeout(context.Background(), redisTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			release()
			log.Error("idempotent response not persisted", "error", err)
		}
		return nil
	}
}

func scopedKey(actor, method, path, key string) string {
	sum := sha256.Sum256([]byte(actor + "\x00" + method + "\x00" + path + "\x00" + key))
	return idempotencyPrefix + hex.EncodeToString(sum[:])
}
