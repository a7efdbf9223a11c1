package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "ledger:idem:v1:"
	inProgressMarker     = "__in_progress__"
	redisOpTimeout       = 2 * time.Second
)

type replayEnvelope struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Idempotency replays stored responses for retried unsafe requests carrying
// the same Idempotency-Key header. Only successful responses are stored;
// failed attempts release the key so the client may retry. The ledger store
// additionally deduplicates by request id, so this layer exists to spare
// retries the full processing cost.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			// The key is optional; the ledger's own request-id dedup still
			// protects retried transfers.
			return c.Next()
		}
		cacheKey := idempotencyPrefix + key

		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey).Result()
		switch {
		case err == nil && cached == inProgressMarker:
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		case err == nil:
			var stored replayEnvelope
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				logger.Warn("stored idempotent response unreadable", "key", key, "error", err)
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(stored.Status).SendString(stored.Body)
		case err != redis.Nil:
			logger.Error("idempotency lookup failed", "key", key, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		if err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Err(); err != nil {
			logger.Error("idempotency reservation failed", "key", key, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		handlerErr := c.Next()
		status := c.Response().StatusCode()

		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cleanupCancel()

		if handlerErr != nil || status >= fiber.StatusMultipleChoices {
			cache.Del(cleanupCtx, cacheKey) // release so the client may retry
			return handlerErr
		}

		payload, err := json.Marshal(replayEnvelope{Status: status, Body: string(c.Response().Body())})
		if err != nil {
			logger.Error("encode idempotent response", "key", key, "error", err)
			cache.Del(cleanupCtx, cacheKey)
			return nil
		}
		if err := cache.Set(cleanupCtx, cacheKey, payload, ttl).Err(); err != nil {
			logger.Error("persist idempotent response", "key", key, "error", err)
			cache.Del(cleanupCtx, cacheKey)
		}
		return nil
	}
}
