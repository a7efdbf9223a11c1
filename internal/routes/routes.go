package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nova-wallet/nova_ledger/internal/balance"
	"github.com/nova-wallet/nova_ledger/internal/config"
	"github.com/nova-wallet/nova_ledger/internal/history"
	"github.com/nova-wallet/nova_ledger/internal/identity"
	"github.com/nova-wallet/nova_ledger/internal/ledger"
	"github.com/nova-wallet/nova_ledger/internal/middleware"
	"github.com/nova-wallet/nova_ledger/internal/notification"
	"github.com/nova-wallet/nova_ledger/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes. Nil DB/Cache
// select the in-memory backends, allowed only in development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.Dev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgres(d.DB, d.Cfg.LockWait, d.Logger)
	} else {
		store = ledger.NewMemory(d.Cfg.LockWait)
	}
	if err := ledger.EnsureSystemAccount(context.Background(), store); err != nil {
		return fmt.Errorf("ensure system account: %w", err)
	}

	var users identity.Repository
	if d.DB != nil {
		users = identity.NewPostgresRepository(d.DB)
	} else {
		users = identity.NewMemoryRepository()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	transferSvc := transfer.NewService(store, notifier, d.Logger)
	balanceSvc := balance.NewService(store, d.Cfg.Currency)
	historySvc := history.NewService(store, users)
	identitySvc := identity.NewService(users, store)

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterTransferRoutes(api, transfer.NewHandler(transferSvc))
	RegisterBalanceRoutes(api, balance.NewHandler(balanceSvc))
	RegisterMovementRoutes(api, history.NewHandler(historySvc))
	RegisterAccountRoutes(api, identity.NewHandler(identitySvc))

	return nil
}
