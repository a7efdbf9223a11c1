package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nova-wallet/nova_ledger/internal/config"
	"github.com/nova-wallet/nova_ledger/internal/identity"
	"github.com/nova-wallet/nova_ledger/internal/ledger"
	"github.com/nova-wallet/nova_ledger/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to
// routes.Setup. db and cache may be nil in development, selecting the
// in-memory backends.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	if err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler maps domain errors to HTTP statuses and renders every failure
// as the {success, message} envelope the frontend contract expects.
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidOperation), errors.Is(err, ledger.ErrInsufficientFunds):
		status = fiber.StatusBadRequest
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, identity.ErrUserExists):
		status = fiber.StatusConflict
	case errors.Is(err, ledger.ErrTimeout), errors.Is(err, ledger.ErrRolledBack):
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}
