package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nova-wallet/nova_ledger/internal/history"
)

// RegisterMovementRoutes wires the movement history endpoint.
func RegisterMovementRoutes(r fiber.Router, h *history.Handler) {
	r.Get("/movements", h.List)
}
