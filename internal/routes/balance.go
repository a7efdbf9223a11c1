package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nova-wallet/nova_ledger/internal/balance"
)

// RegisterBalanceRoutes wires the balance query endpoint.
func RegisterBalanceRoutes(r fiber.Router, h *balance.Handler) {
	r.Get("/balance", h.Get)
}
