package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nova-wallet/nova_ledger/internal/identity"
)

// RegisterAccountRoutes wires ledger enrollment, called by the identity
// collaborator when a wallet user registers.
func RegisterAccountRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/accounts", h.Register)
}
