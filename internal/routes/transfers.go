package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nova-wallet/nova_ledger/internal/transfer"
)

// RegisterTransferRoutes wires the money-movement endpoints. Deposits and
// withdrawals ride the same processor with the reserved bank account as
// counterparty.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Create)
	r.Post("/deposits", h.Deposit)
	r.Post("/withdrawals", h.Withdraw)
}
