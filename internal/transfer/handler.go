package transfer

import (
	"math"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the money-movement HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a transfer HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromUser  string  `json:"from_user"`
	ToUser    string  `json:"to_user"`
	Amount    float64 `json:"amount"`
	Email     string  `json:"email"`
	RequestID string  `json:"request_id"`
}

type fundingRequest struct {
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Email     string  `json:"email"`
	RequestID string  `json:"request_id"`
}

// Create processes POST /api/transfers.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return err
	}

	if _, err := h.service.Transfer(c.UserContext(), Input{
		FromUser:  req.FromUser,
		ToUser:    req.ToUser,
		Amount:    amount,
		Email:     req.Email,
		RequestID: req.RequestID,
	}); err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "transfer committed",
	})
}

// Deposit processes POST /api/deposits.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req fundingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return err
	}

	if _, err := h.service.Deposit(c.UserContext(), req.UserID, amount, req.Email, req.RequestID); err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "deposit committed",
	})
}

// Withdraw processes POST /api/withdrawals.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req fundingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return err
	}

	if _, err := h.service.Withdraw(c.UserContext(), req.UserID, amount, req.Email, req.RequestID); err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "withdrawal committed",
	})
}

// minorUnits validates a wire amount: positive, finite and an integral number
// of minor currency units (COP carries no fractional subunit).
func minorUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fiber.NewError(http.StatusBadRequest, "amount must be finite")
	}
	if amount <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "amount must be positive")
	}
	// float64(MaxInt64) rounds up to 2^63, so the boundary itself is already
	// out of range for int64.
	if amount != math.Trunc(amount) || amount >= math.MaxInt64 {
		return 0, fiber.NewError(http.StatusBadRequest, "amount must be a whole number of minor units")
	}
	return int64(amount), nil
}
