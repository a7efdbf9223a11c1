package balance

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the balance query endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds a balance HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Get processes GET /api/balance?user_id&from_time&to_time. Only the upper
// bound affects the result: a balance is a point-in-time value, so to_time
// selects the instant and from_time is accepted for interface compatibility.
func (h *Handler) Get(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id is required")
	}
	asOf, err := parseTime(c.Query("to_time"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid to_time")
	}

	b, err := h.service.Get(c.UserContext(), userID, asOf)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":  true,
		"message":  "balance retrieved",
		"balance":  b.Amount,
		"currency": b.Currency,
	})
}

// parseTime accepts RFC3339 or unix seconds; empty means unset.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
