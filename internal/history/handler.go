package history

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the movement history endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds a movement history HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type movementResponse struct {
	ID        string `json:"id"`
	FromUser  string `json:"from_user"`
	ToUser    string `json:"to_user"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// List processes GET /api/movements?id&from&to&lim. lim is a boolean-style
// flag selecting the recent page over the full range.
func (h *Handler) List(c *fiber.Ctx) error {
	userID := c.Query("id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "id is required")
	}
	from, err := parseTime(c.Query("from"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid from")
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid to")
	}
	recentOnly := c.QueryBool("lim", false)

	entries, err := h.service.List(c.UserContext(), userID, from, to, recentOnly)
	if err != nil {
		return err
	}

	movements := make([]movementResponse, 0, len(entries))
	for _, e := range entries {
		movements = append(movements, movementResponse{
			ID:        e.ID,
			FromUser:  e.FromUser,
			ToUser:    e.ToUser,
			Amount:    e.Amount,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":   true,
		"message":   "movements retrieved",
		"movements": movements,
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
