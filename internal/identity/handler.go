package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes ledger enrollment over HTTP.
type Handler struct {
	service *Service
}

// NewHandler builds an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Register processes POST /api/accounts: it enrolls the user and opens their
// ledger account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	user, err := h.service.Register(c.UserContext(), RegisterInput{
		UserID:   req.UserID,
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "account opened",
		"user_id": user.ID,
	})
}
