package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
	"github.com/RuKapSan/OpenAITGBot/internal/service"
)

// Handler handles admin API requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the authenticated routes on the /v1 group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/queue", h.GetQueue)
	g.POST("/queue/pause", h.PauseQueue)
	g.POST("/queue/resume", h.ResumeQueue)
	g.GET("/queue/position/:session_id", h.GetPosition)

	g.GET("/users/:user_id/balance", h.GetBalance)
	g.POST("/users/:user_id/balance", h.AddBalance)
	g.GET("/users/:user_id/payments", h.ListPayments)
	g.GET("/users/:user_id/queue", h.ListUserQueue)

	g.POST("/refunds", h.Refund)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func userIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "user_id", Message: "must be a positive integer"}
	}
	return id, nil
}

// writeError maps service errors to HTTP status codes.
func writeError(c echo.Context, err error) error {
	var verr *domain.ValidationError
	var rerr *domain.RefundError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &rerr):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyQueued), errors.Is(err, domain.ErrDuplicatePayment):
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
