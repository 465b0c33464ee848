package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

type addBalanceRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type refundRequest struct {
	UserID   int64  `json:"user_id"`
	ChargeID string `json:"charge_id"`
}

// GetBalance returns the user's prepaid generations.
func (h *Handler) GetBalance(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	balance, err := h.service.GetBalance(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"user_id": userID, "balance": int64(balance)})
}

// AddBalance grants prepaid generations to a user.
func (h *Handler) AddBalance(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	var req addBalanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Amount <= 0 {
		return writeError(c, &domain.ValidationError{Field: "amount", Message: "must be positive"})
	}
	if req.Reason == "" {
		req.Reason = "admin api"
	}
	balance, err := h.service.AddBalance(c.Request().Context(), userID, req.Amount, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"user_id": userID, "balance": int64(balance)})
}

// ListPayments returns the user's recent payments, newest first.
func (h *Handler) ListPayments(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	payments, err := h.service.UserPayments(c.Request().Context(), userID, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payments": payments})
}

// Refund returns a charge to the user. Repeating it is harmless.
func (h *Handler) Refund(c echo.Context) error {
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserID <= 0 {
		return writeError(c, &domain.ValidationError{Field: "user_id", Message: "must be positive"})
	}
	result, err := h.service.Refund(c.Request().Context(), req.UserID, req.ChargeID)
	if err != nil {
		return writeError(c, err)
	}
	resp := map[string]interface{}{
		"charge_id":        req.ChargeID,
		"already_refunded": result.AlreadyRefunded,
	}
	if result.Payment != nil {
		resp["payment"] = result.Payment
	}
	return c.JSON(http.StatusOK, resp)
}
