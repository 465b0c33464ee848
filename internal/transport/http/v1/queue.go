package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetQueue returns per-status counts and the runtime state of the worker.
func (h *Handler) GetQueue(c echo.Context) error {
	stats, err := h.service.QueueStats(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) PauseQueue(c echo.Context) error {
	h.service.Pause()
	return c.JSON(http.StatusOK, map[string]bool{"paused": true})
}

func (h *Handler) ResumeQueue(c echo.Context) error {
	h.service.Resume()
	return c.JSON(http.StatusOK, map[string]bool{"paused": false})
}

// GetPosition reports where a session waits. Sessions that are running or
// finished come back with queued=false.
func (h *Handler) GetPosition(c echo.Context) error {
	sessionID := c.Param("session_id")
	pos, ok, err := h.service.Position(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"queued":     ok,
		"position":   pos,
	})
}

// ListUserQueue lists a user's waiting and running entries.
func (h *Handler) ListUserQueue(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	entries, err := h.service.UserQueueEntries(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}
