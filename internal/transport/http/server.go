// Package http provides the admin HTTP API of the bot.
package http

import (
	"crypto/subtle"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/RuKapSan/OpenAITGBot/internal/service"
	v1 "github.com/RuKapSan/OpenAITGBot/internal/transport/http/v1"
)

// NewAdminServer creates the admin API server.
// Everything under /v1 requires the bearer token; an empty token locks /v1 entirely.
func NewAdminServer(svc *service.Service, token string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if token == "" {
		slog.Warn("ADMIN_API_TOKEN is empty, admin API routes will reject every request")
	}

	handler := v1.NewHandler(svc)
	e.GET("/health", handler.Health)

	g := e.Group("/v1", middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
		if token == "" {
			return false, nil
		}
		return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
	}))
	handler.RegisterRoutes(g)

	return e
}
