package server

import (
	"github.com/labstack/echo/v4"

	"github.com/mkravets/signalhub/internal/application/config"
	"github.com/mkravets/signalhub/internal/infra/ports/http/handlers"
	"github.com/mkravets/signalhub/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	iceHandler *handlers.IceHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/ws", wsHandler.Handle)
		}
	}

	e.Static("/", cfg.StaticDir)

	return e
}
