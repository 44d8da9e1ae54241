package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mkravets/signalhub/internal/application/config"
	"github.com/mkravets/signalhub/internal/application/constant"
	"github.com/mkravets/signalhub/internal/application/metric"
	"github.com/mkravets/signalhub/internal/infra/adapters/memory"
	"github.com/mkravets/signalhub/internal/infra/ports/http/handlers"
	"github.com/mkravets/signalhub/internal/infra/ports/http/server"
	"github.com/mkravets/signalhub/internal/infra/ports/turn"
	"github.com/mkravets/signalhub/internal/usecase"
)

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info("Running app", slog.Bool("debug", cfg.Debug))

	connRepo := memory.NewConnectionRepository()
	roomRepo := memory.NewRoomRepository()

	signalingUsecase := usecase.NewSignalingUsecase(connRepo, roomRepo)

	iceHandler := handlers.NewIceHandler(cfg)
	wsHandler := handlers.NewWebSocketHandler(cfg, signalingUsecase)

	echoSrv := server.New(cfg, iceHandler, wsHandler)

	metricsSrv := metric.NewServer()

	if cfg.Turn.Enabled {
		turnSrv, err := turn.Start(cfg)
		if err != nil {
			slog.Error("start turn server", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer turnSrv.Close()
	}

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.MetricsPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server due to context cancel")
	case err := <-echoSrvCh:
		slog.Error("HTTP server failed", slog.Any(constant.Error, err))
	case err := <-metricsSrvCh:
		slog.Error("metrics server failed", slog.Any(constant.Error, err))
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metrics server", slog.Any(constant.Error, err))
	}
}
