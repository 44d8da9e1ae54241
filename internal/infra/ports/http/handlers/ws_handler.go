package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mkravets/signalhub/internal/application/config"
	"github.com/mkravets/signalhub/internal/application/constant"
	"github.com/mkravets/signalhub/internal/infra/adapters/memory"
	"github.com/mkravets/signalhub/internal/usecase"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	signalingUsecase usecase.SignalingUsecase
}

func NewWebSocketHandler(cfg *config.Config, signalingUsecase usecase.SignalingUsecase) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		signalingUsecase: signalingUsecase,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", slog.Any(constant.Error, err))
		return err
	}
	defer ws.Close()

	connID := uuid.New()
	ctx := c.Request().Context()

	h.signalingUsecase.HandleOpen(ctx, connID, memory.NewWebsocketSender(ws))
	defer h.signalingUsecase.HandleClose(ctx, connID)

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Frames from one connection are handled in arrival order, each one
	// to completion before the next is read.
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			h.logReadError(connID, err)
			return nil
		}

		h.signalingUsecase.HandleMessage(ctx, connID, msg)
	}
}

func (h *WebSocketHandler) logReadError(connID uuid.UUID, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("client disconnected", slog.String(constant.ConnID, connID.String()))
		default:
			slog.Error("websocket close error",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnID, connID.String()),
			)
		}
		return
	}

	slog.Error("websocket read",
		slog.Any(constant.Error, err),
		slog.String(constant.ConnID, connID.String()),
	)
}
