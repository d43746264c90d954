package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/attackmap/internal/domain"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// FrameSource уведомляет о новых версиях состояния.
type FrameSource interface {
	Subscribe() (<-chan struct{}, func())
	Done() <-chan struct{}
}

type FrameBuilder interface {
	Frame(ctx context.Context, width int) domain.DashboardFrame
}

// StreamHandler пушит полный кадр в браузер на каждую новую версию состояния.
type StreamHandler struct {
	updates  FrameSource
	frames   FrameBuilder
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewStreamHandler(updates FrameSource, frames FrameBuilder, allowedOrigins []string, logger *zap.Logger) *StreamHandler {
	h := &StreamHandler{
		updates: updates,
		frames:  frames,
		logger:  logger.Named("stream-handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	width, ok := parseWidth(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.updates.Subscribe()
	defer unsubscribe()

	// Читаем только ради control-фреймов и обнаружения закрытия
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	send := func() bool {
		frame := h.frames.Frame(r.Context(), width)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Debug("push frame failed", zap.Error(err))
			return false
		}
		return true
	}

	// Первый кадр сразу, дальше по уведомлениям
	if !send() {
		return
	}
	for {
		select {
		case <-updates:
			if !send() {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.updates.Done():
			// Финальный кадр с phase=closed
			send()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard stopped"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// originChecker: пустой список оставляет проверку gorilla (same-origin), "*" пускает всех.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}
